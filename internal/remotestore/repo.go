package remotestore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/runebook/internal/apperr"
	"github.com/starford/runebook/internal/checksum"
	"github.com/starford/runebook/internal/models"
)

// Get returns the workspace stored for identity, or apperr.ErrNotFound.
func (db *DB) Get(identity string) (*Record, error) {
	var (
		payload string
		rec     = Record{Identity: identity}
	)
	err := db.conn.QueryRow(
		`SELECT payload, checksum, updated_at FROM workspaces WHERE identity = ?`, identity,
	).Scan(&payload, &rec.Checksum, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("remotestore: get: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &rec.Snapshot); err != nil {
		return nil, fmt.Errorf("remotestore: decode payload: %w", err)
	}
	return &rec, nil
}

// Put overwrites the workspace for identity wholesale. changed is false when
// the stored checksum already matched.
func (db *DB) Put(identity string, snap models.Snapshot) (*Record, bool, error) {
	if snap.Documents == nil {
		snap.Documents = []models.Document{}
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, false, fmt.Errorf("remotestore: encode payload: %w", err)
	}
	sum := checksum.Snapshot(snap)
	now := time.Now().UTC()

	tx, err := db.conn.Begin()
	if err != nil {
		return nil, false, fmt.Errorf("remotestore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	var current string
	err = tx.QueryRow(`SELECT checksum FROM workspaces WHERE identity = ?`, identity).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("remotestore: read checksum: %w", err)
	}
	rec := &Record{Identity: identity, Snapshot: snap, Checksum: sum, UpdatedAt: now}
	if err == nil && current == sum {
		return rec, false, nil
	}

	_, err = tx.Exec(`
		INSERT INTO workspaces (identity, payload, checksum, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			payload    = excluded.payload,
			checksum   = excluded.checksum,
			updated_at = excluded.updated_at
	`, identity, string(payload), sum, now)
	if err != nil {
		return nil, false, fmt.Errorf("remotestore: upsert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("remotestore: commit: %w", err)
	}
	return rec, true, nil
}

// Delete removes the workspace for identity. Deleting a missing identity
// returns apperr.ErrNotFound.
func (db *DB) Delete(identity string) error {
	res, err := db.conn.Exec(`DELETE FROM workspaces WHERE identity = ?`, identity)
	if err != nil {
		return fmt.Errorf("remotestore: delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// Identities returns every identity with a stored workspace.
func (db *DB) Identities() ([]string, error) {
	rows, err := db.conn.Query(`SELECT identity FROM workspaces ORDER BY identity`)
	if err != nil {
		return nil, fmt.Errorf("remotestore: identities: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
