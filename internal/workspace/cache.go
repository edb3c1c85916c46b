// Package workspace owns the in-memory document set, its selection, and the
// local durable cache that backs it.
package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/starford/runebook/internal/checksum"
	"github.com/starford/runebook/internal/models"
	"github.com/starford/runebook/internal/storage"
)

// Cache keys.
const (
	FilesKey       = "files.json"
	ActiveKey      = "activeFileId"
	legacyIndexKey = "activeFileIndex"
)

// Persister saves a snapshot to durable storage.
type Persister interface {
	Save(s models.Snapshot) error
}

// cachedDocument tolerates records written before ids and timestamps existed.
type cachedDocument struct {
	ID             string     `json:"id,omitempty"`
	Name           string     `json:"name"`
	Content        string     `json:"content"`
	LastModifiedAt *time.Time `json:"lastModifiedAt,omitempty"`
}

// Cache persists a workspace snapshot as two entries of a storage.Provider.
type Cache struct {
	store storage.Provider

	mu      sync.Mutex
	lastSum string
}

// NewCache creates a cache over store.
func NewCache(store storage.Provider) *Cache {
	return &Cache{store: store}
}

// Load reads the persisted snapshot. ok is false when nothing was stored yet.
// Records without an id get a fresh one; nothing is dropped. A repaired
// snapshot is left dirty so the next Save writes the new ids back.
func (c *Cache) Load() (snap models.Snapshot, ok bool, err error) {
	data, err := c.store.Read(FilesKey)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.Snapshot{}, false, nil
		}
		return models.Snapshot{}, false, fmt.Errorf("workspace: load files: %w", err)
	}

	var records []cachedDocument
	if err := json.Unmarshal(data, &records); err != nil {
		return models.Snapshot{}, false, fmt.Errorf("workspace: decode files: %w", err)
	}

	docs := make([]models.Document, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	repaired := false
	for _, r := range records {
		d := models.Document{ID: r.ID, Name: r.Name, Content: r.Content}
		if _, dup := seen[d.ID]; d.ID == "" || dup {
			d.ID = models.NewID()
			repaired = true
		}
		seen[d.ID] = struct{}{}
		if r.LastModifiedAt != nil {
			d.LastModifiedAt = *r.LastModifiedAt
		}
		docs = append(docs, d)
	}
	snap.Documents = docs

	active, err := c.readString(ActiveKey)
	if err != nil {
		return models.Snapshot{}, false, err
	}
	if active == "" {
		idx, err := c.readString(legacyIndexKey)
		if err != nil {
			return models.Snapshot{}, false, err
		}
		if n, convErr := strconv.Atoi(idx); convErr == nil && n >= 0 && n < len(docs) {
			active = docs[n].ID
			repaired = true
		}
	}
	snap.ActiveID = active

	c.mu.Lock()
	if repaired {
		c.lastSum = ""
	} else {
		c.lastSum = checksum.Snapshot(snap)
	}
	c.mu.Unlock()
	return snap, true, nil
}

// Save writes both entries. It is a no-op when s matches what was last saved
// or loaded.
func (c *Cache) Save(s models.Snapshot) error {
	sum := checksum.Snapshot(s)

	c.mu.Lock()
	defer c.mu.Unlock()
	if sum == c.lastSum {
		return nil
	}

	docs := s.Documents
	if docs == nil {
		docs = []models.Document{}
	}
	data, err := json.Marshal(docs)
	if err != nil {
		return fmt.Errorf("workspace: encode files: %w", err)
	}
	if err := c.store.Write(FilesKey, data); err != nil {
		return fmt.Errorf("workspace: save files: %w", err)
	}
	if err := c.store.Write(ActiveKey, []byte(s.ActiveID)); err != nil {
		return fmt.Errorf("workspace: save selection: %w", err)
	}
	c.lastSum = sum
	return nil
}

func (c *Cache) readString(key string) (string, error) {
	data, err := c.store.Read(key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("workspace: load %s: %w", key, err)
	}
	return strings.TrimSpace(string(data)), nil
}
