package remotestore

import (
	"time"

	"github.com/starford/runebook/internal/models"
)

// Record is a stored workspace with its metadata.
type Record struct {
	Identity  string
	Snapshot  models.Snapshot
	Checksum  string
	UpdatedAt time.Time
}

// Store defines the remote document store operations.
// Consumers should depend on this interface rather than the concrete *DB.
type Store interface {
	Get(identity string) (*Record, error)
	Put(identity string, snap models.Snapshot) (rec *Record, changed bool, err error)
	Delete(identity string) error
	Identities() ([]string, error)
	Close() error
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)
