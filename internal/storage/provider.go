// Package storage defines the durable key/value file abstraction used for the
// local workspace cache and the execution sandbox.
package storage

import "time"

// Entry is a lightweight description of one stored key.
type Entry struct {
	Key       string    `json:"key"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Provider is the interface for durable key/value operations.
// Keys are slash-separated paths relative to the provider root.
type Provider interface {
	// List returns an entry for every stored key, skipping hidden files.
	List() ([]Entry, error)
	// Read returns the bytes stored under key. A missing key wraps os.ErrNotExist.
	Read(key string) ([]byte, error)
	// Write atomically replaces the value stored under key.
	Write(key string, value []byte) error
	// Delete removes key.
	Delete(key string) error
}
