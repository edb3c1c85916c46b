// Package models defines the domain types for Runebook.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Default template values for the starter document.
const (
	DefaultName    = "main.py"
	DefaultContent = `print("Hello World!")`
)

// Document is one editable named text unit in the workspace.
type Document struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Content        string    `json:"content"`
	LastModifiedAt time.Time `json:"lastModifiedAt"`
}

// Snapshot is the full serializable state of the document set plus selection.
// It doubles as the remote blob: { files: Document[], activeFileId: string }.
type Snapshot struct {
	Documents []Document `json:"files"`
	ActiveID  string     `json:"activeFileId"`
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{Documents: CloneDocuments(s.Documents), ActiveID: s.ActiveID}
}

// Index returns the position of id in the snapshot, or -1.
func (s Snapshot) Index(id string) int {
	for i, d := range s.Documents {
		if d.ID == id {
			return i
		}
	}
	return -1
}

// CloneDocuments copies docs into a new slice; nil stays nil.
func CloneDocuments(docs []Document) []Document {
	if docs == nil {
		return nil
	}
	out := make([]Document, len(docs))
	copy(out, docs)
	return out
}

// Template describes the placeholder document used to seed a new or emptied
// workspace.
type Template struct {
	Name    string `yaml:"default_name"`
	Content string `yaml:"default_content"`
}

// DefaultTemplate returns the built-in starter template.
func DefaultTemplate() Template {
	return Template{Name: DefaultName, Content: DefaultContent}
}

// New creates a fresh placeholder document stamped with the current time.
func (t Template) New() Document {
	return Document{
		ID:             NewID(),
		Name:           t.Name,
		Content:        t.Content,
		LastModifiedAt: time.Now().UTC(),
	}
}

// IsPlaceholder reports whether d is an untouched copy of the template.
// A user file that happens to share both name and content is
// indistinguishable and is treated the same way.
func (t Template) IsPlaceholder(d Document) bool {
	return d.Name == t.Name && d.Content == t.Content
}

// NewID returns a fresh opaque document id.
func NewID() string {
	return uuid.NewString()
}
