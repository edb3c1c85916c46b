package workspace

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/runebook/internal/apperr"
	"github.com/starford/runebook/internal/models"
)

// Store owns the authoritative in-memory document set and selection.
//
// Every mutation persists synchronously through the Persister and then
// notifies change listeners outside the lock. A persist failure is logged;
// the in-memory mutation stands.
type Store struct {
	mu       sync.RWMutex
	docs     []models.Document
	activeID string

	// pmu orders saves by mutation; it is taken before mu is released.
	pmu     sync.Mutex
	persist Persister
	tmpl    models.Template
	now     func() time.Time
	logger  *slog.Logger

	lmu       sync.Mutex
	listeners map[int]func(models.Snapshot)
	nextID    int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithTemplate sets the placeholder template.
func WithTemplate(t models.Template) StoreOption {
	return func(s *Store) { s.tmpl = t }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a store seeded with initial. An empty initial snapshot is
// replaced with a single placeholder document. The seeded state is persisted.
func NewStore(persist Persister, initial models.Snapshot, opts ...StoreOption) *Store {
	s := &Store{
		persist:   persist,
		tmpl:      models.DefaultTemplate(),
		now:       time.Now,
		logger:    slog.Default(),
		listeners: make(map[int]func(models.Snapshot)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mu.Lock()
	s.setLocked(initial.Clone())
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.save(snap)
	return s
}

// Open loads the cached snapshot (if any) and returns a store over it.
func Open(cache *Cache, opts ...StoreOption) (*Store, error) {
	snap, _, err := cache.Load()
	if err != nil {
		return nil, err
	}
	return NewStore(cache, snap, opts...), nil
}

// Template returns the placeholder template in use.
func (s *Store) Template() models.Template {
	return s.tmpl
}

// OnChange registers fn to receive every post-mutation snapshot.
// The returned function unregisters it.
func (s *Store) OnChange(fn func(models.Snapshot)) (cancel func()) {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.lmu.Unlock()
	return func() {
		s.lmu.Lock()
		delete(s.listeners, id)
		s.lmu.Unlock()
	}
}

// Create appends a new empty document, selects it, and returns its id.
// Duplicate names are allowed; an empty name falls back to the template name.
func (s *Store) Create(name string) string {
	if name == "" {
		name = s.tmpl.Name
	}
	d := models.Document{
		ID:             models.NewID(),
		Name:           name,
		LastModifiedAt: s.stamp(),
	}
	s.mutate(func() bool {
		s.docs = append(s.docs, d)
		s.activeID = d.ID
		return true
	})
	return d.ID
}

// Update replaces the content of id and bumps its timestamp.
// It reports false when id is absent.
func (s *Store) Update(id, content string) bool {
	return s.mutate(func() bool {
		i := s.indexLocked(id)
		if i < 0 {
			return false
		}
		s.docs[i].Content = content
		s.docs[i].LastModifiedAt = s.stamp()
		return true
	})
}

// Rename replaces the name of id. The timestamp is left untouched.
func (s *Store) Rename(id, name string) bool {
	return s.mutate(func() bool {
		i := s.indexLocked(id)
		if i < 0 {
			return false
		}
		s.docs[i].Name = name
		return true
	})
}

// Remove deletes id. Removing the only document fails with
// apperr.ErrLastDocument and leaves the set unchanged. When the selected
// document is removed, selection moves to the previous index if one exists,
// else to the first remaining document.
func (s *Store) Remove(id string) error {
	var err error
	s.mutate(func() bool {
		i := s.indexLocked(id)
		if i < 0 {
			err = fmt.Errorf("workspace: remove %s: %w", id, apperr.ErrNotFound)
			return false
		}
		if len(s.docs) == 1 {
			err = apperr.ErrLastDocument
			return false
		}
		s.docs = append(s.docs[:i:i], s.docs[i+1:]...)
		if s.activeID == id {
			next := 0
			if i > 0 {
				next = i - 1
			}
			s.activeID = s.docs[next].ID
		}
		return true
	})
	return err
}

// Select makes id the selected document. It reports false when id is absent.
func (s *Store) Select(id string) bool {
	found := false
	s.mutate(func() bool {
		if s.indexLocked(id) < 0 {
			return false
		}
		found = true
		if s.activeID == id {
			return false
		}
		s.activeID = id
		return true
	})
	return found
}

// ReplaceAll swaps the entire set and selection in one step. An empty set
// becomes a single placeholder; a dangling selection falls back to the first
// document.
func (s *Store) ReplaceAll(snap models.Snapshot) {
	snap = snap.Clone()
	s.mutate(func() bool {
		s.setLocked(snap)
		return true
	})
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Documents returns a copy of the ordered document set.
func (s *Store) Documents() []models.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.CloneDocuments(s.docs)
}

// Len returns the number of documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Get returns the document with id.
func (s *Store) Get(id string) (models.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexLocked(id)
	if i < 0 {
		return models.Document{}, false
	}
	return s.docs[i], true
}

// Active returns the selected document.
func (s *Store) Active() (models.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexLocked(s.activeID)
	if i < 0 {
		return models.Document{}, false
	}
	return s.docs[i], true
}

// Ordinal returns the id of the nth document (1-based).
func (s *Store) Ordinal(n int) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n < 1 || n > len(s.docs) {
		return "", false
	}
	return s.docs[n-1].ID, true
}

// mutate runs fn under the write lock; when fn reports a change the new state
// is persisted and broadcast.
func (s *Store) mutate(fn func() bool) bool {
	s.mu.Lock()
	if !fn() {
		s.mu.Unlock()
		return false
	}
	snap := s.snapshotLocked()
	s.pmu.Lock()
	s.mu.Unlock()
	s.save(snap)
	s.pmu.Unlock()

	s.notify(snap)
	return true
}

func (s *Store) save(snap models.Snapshot) {
	if s.persist == nil {
		return
	}
	if err := s.persist.Save(snap); err != nil {
		s.logger.Warn("workspace: persist failed", slog.String("error", err.Error()))
	}
}

func (s *Store) notify(snap models.Snapshot) {
	s.lmu.Lock()
	fns := make([]func(models.Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.lmu.Unlock()
	for _, fn := range fns {
		fn(snap.Clone())
	}
}

func (s *Store) setLocked(snap models.Snapshot) {
	if len(snap.Documents) == 0 {
		d := s.tmpl.New()
		d.LastModifiedAt = s.stamp()
		snap.Documents = []models.Document{d}
	}
	s.docs = snap.Documents
	s.activeID = snap.ActiveID
	if s.indexLocked(s.activeID) < 0 {
		s.activeID = s.docs[0].ID
	}
}

func (s *Store) snapshotLocked() models.Snapshot {
	return models.Snapshot{Documents: models.CloneDocuments(s.docs), ActiveID: s.activeID}
}

func (s *Store) indexLocked(id string) int {
	for i, d := range s.docs {
		if d.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) stamp() time.Time {
	return s.now().UTC()
}
