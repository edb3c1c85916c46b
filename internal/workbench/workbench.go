// Package workbench composes the document store, execution session and
// remote sync behind the operations a front end binds to keys and buttons.
package workbench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/starford/runebook/internal/apperr"
	"github.com/starford/runebook/internal/keymap"
	"github.com/starford/runebook/internal/models"
	"github.com/starford/runebook/internal/remotesync"
	"github.com/starford/runebook/internal/session"
	"github.com/starford/runebook/internal/workspace"
)

// ErrNoRemote is returned by Login when no remote is configured.
var ErrNoRemote = errors.New("workbench: no remote configured")

// NamePrompter asks the user for a new document name.
type NamePrompter interface {
	PromptName(ctx context.Context) (string, error)
}

// Confirmer asks the user to confirm a destructive operation.
type Confirmer interface {
	Confirm(ctx context.Context, message string) (bool, error)
}

// Option configures a Workbench.
type Option func(*Workbench)

// WithSync enables Login and Logout against a remote.
func WithSync(s *remotesync.Sync) Option {
	return func(w *Workbench) { w.sync = s }
}

// WithNamePrompter sets the prompter used by CreateDocument.
func WithNamePrompter(p NamePrompter) Option {
	return func(w *Workbench) { w.names = p }
}

// WithConfirmer sets the confirmer used by CloseDocument and Logout.
func WithConfirmer(c Confirmer) Option {
	return func(w *Workbench) { w.confirm = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Workbench) { w.logger = l }
}

// Workbench is the front-end controller. It is safe for concurrent use.
type Workbench struct {
	store   *workspace.Store
	session *session.Session
	sync    *remotesync.Sync
	names   NamePrompter
	confirm Confirmer
	logger  *slog.Logger

	mu      sync.Mutex
	output  string
	visible bool
}

// New creates a workbench over store and sess.
func New(store *workspace.Store, sess *session.Session, opts ...Option) *Workbench {
	w := &Workbench{store: store, session: sess, logger: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Store returns the document store.
func (w *Workbench) Store() *workspace.Store { return w.store }

// Session returns the execution session.
func (w *Workbench) Session() *session.Session { return w.session }

// Run executes the selected document. The output panel shows the result,
// including "[ERROR] ..." output for faults in the document.
func (w *Workbench) Run(ctx context.Context) (session.Result, error) {
	res, err := w.session.Run(ctx)
	if err != nil {
		w.logger.Warn("workbench: run rejected", slog.String("error", err.Error()))
		return res, err
	}
	w.mu.Lock()
	w.output = res.Output
	w.visible = true
	w.mu.Unlock()
	return res, nil
}

// Output returns the text of the output panel.
func (w *Workbench) Output() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.output
}

// OutputVisible reports whether the output panel is shown.
func (w *Workbench) OutputVisible() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.visible
}

// ToggleOutput shows or hides the output panel.
func (w *Workbench) ToggleOutput() {
	w.mu.Lock()
	w.visible = !w.visible
	w.mu.Unlock()
}

// CloseOutput hides the output panel.
func (w *Workbench) CloseOutput() {
	w.mu.Lock()
	w.visible = false
	w.mu.Unlock()
}

// SelectOrdinal selects the nth document (1-based). Out of range is a no-op.
func (w *Workbench) SelectOrdinal(n int) bool {
	id, ok := w.store.Ordinal(n)
	if !ok {
		return false
	}
	return w.store.Select(id)
}

// CreateDocument asks for a name and creates an empty, selected document.
// An empty or cancelled answer creates nothing and returns "".
// Without a prompter the template name is used.
func (w *Workbench) CreateDocument(ctx context.Context) (string, error) {
	if w.names == nil {
		return w.store.Create(""), nil
	}
	name, err := w.names.PromptName(ctx)
	if err != nil {
		return "", fmt.Errorf("workbench: prompt name: %w", err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil
	}
	return w.store.Create(name), nil
}

// CloseDocument removes id. When exactly two documents remain and the target
// has content, the Confirmer is asked first; a refusal is a no-op.
// Closing the only document fails with apperr.ErrLastDocument.
func (w *Workbench) CloseDocument(ctx context.Context, id string) error {
	d, ok := w.store.Get(id)
	if !ok {
		return fmt.Errorf("workbench: close %s: %w", id, apperr.ErrNotFound)
	}
	if w.store.Len() == 2 && d.Content != "" {
		ok, err := w.ask(ctx, fmt.Sprintf("Delete %s? Its content will be lost.", d.Name))
		if err != nil || !ok {
			return err
		}
	}
	return w.store.Remove(id)
}

// Login authenticates identity against the remote and merges its snapshot.
func (w *Workbench) Login(ctx context.Context, identity string) error {
	if w.sync == nil {
		return ErrNoRemote
	}
	return w.sync.Login(ctx, identity)
}

// Logout asks for confirmation, stops syncing and resets the workspace to
// the default document. It reports whether the logout happened.
func (w *Workbench) Logout(ctx context.Context) (bool, error) {
	ok, err := w.ask(ctx, "Log out? Local documents will be cleared.")
	if err != nil || !ok {
		return false, err
	}
	if w.sync != nil {
		w.sync.Logout()
	}
	w.store.ReplaceAll(models.Snapshot{})
	return true, nil
}

// Identity returns the logged-in identity, or "".
func (w *Workbench) Identity() string {
	if w.sync == nil {
		return ""
	}
	return w.sync.Identity()
}

func (w *Workbench) ask(ctx context.Context, msg string) (bool, error) {
	if w.confirm == nil {
		return true, nil
	}
	ok, err := w.confirm.Confirm(ctx, msg)
	if err != nil {
		return false, fmt.Errorf("workbench: confirm: %w", err)
	}
	return ok, nil
}

// HandleKey dispatches a key event to its bound action and returns the
// action's error, if any.
func (w *Workbench) HandleKey(ctx context.Context, ev keymap.Event) (keymap.Result, error) {
	h := &keyHandler{ctx: ctx, w: w}
	res := keymap.NewRouter(h).Dispatch(ev)
	return res, h.err
}

// keyHandler adapts the workbench to keymap.Handler for one event.
type keyHandler struct {
	ctx context.Context
	w   *Workbench
	err error
}

func (h *keyHandler) Run()                { _, h.err = h.w.Run(h.ctx) }
func (h *keyHandler) SelectOrdinal(n int) { h.w.SelectOrdinal(n) }
func (h *keyHandler) ToggleOutput()       { h.w.ToggleOutput() }
func (h *keyHandler) CreateDocument()     { _, h.err = h.w.CreateDocument(h.ctx) }
func (h *keyHandler) CloseOutput()        { h.w.CloseOutput() }
