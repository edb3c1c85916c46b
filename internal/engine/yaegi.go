// Package engine provides an execution engine backed by the yaegi Go
// interpreter. Documents are staged as files under a sandbox directory and
// executed in a fresh interpreter per run. Interpreted programs see the
// sandbox as their filesystem root, so a document can open its siblings by
// name.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/starford/runebook/internal/storage"
)

// Yaegi implements session.Engine.
type Yaegi struct {
	fs      *storage.FS
	timeout time.Duration
	ready   atomic.Bool

	mu     sync.Mutex
	stdout bytes.Buffer
	stdin  io.Reader
}

// New creates an engine staging files under dir, which is created if needed.
// A positive timeout bounds each Exec.
func New(dir string, timeout time.Duration) (*Yaegi, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: create sandbox dir: %w", err)
	}
	fs, err := storage.NewFS(dir)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return &Yaegi{fs: fs, timeout: timeout}, nil
}

// Dir returns the sandbox directory.
func (y *Yaegi) Dir() string {
	return y.fs.Root()
}

// Init loads the standard library symbols once to verify the interpreter
// works and marks the engine ready.
func (y *Yaegi) Init(ctx context.Context) error {
	i := interp.New(interp.Options{Stdout: io.Discard, Stderr: io.Discard})
	if err := i.Use(stdlib.Symbols); err != nil {
		return fmt.Errorf("engine: load stdlib: %w", err)
	}
	if _, err := i.EvalWithContext(ctx, `import "fmt"`); err != nil {
		return fmt.Errorf("engine: warm up: %w", err)
	}
	y.ready.Store(true)
	return nil
}

// Ready reports whether Init has completed.
func (y *Yaegi) Ready() bool {
	return y.ready.Load()
}

// WriteFile stages a document under the sandbox directory.
func (y *Yaegi) WriteFile(name string, content []byte) error {
	return y.fs.Write(name, content)
}

// ReadFile returns a staged document.
func (y *Yaegi) ReadFile(name string) ([]byte, error) {
	return y.fs.Read(name)
}

// Staged lists the files in the sandbox, including ones left by earlier runs
// or written by programs.
func (y *Yaegi) Staged() ([]storage.Entry, error) {
	return y.fs.List()
}

// ResetStdout discards captured output.
func (y *Yaegi) ResetStdout() {
	y.mu.Lock()
	y.stdout.Reset()
	y.mu.Unlock()
}

// Stdout returns output captured since the last reset.
func (y *Yaegi) Stdout() string {
	y.mu.Lock()
	defer y.mu.Unlock()
	return y.stdout.String()
}

// SetStdin binds standard input for subsequent runs. nil means empty input.
func (y *Yaegi) SetStdin(r io.Reader) {
	y.mu.Lock()
	y.stdin = r
	y.mu.Unlock()
}

// Exec evaluates code in a fresh interpreter whose os file functions are
// confined to the sandbox. Compile errors and panics are returned as errors.
func (y *Yaegi) Exec(ctx context.Context, code string) error {
	if !y.Ready() {
		return fmt.Errorf("engine: not initialized")
	}
	if y.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, y.timeout)
		defer cancel()
	}

	y.mu.Lock()
	stdin := y.stdin
	y.mu.Unlock()
	if stdin == nil {
		stdin = bytes.NewReader(nil)
	}

	out := &lockedWriter{mu: &y.mu, buf: &y.stdout}
	i := interp.New(interp.Options{
		Stdin:  stdin,
		Stdout: out,
		Stderr: out,
	})
	if err := i.Use(stdlib.Symbols); err != nil {
		return fmt.Errorf("engine: load stdlib: %w", err)
	}
	if err := i.Use(sandbox{root: y.fs.Root()}.symbols()); err != nil {
		return fmt.Errorf("engine: bind sandbox: %w", err)
	}
	_, err := i.EvalWithContext(ctx, code)
	return err
}

type lockedWriter struct {
	mu  *sync.Mutex
	buf *bytes.Buffer
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}
