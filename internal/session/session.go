// Package session sequences a single code execution against the selected
// document: staging, stdout capture, stdin prompting and fault reporting.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/runebook/internal/apperr"
	"github.com/starford/runebook/internal/models"
)

// ErrorPrefix marks output produced by a fault in the executed document.
const ErrorPrefix = "[ERROR] "

// State is a run lifecycle state.
type State int

const (
	StateIdle State = iota
	StateStaging
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStaging:
		return "staging"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Engine is the capability contract of an execution engine.
type Engine interface {
	// Ready reports whether initialization has completed.
	Ready() bool
	// WriteFile stores a named text file in the engine filesystem.
	WriteFile(name string, content []byte) error
	// ResetStdout discards captured output.
	ResetStdout()
	// Stdout returns output captured since the last reset.
	Stdout() string
	// SetStdin binds the program's standard input.
	SetStdin(r io.Reader)
	// Exec runs code; a non-nil error is a fault raised by that code.
	Exec(ctx context.Context, code string) error
}

// Source supplies the document set to run against.
type Source interface {
	Snapshot() models.Snapshot
}

// Result is the displayable outcome of one run.
type Result struct {
	Output     string
	State      State
	DocumentID string
	Name       string
	Duration   time.Duration
}

// Failed reports whether the run ended in a fault.
func (r Result) Failed() bool {
	return r.State == StateFailed
}

// Session runs documents one at a time.
type Session struct {
	engine Engine
	source Source
	logger *slog.Logger

	mu    sync.Mutex
	state State

	prompts chan *PromptRequest
}

// New creates an idle session.
func New(engine Engine, source Source, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		engine:  engine,
		source:  source,
		logger:  logger,
		prompts: make(chan *PromptRequest),
	}
}

// Prompts delivers input requests raised while a program reads stdin.
// A request left unanswered blocks the run until it is answered, cancelled,
// or the run context ends.
func (s *Session) Prompts() <-chan *PromptRequest {
	return s.prompts
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run stages every document, executes the selected one and returns its
// output. Faults raised by the executed code are returned as Failed results,
// not errors. Errors are reserved for misuse: apperr.ErrEngineNotReady,
// apperr.ErrSessionBusy, or a set with no selected document.
func (s *Session) Run(ctx context.Context) (Result, error) {
	if err := s.begin(); err != nil {
		return Result{}, err
	}

	start := time.Now()
	snap := s.source.Snapshot()
	idx := snap.Index(snap.ActiveID)
	if idx < 0 {
		s.setState(StateIdle)
		return Result{}, fmt.Errorf("session: no selected document: %w", apperr.ErrNotFound)
	}
	doc := snap.Documents[idx]
	res := Result{DocumentID: doc.ID, Name: doc.Name}

	// Stale files of removed documents are not cleaned up.
	for _, d := range snap.Documents {
		if err := s.engine.WriteFile(d.Name, []byte(d.Content)); err != nil {
			return s.finish(res, start, fmt.Errorf("stage %s: %w", d.Name, err)), nil
		}
	}

	s.setState(StateRunning)
	s.engine.ResetStdout()
	s.engine.SetStdin(&promptReader{ctx: ctx, requests: s.prompts})
	err := s.engine.Exec(ctx, doc.Content)
	s.engine.SetStdin(nil)

	return s.finish(res, start, err), nil
}

func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStaging || s.state == StateRunning {
		return apperr.ErrSessionBusy
	}
	if !s.engine.Ready() {
		return apperr.ErrEngineNotReady
	}
	s.state = StateStaging
	return nil
}

func (s *Session) finish(res Result, start time.Time, fault error) Result {
	res.Duration = time.Since(start)
	if fault != nil {
		res.State = StateFailed
		res.Output = ErrorPrefix + fault.Error()
		s.logger.Info("session: run failed",
			slog.String("document", res.Name),
			slog.String("error", fault.Error()))
	} else {
		res.State = StateCompleted
		res.Output = s.engine.Stdout()
		s.logger.Debug("session: run completed",
			slog.String("document", res.Name),
			slog.Duration("duration", res.Duration))
	}
	s.setState(res.State)
	return res
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
