// Package remotesync mirrors the local workspace to a remote document store
// for a logged-in identity and merges remote changes back in.
package remotesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/starford/runebook/internal/apperr"
	"github.com/starford/runebook/internal/checksum"
	"github.com/starford/runebook/internal/models"
	"github.com/starford/runebook/internal/reconcile"
)

// Defaults for Sync timing.
const (
	DefaultRetryDelay  = 2 * time.Second
	DefaultPushTimeout = 10 * time.Second
)

// Remote is the remote document store port.
type Remote interface {
	// Fetch returns the stored snapshot, or nil when none exists.
	Fetch(ctx context.Context, identity string) (*models.Snapshot, error)
	// Store overwrites the stored snapshot wholesale.
	Store(ctx context.Context, identity string, snap models.Snapshot) error
	// Watch calls fn with the stored snapshot, if any, and then with every
	// change until ctx is done or the stream breaks. Starting from the stored
	// snapshot lets a reconnect catch up on anything it missed.
	Watch(ctx context.Context, identity string, fn func(models.Snapshot)) error
}

// Target is the local side that remote snapshots are merged into.
type Target interface {
	Snapshot() models.Snapshot
	ReplaceAll(models.Snapshot)
	Template() models.Template
}

// Notifier publishes local changes.
type Notifier interface {
	OnChange(fn func(models.Snapshot)) (cancel func())
}

// Option configures a Sync.
type Option func(*Sync)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sync) { s.logger = l }
}

// WithRetryDelay sets the delay before a dropped subscription reconnects.
// Non-positive values keep the default.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Sync) {
		if d > 0 {
			s.retryDelay = d
		}
	}
}

// WithPushTimeout bounds each push. Non-positive values keep the default.
func WithPushTimeout(d time.Duration) Option {
	return func(s *Sync) {
		if d > 0 {
			s.pushTimeout = d
		}
	}
}

// Sync keeps a Target and a Remote converged while an identity is logged in.
//
// Remote failures never block or roll back local edits: they are logged and
// returned wrapped in apperr.ErrSyncFailure.
type Sync struct {
	remote      Remote
	target      Target
	logger      *slog.Logger
	retryDelay  time.Duration
	pushTimeout time.Duration

	pulls singleflight.Group

	mu       sync.Mutex
	identity string
	sub      *Subscription
	lastSum  string
	pushSeq  uint64
	closed   bool

	pushMu  sync.Mutex
	pushing sync.WaitGroup
}

// New creates a Sync between target and remote. No identity is logged in.
func New(remote Remote, target Target, opts ...Option) *Sync {
	s := &Sync{
		remote:      remote,
		target:      target,
		logger:      slog.Default(),
		retryDelay:  DefaultRetryDelay,
		pushTimeout: DefaultPushTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Identity returns the logged-in identity, or "".
func (s *Sync) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Login switches to identity: any previous subscription is torn down, the
// remote snapshot is pulled and merged, and a subscription is started.
// A pull failure is returned but the subscription is still started.
func (s *Sync) Login(ctx context.Context, identity string) error {
	if identity == "" {
		return errors.New("sync: login: empty identity")
	}
	s.Logout()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("sync: login: closed")
	}
	s.identity = identity
	s.mu.Unlock()

	err := s.Pull(ctx)

	s.mu.Lock()
	if s.identity == identity && s.sub == nil && !s.closed {
		s.sub = s.Subscribe(context.Background(), identity, s.apply)
	}
	s.mu.Unlock()

	s.logger.Info("sync: logged in", slog.String("identity", identity))
	return err
}

// Logout stops the subscription and forgets the identity. Local state is
// left alone.
func (s *Sync) Logout() {
	s.mu.Lock()
	sub := s.sub
	identity := s.identity
	s.sub = nil
	s.identity = ""
	s.lastSum = ""
	s.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	if identity != "" {
		s.logger.Info("sync: logged out", slog.String("identity", identity))
	}
}

// Close refuses further pushes, waits for in-flight ones and logs out.
func (s *Sync) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.pushing.Wait()
	s.Logout()
}

// Pull fetches the remote snapshot once and merges it into the target.
// An absent remote is seeded with the local snapshot. Concurrent pulls for
// the same identity share one fetch.
func (s *Sync) Pull(ctx context.Context) error {
	identity := s.Identity()
	if identity == "" {
		return nil
	}
	_, err, _ := s.pulls.Do(identity, func() (interface{}, error) {
		return nil, s.pull(ctx, identity)
	})
	return err
}

func (s *Sync) pull(ctx context.Context, identity string) error {
	remote, err := s.remote.Fetch(ctx, identity)
	if err != nil {
		s.logger.Warn("sync: pull failed", slog.String("identity", identity), slog.String("error", err.Error()))
		return fmt.Errorf("sync: pull: %w: %w", apperr.ErrSyncFailure, err)
	}
	if remote != nil {
		s.apply(*remote)
		return nil
	}

	local := s.target.Snapshot()
	if err := s.remote.Store(ctx, identity, local); err != nil {
		s.logger.Warn("sync: seed failed", slog.String("identity", identity), slog.String("error", err.Error()))
		return fmt.Errorf("sync: seed: %w: %w", apperr.ErrSyncFailure, err)
	}
	s.mu.Lock()
	s.lastSum = checksum.Snapshot(local)
	s.mu.Unlock()
	s.logger.Info("sync: seeded remote", slog.String("identity", identity), slog.Int("documents", len(local.Documents)))
	return nil
}

// apply merges a remote snapshot into the target and pushes the result back
// when the remote is missing documents. A merge that differs from the remote
// only in selection is not pushed.
func (s *Sync) apply(remote models.Snapshot) {
	local := s.target.Snapshot()
	merged := reconcile.Snapshots(local, remote, s.target.Template())

	seen := checksum.Snapshot(remote)
	if documentsSum(merged) == documentsSum(remote) {
		seen = checksum.Snapshot(merged)
	}
	s.mu.Lock()
	s.lastSum = seen
	s.mu.Unlock()

	if checksum.Snapshot(merged) != checksum.Snapshot(local) {
		s.target.ReplaceAll(merged)
	}
	s.Push(merged)
}

func documentsSum(snap models.Snapshot) string {
	return checksum.Snapshot(models.Snapshot{Documents: snap.Documents})
}

// Push stores snap remotely in the background. It is a no-op when no
// identity is logged in or when snap matches what was last received from or
// sent to the remote. A newer push supersedes one that has not started yet.
func (s *Sync) Push(snap models.Snapshot) {
	sum := checksum.Snapshot(snap)

	s.mu.Lock()
	identity := s.identity
	if identity == "" || s.closed || sum == s.lastSum {
		s.mu.Unlock()
		return
	}
	s.lastSum = sum
	s.pushSeq++
	seq := s.pushSeq
	s.pushing.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.pushing.Done()
		s.pushMu.Lock()
		defer s.pushMu.Unlock()

		s.mu.Lock()
		stale := seq != s.pushSeq || identity != s.identity
		s.mu.Unlock()
		if stale {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.pushTimeout)
		defer cancel()
		if err := s.remote.Store(ctx, identity, snap); err != nil {
			s.logger.Warn("sync: push failed",
				slog.String("identity", identity),
				slog.String("error", fmt.Errorf("%w: %w", apperr.ErrSyncFailure, err).Error()))
			s.mu.Lock()
			if s.lastSum == sum {
				s.lastSum = ""
			}
			s.mu.Unlock()
		}
	}()
}

// Attach registers Push as a change listener on n.
func (s *Sync) Attach(n Notifier) (detach func()) {
	return n.OnChange(s.Push)
}

// Subscription is a running remote watch.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel stops the watch and waits for it to exit.
func (sub *Subscription) Cancel() {
	sub.cancel()
	<-sub.done
}

// Subscribe watches identity's remote snapshot and calls onChange with each
// one. A dropped stream reconnects after the retry delay until cancelled;
// the reconnected stream starts from the stored snapshot.
func (s *Sync) Subscribe(ctx context.Context, identity string, onChange func(models.Snapshot)) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		for {
			err := s.remote.Watch(ctx, identity, onChange)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				s.logger.Warn("sync: watch failed", slog.String("identity", identity), slog.String("error", err.Error()))
			}
			t := time.NewTimer(s.retryDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
	}()
	return sub
}
