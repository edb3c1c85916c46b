// Package apperr holds the sentinel errors shared across packages.
package apperr

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")

	// ErrLastDocument is returned when removing the only remaining document.
	ErrLastDocument = errors.New("cannot close the last remaining file")
	// ErrSessionBusy is returned when a run is requested while one is in flight.
	ErrSessionBusy = errors.New("execution session busy")
	// ErrEngineNotReady is returned when a run is requested before the engine has initialized.
	ErrEngineNotReady = errors.New("execution engine not ready")
	// ErrSyncFailure wraps remote read/write failures. It is logged, never fatal.
	ErrSyncFailure = errors.New("remote sync failure")
)
