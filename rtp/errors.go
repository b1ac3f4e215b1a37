package rtp

import "errors"

// Sentinel errors for rtp package operations.
// These errors enable reliable error classification using errors.Is().

// Argument and resource errors.
var (
	// ErrInvalidValue indicates a nil handler, hook, socket or an unusable argument.
	ErrInvalidValue = errors.New("invalid value")

	// ErrMemory indicates the dispatcher could not allocate its receive resources.
	ErrMemory = errors.New("cannot allocate receive resources")
)

// Lifecycle errors.
var (
	// ErrAlreadyStarted indicates Start was called twice or configuration was
	// attempted after Start.
	ErrAlreadyStarted = errors.New("already started")

	// ErrDispatcherStopped indicates a stopped dispatcher was started again.
	ErrDispatcherStopped = errors.New("dispatcher stopped, create a new one")

	// ErrNotStarted indicates an operation that requires a started connection.
	ErrNotStarted = errors.New("not started")

	// ErrStillRunning indicates Close was called while the receive loop runs.
	ErrStillRunning = errors.New("dispatcher still running, call Stop first")

	// ErrClosed indicates the dispatcher was closed.
	ErrClosed = errors.New("dispatcher closed")
)

// Frame delivery errors.
var (
	// ErrNoFrame indicates a timed pull expired with no frame available.
	ErrNoFrame = errors.New("no frame available")

	// ErrHookInstalled indicates frames go to the receive hook and are never queued.
	ErrHookInstalled = errors.New("receive hook installed, frames are not queued")
)
