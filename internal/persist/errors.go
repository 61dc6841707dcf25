package persist

import (
	"errors"
	"fmt"
)

// Sentinel errors for persistence.
var (
	// ErrNotFound is returned when a mutation addresses a missing entity.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidMutation is returned for a malformed mutation.
	ErrInvalidMutation = errors.New("invalid mutation")

	// ErrQueueFull is returned when the write queue is at capacity.
	ErrQueueFull = errors.New("write queue full")

	// ErrNotRunning is returned when the dispatcher is not running.
	ErrNotRunning = errors.New("dispatcher not running")

	// ErrAlreadyRunning is returned by Start on a running dispatcher.
	ErrAlreadyRunning = errors.New("dispatcher already running")

	// ErrClosed is returned by a gateway after Close.
	ErrClosed = errors.New("gateway closed")
)

// WriteError is the final failure of one remote write.
type WriteError struct {
	Mutation Mutation
	Attempts int
	Err      error
}

// Error implements error.
func (e *WriteError) Error() string {
	return fmt.Sprintf("persist %s after %d attempt(s): %v", e.Mutation, e.Attempts, e.Err)
}

// Unwrap returns the underlying error.
func (e *WriteError) Unwrap() error {
	return e.Err
}

// permanent reports whether retrying err cannot help.
func permanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidMutation) ||
		errors.Is(err, ErrClosed) ||
		errors.Is(err, errGatewayPanic)
}
