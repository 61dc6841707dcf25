package engine

import "errors"

// Errors returned by engine operations.
var (
	// ErrReadOnly indicates an edit was attempted on a read-only engine.
	ErrReadOnly = errors.New("engine is read-only")

	// ErrNoDispatcher indicates Save was called on a local-only engine.
	ErrNoDispatcher = errors.New("engine has no persistence dispatcher")

	// ErrGroupActive indicates undo or redo was attempted inside Group.
	ErrGroupActive = errors.New("edit group in progress")
)
