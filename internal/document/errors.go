package document

import "errors"

// Errors returned by store operations.
var (
	// ErrSceneNotFound indicates no scene has the requested id.
	ErrSceneNotFound = errors.New("scene not found")

	// ErrLayerNotFound indicates the scene has no layer with the requested id.
	ErrLayerNotFound = errors.New("layer not found")

	// ErrCameraNotFound indicates the scene has no camera with the requested id.
	ErrCameraNotFound = errors.New("camera not found")

	// ErrIndexOutOfRange indicates an ordinal index outside the valid range.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrInvalidOrder indicates an explicit order that is not a permutation
	// of the current ids.
	ErrInvalidOrder = errors.New("order is not a permutation of current ids")

	// ErrDuplicateID indicates an insert whose id already exists.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrEmptyID indicates an entity without an id.
	ErrEmptyID = errors.New("empty id")

	// ErrEmptyKey indicates a property operation without a key.
	ErrEmptyKey = errors.New("empty property key")
)
