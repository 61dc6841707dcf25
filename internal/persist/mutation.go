package persist

import (
	"fmt"

	"github.com/dshills/sceneboard/internal/document"
)

// Op is the kind of remote write.
type Op string

// Mutation operations.
const (
	OpCreate  Op = "create"
	OpUpdate  Op = "update"
	OpDelete  Op = "delete"
	OpReorder Op = "reorder"
	OpPatch   Op = "patch"
)

// Entity is the kind of record a mutation addresses.
type Entity string

// Entity kinds.
const (
	EntityScene  Entity = "scene"
	EntityLayer  Entity = "layer"
	EntityCamera Entity = "camera"
)

// Mutation is one remote write. It carries plain data only.
//
// Scenes are addressed by ID. Layers and cameras are addressed by SceneID
// and ID. A scene reorder carries the full scene order; a layer reorder
// carries the full layer order of SceneID.
type Mutation struct {
	Op     Op     `json:"op"`
	Entity Entity `json:"entity"`

	SceneID string `json:"sceneId,omitempty"`
	ID      string `json:"id,omitempty"`

	// Position is the ordinal position for creates.
	Position int `json:"position,omitempty"`

	// Body is a document.Scene, document.Layer or document.Camera for
	// creates and updates.
	Body any `json:"body,omitempty"`

	// Order is the complete id order after a reorder.
	Order []string `json:"order,omitempty"`

	// Key, Value and Unset describe a property patch.
	Key   string `json:"key,omitempty"`
	Value any    `json:"value,omitempty"`
	Unset bool   `json:"unset,omitempty"`
}

// String returns a short description for logs.
func (m Mutation) String() string {
	id := m.ID
	if m.Entity != EntityScene && m.SceneID != "" {
		id = m.SceneID + "/" + m.ID
	}
	switch m.Op {
	case OpPatch:
		return fmt.Sprintf("%s %s %s.%s", m.Op, m.Entity, id, m.Key)
	case OpReorder:
		if m.Entity == EntityScene {
			return fmt.Sprintf("%s %s", m.Op, m.Entity)
		}
		return fmt.Sprintf("%s %s in %s", m.Op, m.Entity, m.SceneID)
	default:
		return fmt.Sprintf("%s %s %s", m.Op, m.Entity, id)
	}
}

// Target returns the property owner addressed by a patch.
func (m Mutation) Target() document.Target {
	if m.Entity == EntityScene {
		return document.Target{SceneID: m.ID}
	}
	return document.Target{SceneID: m.SceneID, LayerID: m.ID}
}

// Validate checks that the mutation is well formed.
func (m Mutation) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%s: %s: %w", m, fmt.Sprintf(format, args...), ErrInvalidMutation)
	}

	switch m.Entity {
	case EntityScene:
	case EntityLayer, EntityCamera:
		if m.SceneID == "" {
			return bad("missing scene id")
		}
	default:
		return bad("unknown entity %q", m.Entity)
	}

	switch m.Op {
	case OpCreate, OpUpdate:
		if m.ID == "" {
			return bad("missing id")
		}
		if !bodyMatches(m.Entity, m.Body) {
			return bad("body %T does not match entity", m.Body)
		}
	case OpDelete:
		if m.ID == "" {
			return bad("missing id")
		}
	case OpReorder:
		if m.Entity == EntityCamera {
			return bad("cameras cannot be reordered")
		}
	case OpPatch:
		if m.Entity == EntityCamera {
			return bad("cameras have no properties")
		}
		if m.ID == "" || m.Key == "" {
			return bad("missing id or key")
		}
	default:
		return bad("unknown op %q", m.Op)
	}
	return nil
}

func bodyMatches(e Entity, body any) bool {
	switch body.(type) {
	case document.Scene:
		return e == EntityScene
	case document.Layer:
		return e == EntityLayer
	case document.Camera:
		return e == EntityCamera
	default:
		return false
	}
}
