package command

import (
	"time"

	"github.com/dshills/sceneboard/internal/document"
)

// Kind tags the operation a command performs.
type Kind string

// Command kinds.
const (
	KindSceneCreate    Kind = "scene.create"
	KindSceneUpdate    Kind = "scene.update"
	KindSceneDelete    Kind = "scene.delete"
	KindSceneReorder   Kind = "scene.reorder"
	KindLayerCreate    Kind = "layer.create"
	KindLayerUpdate    Kind = "layer.update"
	KindLayerDelete    Kind = "layer.delete"
	KindLayerMove      Kind = "layer.move"
	KindLayerDuplicate Kind = "layer.duplicate"
	KindPropertySet    Kind = "property.set"
	KindCameraCreate   Kind = "camera.create"
	KindCameraUpdate   Kind = "camera.update"
	KindCameraDelete   Kind = "camera.delete"
	KindBatch          Kind = "batch"
)

// Direction selects which half of a command to apply.
type Direction int

const (
	// Forward applies the edit (do, redo).
	Forward Direction = iota
	// Inverse reverts the edit (undo).
	Inverse
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Inverse:
		return "inverse"
	default:
		return "unknown"
	}
}

// Command is a reversible unit of change. It carries only plain data
// captured when it was built; Apply interprets it against a store.
type Command struct {
	Kind      Kind
	Label     string
	CreatedAt time.Time
	Payload   Payload
}

// Payload is the kind-specific snapshot data of a command.
type Payload interface {
	kind() Kind
}

// SceneCreate inserts Scene at Index.
type SceneCreate struct {
	Scene document.Scene
	Index int
}

// SceneUpdate replaces a scene's content.
type SceneUpdate struct {
	Before document.Scene
	After  document.Scene
}

// SceneDelete removes Scene, which sat at Index.
type SceneDelete struct {
	Scene document.Scene
	Index int
}

// SceneReorder replaces the full scene order.
type SceneReorder struct {
	Before []string
	After  []string
}

// LayerCreate inserts Layer at Index within SceneID.
type LayerCreate struct {
	SceneID string
	Layer   document.Layer
	Index   int
}

// LayerUpdate replaces a layer's content.
type LayerUpdate struct {
	SceneID string
	Before  document.Layer
	After   document.Layer
}

// LayerDelete removes Layer, which sat at Index within SceneID.
type LayerDelete struct {
	SceneID string
	Layer   document.Layer
	Index   int
}

// LayerMove moves a layer between absolute paint-order positions.
type LayerMove struct {
	SceneID string
	LayerID string
	From    int
	To      int
}

// LayerDuplicate inserts Copy, a clone of SourceID with a fresh id, at Index.
type LayerDuplicate struct {
	SceneID  string
	SourceID string
	Copy     document.Layer
	Index    int
}

// PropertySet changes one named property of a scene or layer.
type PropertySet struct {
	Target document.Target
	Key    string
	Before document.Property
	After  document.Property
}

// CameraCreate inserts Camera at Index within SceneID.
type CameraCreate struct {
	SceneID string
	Camera  document.Camera
	Index   int
}

// CameraUpdate replaces a camera.
type CameraUpdate struct {
	SceneID string
	Before  document.Camera
	After   document.Camera
}

// CameraDelete removes Camera, which sat at Index within SceneID.
type CameraDelete struct {
	SceneID string
	Camera  document.Camera
	Index   int
}

// Batch is an ordered group of commands that undo and redo as one.
type Batch struct {
	Commands []Command
}

func (SceneCreate) kind() Kind    { return KindSceneCreate }
func (SceneUpdate) kind() Kind    { return KindSceneUpdate }
func (SceneDelete) kind() Kind    { return KindSceneDelete }
func (SceneReorder) kind() Kind   { return KindSceneReorder }
func (LayerCreate) kind() Kind    { return KindLayerCreate }
func (LayerUpdate) kind() Kind    { return KindLayerUpdate }
func (LayerDelete) kind() Kind    { return KindLayerDelete }
func (LayerMove) kind() Kind      { return KindLayerMove }
func (LayerDuplicate) kind() Kind { return KindLayerDuplicate }
func (PropertySet) kind() Kind    { return KindPropertySet }
func (CameraCreate) kind() Kind   { return KindCameraCreate }
func (CameraUpdate) kind() Kind   { return KindCameraUpdate }
func (CameraDelete) kind() Kind   { return KindCameraDelete }
func (Batch) kind() Kind          { return KindBatch }

// New builds a command whose Kind matches its payload.
func New(label string, at time.Time, p Payload) Command {
	return Command{
		Kind:      p.kind(),
		Label:     label,
		CreatedAt: at,
		Payload:   p,
	}
}
