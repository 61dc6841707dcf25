package command

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/sceneboard/internal/document"
)

// Append as an index means "after the last element".
const Append = -1

// ErrNoChange is returned for an edit that would leave the document as it is.
var ErrNoChange = errors.New("edit changes nothing")

// Clock returns the current time.
type Clock func() time.Time

// IDGenerator returns a fresh, unique entity id.
type IDGenerator func() string

// Factory builds commands, reading "before" state from the store before any
// mutation happens. It never mutates the store itself.
type Factory struct {
	store document.Reader
	now   Clock
	newID IDGenerator
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithClock sets the clock used to stamp commands.
func WithClock(c Clock) FactoryOption {
	return func(f *Factory) {
		if c != nil {
			f.now = c
		}
	}
}

// WithIDGenerator sets the generator used for new entity ids.
func WithIDGenerator(g IDGenerator) FactoryOption {
	return func(f *Factory) {
		if g != nil {
			f.newID = g
		}
	}
}

// NewFactory creates a factory reading from store.
func NewFactory(store document.Reader, opts ...FactoryOption) *Factory {
	f := &Factory{
		store: store,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewID returns a fresh entity id.
func (f *Factory) NewID() string {
	return f.newID()
}

func (f *Factory) build(label string, p Payload) Command {
	return New(label, f.now(), p)
}

// CreateScene builds a command inserting sc at index (or Append).
// An empty id is replaced by a generated one.
func (f *Factory) CreateScene(sc document.Scene, index int) (Command, error) {
	if sc.ID == "" {
		sc.ID = f.newID()
	}
	if index == Append {
		index = len(f.store.SceneOrder())
	}
	return f.build(labelFor("Add scene", sc.Name), SceneCreate{Scene: sc.Clone(), Index: index}), nil
}

// UpdateScene builds a command replacing the scene with after.
func (f *Factory) UpdateScene(after document.Scene) (Command, error) {
	before, err := f.store.Scene(after.ID)
	if err != nil {
		return Command{}, err
	}
	return f.build(labelFor("Edit scene", after.Name), SceneUpdate{Before: before, After: after.Clone()}), nil
}

// DeleteScene builds a command removing a scene and remembering its position.
func (f *Factory) DeleteScene(id string) (Command, error) {
	sc, err := f.store.Scene(id)
	if err != nil {
		return Command{}, err
	}
	index, err := f.store.SceneIndex(id)
	if err != nil {
		return Command{}, err
	}
	return f.build(labelFor("Delete scene", sc.Name), SceneDelete{Scene: sc, Index: index}), nil
}

// ReorderScenes builds a command setting the scene order to order. The
// inverse restores the exact order read now.
func (f *Factory) ReorderScenes(order []string) (Command, error) {
	before := f.store.SceneOrder()
	if len(order) != len(before) {
		return Command{}, fmt.Errorf("reorder %d scenes with %d ids: %w", len(before), len(order), document.ErrInvalidOrder)
	}
	after := append([]string(nil), order...)
	return f.build("Reorder scenes", SceneReorder{Before: before, After: after}), nil
}

// CreateLayer builds a command inserting l at index (or Append).
func (f *Factory) CreateLayer(sceneID string, l document.Layer, index int) (Command, error) {
	sc, err := f.store.Scene(sceneID)
	if err != nil {
		return Command{}, err
	}
	if l.ID == "" {
		l.ID = f.newID()
	}
	if index == Append {
		index = len(sc.Layers)
	}
	return f.build(labelFor("Add layer", l.Type), LayerCreate{SceneID: sceneID, Layer: l.Clone(), Index: index}), nil
}

// UpdateLayer builds a command replacing a layer with after.
func (f *Factory) UpdateLayer(sceneID string, after document.Layer) (Command, error) {
	before, err := f.store.Layer(sceneID, after.ID)
	if err != nil {
		return Command{}, err
	}
	return f.build(labelFor("Edit layer", after.Type), LayerUpdate{SceneID: sceneID, Before: before, After: after.Clone()}), nil
}

// DeleteLayer builds a command removing a layer and remembering its position.
func (f *Factory) DeleteLayer(sceneID, layerID string) (Command, error) {
	l, err := f.store.Layer(sceneID, layerID)
	if err != nil {
		return Command{}, err
	}
	index, err := f.store.LayerIndex(sceneID, layerID)
	if err != nil {
		return Command{}, err
	}
	return f.build(labelFor("Delete layer", l.Type), LayerDelete{SceneID: sceneID, Layer: l, Index: index}), nil
}

// MoveLayer builds a command moving a layer to the absolute position to.
func (f *Factory) MoveLayer(sceneID, layerID string, to int) (Command, error) {
	from, err := f.store.LayerIndex(sceneID, layerID)
	if err != nil {
		return Command{}, err
	}
	sc, err := f.store.Scene(sceneID)
	if err != nil {
		return Command{}, err
	}
	if n := len(sc.Layers); to < 0 || to >= n {
		return Command{}, fmt.Errorf("move layer to %d of %d: %w", to, n, document.ErrIndexOutOfRange)
	}
	if to == from {
		return Command{}, ErrNoChange
	}
	return f.build("Move layer", LayerMove{SceneID: sceneID, LayerID: layerID, From: from, To: to}), nil
}

// DuplicateLayer builds a command inserting a copy of a layer, with a fresh
// id, directly above the source.
func (f *Factory) DuplicateLayer(sceneID, layerID string) (Command, error) {
	src, err := f.store.Layer(sceneID, layerID)
	if err != nil {
		return Command{}, err
	}
	index, err := f.store.LayerIndex(sceneID, layerID)
	if err != nil {
		return Command{}, err
	}
	cp := src.Clone()
	cp.ID = f.newID()
	return f.build(labelFor("Duplicate layer", src.Type), LayerDuplicate{
		SceneID:  sceneID,
		SourceID: layerID,
		Copy:     cp,
		Index:    index + 1,
	}), nil
}

// SetProperty builds a command changing a named property to value. An
// absent value removes the property.
func (f *Factory) SetProperty(t document.Target, key string, value document.Property) (Command, error) {
	if key == "" {
		return Command{}, document.ErrEmptyKey
	}
	before, err := f.store.Property(t, key)
	if err != nil {
		return Command{}, err
	}
	after := value
	if after.Present {
		after.Value = document.CloneValue(after.Value)
	} else {
		after.Value = nil
	}
	label := "Set " + key
	if !after.Present {
		label = "Clear " + key
	}
	return f.build(label, PropertySet{Target: t, Key: key, Before: before, After: after}), nil
}

// CreateCamera builds a command inserting c at index (or Append).
func (f *Factory) CreateCamera(sceneID string, c document.Camera, index int) (Command, error) {
	sc, err := f.store.Scene(sceneID)
	if err != nil {
		return Command{}, err
	}
	if c.ID == "" {
		c.ID = f.newID()
	}
	if index == Append {
		index = len(sc.Cameras)
	}
	return f.build("Add camera", CameraCreate{SceneID: sceneID, Camera: c, Index: index}), nil
}

// UpdateCamera builds a command replacing a camera with after.
func (f *Factory) UpdateCamera(sceneID string, after document.Camera) (Command, error) {
	before, err := f.store.Camera(sceneID, after.ID)
	if err != nil {
		return Command{}, err
	}
	return f.build("Edit camera", CameraUpdate{SceneID: sceneID, Before: before, After: after}), nil
}

// DeleteCamera builds a command removing a camera and remembering its position.
func (f *Factory) DeleteCamera(sceneID, cameraID string) (Command, error) {
	c, err := f.store.Camera(sceneID, cameraID)
	if err != nil {
		return Command{}, err
	}
	index, err := f.store.CameraIndex(sceneID, cameraID)
	if err != nil {
		return Command{}, err
	}
	return f.build("Delete camera", CameraDelete{SceneID: sceneID, Camera: c, Index: index}), nil
}

// Batch groups already-applied commands into one undo unit.
func (f *Factory) Batch(label string, cmds ...Command) Command {
	if label == "" {
		label = fmt.Sprintf("%d edits", len(cmds))
	}
	return f.build(label, Batch{Commands: append([]Command(nil), cmds...)})
}

func labelFor(verb, what string) string {
	if what == "" {
		return verb
	}
	return fmt.Sprintf("%s %q", verb, what)
}
