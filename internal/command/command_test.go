package command

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/sceneboard/internal/document"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newFixture(t *testing.T) (*document.Store, *Factory) {
	t.Helper()
	store, err := document.NewStore(document.Snapshot{Scenes: []document.Scene{
		{
			ID:   "A",
			Name: "Intro",
			Layers: []document.Layer{
				{ID: "L0", Type: "text"},
				{ID: "L1", Type: "image"},
				{ID: "L2", Type: "shape", Config: map[string]any{"fill": "#f00"}},
				{ID: "L3", Type: "text"},
				{ID: "L4", Type: "video"},
			},
			Cameras: []document.Camera{{ID: "C0", X: 0.5, Y: 0.5, Zoom: 1, IsDefault: true}},
		},
		{ID: "B", Name: "Middle"},
		{ID: "C", Name: "Outro", Properties: map[string]any{"bg": "#000"}},
	}})
	require.NoError(t, err)

	n := 0
	f := NewFactory(store,
		WithClock(func() time.Time { return epoch }),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("gen-%d", n)
		}),
	)
	return store, f
}

func layerOrder(t *testing.T, s *document.Store, sceneID string) []string {
	t.Helper()
	sc, err := s.Scene(sceneID)
	require.NoError(t, err)
	return sc.LayerIDs()
}

// roundTrip applies cmd forward, then inverse, then forward again and checks
// the document is bit-identical at each end of the cycle.
func roundTrip(t *testing.T, s *document.Store, cmd Command) {
	t.Helper()
	before := s.Snapshot()

	require.NoError(t, Apply(s, cmd, Forward))
	after := s.Snapshot()
	assert.NotEqual(t, before, after, "forward should change the document")

	require.NoError(t, Apply(s, cmd, Inverse))
	assert.Equal(t, before, s.Snapshot(), "inverse should restore the prior state")

	require.NoError(t, Apply(s, cmd, Forward))
	assert.Equal(t, after, s.Snapshot(), "forward after inverse should restore the edited state")
}

func TestRoundTripEveryKind(t *testing.T) {
	tests := []struct {
		name  string
		kind  Kind
		build func(f *Factory) (Command, error)
	}{
		{"create scene", KindSceneCreate, func(f *Factory) (Command, error) {
			return f.CreateScene(document.Scene{Name: "New"}, 1)
		}},
		{"update scene", KindSceneUpdate, func(f *Factory) (Command, error) {
			return f.UpdateScene(document.Scene{ID: "B", Name: "Renamed", Duration: 4})
		}},
		{"delete scene", KindSceneDelete, func(f *Factory) (Command, error) {
			return f.DeleteScene("B")
		}},
		{"reorder scenes", KindSceneReorder, func(f *Factory) (Command, error) {
			return f.ReorderScenes([]string{"C", "A", "B"})
		}},
		{"create layer", KindLayerCreate, func(f *Factory) (Command, error) {
			return f.CreateLayer("A", document.Layer{Type: "text"}, 2)
		}},
		{"update layer", KindLayerUpdate, func(f *Factory) (Command, error) {
			return f.UpdateLayer("A", document.Layer{ID: "L2", Type: "shape", Config: map[string]any{"fill": "#0f0"}})
		}},
		{"delete layer", KindLayerDelete, func(f *Factory) (Command, error) {
			return f.DeleteLayer("A", "L2")
		}},
		{"move layer", KindLayerMove, func(f *Factory) (Command, error) {
			return f.MoveLayer("A", "L0", 3)
		}},
		{"duplicate layer", KindLayerDuplicate, func(f *Factory) (Command, error) {
			return f.DuplicateLayer("A", "L2")
		}},
		{"set property", KindPropertySet, func(f *Factory) (Command, error) {
			return f.SetProperty(document.Target{SceneID: "A", LayerID: "L1"}, "opacity", document.Present(0.5))
		}},
		{"clear property", KindPropertySet, func(f *Factory) (Command, error) {
			return f.SetProperty(document.Target{SceneID: "C"}, "bg", document.Absent())
		}},
		{"create camera", KindCameraCreate, func(f *Factory) (Command, error) {
			return f.CreateCamera("A", document.Camera{X: 0.1, Y: 0.2, Zoom: 2}, Append)
		}},
		{"update camera", KindCameraUpdate, func(f *Factory) (Command, error) {
			return f.UpdateCamera("A", document.Camera{ID: "C0", X: 0.25, Y: 0.75, Zoom: 3, Locked: true})
		}},
		{"delete camera", KindCameraDelete, func(f *Factory) (Command, error) {
			return f.DeleteCamera("A", "C0")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, f := newFixture(t)
			cmd, err := tt.build(f)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, cmd.Kind)
			assert.Equal(t, epoch, cmd.CreatedAt)
			assert.NotEmpty(t, cmd.Label)
			roundTrip(t, store, cmd)
		})
	}
}

func TestDeleteLayerReinsertsAtOriginalIndex(t *testing.T) {
	store, f := newFixture(t)
	original := layerOrder(t, store, "A")

	cmd, err := f.DeleteLayer("A", "L2")
	require.NoError(t, err)
	assert.Equal(t, 2, cmd.Payload.(LayerDelete).Index)

	require.NoError(t, Apply(store, cmd, Forward))
	assert.Equal(t, []string{"L0", "L1", "L3", "L4"}, layerOrder(t, store, "A"))

	require.NoError(t, Apply(store, cmd, Inverse))
	assert.Equal(t, original, layerOrder(t, store, "A"))
	i, err := store.LayerIndex("A", "L2")
	require.NoError(t, err)
	assert.Equal(t, 2, i)
}

func TestDuplicateInverseRemovesOnlyTheCopy(t *testing.T) {
	store, f := newFixture(t)
	original := layerOrder(t, store, "A")

	cmd, err := f.DuplicateLayer("A", "L2")
	require.NoError(t, err)
	dup := cmd.Payload.(LayerDuplicate)
	assert.Equal(t, "gen-1", dup.Copy.ID)
	assert.Equal(t, "L2", dup.SourceID)

	require.NoError(t, Apply(store, cmd, Forward))
	assert.Equal(t, []string{"L0", "L1", "L2", "gen-1", "L3", "L4"}, layerOrder(t, store, "A"))

	require.NoError(t, Apply(store, cmd, Inverse))
	assert.Equal(t, original, layerOrder(t, store, "A"))
	_, err = store.Layer("A", "L2")
	assert.NoError(t, err)
}

func TestReorderInverseUsesStoredOrder(t *testing.T) {
	store, f := newFixture(t)

	cmd, err := f.ReorderScenes([]string{"C", "A", "B"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, cmd.Payload.(SceneReorder).Before)

	require.NoError(t, Apply(store, cmd, Forward))
	assert.Equal(t, []string{"C", "A", "B"}, store.SceneOrder())

	require.NoError(t, Apply(store, cmd, Inverse))
	assert.Equal(t, []string{"A", "B", "C"}, store.SceneOrder())
}

func TestReorderRejectsWrongLength(t *testing.T) {
	_, f := newFixture(t)
	_, err := f.ReorderScenes([]string{"A", "B"})
	assert.ErrorIs(t, err, document.ErrInvalidOrder)
}

func TestPropertyInverseRestoresAbsence(t *testing.T) {
	store, f := newFixture(t)
	target := document.Target{SceneID: "A", LayerID: "L1"}

	cmd, err := f.SetProperty(target, "opacity", document.Present(0.5))
	require.NoError(t, err)
	ps := cmd.Payload.(PropertySet)
	assert.False(t, ps.Before.Present)

	require.NoError(t, Apply(store, cmd, Forward))
	p, err := store.Property(target, "opacity")
	require.NoError(t, err)
	assert.Equal(t, document.Present(0.5), p)

	require.NoError(t, Apply(store, cmd, Inverse))
	p, err = store.Property(target, "opacity")
	require.NoError(t, err)
	assert.False(t, p.Present, "undo must restore absence, not a zero value")

	l, err := store.Layer("A", "L1")
	require.NoError(t, err)
	_, has := l.Properties["opacity"]
	assert.False(t, has)
}

func TestMoveStoresAbsoluteIndices(t *testing.T) {
	store, f := newFixture(t)
	cmd, err := f.MoveLayer("A", "L4", 0)
	require.NoError(t, err)
	mv := cmd.Payload.(LayerMove)
	assert.Equal(t, 4, mv.From)
	assert.Equal(t, 0, mv.To)

	require.NoError(t, Apply(store, cmd, Forward))
	assert.Equal(t, []string{"L4", "L0", "L1", "L2", "L3"}, layerOrder(t, store, "A"))
	require.NoError(t, Apply(store, cmd, Inverse))
	assert.Equal(t, []string{"L0", "L1", "L2", "L3", "L4"}, layerOrder(t, store, "A"))
}

func TestMoveLayerRejectsNoopAndOutOfRange(t *testing.T) {
	_, f := newFixture(t)

	_, err := f.MoveLayer("A", "L2", 2)
	assert.ErrorIs(t, err, ErrNoChange)
	_, err = f.MoveLayer("A", "L2", 5)
	assert.ErrorIs(t, err, document.ErrIndexOutOfRange)
	_, err = f.MoveLayer("A", "L2", -1)
	assert.ErrorIs(t, err, document.ErrIndexOutOfRange)
}

func TestFactoryErrorsForMissingEntities(t *testing.T) {
	_, f := newFixture(t)

	_, err := f.DeleteScene("nope")
	assert.ErrorIs(t, err, document.ErrSceneNotFound)
	_, err = f.DeleteLayer("A", "nope")
	assert.ErrorIs(t, err, document.ErrLayerNotFound)
	_, err = f.UpdateCamera("A", document.Camera{ID: "nope"})
	assert.ErrorIs(t, err, document.ErrCameraNotFound)
	_, err = f.SetProperty(document.Target{SceneID: "A"}, "", document.Present(1))
	assert.ErrorIs(t, err, document.ErrEmptyKey)
}

func TestBatchAppliesInOrderAndRevertsInReverse(t *testing.T) {
	store, f := newFixture(t)
	before := store.Snapshot()

	create, err := f.CreateLayer("A", document.Layer{ID: "X", Type: "text"}, Append)
	require.NoError(t, err)
	require.NoError(t, Apply(store, create, Forward))
	move, err := f.MoveLayer("A", "X", 0)
	require.NoError(t, err)
	require.NoError(t, Apply(store, move, Forward))
	after := store.Snapshot()

	batch := f.Batch("Drop text", create, move)
	assert.Equal(t, KindBatch, batch.Kind)

	require.NoError(t, Apply(store, batch, Inverse))
	assert.Equal(t, before, store.Snapshot())
	require.NoError(t, Apply(store, batch, Forward))
	assert.Equal(t, after, store.Snapshot())
}

func TestBatchRollsBackOnFailure(t *testing.T) {
	store, f := newFixture(t)
	before := store.Snapshot()

	create, err := f.CreateLayer("A", document.Layer{ID: "X", Type: "text"}, 0)
	require.NoError(t, err)
	bad := New("bad", epoch, LayerMove{SceneID: "A", LayerID: "X", From: 0, To: 99})

	err = Apply(store, f.Batch("", create, bad), Forward)
	require.Error(t, err)
	assert.ErrorIs(t, err, document.ErrIndexOutOfRange)
	assert.Equal(t, before, store.Snapshot())
}

// failingDelete wraps a store so that layer deletes fail.
type failingDelete struct {
	*document.Store
}

func (failingDelete) DeleteLayer(string, string) error {
	return errors.New("delete refused")
}

func TestBatchReportsRollbackFailures(t *testing.T) {
	store, f := newFixture(t)

	create, err := f.CreateLayer("A", document.Layer{ID: "X", Type: "text"}, 0)
	require.NoError(t, err)
	bad := New("bad", epoch, LayerMove{SceneID: "A", LayerID: "X", From: 0, To: 99})

	err = Apply(failingDelete{store}, f.Batch("", create, bad), Forward)
	require.Error(t, err)
	assert.ErrorIs(t, err, document.ErrIndexOutOfRange)
	assert.ErrorContains(t, err, "batch rollback 0")
	assert.ErrorContains(t, err, "delete refused")
}

type unknownPayload struct{}

func (unknownPayload) kind() Kind { return "unknown" }

func TestApplyUnknownPayload(t *testing.T) {
	store, _ := newFixture(t)
	err := Apply(store, New("x", epoch, unknownPayload{}), Forward)
	assert.ErrorIs(t, err, ErrUnknownPayload)
}
