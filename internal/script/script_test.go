package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/sceneboard/internal/document"
	"github.com/dshills/sceneboard/internal/engine"
	"github.com/dshills/sceneboard/internal/persist"
)

func newEngine(t *testing.T, s *Script, opts ...engine.Option) *engine.Engine {
	t.Helper()
	n := 0
	base := []engine.Option{
		engine.WithClock(func() time.Time { return time.Unix(0, 0).UTC() }),
		engine.WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("gen-%d", n)
		}),
	}
	if s.Document != nil {
		base = append(base, engine.WithDocument(*s.Document))
	}
	eng, err := engine.New(append(base, opts...)...)
	require.NoError(t, err)
	return eng
}

func newPersisted(t *testing.T, s *Script) (*engine.Engine, *persist.MemoryGateway) {
	t.Helper()
	gw := persist.NewMemoryGateway()
	d := persist.NewDispatcher(gw, persist.WithBackoff(time.Millisecond, 2*time.Millisecond), persist.WithMaxTries(2))
	require.NoError(t, d.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Stop(ctx)
	})
	return newEngine(t, s, engine.WithDispatcher(d)), gw
}

func mustParse(t *testing.T, src string) *Script {
	t.Helper()
	s, err := Parse(strings.NewReader(src))
	require.NoError(t, err)
	return s
}

// ----------------------------------------------------------------------------
// Parse
// ----------------------------------------------------------------------------

func TestLoadFixture(t *testing.T) {
	s, err := Load("testdata/arrange.yaml")
	require.NoError(t, err)

	assert.Equal(t, "arrange intro", s.Name)
	require.NotNil(t, s.Document)
	require.Len(t, s.Document.Scenes, 1)
	assert.Equal(t, []string{"bg", "logo"}, s.Document.Scenes[0].LayerIDs())
	assert.True(t, s.Document.Scenes[0].Cameras[0].IsDefault)
	assert.Len(t, s.Steps, 10)
	assert.Equal(t, OpGroup, s.Steps[2].Op)
	assert.Len(t, s.Steps[2].Steps, 2)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("testdata/missing.yaml")
	assert.Error(t, err)
}

func TestParseEmpty(t *testing.T) {
	s, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, s.Steps)
}

func TestParseRejectsUnknownField(t *testing.T) {
	_, err := Parse(strings.NewReader("steps:\n  - op: undo\n    cuont: 2\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cuont")
}

func TestParseRejectsUnknownOp(t *testing.T) {
	_, err := Parse(strings.NewReader("steps:\n  - op: undo\n  - op: explode\n"))

	var serr *StepError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "1", serr.Index)
	assert.ErrorIs(t, err, ErrUnknownOp)
}

func TestParseValidatesRequiredFields(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		index string
	}{
		{"create_scene without scene", "steps:\n  - op: create_scene\n", "0"},
		{"delete_layer without layer", "steps:\n  - op: delete_layer\n    scene_id: s1\n", "0"},
		{"set_property without key", "steps:\n  - op: set_property\n    scene_id: s1\n", "0"},
		{"delete_camera without id", "steps:\n  - op: delete_camera\n    scene_id: s1\n", "0"},
		{"empty group", "steps:\n  - op: undo\n  - op: group\n", "1"},
		{"expect without body", "steps:\n  - op: expect\n", "0"},
		{
			"nested step",
			"steps:\n  - op: undo\n  - op: group\n    steps:\n      - op: redo\n      - op: move_layer\n",
			"1.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.src))
			var serr *StepError
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, tt.index, serr.Index)
			assert.ErrorIs(t, err, ErrInvalidStep)
		})
	}
}

// ----------------------------------------------------------------------------
// Run
// ----------------------------------------------------------------------------

func TestRunFixture(t *testing.T) {
	s, err := Load("testdata/arrange.yaml")
	require.NoError(t, err)
	eng := newEngine(t, s)

	res, err := NewRunner(eng).Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, len(s.Steps), res.Steps)
	assert.Empty(t, res.Pending)

	entries := eng.UndoEntries()
	require.Len(t, entries, 5)
	assert.Equal(t, "Bring title forward", entries[2].Label)
}

func TestRunPersistsAndSaves(t *testing.T) {
	s := mustParse(t, `
document:
  scenes:
    - id: s1
      name: Intro
steps:
  - op: create_layer
    scene_id: s1
    layer: {id: l1, type: text}
  - op: create_camera
    scene_id: s1
    camera: {id: c1, x: 0.5, y: 0.5, zoom: 2}
  - op: group
    label: Tidy
    steps:
      - op: update_camera
        scene_id: s1
        camera: {id: c1, x: 0.25, y: 0.5, zoom: 2}
      - op: duplicate_layer
        scene_id: s1
        layer_id: l1
  - op: undo
  - op: save
  - op: expect
    expect:
      dirty: false
      undo: 2
      redo: 1
`)
	eng, gw := newPersisted(t, s)

	res, err := NewRunner(eng).Run(context.Background(), s)
	require.NoError(t, err)

	// Two single edits plus two writes from the group.
	assert.Len(t, res.Pending, 4)
	for _, p := range res.Pending {
		require.NoError(t, p.Wait(context.Background()))
	}
	assert.Len(t, gw.Mutations(), 4)

	saves := gw.Saves()
	require.Len(t, saves, 1)
	assert.Equal(t, []string{"l1"}, saves[0].Scenes[0].LayerIDs())
	assert.Equal(t, 0.5, saves[0].Scenes[0].Cameras[0].X)
}

func TestRunSaveWithoutDispatcher(t *testing.T) {
	s := mustParse(t, "steps:\n  - op: save\n")

	_, err := NewRunner(newEngine(t, s)).Run(context.Background(), s)
	assert.ErrorIs(t, err, engine.ErrNoDispatcher)
}

func TestRunStopsAtFailingStep(t *testing.T) {
	s := mustParse(t, `
steps:
  - op: create_scene
    scene: {id: s1, name: One}
  - op: delete_scene
    scene_id: nope
  - op: create_scene
    scene: {id: s2, name: Two}
`)
	eng := newEngine(t, s)

	res, err := NewRunner(eng).Run(context.Background(), s)

	var serr *StepError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "1", serr.Index)
	assert.Equal(t, OpDeleteScene, serr.Op)
	assert.ErrorIs(t, err, document.ErrSceneNotFound)
	assert.Equal(t, 1, res.Steps)
	assert.Equal(t, []string{"s1"}, eng.SceneOrder())
}

func TestRunFailedGroupLeavesNoTrace(t *testing.T) {
	s := mustParse(t, `
document:
  scenes:
    - id: s1
      name: Intro
      layers:
        - {id: a, type: shape}
        - {id: b, type: shape}
steps:
  - op: group
    label: Broken
    steps:
      - op: move_layer
        scene_id: s1
        layer_id: a
        to: 1
      - op: delete_layer
        scene_id: s1
        layer_id: missing
`)
	eng, gw := newPersisted(t, s)

	_, err := NewRunner(eng).Run(context.Background(), s)

	var serr *StepError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "0.1", serr.Index)
	assert.Equal(t, OpDeleteLayer, serr.Op)
	assert.ErrorIs(t, err, document.ErrLayerNotFound)

	sc, err := eng.Scene("s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, sc.LayerIDs())
	assert.False(t, eng.CanUndo())

	require.NoError(t, eng.Flush(context.Background()))
	assert.Empty(t, gw.Mutations())
}

func TestRunUndoInsideGroupFails(t *testing.T) {
	s := mustParse(t, `
steps:
  - op: create_scene
    scene: {id: s1, name: One}
  - op: group
    steps:
      - op: undo
`)
	_, err := NewRunner(newEngine(t, s)).Run(context.Background(), s)
	assert.ErrorIs(t, err, engine.ErrGroupActive)
}

func TestRunUndoCount(t *testing.T) {
	s := mustParse(t, `
steps:
  - op: create_scene
    scene: {id: s1}
  - op: create_scene
    scene: {id: s2}
  - op: create_scene
    scene: {id: s3}
  - op: undo
    count: 2
  - op: expect
    expect:
      scene_order: [s1]
      redo: 2
  - op: redo
    count: 5
  - op: expect
    expect:
      scene_order: [s1, s2, s3]
`)
	_, err := NewRunner(newEngine(t, s)).Run(context.Background(), s)
	require.NoError(t, err)
}

func TestRunUnsetProperty(t *testing.T) {
	s := mustParse(t, `
document:
  scenes:
    - id: s1
      properties: {bg: black}
steps:
  - op: set_property
    scene_id: s1
    key: bg
    unset: true
  - op: expect
    expect:
      properties:
        s1: {bg: null}
  - op: undo
  - op: expect
    expect:
      properties:
        s1: {bg: black}
`)
	_, err := NewRunner(newEngine(t, s)).Run(context.Background(), s)
	require.NoError(t, err)
}

func TestExpectReportsEveryMismatch(t *testing.T) {
	s := mustParse(t, `
steps:
  - op: create_scene
    scene: {id: s1}
  - op: expect
    expect:
      scene_order: [s2]
      undo: 4
      layer_order:
        ghost: []
`)
	_, err := NewRunner(newEngine(t, s)).Run(context.Background(), s)

	require.ErrorIs(t, err, ErrExpectation)
	var serr *StepError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "1", serr.Index)
	assert.Contains(t, err.Error(), "scene order")
	assert.Contains(t, err.Error(), "undo count 1, want 4")
	assert.Contains(t, err.Error(), "scene ghost")
}

func TestRunHonorsCancelledContext(t *testing.T) {
	s := mustParse(t, "steps:\n  - op: create_scene\n    scene: {id: s1}\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewRunner(newEngine(t, s)).Run(ctx, s)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, res.Steps)
}
