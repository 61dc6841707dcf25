package history

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/sceneboard/internal/command"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// recorder is an Applier that logs every replay.
type recorder struct {
	calls []string
	fail  error
	hook  func(cmd command.Command, dir command.Direction)
}

func (r *recorder) Apply(cmd command.Command, dir command.Direction) error {
	r.calls = append(r.calls, dir.String()+":"+cmd.Label)
	if r.hook != nil {
		r.hook(cmd, dir)
	}
	return r.fail
}

func cmd(label string) command.Command {
	return command.New(label, epoch, command.SceneReorder{})
}

func labels(cmds []command.Command) []string {
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.Label
	}
	return out
}

func TestNewDefaultsCapacity(t *testing.T) {
	h := New(&recorder{}, 0)
	assert.Equal(t, DefaultCapacity, h.Capacity())
	assert.Equal(t, Idle, h.Mode())
	assert.False(t, h.CanUndo())
	assert.False(t, h.CanRedo())
}

func TestPushEvictsOldestFirst(t *testing.T) {
	const capacity = 4
	h := New(&recorder{}, capacity)
	var pushed []string
	for _, l := range []string{"1", "2", "3", "4", "5", "6", "7"} {
		h.Push(cmd(l))
		pushed = append(pushed, l)
	}
	assert.Equal(t, capacity, h.UndoCount())
	assert.Equal(t, pushed[len(pushed)-capacity:], labels(h.UndoCommands()))
}

func TestScenarioA(t *testing.T) {
	h := New(&recorder{}, 3)
	for _, l := range []string{"A", "B", "C", "D"} {
		h.Push(cmd(l))
	}
	assert.Equal(t, []string{"B", "C", "D"}, labels(h.UndoCommands()))

	require.NoError(t, h.Undo())
	assert.Equal(t, []string{"D"}, labels(h.RedoCommands()))

	h.Push(cmd("E"))
	assert.Empty(t, h.RedoCommands())
	assert.Equal(t, []string{"B", "C", "E"}, labels(h.UndoCommands()))
}

func TestPushClearsRedo(t *testing.T) {
	h := New(&recorder{}, 10)
	h.Push(cmd("a"))
	h.Push(cmd("b"))
	h.Push(cmd("c"))
	require.NoError(t, h.Undo())
	require.NoError(t, h.Undo())
	require.Equal(t, 2, h.RedoCount())

	h.Push(cmd("d"))
	assert.Equal(t, 0, h.RedoCount())
	assert.False(t, h.CanRedo())
}

func TestUndoRedoReplaysThroughApplier(t *testing.T) {
	r := &recorder{}
	h := New(r, 10)
	h.Push(cmd("a"))
	h.Push(cmd("b"))

	require.NoError(t, h.Undo())
	require.NoError(t, h.Undo())
	require.NoError(t, h.Redo())

	assert.Equal(t, []string{"inverse:b", "inverse:a", "forward:a"}, r.calls)
	assert.Equal(t, []string{"a"}, labels(h.UndoCommands()))
	assert.Equal(t, []string{"b"}, labels(h.RedoCommands()))
}

func TestUndoThenRedoRestoresState(t *testing.T) {
	h := New(&recorder{}, 10)
	h.Push(cmd("a"))
	h.Push(cmd("b"))
	require.NoError(t, h.Undo())

	canUndo, canRedo := h.CanUndo(), h.CanRedo()
	undoN, redoN := h.UndoCount(), h.RedoCount()

	require.NoError(t, h.Undo())
	require.NoError(t, h.Redo())

	assert.Equal(t, canUndo, h.CanUndo())
	assert.Equal(t, canRedo, h.CanRedo())
	assert.Equal(t, undoN, h.UndoCount())
	assert.Equal(t, redoN, h.RedoCount())
}

func TestEmptyUndoRedoAreNoops(t *testing.T) {
	r := &recorder{}
	h := New(r, 10)
	assert.NoError(t, h.Undo())
	assert.NoError(t, h.Redo())
	assert.Empty(t, r.calls)
}

func TestPushDuringReplayIsIgnored(t *testing.T) {
	r := &recorder{}
	h := New(r, 10)
	h.Push(cmd("a"))
	h.Push(cmd("b"))
	require.NoError(t, h.Undo())

	var modes []Mode
	var recorded []bool
	r.hook = func(c command.Command, _ command.Direction) {
		modes = append(modes, h.Mode())
		undoBefore, redoBefore := h.UndoCommands(), h.RedoCommands()
		recorded = append(recorded, h.Push(cmd("replayed-"+c.Label)))
		assert.Equal(t, undoBefore, h.UndoCommands())
		assert.Equal(t, redoBefore, h.RedoCommands())
	}

	require.NoError(t, h.Undo())
	require.NoError(t, h.Redo())

	assert.Equal(t, []Mode{ApplyingUndo, ApplyingRedo}, modes)
	assert.Equal(t, []bool{false, false}, recorded)
	assert.Equal(t, Idle, h.Mode())
	assert.Equal(t, []string{"a"}, labels(h.UndoCommands()))
	assert.Equal(t, []string{"b"}, labels(h.RedoCommands()))
}

func TestNestedUndoDuringReplayIsIgnored(t *testing.T) {
	r := &recorder{}
	h := New(r, 10)
	h.Push(cmd("a"))
	h.Push(cmd("b"))

	r.hook = func(command.Command, command.Direction) {
		assert.NoError(t, h.Undo())
	}
	require.NoError(t, h.Undo())
	assert.Equal(t, []string{"inverse:b"}, r.calls)
	assert.Equal(t, 1, h.UndoCount())
}

func TestFailedUndoStillMovesCommandAndResetsMode(t *testing.T) {
	boom := errors.New("boom")
	r := &recorder{fail: boom}
	h := New(r, 10)
	h.Push(cmd("a"))

	err := h.Undo()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInverseFailed)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Idle, h.Mode())
	assert.Equal(t, 0, h.UndoCount())
	assert.Equal(t, 1, h.RedoCount())

	err = h.Redo()
	assert.ErrorIs(t, err, ErrForwardFailed)
	assert.Equal(t, Idle, h.Mode())
	assert.Equal(t, 1, h.UndoCount())
	assert.Equal(t, 0, h.RedoCount())
}

func TestPanickingUndoResetsMode(t *testing.T) {
	r := &recorder{hook: func(command.Command, command.Direction) { panic("kaboom") }}
	h := New(r, 10)
	h.Push(cmd("a"))

	assert.PanicsWithValue(t, "kaboom", func() { _ = h.Undo() })
	assert.Equal(t, Idle, h.Mode())
	assert.Equal(t, 1, h.RedoCount())

	r.hook = nil
	assert.True(t, h.Push(cmd("b")), "history must accept pushes after a panicking replay")
}

func TestClearKeepsMode(t *testing.T) {
	h := New(&recorder{}, 10)
	h.Push(cmd("a"))
	h.Push(cmd("b"))
	require.NoError(t, h.Undo())

	h.Clear()
	assert.Equal(t, 0, h.UndoCount())
	assert.Equal(t, 0, h.RedoCount())
	assert.Equal(t, Idle, h.Mode())
}

func TestSetCapacityIsLazy(t *testing.T) {
	h := New(&recorder{}, 10)
	for _, l := range []string{"1", "2", "3", "4", "5"} {
		h.Push(cmd(l))
	}

	h.SetCapacity(2)
	assert.Equal(t, 2, h.Capacity())
	assert.Equal(t, 5, h.UndoCount(), "shrinking must not trim retroactively")

	h.Push(cmd("6"))
	assert.Equal(t, []string{"5", "6"}, labels(h.UndoCommands()))

	h.SetCapacity(-1)
	assert.Equal(t, DefaultCapacity, h.Capacity())
}

func TestEntriesMarkCurrent(t *testing.T) {
	h := New(&recorder{}, 10)
	assert.Empty(t, h.UndoEntries())

	h.Push(cmd("a"))
	h.Push(cmd("b"))
	h.Push(cmd("c"))
	require.NoError(t, h.Undo())

	undo := h.UndoEntries()
	require.Len(t, undo, 2)
	assert.Equal(t, "a", undo[0].Label)
	assert.False(t, undo[0].Current)
	assert.Equal(t, "b", undo[1].Label)
	assert.True(t, undo[1].Current)
	assert.Equal(t, epoch, undo[1].Timestamp)
	assert.Equal(t, command.KindSceneReorder, undo[1].Kind)

	redo := h.RedoEntries()
	require.Len(t, redo, 1)
	assert.Equal(t, "c", redo[0].Label)
	assert.False(t, redo[0].Current)

	next, ok := h.PeekUndo()
	require.True(t, ok)
	assert.Equal(t, "b", next.Label)
	again, ok := h.PeekRedo()
	require.True(t, ok)
	assert.Equal(t, "c", again.Label)
}

func TestObserversSeeEveryChange(t *testing.T) {
	h := New(&recorder{}, 1)
	var ops []Op
	var evicted int
	unsubscribe := h.Subscribe(func(e Event) {
		ops = append(ops, e.Op)
		evicted += e.Evicted
	})

	h.Push(cmd("a"))
	h.Push(cmd("b"))
	require.NoError(t, h.Undo())
	require.NoError(t, h.Redo())
	h.Clear()

	assert.Equal(t, []Op{OpPush, OpPush, OpUndo, OpRedo, OpClear}, ops)
	assert.Equal(t, 1, evicted)

	unsubscribe()
	h.Push(cmd("c"))
	assert.Len(t, ops, 5)
}

func TestObserversRunInSubscriptionOrder(t *testing.T) {
	h := New(&recorder{}, 10)
	var order []int
	for i := range 8 {
		h.Subscribe(func(Event) { order = append(order, i) })
	}

	h.Push(cmd("a"))
	h.Push(cmd("b"))

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 0, 1, 2, 3, 4, 5, 6, 7}, order)
}

func TestCheckpointNavigation(t *testing.T) {
	r := &recorder{}
	h := New(r, 10)
	h.Push(cmd("a"))
	cp := h.CreateCheckpoint()
	h.Push(cmd("b"))
	h.Push(cmd("c"))

	require.NoError(t, h.GoTo(cp))
	assert.Equal(t, []string{"a"}, labels(h.UndoCommands()))
	assert.Equal(t, []string{"c", "b"}, labels(h.RedoCommands()))

	require.NoError(t, h.GoTo(CheckpointAt(3)))
	assert.Equal(t, []string{"a", "b", "c"}, labels(h.UndoCommands()))
	assert.Equal(t, []string{"inverse:c", "inverse:b", "forward:b", "forward:c"}, r.calls)

	require.NoError(t, h.GoTo(CheckpointAt(99)))
	assert.Equal(t, 3, h.UndoCount())
}
