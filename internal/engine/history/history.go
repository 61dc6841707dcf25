package history

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/sceneboard/internal/command"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 100

// Errors wrapped around a failing command replay.
var (
	ErrInverseFailed = errors.New("undo failed")
	ErrForwardFailed = errors.New("redo failed")
)

// Mode is the replay state of a History.
type Mode int

const (
	// Idle means no replay is running; pushes are recorded.
	Idle Mode = iota
	// ApplyingUndo means a command's inverse is running.
	ApplyingUndo
	// ApplyingRedo means a command's forward half is running.
	ApplyingRedo
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case ApplyingUndo:
		return "applying-undo"
	case ApplyingRedo:
		return "applying-redo"
	default:
		return "unknown"
	}
}

// Applier replays one direction of a command against document state.
type Applier interface {
	Apply(cmd command.Command, dir command.Direction) error
}

// ApplierFunc adapts a function to Applier.
type ApplierFunc func(cmd command.Command, dir command.Direction) error

// Apply calls f.
func (f ApplierFunc) Apply(cmd command.Command, dir command.Direction) error {
	return f(cmd, dir)
}

// Entry is a read-only view of one command for a history panel.
type Entry struct {
	Label     string
	Kind      command.Kind
	Timestamp time.Time
	// Current marks the newest undo entry: the state the document is in.
	Current bool
}

// History owns the undo and redo sequences of one editing session.
//
// The lock is released while a command replays so that the applier can
// safely call back into the History; any Push made during a replay is
// ignored.
type History struct {
	mu sync.Mutex

	undo []command.Command
	redo []command.Command
	mode Mode

	capacity int
	applier  Applier

	observers map[uint64]Observer
	nextObsID uint64
}

// New creates a History that replays commands through applier.
func New(applier Applier, capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{
		capacity:  capacity,
		applier:   applier,
		observers: make(map[uint64]Observer),
	}
}

// Push records cmd as the newest undoable command and clears the redo
// sequence. It reports false, recording nothing, while a replay is running.
func (h *History) Push(cmd command.Command) bool {
	h.mu.Lock()
	if h.mode != Idle {
		h.mu.Unlock()
		h.notify(Event{Op: OpSuppressed, Command: cmd})
		return false
	}

	h.undo = append(h.undo, cmd)
	h.redo = nil

	evicted := 0
	if len(h.undo) > h.capacity {
		evicted = len(h.undo) - h.capacity
		h.undo = append([]command.Command(nil), h.undo[evicted:]...)
	}
	h.mu.Unlock()

	h.notify(Event{Op: OpPush, Command: cmd, Evicted: evicted})
	return true
}

// Undo reverts the newest command and moves it to the redo sequence.
// It is a no-op when there is nothing to undo or a replay is running.
//
// If the command's inverse fails, the command still moves to the redo
// sequence and the mode returns to Idle; the document may then disagree
// with the history and the error is returned for the caller to report.
func (h *History) Undo() error {
	_, err := h.step(ApplyingUndo)
	return err
}

// Redo re-applies the newest undone command and moves it back to the undo
// sequence. Failure handling mirrors Undo.
func (h *History) Redo() error {
	_, err := h.step(ApplyingRedo)
	return err
}

// step performs one undo or redo and reports whether a command moved.
func (h *History) step(mode Mode) (moved bool, err error) {
	h.mu.Lock()
	from := &h.undo
	if mode == ApplyingRedo {
		from = &h.redo
	}
	if h.mode != Idle || len(*from) == 0 {
		h.mu.Unlock()
		return false, nil
	}
	cmd := (*from)[len(*from)-1]
	*from = (*from)[:len(*from)-1]
	h.mode = mode
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		op := OpUndo
		if mode == ApplyingUndo {
			h.redo = append(h.redo, cmd)
		} else {
			h.undo = append(h.undo, cmd)
			op = OpRedo
		}
		h.mode = Idle
		h.mu.Unlock()
		h.notify(Event{Op: op, Command: cmd, Err: err})
	}()

	if mode == ApplyingUndo {
		if aerr := h.applier.Apply(cmd, command.Inverse); aerr != nil {
			return true, fmt.Errorf("%w: %s: %w", ErrInverseFailed, cmd.Label, aerr)
		}
		return true, nil
	}
	if aerr := h.applier.Apply(cmd, command.Forward); aerr != nil {
		return true, fmt.Errorf("%w: %s: %w", ErrForwardFailed, cmd.Label, aerr)
	}
	return true, nil
}

// Clear empties both sequences. The mode is left untouched.
func (h *History) Clear() {
	h.mu.Lock()
	h.undo = nil
	h.redo = nil
	h.mu.Unlock()
	h.notify(Event{Op: OpClear})
}

// CanUndo returns true if undo is available.
func (h *History) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undo) > 0
}

// CanRedo returns true if redo is available.
func (h *History) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.redo) > 0
}

// UndoCount returns the number of undoable commands.
func (h *History) UndoCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undo)
}

// RedoCount returns the number of redoable commands.
func (h *History) RedoCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.redo)
}

// Mode returns the current replay mode.
func (h *History) Mode() Mode {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mode
}

// SetCapacity changes the maximum undo depth for future pushes. An undo
// sequence that is already longer is trimmed by the next Push, not now.
func (h *History) SetCapacity(n int) {
	if n <= 0 {
		n = DefaultCapacity
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.capacity = n
}

// Capacity returns the maximum undo depth.
func (h *History) Capacity() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.capacity
}

// UndoCommands returns the undo sequence, oldest first.
func (h *History) UndoCommands() []command.Command {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]command.Command(nil), h.undo...)
}

// RedoCommands returns the redo sequence, oldest first. The last element is
// the next command Redo would apply.
func (h *History) RedoCommands() []command.Command {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]command.Command(nil), h.redo...)
}

// UndoEntries returns panel entries for the undo sequence, oldest first.
// The newest entry is marked Current.
func (h *History) UndoEntries() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	result := entries(h.undo)
	if n := len(result); n > 0 {
		result[n-1].Current = true
	}
	return result
}

// RedoEntries returns panel entries for the redo sequence, oldest first.
func (h *History) RedoEntries() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return entries(h.redo)
}

// PeekUndo returns the entry Undo would revert.
func (h *History) PeekUndo() (Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.undo) == 0 {
		return Entry{}, false
	}
	e := entryOf(h.undo[len(h.undo)-1])
	e.Current = true
	return e, true
}

// PeekRedo returns the entry Redo would re-apply.
func (h *History) PeekRedo() (Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.redo) == 0 {
		return Entry{}, false
	}
	return entryOf(h.redo[len(h.redo)-1]), true
}

func entries(cmds []command.Command) []Entry {
	result := make([]Entry, len(cmds))
	for i, cmd := range cmds {
		result[i] = entryOf(cmd)
	}
	return result
}

func entryOf(cmd command.Command) Entry {
	return Entry{
		Label:     cmd.Label,
		Kind:      cmd.Kind,
		Timestamp: cmd.CreatedAt,
	}
}
