package history

import (
	"maps"
	"slices"

	"github.com/dshills/sceneboard/internal/command"
)

// Op identifies what happened to a History.
type Op int

const (
	// OpPush means a command was recorded.
	OpPush Op = iota
	// OpSuppressed means a push arrived during a replay and was ignored.
	OpSuppressed
	// OpUndo means a command was reverted.
	OpUndo
	// OpRedo means a command was re-applied.
	OpRedo
	// OpClear means both sequences were emptied.
	OpClear
)

// String returns the op name.
func (o Op) String() string {
	switch o {
	case OpPush:
		return "push"
	case OpSuppressed:
		return "suppressed"
	case OpUndo:
		return "undo"
	case OpRedo:
		return "redo"
	case OpClear:
		return "clear"
	default:
		return "unknown"
	}
}

// Event describes a change to a History.
type Event struct {
	Op      Op
	Command command.Command

	// Evicted is the number of oldest commands dropped by a push.
	Evicted int

	// Err is the replay error of an undo or redo, if any.
	Err error
}

// Observer is called synchronously after every History change, without
// the History lock held. Observers run in subscription order.
type Observer func(Event)

// Subscribe registers an observer and returns a function that removes it.
func (h *History) Subscribe(o Observer) (unsubscribe func()) {
	h.mu.Lock()
	id := h.nextObsID
	h.nextObsID++
	h.observers[id] = o
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.observers, id)
		h.mu.Unlock()
	}
}

func (h *History) notify(e Event) {
	h.mu.Lock()
	if len(h.observers) == 0 {
		h.mu.Unlock()
		return
	}
	ids := slices.Sorted(maps.Keys(h.observers))
	obs := make([]Observer, len(ids))
	for i, id := range ids {
		obs[i] = h.observers[id]
	}
	h.mu.Unlock()

	for _, o := range obs {
		o(e)
	}
}
