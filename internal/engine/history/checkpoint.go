package history

// Checkpoint represents a point in history that can be returned to.
// It records the undo depth only, so evictions made after it was taken
// shift the position it refers to.
type Checkpoint struct {
	undoDepth int
}

// Depth returns the undo depth the checkpoint refers to.
func (c Checkpoint) Depth() int {
	return c.undoDepth
}

// CheckpointAt returns a checkpoint for an explicit undo depth, as picked
// from a history panel listing.
func CheckpointAt(depth int) Checkpoint {
	if depth < 0 {
		depth = 0
	}
	return Checkpoint{undoDepth: depth}
}

// CreateCheckpoint creates a checkpoint at the current history position.
func (h *History) CreateCheckpoint() Checkpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Checkpoint{undoDepth: len(h.undo)}
}

// UndoToCheckpoint undoes commands until the undo depth reaches cp.
func (h *History) UndoToCheckpoint(cp Checkpoint) error {
	for h.UndoCount() > cp.undoDepth {
		moved, err := h.step(ApplyingUndo)
		if err != nil {
			return err
		}
		if !moved {
			return nil
		}
	}
	return nil
}

// RedoToCheckpoint redoes commands until the undo depth reaches cp or the
// redo sequence runs out.
func (h *History) RedoToCheckpoint(cp Checkpoint) error {
	for h.UndoCount() < cp.undoDepth && h.CanRedo() {
		moved, err := h.step(ApplyingRedo)
		if err != nil {
			return err
		}
		if !moved {
			return nil
		}
	}
	return nil
}

// GoTo moves backwards or forwards through history to cp.
func (h *History) GoTo(cp Checkpoint) error {
	if h.UndoCount() > cp.undoDepth {
		return h.UndoToCheckpoint(cp)
	}
	return h.RedoToCheckpoint(cp)
}
