// Package history provides undo/redo for a sceneboard editing session.
//
// A History owns two bounded, strictly ordered sequences of commands:
//
//	h := history.New(applier, 100) // keep at most 100 undo entries
//
//	h.Push(cmd) // record an edit that has already been applied
//	h.Undo()    // replay the newest command's inverse
//	h.Redo()    // replay the newest undone command forward
//
// # Linear history
//
// Every Push clears the redo sequence, so history never branches. When the
// undo sequence grows past its capacity the oldest commands are dropped.
// SetCapacity only affects later pushes.
//
// # Replay guard
//
// While a command replays, the History is in ApplyingUndo or ApplyingRedo
// mode and ignores Push, Undo and Redo. This keeps a command's own replay
// from being recorded as a new edit. The mode is reset even if the replay
// fails or panics.
//
// # Document state
//
// The History never touches document state. Replays go through the Applier
// given to New, which normally dispatches to command.Apply.
//
// # Panels
//
// UndoEntries and RedoEntries expose label and timestamp for each command;
// the newest undo entry is marked as the current state. Checkpoints let a
// panel jump to any listed position.
package history
