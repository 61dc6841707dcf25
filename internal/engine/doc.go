// Package engine provides the editing core of sceneboard.
//
// The engine package serves as the main facade, combining the scene
// document, undoable commands, history and remote persistence into a
// unified, thread-safe API.
//
// # Architecture
//
// The engine is built on several packages:
//
//   - document: the in-memory scene document and its mutation primitives
//   - command: plain-data commands and the factory that builds them
//   - history: bounded undo/redo sequences with a replay guard
//   - persist: queued, retried writes to a remote store
//
// # Edits
//
// Every edit follows the same path. The factory reads the current state
// and builds a command, the command is applied to the document, pushed to
// history, and its remote write is queued:
//
//	e, _ := engine.New(engine.WithDispatcher(d))
//
//	id, pending, err := e.CreateLayer(ctx, "intro", layer, command.Append)
//	// pending resolves when the remote write finishes; waiting is optional
//
// Edits never wait for the remote store and a failed write never changes
// local state. Failures reach persist.Notifier observers and OnPersistFailure.
//
// # Undo and Redo
//
// Undo and Redo replay commands against the document only:
//
//	e.Undo()
//	e.Redo()
//
// The remote store is not told about them. After an undo or redo, Dirty
// reports true until Save writes the whole document.
//
// # Groups
//
// Group records several edits as one undo entry:
//
//	e.Group(ctx, "Add title card", func() error {
//		if _, _, err := e.CreateLayer(ctx, sceneID, bg, command.Append); err != nil {
//			return err
//		}
//		_, _, err := e.CreateLayer(ctx, sceneID, title, command.Append)
//		return err
//	})
//
// # Thread Safety
//
// All Engine operations are thread-safe. Edits, undo and redo are
// serialized by a single mutex.
package engine
