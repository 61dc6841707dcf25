// Package document holds the canonical in-memory state of a sceneboard
// document: an ordered list of scenes, each with an ordered layer list, a
// camera list and scalar properties.
//
// The Store exposes two surfaces:
//
//   - Reader: synchronous, id-keyed reads that always return detached copies,
//     used to snapshot "before" state prior to an edit.
//   - Mutator: id-keyed mutation entry points. They know nothing about
//     history; undo and redo are built on top of them by the command package.
//
// Deletes are idempotent: removing an id that is already gone succeeds.
// Replaces and inserts fail loudly when their preconditions do not hold.
package document
