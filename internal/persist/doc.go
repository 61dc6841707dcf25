// Package persist sends document edits to a remote store.
//
// Edits are described as Mutations and written through a Gateway. The
// Dispatcher queues mutations and writes them one at a time, in submission
// order, on a background worker:
//
//	d := persist.NewDispatcher(gw, persist.WithMaxTries(3))
//	d.Start()
//	defer d.Stop(ctx)
//
//	p := d.Submit(ctx, m) // never blocks
//	err := p.Wait(ctx)    // optional
//
// Failed writes are retried with exponential backoff. Final outcomes are
// delivered to a Notifier; a failure never touches local document state.
//
// Two gateways are provided: MemoryGateway records calls and can inject
// failures, SQLiteGateway stores entities as JSON rows in a SQLite file.
package persist
