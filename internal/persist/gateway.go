package persist

import (
	"context"
	"fmt"
	"sync"

	"github.com/dshills/sceneboard/internal/document"
)

// Gateway writes document changes to a remote store.
type Gateway interface {
	// Apply writes one mutation.
	Apply(ctx context.Context, m Mutation) error

	// SaveDocument replaces the remote document with snap.
	SaveDocument(ctx context.Context, snap document.Snapshot) error

	// Close releases the gateway's resources.
	Close() error
}

// MemoryGateway is an in-memory Gateway that records every call.
// Failures can be injected per mutation.
type MemoryGateway struct {
	mu        sync.Mutex
	mutations []Mutation
	saves     []document.Snapshot
	calls     int
	closed    bool

	fail     func(Mutation) error
	failSave error
	onApply  func(context.Context, Mutation)
}

// NewMemoryGateway creates an empty MemoryGateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{}
}

// Apply records m, unless the failure hook rejects it.
func (g *MemoryGateway) Apply(ctx context.Context, m Mutation) error {
	g.mu.Lock()
	g.calls++
	hook, fail, closed := g.onApply, g.fail, g.closed
	g.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if hook != nil {
		hook(ctx, m)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return err
	}
	if fail != nil {
		if err := fail(m); err != nil {
			return err
		}
	}

	g.mu.Lock()
	g.mutations = append(g.mutations, m)
	g.mu.Unlock()
	return nil
}

// SaveDocument records a copy of snap.
func (g *MemoryGateway) SaveDocument(ctx context.Context, snap document.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	if g.failSave != nil {
		return fmt.Errorf("save document: %w", g.failSave)
	}
	g.saves = append(g.saves, snap.Clone())
	return nil
}

// Close marks the gateway closed.
func (g *MemoryGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

// FailWith makes Apply return fn's error for matching mutations.
// A nil fn clears the hook.
func (g *MemoryGateway) FailWith(fn func(Mutation) error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail = fn
}

// FailSave makes SaveDocument return err. A nil err clears it.
func (g *MemoryGateway) FailSave(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failSave = err
}

// OnApply registers a hook run at the start of every Apply call.
func (g *MemoryGateway) OnApply(fn func(context.Context, Mutation)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onApply = fn
}

// Mutations returns the successfully applied mutations in order.
func (g *MemoryGateway) Mutations() []Mutation {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Mutation(nil), g.mutations...)
}

// Saves returns every saved snapshot in order.
func (g *MemoryGateway) Saves() []document.Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]document.Snapshot(nil), g.saves...)
}

// Calls returns the number of Apply calls, including failed ones.
func (g *MemoryGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}
