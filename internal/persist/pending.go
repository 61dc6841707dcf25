package persist

import (
	"context"
	"sync"
)

// Pending is the handle for one submitted write. It resolves once the
// write's final outcome is known.
type Pending struct {
	Mutation Mutation

	once    sync.Once
	done    chan struct{}
	outcome Outcome
}

func newPending(m Mutation) *Pending {
	return &Pending{Mutation: m, done: make(chan struct{})}
}

func (p *Pending) resolve(o Outcome) {
	p.once.Do(func() {
		p.outcome = o
		close(p.done)
	})
}

// Done is closed once the write has finished.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the write finishes or ctx ends. It returns the write's
// error, or ctx's error if ctx ended first.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.outcome.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Outcome returns the final outcome and whether it is known yet.
func (p *Pending) Outcome() (Outcome, bool) {
	select {
	case <-p.done:
		return p.outcome, true
	default:
		return Outcome{}, false
	}
}
