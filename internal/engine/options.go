package engine

import (
	"log/slog"

	"github.com/dshills/sceneboard/internal/command"
	"github.com/dshills/sceneboard/internal/document"
	"github.com/dshills/sceneboard/internal/engine/history"
	"github.com/dshills/sceneboard/internal/metrics"
	"github.com/dshills/sceneboard/internal/persist"
)

// DefaultCapacity is the default maximum number of undo entries.
const DefaultCapacity = history.DefaultCapacity

// Option configures an Engine during creation.
type Option func(*Engine)

// WithDocument sets the initial document.
func WithDocument(snap document.Snapshot) Option {
	return func(e *Engine) {
		e.initDoc = snap
	}
}

// WithCapacity sets the maximum number of undo entries.
func WithCapacity(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.capacity = n
		}
	}
}

// WithDispatcher sets the dispatcher that sends edits to the remote store.
// Without one the engine edits locally only.
func WithDispatcher(d *persist.Dispatcher) Option {
	return func(e *Engine) {
		e.dispatcher = d
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock sets the clock used to timestamp commands.
func WithClock(c command.Clock) Option {
	return func(e *Engine) {
		e.factoryOpts = append(e.factoryOpts, command.WithClock(c))
	}
}

// WithIDGenerator sets the generator for new entity ids.
func WithIDGenerator(g command.IDGenerator) Option {
	return func(e *Engine) {
		e.factoryOpts = append(e.factoryOpts, command.WithIDGenerator(g))
	}
}

// WithReadOnly creates a read-only engine.
// Edits, undo and redo return ErrReadOnly.
func WithReadOnly() Option {
	return func(e *Engine) {
		e.readOnly = true
	}
}
