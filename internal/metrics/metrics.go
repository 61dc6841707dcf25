// Package metrics exposes Prometheus instruments for the history engine and
// the persistence pipeline.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sceneboard"

// Metrics holds every instrument.
type Metrics struct {
	historyOps      *prometheus.CounterVec
	historyEvicted  prometheus.Counter
	historyFailures *prometheus.CounterVec
	undoDepth       prometheus.Gauge
	redoDepth       prometheus.Gauge

	writes        *prometheus.CounterVec
	writeRetries  prometheus.Counter
	writeDuration *prometheus.HistogramVec
	queueDepth    prometheus.Gauge
}

// New registers all instruments with reg. Passing nil uses a fresh private
// registry, which keeps repeated construction in tests from colliding.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		historyOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "operations_total",
			Help:      "History operations by type (push, suppressed, undo, redo, clear).",
		}, []string{"op"}),
		historyEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "evicted_total",
			Help:      "Commands dropped from the front of the undo sequence.",
		}),
		historyFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "replay_failures_total",
			Help:      "Undo or redo replays whose command failed.",
		}, []string{"op"}),
		undoDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "undo_depth",
			Help:      "Current length of the undo sequence.",
		}),
		redoDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "redo_depth",
			Help:      "Current length of the redo sequence.",
		}),
		writes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persist",
			Name:      "writes_total",
			Help:      "Remote writes by entity and result.",
		}, []string{"entity", "result"}),
		writeRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persist",
			Name:      "write_retries_total",
			Help:      "Extra attempts made for failed remote writes.",
		}),
		writeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "persist",
			Name:      "write_duration_seconds",
			Help:      "Time from dequeue to final outcome of a remote write.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"entity"}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "persist",
			Name:      "queue_depth",
			Help:      "Remote writes waiting to be sent.",
		}),
	}
}

// HistoryOp counts one history operation.
func (m *Metrics) HistoryOp(op string) {
	if m == nil {
		return
	}
	m.historyOps.WithLabelValues(op).Inc()
}

// HistoryEvicted counts commands dropped by capacity.
func (m *Metrics) HistoryEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.historyEvicted.Add(float64(n))
}

// HistoryReplayFailed counts a failed undo or redo.
func (m *Metrics) HistoryReplayFailed(op string) {
	if m == nil {
		return
	}
	m.historyFailures.WithLabelValues(op).Inc()
}

// HistoryDepth records the current sequence lengths.
func (m *Metrics) HistoryDepth(undo, redo int) {
	if m == nil {
		return
	}
	m.undoDepth.Set(float64(undo))
	m.redoDepth.Set(float64(redo))
}

// WriteFinished records the outcome of a remote write.
func (m *Metrics) WriteFinished(entity string, err error, attempts int, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.writes.WithLabelValues(entity, result).Inc()
	if attempts > 1 {
		m.writeRetries.Add(float64(attempts - 1))
	}
	m.writeDuration.WithLabelValues(entity).Observe(d.Seconds())
}

// QueueDepth records the number of pending remote writes.
func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
