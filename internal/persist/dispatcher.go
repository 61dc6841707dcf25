package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/sceneboard/internal/document"
	"github.com/dshills/sceneboard/internal/metrics"
)

const tracerName = "github.com/dshills/sceneboard/internal/persist"

var errGatewayPanic = errors.New("gateway panicked")

// Dispatcher writes mutations through a Gateway on a single background
// worker. Writes leave in submission order and each one is retried with
// exponential backoff until it succeeds, fails permanently or runs out of
// attempts.
type Dispatcher struct {
	gateway  Gateway
	notifier *Notifier
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	logger   *slog.Logger

	queueSize       int
	timeout         time.Duration
	maxTries        uint
	initialInterval time.Duration
	maxInterval     time.Duration

	// mu protects queue creation and destruction and the in-flight count.
	mu       sync.Mutex
	queue    chan task
	running  atomic.Bool
	wg       sync.WaitGroup
	base     context.Context
	cancel   context.CancelFunc
	inflight int
	idle     []chan struct{}

	seq       atomic.Uint64
	submitted atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
	retries   atomic.Uint64
}

type task struct {
	ctx     context.Context
	seq     uint64
	pending *Pending
	save    *saveTask
}

// saveTask replaces the remote document. It runs on the worker like any
// write, so it lands after everything submitted before it.
type saveTask struct {
	snap document.Snapshot
	done chan error
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithQueueSize sets the number of writes that may wait at once.
func WithQueueSize(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.queueSize = size
		}
	}
}

// WithTimeout sets the timeout for a single write attempt.
// Zero disables it.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// WithMaxTries sets the maximum number of attempts per write.
func WithMaxTries(n uint) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxTries = n
		}
	}
}

// WithBackoff sets the first and the largest delay between attempts.
func WithBackoff(initial, max time.Duration) Option {
	return func(d *Dispatcher) {
		if initial > 0 {
			d.initialInterval = initial
		}
		if max > 0 {
			d.maxInterval = max
		}
	}
}

// WithNotifier sets the notifier that receives write outcomes.
func WithNotifier(n *Notifier) Option {
	return func(d *Dispatcher) {
		if n != nil {
			d.notifier = n
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithTracerProvider sets the provider used for write spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) {
		if tp != nil {
			d.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher creates a dispatcher writing through gw. Call Start before
// submitting.
func NewDispatcher(gw Gateway, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		gateway:         gw,
		notifier:        NewNotifier(),
		tracer:          otel.GetTracerProvider().Tracer(tracerName),
		logger:          slog.New(slog.DiscardHandler),
		queueSize:       1024,
		timeout:         5 * time.Second,
		maxTries:        5,
		initialInterval: 100 * time.Millisecond,
		maxInterval:     5 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Gateway returns the underlying gateway.
func (d *Dispatcher) Gateway() Gateway {
	return d.gateway
}

// Notifier returns the notifier receiving write outcomes.
func (d *Dispatcher) Notifier() *Notifier {
	return d.notifier
}

// Start starts the worker.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running.Load() {
		return ErrAlreadyRunning
	}

	d.queue = make(chan task, d.queueSize)
	d.base, d.cancel = context.WithCancel(context.Background())
	d.running.Store(true)

	d.wg.Add(1)
	go d.worker(d.queue)

	return nil
}

// Stop stops accepting writes and waits for queued writes to finish or for
// ctx to end. When ctx ends first, remaining retries are abandoned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running.Load() {
		d.mu.Unlock()
		return ErrNotRunning
	}
	d.running.Store(false)
	close(d.queue)
	cancel := d.cancel
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancel()
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// IsRunning returns true if the dispatcher is running.
func (d *Dispatcher) IsRunning() bool {
	return d.running.Load()
}

// Submit queues m for writing and returns at once. A write that cannot be
// queued resolves immediately as a failure and is reported to the notifier.
//
// ctx supplies values such as the trace parent; its cancellation does not
// abort the write.
func (d *Dispatcher) Submit(ctx context.Context, m Mutation) *Pending {
	p := newPending(m)
	seq := d.seq.Add(1)

	d.mu.Lock()
	if !d.running.Load() {
		d.mu.Unlock()
		d.reject(seq, p, ErrNotRunning)
		return p
	}
	select {
	case d.queue <- task{ctx: context.WithoutCancel(ctx), seq: seq, pending: p}:
		d.inflight++
		depth := len(d.queue)
		d.mu.Unlock()
		d.submitted.Add(1)
		d.metrics.QueueDepth(depth)
	default:
		d.mu.Unlock()
		d.dropped.Add(1)
		d.reject(seq, p, ErrQueueFull)
	}
	return p
}

// Flush waits until every write submitted so far has finished.
func (d *Dispatcher) Flush(ctx context.Context) error {
	d.mu.Lock()
	if d.inflight == 0 {
		d.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	d.idle = append(d.idle, ch)
	d.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueSave queues a replacement of the remote document with snap behind
// every write submitted so far and returns at once. The returned channel
// receives the result of the save.
func (d *Dispatcher) QueueSave(ctx context.Context, snap document.Snapshot) <-chan error {
	st := &saveTask{snap: snap, done: make(chan error, 1)}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		st.done <- ErrNotRunning
		return st.done
	}
	select {
	case d.queue <- task{ctx: context.WithoutCancel(ctx), save: st}:
		d.inflight++
		d.metrics.QueueDepth(len(d.queue))
	default:
		st.done <- ErrQueueFull
	}
	return st.done
}

// Save replaces the remote document with snap once queued writes have
// finished. It waits for the result or for ctx to end.
func (d *Dispatcher) Save(ctx context.Context, snap document.Snapshot) error {
	select {
	case err := <-d.QueueSave(ctx, snap):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(queue <-chan task) {
	defer d.wg.Done()
	for t := range queue {
		d.metrics.QueueDepth(len(queue))
		if t.save != nil {
			d.executeSave(t)
		} else {
			d.execute(t)
		}
		d.finished()
	}
}

func (d *Dispatcher) finished() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inflight--
	if d.inflight > 0 {
		return
	}
	for _, ch := range d.idle {
		close(ch)
	}
	d.idle = nil
}

func (d *Dispatcher) execute(t task) {
	m := t.pending.Mutation
	start := time.Now()

	ctx, stop := context.WithCancel(t.ctx)
	defer stop()
	unlink := context.AfterFunc(d.base, stop)
	defer unlink()

	ctx, span := d.tracer.Start(ctx, "persist.apply",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("persist.op", string(m.Op)),
			attribute.String("persist.entity", string(m.Entity)),
			attribute.String("persist.scene_id", m.SceneID),
			attribute.String("persist.id", m.ID),
			attribute.Int64("persist.seq", int64(t.seq)),
		))
	defer span.End()

	attempts := 0
	op := func() (struct{}, error) {
		attempts++
		err := d.applyOnce(ctx, m)
		if err != nil && permanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(d.newBackOff()),
		backoff.WithMaxTries(d.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			d.retries.Add(1)
			d.logger.Debug("retrying write", "mutation", m.String(), "error", err, "next", next)
		}),
	)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}

	span.SetAttributes(attribute.Int("persist.attempts", attempts))
	out := Outcome{Seq: t.seq, Mutation: m, Attempts: attempts, Duration: time.Since(start)}
	if err != nil {
		out.Err = &WriteError{Mutation: m, Attempts: attempts, Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.failed.Add(1)
		d.logger.Warn("remote write failed", "mutation", m.String(), "attempts", attempts, "error", err)
	} else {
		span.SetStatus(codes.Ok, "")
		d.succeeded.Add(1)
		d.logger.Debug("remote write done", "mutation", m.String(), "attempts", attempts)
	}
	d.complete(t.pending, out)
}

func (d *Dispatcher) executeSave(t task) {
	snap := t.save.snap

	ctx, stop := context.WithCancel(t.ctx)
	defer stop()
	unlink := context.AfterFunc(d.base, stop)
	defer unlink()

	ctx, span := d.tracer.Start(ctx, "persist.save",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("persist.scenes", len(snap.Scenes))))
	defer span.End()

	err := d.saveOnce(ctx, snap)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Error("document save failed", "error", err)
	} else {
		span.SetStatus(codes.Ok, "")
		d.logger.Info("document saved", "scenes", len(snap.Scenes))
	}
	t.save.done <- err
}

func (d *Dispatcher) saveOnce(ctx context.Context, snap document.Snapshot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errGatewayPanic, r)
		}
	}()
	return d.gateway.SaveDocument(ctx, snap)
}

// applyOnce runs one attempt, turning a gateway panic into an error.
func (d *Dispatcher) applyOnce(ctx context.Context, m Mutation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errGatewayPanic, r)
		}
	}()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	return d.gateway.Apply(ctx, m)
}

func (d *Dispatcher) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.initialInterval
	b.MaxInterval = d.maxInterval
	return b
}

func (d *Dispatcher) reject(seq uint64, p *Pending, err error) {
	m := p.Mutation
	d.failed.Add(1)
	d.logger.Warn("remote write rejected", "mutation", m.String(), "error", err)
	d.complete(p, Outcome{
		Seq:      seq,
		Mutation: m,
		Err:      &WriteError{Mutation: m, Err: err},
	})
}

func (d *Dispatcher) complete(p *Pending, out Outcome) {
	d.metrics.WriteFinished(string(out.Mutation.Entity), out.Err, out.Attempts, out.Duration)
	d.notifier.Notify(out)
	p.resolve(out)
}

// Stats contains dispatcher statistics.
type Stats struct {
	// Submitted is the number of writes accepted into the queue.
	Submitted uint64
	// Succeeded is the number of writes that reached the gateway.
	Succeeded uint64
	// Failed is the number of writes that failed, including rejected ones.
	Failed uint64
	// Dropped is the number of writes rejected because the queue was full.
	Dropped uint64
	// Retries is the number of extra attempts made.
	Retries uint64
	// QueueDepth is the number of writes waiting.
	QueueDepth int
}

// Stats returns dispatcher statistics.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	depth := 0
	if d.running.Load() {
		depth = len(d.queue)
	}
	d.mu.Unlock()

	return Stats{
		Submitted:  d.submitted.Load(),
		Succeeded:  d.succeeded.Load(),
		Failed:     d.failed.Load(),
		Dropped:    d.dropped.Load(),
		Retries:    d.retries.Load(),
		QueueDepth: depth,
	}
}
