package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/dshills/sceneboard/internal/document"
)

func layerCreate(id string) Mutation {
	return Mutation{
		Op:      OpCreate,
		Entity:  EntityLayer,
		SceneID: "s1",
		ID:      id,
		Body:    document.Layer{ID: id, Type: "text"},
	}
}

func startDispatcher(t *testing.T, gw Gateway, opts ...Option) *Dispatcher {
	t.Helper()
	opts = append([]Option{WithBackoff(time.Millisecond, 2*time.Millisecond)}, opts...)
	d := NewDispatcher(gw, opts...)
	require.NoError(t, d.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Stop(ctx)
	})
	return d
}

func flush(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Flush(ctx))
}

func TestDispatcherPreservesSubmissionOrder(t *testing.T) {
	gw := NewMemoryGateway()
	d := startDispatcher(t, gw)

	var want []string
	for i := range 20 {
		id := fmt.Sprintf("l%02d", i)
		want = append(want, id)
		d.Submit(context.Background(), layerCreate(id))
	}
	flush(t, d)

	var got []string
	for _, m := range gw.Mutations() {
		got = append(got, m.ID)
	}
	assert.Equal(t, want, got)
	assert.Equal(t, uint64(20), d.Stats().Succeeded)
}

func TestDispatcherRetriesTransientFailures(t *testing.T) {
	gw := NewMemoryGateway()
	var mu sync.Mutex
	failures := 2
	gw.FailWith(func(Mutation) error {
		mu.Lock()
		defer mu.Unlock()
		if failures > 0 {
			failures--
			return errors.New("connection reset")
		}
		return nil
	})
	d := startDispatcher(t, gw)

	p := d.Submit(context.Background(), layerCreate("l1"))
	require.NoError(t, p.Wait(context.Background()))

	out, ok := p.Outcome()
	require.True(t, ok)
	assert.Equal(t, 3, out.Attempts)
	assert.False(t, out.Failed())
	assert.Equal(t, 3, gw.Calls())
	assert.Len(t, gw.Mutations(), 1)
}

func TestDispatcherDoesNotRetryPermanentFailures(t *testing.T) {
	gw := NewMemoryGateway()
	gw.FailWith(func(m Mutation) error {
		return fmt.Errorf("layer %q: %w", m.ID, ErrNotFound)
	})
	d := startDispatcher(t, gw)

	err := d.Submit(context.Background(), layerCreate("gone")).Wait(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, 1, werr.Attempts)
	assert.Equal(t, "gone", werr.Mutation.ID)
	assert.Equal(t, 1, gw.Calls())
}

func TestDispatcherGivesUpAfterMaxTries(t *testing.T) {
	gw := NewMemoryGateway()
	down := errors.New("service unavailable")
	gw.FailWith(func(Mutation) error { return down })
	d := startDispatcher(t, gw, WithMaxTries(3))

	err := d.Submit(context.Background(), layerCreate("l1")).Wait(context.Background())
	assert.ErrorIs(t, err, down)
	assert.Equal(t, 3, gw.Calls())
	assert.Equal(t, uint64(2), d.Stats().Retries)
	assert.Equal(t, uint64(1), d.Stats().Failed)
}

func TestDispatcherTreatsGatewayPanicAsFailure(t *testing.T) {
	gw := NewMemoryGateway()
	gw.FailWith(func(Mutation) error { panic("driver bug") })
	d := startDispatcher(t, gw)

	err := d.Submit(context.Background(), layerCreate("l1")).Wait(context.Background())
	assert.ErrorIs(t, err, errGatewayPanic)
	assert.Equal(t, 1, gw.Calls())
}

func TestDispatcherRejectsWhenQueueFull(t *testing.T) {
	gw := NewMemoryGateway()
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	gw.OnApply(func(context.Context, Mutation) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})
	d := startDispatcher(t, gw, WithQueueSize(1))

	first := d.Submit(context.Background(), layerCreate("l1"))
	<-started
	second := d.Submit(context.Background(), layerCreate("l2"))
	third := d.Submit(context.Background(), layerCreate("l3"))

	select {
	case <-third.Done():
	default:
		t.Fatal("a rejected write must resolve immediately")
	}
	assert.ErrorIs(t, third.Wait(context.Background()), ErrQueueFull)

	close(release)
	assert.NoError(t, first.Wait(context.Background()))
	assert.NoError(t, second.Wait(context.Background()))
	assert.Equal(t, uint64(1), d.Stats().Dropped)
}

func TestDispatcherRejectsWhenNotRunning(t *testing.T) {
	d := NewDispatcher(NewMemoryGateway())
	p := d.Submit(context.Background(), layerCreate("l1"))
	assert.ErrorIs(t, p.Wait(context.Background()), ErrNotRunning)
	assert.ErrorIs(t, d.Stop(context.Background()), ErrNotRunning)
}

func TestDispatcherStartTwice(t *testing.T) {
	d := startDispatcher(t, NewMemoryGateway())
	assert.ErrorIs(t, d.Start(), ErrAlreadyRunning)
	assert.True(t, d.IsRunning())
}

func TestDispatcherIgnoresSubmitterCancellation(t *testing.T) {
	gw := NewMemoryGateway()
	d := startDispatcher(t, gw)

	ctx, cancel := context.WithCancel(context.Background())
	p := d.Submit(ctx, layerCreate("l1"))
	cancel()

	assert.NoError(t, p.Wait(context.Background()))
	assert.Len(t, gw.Mutations(), 1)
}

func TestDispatcherStopDrainsQueue(t *testing.T) {
	gw := NewMemoryGateway()
	d := NewDispatcher(gw)
	require.NoError(t, d.Start())
	for i := range 5 {
		d.Submit(context.Background(), layerCreate(fmt.Sprintf("l%d", i)))
	}
	require.NoError(t, d.Stop(context.Background()))
	assert.Len(t, gw.Mutations(), 5)
	assert.False(t, d.IsRunning())
}

func TestDispatcherNotifiesOutcomes(t *testing.T) {
	gw := NewMemoryGateway()
	gw.FailWith(func(m Mutation) error {
		if m.ID == "bad" {
			return ErrInvalidMutation
		}
		return nil
	})
	n := NewNotifier()
	var mu sync.Mutex
	var all, failures []Outcome
	n.Subscribe(func(o Outcome) {
		mu.Lock()
		defer mu.Unlock()
		all = append(all, o)
	})
	n.SubscribeFailures(func(o Outcome) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, o)
	})
	d := startDispatcher(t, gw, WithNotifier(n))

	d.Submit(context.Background(), layerCreate("ok"))
	d.Submit(context.Background(), layerCreate("bad"))
	flush(t, d)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, all, 2)
	assert.Equal(t, uint64(1), all[0].Seq)
	assert.Equal(t, uint64(2), all[1].Seq)
	require.Len(t, failures, 1)
	assert.Equal(t, "bad", failures[0].Mutation.ID)
	assert.ErrorIs(t, failures[0].Err, ErrInvalidMutation)
}

func TestDispatcherRecordsSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	gw := NewMemoryGateway()
	gw.FailWith(func(m Mutation) error {
		if m.ID == "bad" {
			return ErrNotFound
		}
		return nil
	})
	d := startDispatcher(t, gw, WithTracerProvider(tp))

	d.Submit(context.Background(), layerCreate("ok"))
	d.Submit(context.Background(), layerCreate("bad"))
	flush(t, d)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "persist.apply", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)

	var attempts int64
	for _, kv := range spans[1].Attributes() {
		if kv.Key == "persist.attempts" {
			attempts = kv.Value.AsInt64()
		}
	}
	assert.Equal(t, int64(1), attempts)
}

func TestDispatcherSaveWaitsForQueuedWrites(t *testing.T) {
	gw := NewMemoryGateway()
	release := make(chan struct{})
	gw.OnApply(func(context.Context, Mutation) { <-release })
	d := startDispatcher(t, gw)

	d.Submit(context.Background(), layerCreate("l1"))

	saved := make(chan error, 1)
	go func() {
		saved <- d.Save(context.Background(), document.Snapshot{Scenes: []document.Scene{{ID: "s1"}}})
	}()

	select {
	case <-saved:
		t.Fatal("save must wait for queued writes")
	case <-time.After(20 * time.Millisecond):
	}
	assert.Empty(t, gw.Saves())

	close(release)
	require.NoError(t, <-saved)
	assert.Len(t, gw.Mutations(), 1)
	require.Len(t, gw.Saves(), 1)
	assert.Equal(t, "s1", gw.Saves()[0].Scenes[0].ID)
}

func TestDispatcherSaveFailure(t *testing.T) {
	gw := NewMemoryGateway()
	gw.FailSave(errors.New("disk full"))
	d := startDispatcher(t, gw)

	err := d.Save(context.Background(), document.Snapshot{})
	assert.ErrorContains(t, err, "disk full")
}

func TestQueueSaveRunsAfterEarlierWrites(t *testing.T) {
	gw := NewMemoryGateway()
	release := make(chan struct{})
	gw.OnApply(func(context.Context, Mutation) { <-release })
	d := startDispatcher(t, gw)

	d.Submit(context.Background(), layerCreate("l1"))
	done := d.QueueSave(context.Background(), document.Snapshot{Scenes: []document.Scene{{ID: "s1"}}})

	select {
	case <-done:
		t.Fatal("save must run after the queued write")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-done)
	assert.Len(t, gw.Mutations(), 1)
	require.Len(t, gw.Saves(), 1)
	flush(t, d)
}

func TestQueueSaveNotRunning(t *testing.T) {
	d := NewDispatcher(NewMemoryGateway())
	assert.ErrorIs(t, <-d.QueueSave(context.Background(), document.Snapshot{}), ErrNotRunning)
}

func TestFlushWithNothingQueued(t *testing.T) {
	d := startDispatcher(t, NewMemoryGateway())
	flush(t, d)
}

func TestPendingWaitHonorsContext(t *testing.T) {
	p := newPending(layerCreate("l1"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Wait(ctx), context.Canceled)

	_, ok := p.Outcome()
	assert.False(t, ok)
}
