package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dshills/sceneboard/internal/command"
	"github.com/dshills/sceneboard/internal/document"
	"github.com/dshills/sceneboard/internal/engine/history"
	"github.com/dshills/sceneboard/internal/metrics"
	"github.com/dshills/sceneboard/internal/persist"
)

// Engine is the main facade for editing a scene document.
// It combines the document store, the command factory, undo/redo history
// and remote persistence into a single thread-safe API.
//
// Every edit is applied locally, recorded in history and queued for the
// remote store in that order. Undo and redo change local state only.
type Engine struct {
	mu sync.Mutex

	// Core components
	store      *document.Store
	factory    *command.Factory
	history    *history.History
	dispatcher *persist.Dispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger

	// Configuration
	capacity    int
	readOnly    bool
	initDoc     document.Snapshot
	factoryOpts []command.FactoryOption

	// State
	group *group

	// changes counts undos, redos and failed remote writes. The engine is
	// dirty while it is ahead of saved, the count covered by the last save.
	changes atomic.Uint64
	saved   atomic.Uint64
}

// group collects the commands and remote writes of an open Group call.
type group struct {
	cmds      []command.Command
	mutations []persist.Mutation
}

// New creates an Engine with the given options.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		capacity: DefaultCapacity,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}

	store, err := document.NewStore(e.initDoc)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	e.store = store
	e.factory = command.NewFactory(store, e.factoryOpts...)
	e.history = history.New(history.ApplierFunc(e.replay), e.capacity)
	e.history.Subscribe(e.observeHistory)

	if e.dispatcher != nil {
		e.dispatcher.Notifier().SubscribeFailures(func(persist.Outcome) {
			e.changes.Add(1)
		})
	}

	return e, nil
}

// replay is the history Applier. It runs with e.mu held by Undo or Redo.
func (e *Engine) replay(cmd command.Command, dir command.Direction) error {
	return command.Apply(e.store, cmd, dir)
}

func (e *Engine) observeHistory(ev history.Event) {
	e.metrics.HistoryOp(ev.Op.String())
	e.metrics.HistoryEvicted(ev.Evicted)

	switch ev.Op {
	case history.OpUndo, history.OpRedo:
		e.changes.Add(1)
		if ev.Err != nil {
			e.metrics.HistoryReplayFailed(ev.Op.String())
		}
	case history.OpSuppressed:
		e.logger.Debug("push during replay ignored", "command", ev.Command.Label)
	}
	e.metrics.HistoryDepth(e.history.UndoCount(), e.history.RedoCount())
}

// ============================================================================
// Read Operations
// ============================================================================

// Snapshot returns a detached copy of the whole document.
func (e *Engine) Snapshot() document.Snapshot {
	return e.store.Snapshot()
}

// Scene returns a copy of the scene with the given id.
func (e *Engine) Scene(id string) (document.Scene, error) {
	return e.store.Scene(id)
}

// SceneOrder returns the scene ids in order.
func (e *Engine) SceneOrder() []string {
	return e.store.SceneOrder()
}

// Layer returns a copy of a layer.
func (e *Engine) Layer(sceneID, layerID string) (document.Layer, error) {
	return e.store.Layer(sceneID, layerID)
}

// Camera returns a copy of a camera.
func (e *Engine) Camera(sceneID, cameraID string) (document.Camera, error) {
	return e.store.Camera(sceneID, cameraID)
}

// Property returns a named property of a scene or layer.
func (e *Engine) Property(t document.Target, key string) (document.Property, error) {
	return e.store.Property(t, key)
}

// ============================================================================
// Edit Operations
// ============================================================================

// CreateScene inserts sc at index (or command.Append) and returns its id.
// A scene without an id gets a generated one.
func (e *Engine) CreateScene(ctx context.Context, sc document.Scene, index int) (string, *persist.Pending, error) {
	var id string
	p, err := e.edit(ctx, func() (command.Command, error) {
		cmd, err := e.factory.CreateScene(sc, index)
		if err == nil {
			id = cmd.Payload.(command.SceneCreate).Scene.ID
		}
		return cmd, err
	})
	return id, p, err
}

// UpdateScene replaces the scene with the same id as sc.
func (e *Engine) UpdateScene(ctx context.Context, sc document.Scene) (*persist.Pending, error) {
	return e.edit(ctx, func() (command.Command, error) {
		return e.factory.UpdateScene(sc)
	})
}

// DeleteScene removes a scene.
func (e *Engine) DeleteScene(ctx context.Context, id string) (*persist.Pending, error) {
	return e.edit(ctx, func() (command.Command, error) {
		return e.factory.DeleteScene(id)
	})
}

// ReorderScenes sets the complete scene order.
func (e *Engine) ReorderScenes(ctx context.Context, order []string) (*persist.Pending, error) {
	return e.edit(ctx, func() (command.Command, error) {
		return e.factory.ReorderScenes(order)
	})
}

// CreateLayer inserts l at index (or command.Append) and returns its id.
func (e *Engine) CreateLayer(ctx context.Context, sceneID string, l document.Layer, index int) (string, *persist.Pending, error) {
	var id string
	p, err := e.edit(ctx, func() (command.Command, error) {
		cmd, err := e.factory.CreateLayer(sceneID, l, index)
		if err == nil {
			id = cmd.Payload.(command.LayerCreate).Layer.ID
		}
		return cmd, err
	})
	return id, p, err
}

// UpdateLayer replaces the layer with the same id as l.
func (e *Engine) UpdateLayer(ctx context.Context, sceneID string, l document.Layer) (*persist.Pending, error) {
	return e.edit(ctx, func() (command.Command, error) {
		return e.factory.UpdateLayer(sceneID, l)
	})
}

// DeleteLayer removes a layer.
func (e *Engine) DeleteLayer(ctx context.Context, sceneID, layerID string) (*persist.Pending, error) {
	return e.edit(ctx, func() (command.Command, error) {
		return e.factory.DeleteLayer(sceneID, layerID)
	})
}

// MoveLayer moves a layer to the absolute paint-order position to. Moving a
// layer to where it already is records nothing and returns a nil Pending.
func (e *Engine) MoveLayer(ctx context.Context, sceneID, layerID string, to int) (*persist.Pending, error) {
	return e.edit(ctx, func() (command.Command, error) {
		return e.factory.MoveLayer(sceneID, layerID, to)
	})
}

// DuplicateLayer inserts a copy of a layer directly above it and returns
// the copy's id.
func (e *Engine) DuplicateLayer(ctx context.Context, sceneID, layerID string) (string, *persist.Pending, error) {
	var id string
	p, err := e.edit(ctx, func() (command.Command, error) {
		cmd, err := e.factory.DuplicateLayer(sceneID, layerID)
		if err == nil {
			id = cmd.Payload.(command.LayerDuplicate).Copy.ID
		}
		return cmd, err
	})
	return id, p, err
}

// SetProperty sets a named property. An absent value removes it.
func (e *Engine) SetProperty(ctx context.Context, t document.Target, key string, value document.Property) (*persist.Pending, error) {
	return e.edit(ctx, func() (command.Command, error) {
		return e.factory.SetProperty(t, key, value)
	})
}

// CreateCamera inserts c at index (or command.Append) and returns its id.
func (e *Engine) CreateCamera(ctx context.Context, sceneID string, c document.Camera, index int) (string, *persist.Pending, error) {
	var id string
	p, err := e.edit(ctx, func() (command.Command, error) {
		cmd, err := e.factory.CreateCamera(sceneID, c, index)
		if err == nil {
			id = cmd.Payload.(command.CameraCreate).Camera.ID
		}
		return cmd, err
	})
	return id, p, err
}

// UpdateCamera replaces the camera with the same id as c.
func (e *Engine) UpdateCamera(ctx context.Context, sceneID string, c document.Camera) (*persist.Pending, error) {
	return e.edit(ctx, func() (command.Command, error) {
		return e.factory.UpdateCamera(sceneID, c)
	})
}

// DeleteCamera removes a camera.
func (e *Engine) DeleteCamera(ctx context.Context, sceneID, cameraID string) (*persist.Pending, error) {
	return e.edit(ctx, func() (command.Command, error) {
		return e.factory.DeleteCamera(sceneID, cameraID)
	})
}

// edit builds a command, applies it, records it and queues its remote
// write. Inside Group the command and write are held back and the
// returned Pending is nil.
func (e *Engine) edit(ctx context.Context, build func() (command.Command, error)) (*persist.Pending, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.readOnly {
		return nil, ErrReadOnly
	}

	cmd, err := build()
	if errors.Is(err, command.ErrNoChange) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := command.Apply(e.store, cmd, command.Forward); err != nil {
		return nil, err
	}
	m, err := mutationFor(e.store, cmd)
	if err != nil {
		return nil, err
	}

	if e.group != nil {
		e.group.cmds = append(e.group.cmds, cmd)
		e.group.mutations = append(e.group.mutations, m)
		return nil, nil
	}

	e.history.Push(cmd)
	e.logger.Debug("edit applied", "command", cmd.Label, "kind", string(cmd.Kind))
	return e.submit(ctx, m), nil
}

// submit queues m. It returns nil on a local-only engine.
func (e *Engine) submit(ctx context.Context, m persist.Mutation) *persist.Pending {
	if e.dispatcher == nil {
		return nil
	}
	return e.dispatcher.Submit(ctx, m)
}

// Group runs fn and records every edit it makes as a single undo entry
// labelled label. Edits made inside fn return a nil Pending; their remote
// writes are queued together once fn succeeds and returned in order.
//
// If fn returns an error or panics, its edits are reverted in reverse order
// and nothing is recorded or written. A Group nested inside another joins
// the outer one. Edits from other goroutines while fn runs join the group.
func (e *Engine) Group(ctx context.Context, label string, fn func() error) (pending []*persist.Pending, err error) {
	e.mu.Lock()
	if e.readOnly {
		e.mu.Unlock()
		return nil, ErrReadOnly
	}
	if e.group != nil {
		e.mu.Unlock()
		return nil, fn()
	}
	g := &group{}
	e.group = g
	e.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			e.mu.Lock()
			e.group = nil
			e.revertLocked(g)
			e.mu.Unlock()
			panic(r)
		}
	}()

	ferr := fn()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.group = nil

	if ferr != nil {
		if rerr := e.revertLocked(g); rerr != nil {
			return nil, errors.Join(ferr, rerr)
		}
		return nil, ferr
	}
	if len(g.cmds) == 0 {
		return nil, nil
	}

	e.history.Push(e.factory.Batch(label, g.cmds...))
	e.logger.Debug("group applied", "label", label, "edits", len(g.cmds))

	if e.dispatcher == nil {
		return nil, nil
	}
	pending = make([]*persist.Pending, 0, len(g.mutations))
	for _, m := range g.mutations {
		pending = append(pending, e.submit(ctx, m))
	}
	return pending, nil
}

func (e *Engine) revertLocked(g *group) error {
	var errs []error
	for i := len(g.cmds) - 1; i >= 0; i-- {
		if err := command.Apply(e.store, g.cmds[i], command.Inverse); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		e.logger.Error("group revert incomplete", "errors", len(errs))
	}
	return errors.Join(errs...)
}

// ============================================================================
// Undo/Redo Operations
// ============================================================================

// Undo reverts the last edit. It is a no-op when there is nothing to undo.
// The remote store is not touched; call Save to reconcile it.
func (e *Engine) Undo() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.replayAllowedLocked(); err != nil {
		return err
	}
	if err := e.history.Undo(); err != nil {
		e.logger.Error("undo failed", "error", err)
		return err
	}
	return nil
}

// Redo re-applies the last undone edit. It is a no-op when there is
// nothing to redo. The remote store is not touched.
func (e *Engine) Redo() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.replayAllowedLocked(); err != nil {
		return err
	}
	if err := e.history.Redo(); err != nil {
		e.logger.Error("redo failed", "error", err)
		return err
	}
	return nil
}

// GoTo undoes or redoes until the history is at cp.
func (e *Engine) GoTo(cp history.Checkpoint) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.replayAllowedLocked(); err != nil {
		return err
	}
	return e.history.GoTo(cp)
}

func (e *Engine) replayAllowedLocked() error {
	if e.readOnly {
		return ErrReadOnly
	}
	if e.group != nil {
		return ErrGroupActive
	}
	return nil
}

// CanUndo returns true if undo is available.
func (e *Engine) CanUndo() bool {
	return e.history.CanUndo()
}

// CanRedo returns true if redo is available.
func (e *Engine) CanRedo() bool {
	return e.history.CanRedo()
}

// UndoCount returns the number of available undo operations.
func (e *Engine) UndoCount() int {
	return e.history.UndoCount()
}

// RedoCount returns the number of available redo operations.
func (e *Engine) RedoCount() int {
	return e.history.RedoCount()
}

// UndoEntries returns the undo entries, oldest first, for a history panel.
func (e *Engine) UndoEntries() []history.Entry {
	return e.history.UndoEntries()
}

// RedoEntries returns the redo entries, oldest first, for a history panel.
func (e *Engine) RedoEntries() []history.Entry {
	return e.history.RedoEntries()
}

// SetCapacity changes the maximum undo depth for future edits.
func (e *Engine) SetCapacity(n int) {
	e.history.SetCapacity(n)
	e.logger.Info("history capacity changed", "capacity", e.history.Capacity())
}

// Capacity returns the maximum undo depth.
func (e *Engine) Capacity() int {
	return e.history.Capacity()
}

// ClearHistory removes all undo/redo history. The document is unchanged.
func (e *Engine) ClearHistory() {
	e.history.Clear()
}

// History returns the underlying history for observers and checkpoints.
func (e *Engine) History() *history.History {
	return e.history
}

// ============================================================================
// Persistence
// ============================================================================

// Save writes the complete current document to the remote store, after
// any queued edits. Only the snapshot is taken under the engine lock, so
// edits, undo and redo proceed while the save waits on the remote store.
// Dirty is cleared on success unless the document changed meanwhile.
func (e *Engine) Save(ctx context.Context) error {
	e.mu.Lock()
	if e.dispatcher == nil {
		e.mu.Unlock()
		return ErrNoDispatcher
	}
	gen := e.changes.Load()
	done := e.dispatcher.QueueSave(ctx, e.store.Snapshot())
	e.mu.Unlock()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("save: %w", err)
		}
	case <-ctx.Done():
		return fmt.Errorf("save: %w", ctx.Err())
	}

	for {
		cur := e.saved.Load()
		if cur >= gen || e.saved.CompareAndSwap(cur, gen) {
			return nil
		}
	}
}

// Dirty reports whether the remote store may disagree with local state:
// an undo, a redo or a failed remote write happened since the snapshot of
// the last successful Save.
func (e *Engine) Dirty() bool {
	return e.changes.Load() != e.saved.Load()
}

// Flush waits until every queued remote write has finished.
func (e *Engine) Flush(ctx context.Context) error {
	if e.dispatcher == nil {
		return nil
	}
	return e.dispatcher.Flush(ctx)
}

// OnPersistFailure registers fn for every failed remote write and returns
// a function that removes it. On a local-only engine it does nothing.
func (e *Engine) OnPersistFailure(fn func(persist.Outcome)) (unsubscribe func()) {
	if e.dispatcher == nil {
		return func() {}
	}
	sub := e.dispatcher.Notifier().SubscribeFailures(fn)
	return sub.Unsubscribe
}
