package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/dshills/sceneboard/internal/command"
	"github.com/dshills/sceneboard/internal/document"
	"github.com/dshills/sceneboard/internal/engine"
	"github.com/dshills/sceneboard/internal/persist"
)

// ErrExpectation indicates an expect step did not match engine state.
var ErrExpectation = errors.New("expectation failed")

// Runner replays scripts through an engine.
type Runner struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger sets the logger.
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner creates a runner for eng.
func NewRunner(eng *engine.Engine, opts ...RunnerOption) *Runner {
	r := &Runner{
		eng:    eng,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Result summarizes a run.
type Result struct {
	// Steps is the number of top-level steps executed.
	Steps int
	// Pending holds one handle per remote write submitted.
	Pending []*persist.Pending
}

// Run executes the steps of s in order and stops at the first failure.
// The returned Result covers the steps that ran.
func (r *Runner) Run(ctx context.Context, s *Script) (Result, error) {
	var res Result
	for i, st := range s.Steps {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		pending, err := r.step(ctx, st)
		res.Pending = append(res.Pending, pending...)
		if err != nil {
			var serr *StepError
			if errors.As(err, &serr) {
				serr.Index = strconv.Itoa(i) + "." + serr.Index
				return res, serr
			}
			return res, &StepError{Index: strconv.Itoa(i), Op: st.Op, Err: err}
		}
		res.Steps++
		r.logger.Debug("script step", "script", s.Name, "index", i, "op", st.Op)
	}
	return res, nil
}

func (r *Runner) step(ctx context.Context, st Step) ([]*persist.Pending, error) {
	one := func(p *persist.Pending, err error) ([]*persist.Pending, error) {
		if err != nil || p == nil {
			return nil, err
		}
		return []*persist.Pending{p}, nil
	}
	withID := func(_ string, p *persist.Pending, err error) ([]*persist.Pending, error) {
		return one(p, err)
	}

	eng := r.eng
	switch st.Op {
	case OpCreateScene:
		return withID(eng.CreateScene(ctx, *st.Scene, index(st.Index)))
	case OpUpdateScene:
		return one(eng.UpdateScene(ctx, *st.Scene))
	case OpDeleteScene:
		return one(eng.DeleteScene(ctx, st.SceneID))
	case OpReorderScenes:
		return one(eng.ReorderScenes(ctx, st.Order))

	case OpCreateLayer:
		return withID(eng.CreateLayer(ctx, st.SceneID, *st.Layer, index(st.Index)))
	case OpUpdateLayer:
		return one(eng.UpdateLayer(ctx, st.SceneID, *st.Layer))
	case OpDeleteLayer:
		return one(eng.DeleteLayer(ctx, st.SceneID, st.LayerID))
	case OpMoveLayer:
		return one(eng.MoveLayer(ctx, st.SceneID, st.LayerID, st.To))
	case OpDuplicateLayer:
		return withID(eng.DuplicateLayer(ctx, st.SceneID, st.LayerID))

	case OpSetProperty:
		value := document.Present(st.Value)
		if st.Unset {
			value = document.Absent()
		}
		t := document.Target{SceneID: st.SceneID, LayerID: st.LayerID}
		return one(eng.SetProperty(ctx, t, st.Key, value))

	case OpCreateCamera:
		return withID(eng.CreateCamera(ctx, st.SceneID, *st.Camera, index(st.Index)))
	case OpUpdateCamera:
		return one(eng.UpdateCamera(ctx, st.SceneID, *st.Camera))
	case OpDeleteCamera:
		return one(eng.DeleteCamera(ctx, st.SceneID, st.CameraID))

	case OpGroup:
		return r.group(ctx, st)

	case OpUndo:
		return nil, repeat(st.Count, eng.Undo)
	case OpRedo:
		return nil, repeat(st.Count, eng.Redo)
	case OpSave:
		return nil, eng.Save(ctx)
	case OpFlush:
		return nil, eng.Flush(ctx)
	case OpExpect:
		return nil, r.expect(*st.Expect)

	default:
		return nil, fmt.Errorf("%q: %w", st.Op, ErrUnknownOp)
	}
}

func (r *Runner) group(ctx context.Context, st Step) ([]*persist.Pending, error) {
	var inner error
	pending, err := r.eng.Group(ctx, st.Label, func() error {
		for i, child := range st.Steps {
			if _, err := r.step(ctx, child); err != nil {
				inner = &StepError{Index: strconv.Itoa(i), Op: child.Op, Err: err}
				return inner
			}
		}
		return nil
	})
	if inner != nil {
		return nil, inner
	}
	return pending, err
}

func (r *Runner) expect(x Expect) error {
	var problems []string
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if x.SceneOrder != nil {
		if got := r.eng.SceneOrder(); !slices.Equal(got, x.SceneOrder) {
			fail("scene order %v, want %v", got, x.SceneOrder)
		}
	}

	for _, sceneID := range sortedKeys(x.LayerOrder) {
		want := x.LayerOrder[sceneID]
		sc, err := r.eng.Scene(sceneID)
		if err != nil {
			fail("scene %s: %v", sceneID, err)
			continue
		}
		if got := sc.LayerIDs(); !slices.Equal(got, want) {
			fail("scene %s layer order %v, want %v", sceneID, got, want)
		}
	}

	for _, owner := range sortedKeys(x.Properties) {
		t := targetOf(owner)
		for _, key := range sortedKeys(x.Properties[owner]) {
			want := x.Properties[owner][key]
			got, err := r.eng.Property(t, key)
			if err != nil {
				fail("%s.%s: %v", owner, key, err)
				continue
			}
			switch {
			case want == nil && got.Present:
				fail("%s.%s = %v, want absent", owner, key, got.Value)
			case want != nil && !got.Present:
				fail("%s.%s absent, want %v", owner, key, want)
			case want != nil && !reflect.DeepEqual(got.Value, want):
				fail("%s.%s = %v, want %v", owner, key, got.Value, want)
			}
		}
	}

	if x.Undo != nil && r.eng.UndoCount() != *x.Undo {
		fail("undo count %d, want %d", r.eng.UndoCount(), *x.Undo)
	}
	if x.Redo != nil && r.eng.RedoCount() != *x.Redo {
		fail("redo count %d, want %d", r.eng.RedoCount(), *x.Redo)
	}
	if x.Dirty != nil && r.eng.Dirty() != *x.Dirty {
		fail("dirty %t, want %t", r.eng.Dirty(), *x.Dirty)
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrExpectation, strings.Join(problems, "; "))
}

func index(i *int) int {
	if i == nil {
		return command.Append
	}
	return *i
}

func repeat(n int, fn func() error) error {
	if n < 1 {
		n = 1
	}
	for range n {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

// targetOf parses "scene" or "scene/layer".
func targetOf(owner string) document.Target {
	sceneID, layerID, _ := strings.Cut(owner, "/")
	return document.Target{SceneID: sceneID, LayerID: layerID}
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
