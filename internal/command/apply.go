package command

import (
	"errors"
	"fmt"

	"github.com/dshills/sceneboard/internal/document"
)

// ErrUnknownPayload is returned by Apply for a payload it cannot interpret.
var ErrUnknownPayload = errors.New("unknown command payload")

// Apply runs one direction of cmd against m. It reads nothing but the
// command's own snapshot data, so replaying a command is deterministic.
func Apply(m document.Mutator, cmd Command, dir Direction) error {
	if err := apply(m, cmd.Payload, dir); err != nil {
		return fmt.Errorf("%s %s: %w", dir, cmd.Kind, err)
	}
	return nil
}

func apply(m document.Mutator, p Payload, dir Direction) error {
	fwd := dir == Forward

	switch p := p.(type) {
	case SceneCreate:
		if fwd {
			return m.InsertScene(p.Index, p.Scene)
		}
		return m.DeleteScene(p.Scene.ID)

	case SceneUpdate:
		if fwd {
			return m.ReplaceScene(p.After)
		}
		return m.ReplaceScene(p.Before)

	case SceneDelete:
		if fwd {
			return m.DeleteScene(p.Scene.ID)
		}
		return m.InsertScene(p.Index, p.Scene)

	case SceneReorder:
		if fwd {
			return m.SetSceneOrder(p.After)
		}
		return m.SetSceneOrder(p.Before)

	case LayerCreate:
		if fwd {
			return m.InsertLayer(p.SceneID, p.Index, p.Layer)
		}
		return m.DeleteLayer(p.SceneID, p.Layer.ID)

	case LayerUpdate:
		if fwd {
			return m.ReplaceLayer(p.SceneID, p.After)
		}
		return m.ReplaceLayer(p.SceneID, p.Before)

	case LayerDelete:
		if fwd {
			return m.DeleteLayer(p.SceneID, p.Layer.ID)
		}
		return m.InsertLayer(p.SceneID, p.Index, p.Layer)

	case LayerMove:
		if fwd {
			return m.MoveLayer(p.SceneID, p.From, p.To)
		}
		return m.MoveLayer(p.SceneID, p.To, p.From)

	case LayerDuplicate:
		if fwd {
			return m.InsertLayer(p.SceneID, p.Index, p.Copy)
		}
		return m.DeleteLayer(p.SceneID, p.Copy.ID)

	case PropertySet:
		v := p.After
		if !fwd {
			v = p.Before
		}
		if !v.Present {
			return m.DeleteProperty(p.Target, p.Key)
		}
		return m.SetProperty(p.Target, p.Key, v.Value)

	case CameraCreate:
		if fwd {
			return m.InsertCamera(p.SceneID, p.Index, p.Camera)
		}
		return m.DeleteCamera(p.SceneID, p.Camera.ID)

	case CameraUpdate:
		if fwd {
			return m.ReplaceCamera(p.SceneID, p.After)
		}
		return m.ReplaceCamera(p.SceneID, p.Before)

	case CameraDelete:
		if fwd {
			return m.DeleteCamera(p.SceneID, p.Camera.ID)
		}
		return m.InsertCamera(p.SceneID, p.Index, p.Camera)

	case Batch:
		return applyBatch(m, p, dir)

	default:
		return fmt.Errorf("%T: %w", p, ErrUnknownPayload)
	}
}

// applyBatch applies children in order going forward and in reverse order
// going back. A failing child stops the batch; children already applied are
// rolled back and any rollback failures are joined to the returned error.
func applyBatch(m document.Mutator, b Batch, dir Direction) error {
	n := len(b.Commands)
	order := func(i int) int {
		if dir == Forward {
			return i
		}
		return n - 1 - i
	}
	opposite := Inverse
	if dir == Inverse {
		opposite = Forward
	}

	for i := 0; i < n; i++ {
		child := b.Commands[order(i)]
		if err := Apply(m, child, dir); err != nil {
			errs := []error{fmt.Errorf("batch step %d: %w", order(i), err)}
			for j := i - 1; j >= 0; j-- {
				if rerr := Apply(m, b.Commands[order(j)], opposite); rerr != nil {
					errs = append(errs, fmt.Errorf("batch rollback %d: %w", order(j), rerr))
				}
			}
			return errors.Join(errs...)
		}
	}
	return nil
}
