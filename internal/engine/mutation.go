package engine

import (
	"fmt"

	"github.com/dshills/sceneboard/internal/command"
	"github.com/dshills/sceneboard/internal/document"
	"github.com/dshills/sceneboard/internal/persist"
)

// mutationFor describes the remote write for a single applied command.
// It must be called right after cmd was applied forward, since a layer move
// reads the resulting layer order from the store.
func mutationFor(store document.Reader, cmd command.Command) (persist.Mutation, error) {
	switch p := cmd.Payload.(type) {
	case command.SceneCreate:
		return persist.Mutation{Op: persist.OpCreate, Entity: persist.EntityScene, ID: p.Scene.ID, Position: p.Index, Body: p.Scene}, nil
	case command.SceneUpdate:
		return persist.Mutation{Op: persist.OpUpdate, Entity: persist.EntityScene, ID: p.After.ID, Body: p.After}, nil
	case command.SceneDelete:
		return persist.Mutation{Op: persist.OpDelete, Entity: persist.EntityScene, ID: p.Scene.ID}, nil
	case command.SceneReorder:
		return persist.Mutation{Op: persist.OpReorder, Entity: persist.EntityScene, Order: append([]string(nil), p.After...)}, nil

	case command.LayerCreate:
		return persist.Mutation{Op: persist.OpCreate, Entity: persist.EntityLayer, SceneID: p.SceneID, ID: p.Layer.ID, Position: p.Index, Body: p.Layer}, nil
	case command.LayerUpdate:
		return persist.Mutation{Op: persist.OpUpdate, Entity: persist.EntityLayer, SceneID: p.SceneID, ID: p.After.ID, Body: p.After}, nil
	case command.LayerDelete:
		return persist.Mutation{Op: persist.OpDelete, Entity: persist.EntityLayer, SceneID: p.SceneID, ID: p.Layer.ID}, nil
	case command.LayerDuplicate:
		return persist.Mutation{Op: persist.OpCreate, Entity: persist.EntityLayer, SceneID: p.SceneID, ID: p.Copy.ID, Position: p.Index, Body: p.Copy}, nil
	case command.LayerMove:
		sc, err := store.Scene(p.SceneID)
		if err != nil {
			return persist.Mutation{}, err
		}
		return persist.Mutation{Op: persist.OpReorder, Entity: persist.EntityLayer, SceneID: p.SceneID, Order: sc.LayerIDs()}, nil

	case command.PropertySet:
		m := persist.Mutation{
			Op:    persist.OpPatch,
			Key:   p.Key,
			Value: p.After.Value,
			Unset: !p.After.Present,
		}
		if p.Target.IsScene() {
			m.Entity, m.ID = persist.EntityScene, p.Target.SceneID
		} else {
			m.Entity, m.SceneID, m.ID = persist.EntityLayer, p.Target.SceneID, p.Target.LayerID
		}
		return m, nil

	case command.CameraCreate:
		return persist.Mutation{Op: persist.OpCreate, Entity: persist.EntityCamera, SceneID: p.SceneID, ID: p.Camera.ID, Position: p.Index, Body: p.Camera}, nil
	case command.CameraUpdate:
		return persist.Mutation{Op: persist.OpUpdate, Entity: persist.EntityCamera, SceneID: p.SceneID, ID: p.After.ID, Body: p.After}, nil
	case command.CameraDelete:
		return persist.Mutation{Op: persist.OpDelete, Entity: persist.EntityCamera, SceneID: p.SceneID, ID: p.Camera.ID}, nil

	default:
		return persist.Mutation{}, fmt.Errorf("no remote write for %s: %w", cmd.Kind, command.ErrUnknownPayload)
	}
}
