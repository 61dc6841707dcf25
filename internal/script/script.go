// Package script replays YAML edit scripts through an engine.
//
// A script optionally seeds the document and then lists steps. Each step
// names one engine operation:
//
//	name: arrange intro
//	document:
//	  scenes:
//	    - id: s1
//	      name: Intro
//	steps:
//	  - op: create_layer
//	    scene_id: s1
//	    layer: {id: title, type: text}
//	  - op: set_property
//	    scene_id: s1
//	    layer_id: title
//	    key: opacity
//	    value: 0.5
//	  - op: undo
//	  - op: expect
//	    expect:
//	      undo: 1
//	      redo: 1
package script

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dshills/sceneboard/internal/document"
)

// Step operations.
const (
	OpCreateScene    = "create_scene"
	OpUpdateScene    = "update_scene"
	OpDeleteScene    = "delete_scene"
	OpReorderScenes  = "reorder_scenes"
	OpCreateLayer    = "create_layer"
	OpUpdateLayer    = "update_layer"
	OpDeleteLayer    = "delete_layer"
	OpMoveLayer      = "move_layer"
	OpDuplicateLayer = "duplicate_layer"
	OpSetProperty    = "set_property"
	OpCreateCamera   = "create_camera"
	OpUpdateCamera   = "update_camera"
	OpDeleteCamera   = "delete_camera"
	OpGroup          = "group"
	OpUndo           = "undo"
	OpRedo           = "redo"
	OpSave           = "save"
	OpFlush          = "flush"
	OpExpect         = "expect"
)

// ErrUnknownOp indicates a step names an operation the runner does not know.
var ErrUnknownOp = errors.New("unknown step op")

// ErrInvalidStep indicates a step is missing a field its operation needs.
var ErrInvalidStep = errors.New("invalid step")

// Script is a named sequence of edit steps.
type Script struct {
	Name string `yaml:"name"`

	// Document seeds the engine. Nil starts from an empty document.
	Document *document.Snapshot `yaml:"document,omitempty"`

	Steps []Step `yaml:"steps"`
}

// Step is one operation. Which fields apply depends on Op.
type Step struct {
	Op string `yaml:"op"`

	SceneID  string `yaml:"scene_id,omitempty"`
	LayerID  string `yaml:"layer_id,omitempty"`
	CameraID string `yaml:"camera_id,omitempty"`

	Scene  *document.Scene  `yaml:"scene,omitempty"`
	Layer  *document.Layer  `yaml:"layer,omitempty"`
	Camera *document.Camera `yaml:"camera,omitempty"`

	// Index is the insert position for create steps. Omitted appends.
	Index *int `yaml:"index,omitempty"`
	// To is the destination index of move_layer.
	To    int      `yaml:"to,omitempty"`
	Order []string `yaml:"order,omitempty"`

	Key   string `yaml:"key,omitempty"`
	Value any    `yaml:"value,omitempty"`
	Unset bool   `yaml:"unset,omitempty"`

	// Label and Steps describe a group.
	Label string `yaml:"label,omitempty"`
	Steps []Step `yaml:"steps,omitempty"`

	// Count repeats undo or redo. Zero means once.
	Count int `yaml:"count,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect asserts engine state at a point in the script.
// Unset fields are not checked.
type Expect struct {
	SceneOrder []string `yaml:"scene_order,omitempty"`
	// LayerOrder maps a scene id to its expected layer ids.
	LayerOrder map[string][]string `yaml:"layer_order,omitempty"`
	// Properties maps "scene" or "scene/layer" to expected key values.
	Properties map[string]map[string]any `yaml:"properties,omitempty"`
	Undo       *int                      `yaml:"undo,omitempty"`
	Redo       *int                      `yaml:"redo,omitempty"`
	Dirty      *bool                     `yaml:"dirty,omitempty"`
}

// Load reads and validates the script at path.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	s, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse decodes and validates a script. Unknown fields are rejected.
func Parse(r io.Reader) (*Script, error) {
	var s Script
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return &s, nil
		}
		return nil, fmt.Errorf("parsing script: %w", err)
	}
	if err := validateSteps(s.Steps, ""); err != nil {
		return nil, err
	}
	return &s, nil
}

func validateSteps(steps []Step, prefix string) error {
	for i, st := range steps {
		where := fmt.Sprintf("%s%d", prefix, i)
		if err := st.validate(); err != nil {
			return &StepError{Index: where, Op: st.Op, Err: err}
		}
		if st.Op == OpGroup {
			if err := validateSteps(st.Steps, where+"."); err != nil {
				return err
			}
		}
	}
	return nil
}

func (st Step) validate() error {
	need := func(ok bool, field string) error {
		if ok {
			return nil
		}
		return fmt.Errorf("%s requires %s: %w", st.Op, field, ErrInvalidStep)
	}

	switch st.Op {
	case OpCreateScene, OpUpdateScene:
		return need(st.Scene != nil, "scene")
	case OpDeleteScene:
		return need(st.SceneID != "", "scene_id")
	case OpReorderScenes:
		return need(st.Order != nil, "order")
	case OpCreateLayer, OpUpdateLayer:
		if err := need(st.SceneID != "", "scene_id"); err != nil {
			return err
		}
		return need(st.Layer != nil, "layer")
	case OpDeleteLayer, OpMoveLayer, OpDuplicateLayer:
		if err := need(st.SceneID != "", "scene_id"); err != nil {
			return err
		}
		return need(st.LayerID != "", "layer_id")
	case OpSetProperty:
		if err := need(st.SceneID != "", "scene_id"); err != nil {
			return err
		}
		return need(st.Key != "", "key")
	case OpCreateCamera, OpUpdateCamera:
		if err := need(st.SceneID != "", "scene_id"); err != nil {
			return err
		}
		return need(st.Camera != nil, "camera")
	case OpDeleteCamera:
		if err := need(st.SceneID != "", "scene_id"); err != nil {
			return err
		}
		return need(st.CameraID != "", "camera_id")
	case OpGroup:
		return need(len(st.Steps) > 0, "steps")
	case OpExpect:
		return need(st.Expect != nil, "expect")
	case OpUndo, OpRedo, OpSave, OpFlush:
		return nil
	default:
		return fmt.Errorf("%q: %w", st.Op, ErrUnknownOp)
	}
}

// StepError reports the step that failed. Index is dotted for steps
// nested in a group ("2.0").
type StepError struct {
	Index string
	Op    string
	Err   error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("step %s (%s): %v", e.Index, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StepError) Unwrap() error {
	return e.Err
}
