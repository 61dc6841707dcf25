package document

// Geometry is a layer's placement on the scene canvas.
type Geometry struct {
	X        float64 `json:"x" yaml:"x"`
	Y        float64 `json:"y" yaml:"y"`
	Width    float64 `json:"width" yaml:"width"`
	Height   float64 `json:"height" yaml:"height"`
	Rotation float64 `json:"rotation,omitempty" yaml:"rotation,omitempty"`
}

// Layer is a single drawable element of a scene.
// Its position in Scene.Layers is its paint order.
type Layer struct {
	ID         string         `json:"id" yaml:"id"`
	Type       string         `json:"type" yaml:"type"`
	Geometry   Geometry       `json:"geometry" yaml:"geometry"`
	Z          int            `json:"z" yaml:"z"`
	Config     map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Camera is a viewport over a scene. X and Y are normalized to [0,1].
type Camera struct {
	ID        string  `json:"id" yaml:"id"`
	X         float64 `json:"x" yaml:"x"`
	Y         float64 `json:"y" yaml:"y"`
	Zoom      float64 `json:"zoom" yaml:"zoom"`
	Locked    bool    `json:"locked,omitempty" yaml:"locked,omitempty"`
	IsDefault bool    `json:"isDefault,omitempty" yaml:"isDefault,omitempty"`
}

// Scene is one ordered step of a document.
type Scene struct {
	ID         string         `json:"id" yaml:"id"`
	Name       string         `json:"name" yaml:"name"`
	Duration   float64        `json:"duration,omitempty" yaml:"duration,omitempty"`
	Layers     []Layer        `json:"layers,omitempty" yaml:"layers,omitempty"`
	Cameras    []Camera       `json:"cameras,omitempty" yaml:"cameras,omitempty"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Snapshot is a detached copy of the whole document.
type Snapshot struct {
	Scenes []Scene `json:"scenes" yaml:"scenes"`
}

// Target addresses the owner of a named property.
// An empty LayerID addresses the scene itself.
type Target struct {
	SceneID string `json:"sceneId" yaml:"sceneId"`
	LayerID string `json:"layerId,omitempty" yaml:"layerId,omitempty"`
}

// IsScene reports whether the target is a scene rather than a layer.
func (t Target) IsScene() bool {
	return t.LayerID == ""
}

// Property is a property value that remembers whether it was set at all.
// The zero Property means "absent".
type Property struct {
	Value   any
	Present bool
}

// Absent returns the absent property.
func Absent() Property {
	return Property{}
}

// Present returns a property holding v.
func Present(v any) Property {
	return Property{Value: v, Present: true}
}

// LayerIndexByID returns the position of layerID in s, or -1.
func (s *Scene) LayerIndexByID(layerID string) int {
	for i := range s.Layers {
		if s.Layers[i].ID == layerID {
			return i
		}
	}
	return -1
}

// CameraIndexByID returns the position of cameraID in s, or -1.
func (s *Scene) CameraIndexByID(cameraID string) int {
	for i := range s.Cameras {
		if s.Cameras[i].ID == cameraID {
			return i
		}
	}
	return -1
}

// LayerIDs returns the ids of the scene's layers in paint order.
func (s *Scene) LayerIDs() []string {
	ids := make([]string, len(s.Layers))
	for i := range s.Layers {
		ids[i] = s.Layers[i].ID
	}
	return ids
}
