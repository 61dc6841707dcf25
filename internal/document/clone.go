package document

// Clones never share maps or slices with their source. Empty maps and slices
// are normalized to nil so that an entity survives a round trip through the
// store unchanged under reflect.DeepEqual.

// Clone returns a deep copy of the layer.
func (l Layer) Clone() Layer {
	l.Config = cloneMap(l.Config)
	l.Properties = cloneMap(l.Properties)
	return l
}

// Clone returns a deep copy of the camera.
func (c Camera) Clone() Camera {
	return c
}

// Clone returns a deep copy of the scene.
func (s Scene) Clone() Scene {
	s.Properties = cloneMap(s.Properties)
	if len(s.Layers) == 0 {
		s.Layers = nil
	} else {
		layers := make([]Layer, len(s.Layers))
		for i := range s.Layers {
			layers[i] = s.Layers[i].Clone()
		}
		s.Layers = layers
	}
	if len(s.Cameras) == 0 {
		s.Cameras = nil
	} else {
		s.Cameras = append([]Camera(nil), s.Cameras...)
	}
	return s
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	if len(s.Scenes) == 0 {
		return Snapshot{}
	}
	scenes := make([]Scene, len(s.Scenes))
	for i := range s.Scenes {
		scenes[i] = s.Scenes[i].Clone()
	}
	return Snapshot{Scenes: scenes}
}

// CloneValue deep-copies a property or config value.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		return copySlice(t)
	default:
		return v
	}
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	return copyMap(src)
}

func copyMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for key, val := range src {
		dst[key] = CloneValue(val)
	}
	return dst
}

func copySlice(src []any) []any {
	if src == nil {
		return nil
	}
	dst := make([]any, len(src))
	for i, val := range src {
		dst[i] = CloneValue(val)
	}
	return dst
}
