package document

import (
	"fmt"
	"slices"
	"sync"
)

// Reader is the synchronous read path used to snapshot state before an edit.
// Every returned value is a detached copy.
type Reader interface {
	Scene(id string) (Scene, error)
	SceneIndex(id string) (int, error)
	SceneOrder() []string
	Layer(sceneID, layerID string) (Layer, error)
	LayerIndex(sceneID, layerID string) (int, error)
	Camera(sceneID, cameraID string) (Camera, error)
	CameraIndex(sceneID, cameraID string) (int, error)
	Property(t Target, key string) (Property, error)
	Snapshot() Snapshot
}

// Mutator is the set of history-unaware, id-keyed mutation entry points.
type Mutator interface {
	InsertScene(index int, s Scene) error
	ReplaceScene(s Scene) error
	DeleteScene(id string) error
	SetSceneOrder(ids []string) error

	InsertLayer(sceneID string, index int, l Layer) error
	ReplaceLayer(sceneID string, l Layer) error
	DeleteLayer(sceneID, layerID string) error
	MoveLayer(sceneID string, from, to int) error

	SetProperty(t Target, key string, value any) error
	DeleteProperty(t Target, key string) error

	InsertCamera(sceneID string, index int, c Camera) error
	ReplaceCamera(sceneID string, c Camera) error
	DeleteCamera(sceneID, cameraID string) error
}

// Store is the canonical document state. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	scenes []Scene
}

var (
	_ Reader  = (*Store)(nil)
	_ Mutator = (*Store)(nil)
)

// NewStore creates a store holding a copy of snap.
func NewStore(snap Snapshot) (*Store, error) {
	s := &Store{}
	seen := make(map[string]bool, len(snap.Scenes))
	for _, sc := range snap.Scenes {
		if sc.ID == "" {
			return nil, fmt.Errorf("scene at %d: %w", len(s.scenes), ErrEmptyID)
		}
		if seen[sc.ID] {
			return nil, fmt.Errorf("scene %q: %w", sc.ID, ErrDuplicateID)
		}
		seen[sc.ID] = true
		s.scenes = append(s.scenes, sc.Clone())
	}
	return s, nil
}

// Len returns the number of scenes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.scenes)
}

// Snapshot returns a deep copy of the whole document.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Scenes: s.scenes}.Clone()
}

// Restore replaces the whole document with a copy of snap.
func (s *Store) Restore(snap Snapshot) {
	snap = snap.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenes = snap.Scenes
}

// Scene returns a copy of the scene with the given id.
func (s *Store) Scene(id string) (Scene, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.sceneIndexLocked(id)
	if i < 0 {
		return Scene{}, fmt.Errorf("scene %q: %w", id, ErrSceneNotFound)
	}
	return s.scenes[i].Clone(), nil
}

// SceneIndex returns the ordinal position of the scene.
func (s *Store) SceneIndex(id string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.sceneIndexLocked(id)
	if i < 0 {
		return -1, fmt.Errorf("scene %q: %w", id, ErrSceneNotFound)
	}
	return i, nil
}

// SceneOrder returns the scene ids in document order.
func (s *Store) SceneOrder() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, len(s.scenes))
	for i := range s.scenes {
		ids[i] = s.scenes[i].ID
	}
	return ids
}

// Layer returns a copy of a layer.
func (s *Store) Layer(sceneID, layerID string) (Layer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, err := s.sceneLocked(sceneID)
	if err != nil {
		return Layer{}, err
	}
	i := sc.LayerIndexByID(layerID)
	if i < 0 {
		return Layer{}, fmt.Errorf("layer %q in scene %q: %w", layerID, sceneID, ErrLayerNotFound)
	}
	return sc.Layers[i].Clone(), nil
}

// LayerIndex returns the paint-order position of a layer.
func (s *Store) LayerIndex(sceneID, layerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, err := s.sceneLocked(sceneID)
	if err != nil {
		return -1, err
	}
	i := sc.LayerIndexByID(layerID)
	if i < 0 {
		return -1, fmt.Errorf("layer %q in scene %q: %w", layerID, sceneID, ErrLayerNotFound)
	}
	return i, nil
}

// Camera returns a copy of a camera.
func (s *Store) Camera(sceneID, cameraID string) (Camera, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, err := s.sceneLocked(sceneID)
	if err != nil {
		return Camera{}, err
	}
	i := sc.CameraIndexByID(cameraID)
	if i < 0 {
		return Camera{}, fmt.Errorf("camera %q in scene %q: %w", cameraID, sceneID, ErrCameraNotFound)
	}
	return sc.Cameras[i].Clone(), nil
}

// CameraIndex returns the position of a camera within its scene.
func (s *Store) CameraIndex(sceneID, cameraID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, err := s.sceneLocked(sceneID)
	if err != nil {
		return -1, err
	}
	i := sc.CameraIndexByID(cameraID)
	if i < 0 {
		return -1, fmt.Errorf("camera %q in scene %q: %w", cameraID, sceneID, ErrCameraNotFound)
	}
	return i, nil
}

// Property returns the named property of a scene or layer.
// A missing key yields an absent Property, not an error.
func (s *Store) Property(t Target, key string) (Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	props, err := s.propertiesLocked(t)
	if err != nil {
		return Property{}, err
	}
	v, ok := (*props)[key]
	if !ok {
		return Absent(), nil
	}
	return Present(CloneValue(v)), nil
}

// InsertScene inserts a copy of sc at index.
func (s *Store) InsertScene(index int, sc Scene) error {
	if sc.ID == "" {
		return fmt.Errorf("insert scene: %w", ErrEmptyID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sceneIndexLocked(sc.ID) >= 0 {
		return fmt.Errorf("insert scene %q: %w", sc.ID, ErrDuplicateID)
	}
	if index < 0 || index > len(s.scenes) {
		return fmt.Errorf("insert scene %q at %d of %d: %w", sc.ID, index, len(s.scenes), ErrIndexOutOfRange)
	}
	s.scenes = slices.Insert(s.scenes, index, sc.Clone())
	return nil
}

// ReplaceScene replaces the scene with the same id.
func (s *Store) ReplaceScene(sc Scene) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.sceneIndexLocked(sc.ID)
	if i < 0 {
		return fmt.Errorf("replace scene %q: %w", sc.ID, ErrSceneNotFound)
	}
	s.scenes[i] = sc.Clone()
	return nil
}

// DeleteScene removes the scene. Deleting a missing scene is a no-op.
func (s *Store) DeleteScene(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.sceneIndexLocked(id)
	if i < 0 {
		return nil
	}
	s.scenes = slices.Delete(s.scenes, i, i+1)
	if len(s.scenes) == 0 {
		s.scenes = nil
	}
	return nil
}

// SetSceneOrder reorders the scenes to exactly ids.
func (s *Store) SetSceneOrder(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ids) != len(s.scenes) {
		return fmt.Errorf("set scene order with %d ids for %d scenes: %w", len(ids), len(s.scenes), ErrInvalidOrder)
	}
	byID := make(map[string]Scene, len(s.scenes))
	for _, sc := range s.scenes {
		byID[sc.ID] = sc
	}
	ordered := make([]Scene, 0, len(ids))
	for _, id := range ids {
		sc, ok := byID[id]
		if !ok {
			return fmt.Errorf("set scene order: id %q: %w", id, ErrInvalidOrder)
		}
		delete(byID, id)
		ordered = append(ordered, sc)
	}
	s.scenes = ordered
	return nil
}

// InsertLayer inserts a copy of l at index within the scene.
func (s *Store) InsertLayer(sceneID string, index int, l Layer) error {
	if l.ID == "" {
		return fmt.Errorf("insert layer: %w", ErrEmptyID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, err := s.sceneLocked(sceneID)
	if err != nil {
		return err
	}
	if sc.LayerIndexByID(l.ID) >= 0 {
		return fmt.Errorf("insert layer %q: %w", l.ID, ErrDuplicateID)
	}
	if index < 0 || index > len(sc.Layers) {
		return fmt.Errorf("insert layer %q at %d of %d: %w", l.ID, index, len(sc.Layers), ErrIndexOutOfRange)
	}
	sc.Layers = slices.Insert(sc.Layers, index, l.Clone())
	return nil
}

// ReplaceLayer replaces the layer with the same id.
func (s *Store) ReplaceLayer(sceneID string, l Layer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, err := s.sceneLocked(sceneID)
	if err != nil {
		return err
	}
	i := sc.LayerIndexByID(l.ID)
	if i < 0 {
		return fmt.Errorf("replace layer %q in scene %q: %w", l.ID, sceneID, ErrLayerNotFound)
	}
	sc.Layers[i] = l.Clone()
	return nil
}

// DeleteLayer removes the layer. Deleting a missing layer is a no-op.
func (s *Store) DeleteLayer(sceneID, layerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, err := s.sceneLocked(sceneID)
	if err != nil {
		return err
	}
	i := sc.LayerIndexByID(layerID)
	if i < 0 {
		return nil
	}
	sc.Layers = slices.Delete(sc.Layers, i, i+1)
	if len(sc.Layers) == 0 {
		sc.Layers = nil
	}
	return nil
}

// MoveLayer moves the layer at from so that it ends up at to.
func (s *Store) MoveLayer(sceneID string, from, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, err := s.sceneLocked(sceneID)
	if err != nil {
		return err
	}
	n := len(sc.Layers)
	if from < 0 || from >= n || to < 0 || to >= n {
		return fmt.Errorf("move layer %d -> %d of %d: %w", from, to, n, ErrIndexOutOfRange)
	}
	if from == to {
		return nil
	}
	l := sc.Layers[from]
	sc.Layers = slices.Delete(sc.Layers, from, from+1)
	sc.Layers = slices.Insert(sc.Layers, to, l)
	return nil
}

// SetProperty sets a named property on a scene or layer.
func (s *Store) SetProperty(t Target, key string, value any) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	props, err := s.propertiesLocked(t)
	if err != nil {
		return err
	}
	if *props == nil {
		*props = make(map[string]any)
	}
	(*props)[key] = CloneValue(value)
	return nil
}

// DeleteProperty removes a named property. Removing an absent key is a no-op.
func (s *Store) DeleteProperty(t Target, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	props, err := s.propertiesLocked(t)
	if err != nil {
		return err
	}
	delete(*props, key)
	if len(*props) == 0 {
		*props = nil
	}
	return nil
}

// InsertCamera inserts a camera at index within the scene.
func (s *Store) InsertCamera(sceneID string, index int, c Camera) error {
	if c.ID == "" {
		return fmt.Errorf("insert camera: %w", ErrEmptyID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, err := s.sceneLocked(sceneID)
	if err != nil {
		return err
	}
	if sc.CameraIndexByID(c.ID) >= 0 {
		return fmt.Errorf("insert camera %q: %w", c.ID, ErrDuplicateID)
	}
	if index < 0 || index > len(sc.Cameras) {
		return fmt.Errorf("insert camera %q at %d of %d: %w", c.ID, index, len(sc.Cameras), ErrIndexOutOfRange)
	}
	sc.Cameras = slices.Insert(sc.Cameras, index, c)
	return nil
}

// ReplaceCamera replaces the camera with the same id.
func (s *Store) ReplaceCamera(sceneID string, c Camera) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, err := s.sceneLocked(sceneID)
	if err != nil {
		return err
	}
	i := sc.CameraIndexByID(c.ID)
	if i < 0 {
		return fmt.Errorf("replace camera %q in scene %q: %w", c.ID, sceneID, ErrCameraNotFound)
	}
	sc.Cameras[i] = c
	return nil
}

// DeleteCamera removes the camera. Deleting a missing camera is a no-op.
func (s *Store) DeleteCamera(sceneID, cameraID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, err := s.sceneLocked(sceneID)
	if err != nil {
		return err
	}
	i := sc.CameraIndexByID(cameraID)
	if i < 0 {
		return nil
	}
	sc.Cameras = slices.Delete(sc.Cameras, i, i+1)
	if len(sc.Cameras) == 0 {
		sc.Cameras = nil
	}
	return nil
}

func (s *Store) sceneIndexLocked(id string) int {
	for i := range s.scenes {
		if s.scenes[i].ID == id {
			return i
		}
	}
	return -1
}

// sceneLocked returns a pointer into s.scenes; valid until the slice changes.
func (s *Store) sceneLocked(id string) (*Scene, error) {
	i := s.sceneIndexLocked(id)
	if i < 0 {
		return nil, fmt.Errorf("scene %q: %w", id, ErrSceneNotFound)
	}
	return &s.scenes[i], nil
}

func (s *Store) propertiesLocked(t Target) (*map[string]any, error) {
	sc, err := s.sceneLocked(t.SceneID)
	if err != nil {
		return nil, err
	}
	if t.IsScene() {
		return &sc.Properties, nil
	}
	i := sc.LayerIndexByID(t.LayerID)
	if i < 0 {
		return nil, fmt.Errorf("layer %q in scene %q: %w", t.LayerID, t.SceneID, ErrLayerNotFound)
	}
	return &sc.Layers[i].Properties, nil
}
