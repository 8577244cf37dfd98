package mapview

import (
	"math"
	"sort"
	"sync"

	"github.com/quocanhngo/fleetwatch/internal/model"
)

const tileSize = 256

// ZoneView is a drawn zone and its current style.
type ZoneView struct {
	Zone  model.Zone `json:"zone"`
	Style ZoneStyle  `json:"style"`
}

// SceneState is a serializable copy of a Scene.
type SceneState struct {
	View    Pose       `json:"view"`
	Markers []Marker   `json:"markers"`
	Zones   []ZoneView `json:"zones"`
}

// Scene is an in-memory Surface. The dashboard renders its state; fit
// computations use web-mercator tiles for the configured viewport.
type Scene struct {
	mu      sync.RWMutex
	width   int
	height  int
	view    Pose
	markers map[string]Marker
	zones   []ZoneView
}

// NewScene creates a scene for a width x height pixel viewport.
func NewScene(width, height int) *Scene {
	if width <= 0 {
		width = 1024
	}
	if height <= 0 {
		height = 768
	}
	return &Scene{width: width, height: height, markers: make(map[string]Marker)}
}

func (s *Scene) AddMarker(m Marker) {
	s.mu.Lock()
	s.markers[m.DeviceID] = m
	s.mu.Unlock()
}

func (s *Scene) UpdateMarker(m Marker) {
	s.AddMarker(m)
}

func (s *Scene) RemoveMarker(deviceID string) {
	s.mu.Lock()
	delete(s.markers, deviceID)
	s.mu.Unlock()
}

func (s *Scene) DrawZone(zone model.Zone, style ZoneStyle) {
	s.mu.Lock()
	s.zones = append(s.zones, ZoneView{Zone: zone, Style: style})
	s.mu.Unlock()
}

func (s *Scene) StyleZone(name string, style ZoneStyle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.zones {
		if s.zones[i].Zone.Name == name {
			s.zones[i].Style = style
		}
	}
}

func (s *Scene) SetView(center model.LatLng, zoom float64) {
	s.mu.Lock()
	s.view = Pose{Center: center, Zoom: zoom}
	s.mu.Unlock()
}

func (s *Scene) FitBounds(b model.Bounds, maxZoom float64) {
	zoom := BoundsZoom(b, s.width, s.height, maxZoom)
	s.SetView(b.Center(), zoom)
}

func (s *Scene) View() Pose {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// State returns a copy of the scene with markers ordered by device id.
func (s *Scene) State() SceneState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := SceneState{
		View:    s.view,
		Markers: make([]Marker, 0, len(s.markers)),
		Zones:   append([]ZoneView(nil), s.zones...),
	}
	for _, m := range s.markers {
		st.Markers = append(st.Markers, m)
	}
	sort.Slice(st.Markers, func(i, j int) bool { return st.Markers[i].DeviceID < st.Markers[j].DeviceID })
	return st
}

// BoundsZoom returns the largest integer zoom at which b fits a width x
// height viewport, capped at maxZoom.
func BoundsZoom(b model.Bounds, width, height int, maxZoom float64) float64 {
	lonFrac := (b.MaxLon - b.MinLon) / 360
	latFrac := (mercatorY(b.MaxLat) - mercatorY(b.MinLat)) / (2 * math.Pi)

	zoom := maxZoom
	if lonFrac > 0 {
		zoom = math.Min(zoom, math.Log2(float64(width)/tileSize/lonFrac))
	}
	if latFrac > 0 {
		zoom = math.Min(zoom, math.Log2(float64(height)/tileSize/latFrac))
	}
	return math.Max(0, math.Floor(zoom))
}

func mercatorY(lat float64) float64 {
	lat = math.Max(-85.0511, math.Min(85.0511, lat))
	rad := lat * math.Pi / 180
	return math.Log(math.Tan(math.Pi/4 + rad/2))
}
