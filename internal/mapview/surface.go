package mapview

import "github.com/quocanhngo/fleetwatch/internal/model"

// Pose is a camera position.
type Pose struct {
	Center model.LatLng `json:"center"`
	Zoom   float64      `json:"zoom"`
}

// Marker is the rendered form of one LocationRecord.
type Marker struct {
	DeviceID string       `json:"device_id"`
	Label    string       `json:"label"`
	OS       string       `json:"os,omitempty"`
	Position model.LatLng `json:"position"`
	Accuracy float64      `json:"accuracy"`
	Online   bool         `json:"online"`
	Zone     string       `json:"zone"`
	Current  bool         `json:"current"` // the device this agent runs on
}

// ZoneStyle is the visual weight of a zone polygon.
type ZoneStyle struct {
	FillOpacity float64 `json:"fill_opacity"`
	Weight      int     `json:"weight"`
}

var (
	DefaultZoneStyle   = ZoneStyle{FillOpacity: 0.1, Weight: 2}
	HighlightZoneStyle = ZoneStyle{FillOpacity: 0.25, Weight: 3}
)

// Surface is the rendering boundary. Implementations own the camera; the
// controller only moves it through SetView and FitBounds.
type Surface interface {
	AddMarker(Marker)
	UpdateMarker(Marker)
	RemoveMarker(deviceID string)
	DrawZone(zone model.Zone, style ZoneStyle)
	StyleZone(name string, style ZoneStyle)
	SetView(center model.LatLng, zoom float64)
	FitBounds(b model.Bounds, maxZoom float64)
	View() Pose
}
