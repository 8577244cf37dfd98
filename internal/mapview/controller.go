// Package mapview turns the tracking state into map markers, zone overlays
// and camera moves, leaving the camera to the operator after one automatic
// framing per session.
package mapview

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/quocanhngo/fleetwatch/internal/model"
)

// ErrAlreadyAttached is returned when Attach is called on a ready controller.
var ErrAlreadyAttached = errors.New("map surface already attached")

const (
	campusPadding    = 0.2
	campusMaxZoom    = 18
	devicesPadding   = 0.1
	devicesMaxZoom   = 16
	singleDeviceZoom = 16
)

// Frame is the input of one render pass.
type Frame struct {
	Records     []model.LocationRecord
	Campus      *model.Campus
	Highlighted []string
}

// Controller mirrors Frames onto a Surface.
type Controller struct {
	mu      sync.Mutex
	surface Surface
	logger  *slog.Logger

	currentDevice string
	pending       Frame
	last          Frame

	markers    map[string]Marker
	zoneStyles map[string]ZoneStyle
	zonesDrawn bool

	autoFits     int
	operatorPose *Pose
}

// NewController creates an uninitialized controller. currentDevice marks the
// marker of this agent's own device.
func NewController(currentDevice string, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		currentDevice: currentDevice,
		logger:        logger.With("component", "mapview"),
		markers:       make(map[string]Marker),
		zoneStyles:    make(map[string]ZoneStyle),
	}
}

// Attach binds the rendering surface and moves the controller to ready. It
// can only happen once; the last frame seen before attaching is rendered
// immediately.
func (c *Controller) Attach(surface Surface) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.surface != nil {
		return ErrAlreadyAttached
	}
	c.surface = surface
	c.logger.Info("map surface attached")
	c.renderLocked(c.pending)
	c.pending = Frame{}
	return nil
}

// Ready reports whether a surface is attached.
func (c *Controller) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.surface != nil
}

// Render reconciles the surface with f. It never moves the camera, except for
// the single automatic fit on the first frame with locations.
func (c *Controller) Render(f Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.surface == nil {
		c.pending = f
		return
	}
	c.renderLocked(f)
}

func (c *Controller) renderLocked(f Frame) {
	c.last = f
	c.renderZones(f)
	c.renderMarkers(f.Records)

	if c.autoFits == 0 && len(f.Records) > 0 {
		if c.frameLocked(f) {
			c.autoFits++
			c.logger.Debug("automatic fit", "records", len(f.Records), "campus", f.Campus != nil)
		}
	}
}

func (c *Controller) renderZones(f Frame) {
	if f.Campus == nil {
		return
	}
	if !c.zonesDrawn {
		for _, z := range f.Campus.Zones {
			c.surface.DrawZone(z, DefaultZoneStyle)
			c.zoneStyles[z.Name] = DefaultZoneStyle
		}
		c.zonesDrawn = true
	}

	hot := make(map[string]bool, len(f.Highlighted))
	for _, name := range f.Highlighted {
		hot[name] = true
	}
	for _, z := range f.Campus.Zones {
		want := DefaultZoneStyle
		if hot[z.Name] {
			want = HighlightZoneStyle
		}
		if c.zoneStyles[z.Name] != want {
			c.surface.StyleZone(z.Name, want)
			c.zoneStyles[z.Name] = want
		}
	}
}

func (c *Controller) renderMarkers(records []model.LocationRecord) {
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		seen[rec.DeviceID] = true
		m := c.markerFor(rec)

		old, exists := c.markers[rec.DeviceID]
		switch {
		case !exists:
			c.surface.AddMarker(m)
		case old != m:
			c.surface.UpdateMarker(m)
		default:
			continue
		}
		c.markers[rec.DeviceID] = m
	}
	for id := range c.markers {
		if !seen[id] {
			c.surface.RemoveMarker(id)
			delete(c.markers, id)
		}
	}
}

func (c *Controller) markerFor(rec model.LocationRecord) Marker {
	label := rec.DeviceName
	if label == "" {
		label = rec.DeviceID
	}
	return Marker{
		DeviceID: rec.DeviceID,
		Label:    label,
		OS:       rec.OS,
		Position: rec.Position(),
		Accuracy: rec.AccuracyMeters,
		Online:   rec.IsOnline,
		Zone:     rec.CurrentZone,
		Current:  rec.DeviceID == c.currentDevice,
	}
}

// frameLocked fits the campus when there is one, otherwise the devices.
func (c *Controller) frameLocked(f Frame) bool {
	switch {
	case f.Campus != nil:
		c.surface.FitBounds(f.Campus.Bounds().Pad(campusPadding), campusMaxZoom)
	case len(f.Records) == 1:
		c.surface.SetView(f.Records[0].Position(), singleDeviceZoom)
	case len(f.Records) > 1:
		pts := make([]model.LatLng, 0, len(f.Records))
		for _, r := range f.Records {
			pts = append(pts, r.Position())
		}
		b, _ := model.BoundsOf(pts)
		c.surface.FitBounds(b.Pad(devicesPadding), devicesMaxZoom)
	default:
		return false
	}
	return true
}

// ShowAll frames the last rendered data on operator request and adopts the
// result as the operator pose. It reports false when there is nothing to
// frame or no surface yet.
func (c *Controller) ShowAll() (Pose, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.surface == nil || !c.frameLocked(c.last) {
		return Pose{}, false
	}
	pose := c.surface.View()
	c.operatorPose = &pose
	return pose, true
}

// SetOperatorPose records a camera move made by the operator and applies it.
func (c *Controller) SetOperatorPose(p Pose) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operatorPose = &p
	if c.surface != nil {
		c.surface.SetView(p.Center, p.Zoom)
	}
}

// OperatorPose returns the last pose the operator chose.
func (c *Controller) OperatorPose() (Pose, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.operatorPose == nil {
		return Pose{}, false
	}
	return *c.operatorPose, true
}

// AutoFitCount returns how many automatic fits happened. It never exceeds 1.
func (c *Controller) AutoFitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoFits
}
