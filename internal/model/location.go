package model

import "time"

// ZoneOutside is the zone name carried by a record that is not inside any campus zone.
const ZoneOutside = "outside"

// Device is one registered device of the account, as listed by the roster.
type Device struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	OS         string `json:"os"`
	// OwnedBySession marks the device this agent runs on.
	OwnedBySession bool `json:"owned_by_session,omitempty"`
}

// LocationRecord is the canonical live state of one device.
type LocationRecord struct {
	DeviceID         string    `json:"device_id"`
	DeviceName       string    `json:"device_name"`
	OS               string    `json:"os"`
	Latitude         float64   `json:"latitude"`
	Longitude        float64   `json:"longitude"`
	AccuracyMeters   float64   `json:"accuracy"`
	CapturedAt       time.Time `json:"timestamp"`
	IsOnline         bool      `json:"is_online"`
	CurrentZone      string    `json:"current_zone"`
	ValidationReason string    `json:"validation_reason,omitempty"`

	// ReceivedAt is the local arrival time of the last update. It orders
	// liveness decisions; CapturedAt is producer supplied and not trusted.
	ReceivedAt time.Time `json:"received_at"`
}

// Position returns the record coordinates.
func (r LocationRecord) Position() LatLng {
	return LatLng{Lat: r.Latitude, Lon: r.Longitude}
}

// LocationDelta is a partial update for one device. Nil fields are left
// untouched when merged over an existing record.
type LocationDelta struct {
	DeviceID         string
	Latitude         *float64
	Longitude        *float64
	AccuracyMeters   *float64
	CapturedAt       *time.Time
	IsOnline         *bool
	CurrentZone      *string
	ValidationReason *string
}

// Apply merges the delta over rec and returns the result.
func (d LocationDelta) Apply(rec LocationRecord) LocationRecord {
	if d.Latitude != nil {
		rec.Latitude = *d.Latitude
	}
	if d.Longitude != nil {
		rec.Longitude = *d.Longitude
	}
	if d.AccuracyMeters != nil {
		rec.AccuracyMeters = *d.AccuracyMeters
	}
	if d.CapturedAt != nil {
		rec.CapturedAt = *d.CapturedAt
	}
	if d.IsOnline != nil {
		rec.IsOnline = *d.IsOnline
	}
	if d.CurrentZone != nil {
		rec.CurrentZone = *d.CurrentZone
	}
	if d.ValidationReason != nil {
		rec.ValidationReason = *d.ValidationReason
	}
	return rec
}
