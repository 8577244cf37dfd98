package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// EventType names a push-channel message.
type EventType string

// Inbound push-channel events.
const (
	EventLocationUpdate   EventType = "location_update"
	EventLocationRejected EventType = "location_rejected"
	EventAnomalyAlert     EventType = "anomaly_alert"
	EventTrainingStatus   EventType = "training_status"
	EventTrainingComplete EventType = "training_complete"
	EventJoinConfirmation EventType = "join_confirmation"
)

// Outbound push-channel events.
const (
	EventJoinRoom       EventType = "join_room"
	EventPositionSample EventType = "position_sample"
)

// ErrInvalidEvent is returned when an inbound frame fails boundary validation.
var ErrInvalidEvent = errors.New("invalid push event")

// Envelope is the wire frame exchanged on the push channel.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// InboundEvent is one decoded and validated push-channel message.
type InboundEvent interface {
	EventType() EventType
}

// LocationUpdate reports an accepted (possibly constrained) position.
type LocationUpdate struct {
	DeviceID         string     `json:"device_id" validate:"required"`
	Latitude         *float64   `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude        *float64   `json:"longitude" validate:"required,gte=-180,lte=180"`
	Accuracy         *float64   `json:"accuracy" validate:"omitempty,gte=0"`
	Timestamp        *time.Time `json:"-"`
	ValidationReason string     `json:"validation_reason"`
	CurrentZone      string     `json:"current_zone"`
}

// LocationRejected reports a position the server declined.
type LocationRejected struct {
	DeviceID         string  `json:"device_id" validate:"required"`
	Reason           string  `json:"reason" validate:"required"`
	OriginalAccuracy float64 `json:"original_accuracy" validate:"gte=0"`
}

// AnomalyAlert is raised by the server-side anomaly model.
type AnomalyAlert struct {
	Device1Zone string    `json:"device1_zone"`
	Device2Zone string    `json:"device2_zone"`
	Distance    float64   `json:"distance" validate:"gte=0"`
	Confidence  float64   `json:"confidence"`
	Timestamp   time.Time `json:"-"`
}

// TrainingUpdate carries training progress. Complete is set for
// training_complete frames.
type TrainingUpdate struct {
	IsTraining      bool `json:"is_training"`
	IsTrained       bool `json:"is_trained"`
	TrainingSamples int  `json:"training_samples" validate:"gte=0"`
	Complete        bool `json:"-"`
}

// JoinConfirmation acknowledges join_room.
type JoinConfirmation struct {
	Message string `json:"message"`
}

func (LocationUpdate) EventType() EventType   { return EventLocationUpdate }
func (LocationRejected) EventType() EventType { return EventLocationRejected }
func (AnomalyAlert) EventType() EventType     { return EventAnomalyAlert }
func (JoinConfirmation) EventType() EventType { return EventJoinConfirmation }

func (t TrainingUpdate) EventType() EventType {
	if t.Complete {
		return EventTrainingComplete
	}
	return EventTrainingStatus
}

// Delta converts the update into a store delta. A live update always marks
// the device online.
func (u LocationUpdate) Delta() LocationDelta {
	online := true
	d := LocationDelta{
		DeviceID:       u.DeviceID,
		Latitude:       u.Latitude,
		Longitude:      u.Longitude,
		AccuracyMeters: u.Accuracy,
		CapturedAt:     u.Timestamp,
		IsOnline:       &online,
	}
	if u.ValidationReason != "" {
		reason := u.ValidationReason
		d.ValidationReason = &reason
	}
	if u.CurrentZone != "" {
		zone := u.CurrentZone
		d.CurrentZone = &zone
	}
	return d
}

// JoinRoom announces which account's updates the channel should deliver.
type JoinRoom struct {
	AccountIdentifier string `json:"account_identifier"`
}

// PositionSample is one locally captured position sent upstream.
type PositionSample struct {
	DeviceID  string    `json:"device_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

var validate = validator.New()

// EncodeEnvelope wraps payload in a typed frame.
func EncodeEnvelope(t EventType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return json.Marshal(Envelope{Type: t, Payload: raw})
}

// DecodeEvent parses one inbound frame into its fixed schema and validates it.
// Unknown event types return ErrInvalidEvent.
func DecodeEvent(frame []byte) (InboundEvent, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	var (
		ev  InboundEvent
		err error
	)
	switch env.Type {
	case EventLocationUpdate:
		ev, err = decodeLocationUpdate(env.Payload)
	case EventLocationRejected:
		var p LocationRejected
		err = json.Unmarshal(env.Payload, &p)
		ev = p
	case EventAnomalyAlert:
		ev, err = decodeAnomaly(env.Payload)
	case EventTrainingStatus, EventTrainingComplete:
		ev, err = decodeTraining(env.Payload, env.Type == EventTrainingComplete)
	case EventJoinConfirmation:
		var p JoinConfirmation
		if len(env.Payload) > 0 {
			err = json.Unmarshal(env.Payload, &p)
		}
		ev = p
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEvent, env.Type, err)
	}
	if err := validate.Struct(ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEvent, env.Type, err)
	}
	return ev, nil
}

func decodeLocationUpdate(raw json.RawMessage) (LocationUpdate, error) {
	var wire struct {
		LocationUpdate
		Timestamp      string `json:"timestamp"`
		CurrentSection string `json:"current_section"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return LocationUpdate{}, err
	}
	u := wire.LocationUpdate
	if u.CurrentZone == "" {
		u.CurrentZone = wire.CurrentSection
	}
	u.CurrentZone = canonicalZone(u.CurrentZone)
	if ts, ok := ParseTimestamp(wire.Timestamp); ok {
		u.Timestamp = &ts
	}
	return u, nil
}

func decodeAnomaly(raw json.RawMessage) (AnomalyAlert, error) {
	var wire struct {
		AnomalyAlert
		Timestamp      string `json:"timestamp"`
		Device1Section string `json:"device1_section"`
		Device2Section string `json:"device2_section"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return AnomalyAlert{}, err
	}
	a := wire.AnomalyAlert
	if a.Device1Zone == "" {
		a.Device1Zone = wire.Device1Section
	}
	if a.Device2Zone == "" {
		a.Device2Zone = wire.Device2Section
	}
	a.Device1Zone = canonicalZone(a.Device1Zone)
	a.Device2Zone = canonicalZone(a.Device2Zone)
	if ts, ok := ParseTimestamp(wire.Timestamp); ok {
		a.Timestamp = ts
	}
	return a, nil
}

// canonicalZone maps the legacy "no zone" names to ZoneOutside. An absent
// zone stays absent so a partial update keeps the stored one.
func canonicalZone(name string) string {
	if name != "" && IsOutsideZone(name) {
		return ZoneOutside
	}
	return name
}

func decodeTraining(raw json.RawMessage, complete bool) (TrainingUpdate, error) {
	var wire struct {
		TrainingUpdate
		Samples *int `json:"samples"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return TrainingUpdate{}, err
	}
	t := wire.TrainingUpdate
	if wire.Samples != nil && t.TrainingSamples == 0 {
		t.TrainingSamples = *wire.Samples
	}
	if complete {
		t.Complete = true
		t.IsTraining = false
		t.IsTrained = true
	}
	return t, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp accepts RFC3339 and the zone-less ISO form the server emits
// (interpreted as UTC).
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
