package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent_LocationUpdate(t *testing.T) {
	frame := []byte(`{"type":"location_update","payload":{
		"device_id":"dev-a","latitude":10,"longitude":20,"accuracy":5,
		"timestamp":"2026-03-01T12:00:00.123456","validation_reason":"high_accuracy_accepted",
		"current_section":"Library"}}`)

	ev, err := DecodeEvent(frame)
	require.NoError(t, err)

	u, ok := ev.(LocationUpdate)
	require.True(t, ok, "expected LocationUpdate, got %T", ev)
	assert.Equal(t, "dev-a", u.DeviceID)
	assert.Equal(t, "Library", u.CurrentZone, "legacy current_section is accepted")
	require.NotNil(t, u.Timestamp)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 123456000, time.UTC), *u.Timestamp)

	d := u.Delta()
	require.NotNil(t, d.IsOnline)
	assert.True(t, *d.IsOnline)
	assert.Equal(t, ReasonHighAccuracyAccepted, *d.ValidationReason)
}

func TestDecodeEvent_ZeroCoordinatesAreValid(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"location_update","payload":{"device_id":"d","latitude":0,"longitude":0}}`))
	require.NoError(t, err)
	u := ev.(LocationUpdate)
	assert.Nil(t, u.Delta().AccuracyMeters)
	assert.Nil(t, u.Delta().CurrentZone)
}

func TestDecodeEvent_LegacyOutsideZoneIsCanonical(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"location_update","payload":{"device_id":"a","latitude":1,"longitude":2,"current_section":"Outside Campus"}}`))
	require.NoError(t, err)
	d := ev.(LocationUpdate).Delta()
	require.NotNil(t, d.CurrentZone)
	assert.Equal(t, ZoneOutside, *d.CurrentZone)

	ev, err = DecodeEvent([]byte(`{"type":"anomaly_alert","payload":{"device1_section":"Outside Campus","device2_zone":"Library","distance":80}}`))
	require.NoError(t, err)
	a := ev.(AnomalyAlert)
	assert.Equal(t, ZoneOutside, a.Device1Zone)
	assert.Equal(t, "Library", a.Device2Zone)
}

func TestDecodeEvent_RejectsInvalidPayloads(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"not json", `{`},
		{"unknown type", `{"type":"chat","payload":{}}`},
		{"missing device", `{"type":"location_update","payload":{"latitude":1,"longitude":2}}`},
		{"missing latitude", `{"type":"location_update","payload":{"device_id":"d","longitude":2}}`},
		{"latitude out of range", `{"type":"location_update","payload":{"device_id":"d","latitude":91,"longitude":2}}`},
		{"negative accuracy", `{"type":"location_update","payload":{"device_id":"d","latitude":1,"longitude":2,"accuracy":-1}}`},
		{"rejection without reason", `{"type":"location_rejected","payload":{"device_id":"d"}}`},
		{"wrong field type", `{"type":"anomaly_alert","payload":{"distance":"far"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEvent([]byte(tt.frame))
			assert.ErrorIs(t, err, ErrInvalidEvent)
		})
	}
}

func TestDecodeEvent_Rejected(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"location_rejected","payload":{"device_id":"dev-a","reason":"low_accuracy","original_accuracy":120.4}}`))
	require.NoError(t, err)
	r := ev.(LocationRejected)
	assert.Equal(t, "low_accuracy", r.Reason)
	assert.InDelta(t, 120.4, r.OriginalAccuracy, 1e-9)
	assert.Equal(t, EventLocationRejected, r.EventType())
}

func TestDecodeEvent_AnomalyAndTraining(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"anomaly_alert","payload":{"device1_section":"Library","device2_zone":"Canteen","distance":42.5,"confidence":0.9,"timestamp":"2026-03-01T12:00:00Z"}}`))
	require.NoError(t, err)
	a := ev.(AnomalyAlert)
	assert.Equal(t, "Library", a.Device1Zone)
	assert.Equal(t, "Canteen", a.Device2Zone)
	assert.False(t, a.Timestamp.IsZero())

	ev, err = DecodeEvent([]byte(`{"type":"training_complete","payload":{"samples":50}}`))
	require.NoError(t, err)
	tr := ev.(TrainingUpdate)
	assert.Equal(t, EventTrainingComplete, tr.EventType())
	assert.True(t, tr.IsTrained)
	assert.Equal(t, 50, tr.TrainingSamples)

	ev, err = DecodeEvent([]byte(`{"type":"join_confirmation"}`))
	require.NoError(t, err)
	assert.Equal(t, EventJoinConfirmation, ev.EventType())
}

func TestEncodeEnvelope(t *testing.T) {
	raw, err := EncodeEnvelope(EventJoinRoom, JoinRoom{AccountIdentifier: "ops@example.com"})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, EventJoinRoom, env.Type)
	assert.JSONEq(t, `{"account_identifier":"ops@example.com"}`, string(env.Payload))
}

func TestBoundsHelpers(t *testing.T) {
	b, ok := BoundsOf([]LatLng{{Lat: 1, Lon: 5}, {Lat: -1, Lon: 3}})
	require.True(t, ok)
	assert.Equal(t, Bounds{MinLat: -1, MaxLat: 1, MinLon: 3, MaxLon: 5}, b)
	assert.Equal(t, LatLng{Lat: 0, Lon: 4}, b.Center())
	assert.True(t, b.Contains(LatLng{Lat: 0, Lon: 4}))

	padded := b.Pad(0.1)
	assert.InDelta(t, -1.2, padded.MinLat, 1e-9)
	assert.InDelta(t, 5.2, padded.MaxLon, 1e-9)

	_, ok = BoundsOf(nil)
	assert.False(t, ok)

	c := Campus{Center: LatLng{Lat: 10, Lon: 20}}
	assert.InDelta(t, CampusSize, c.Bounds().MaxLat-c.Bounds().MinLat, 1e-12)
}
