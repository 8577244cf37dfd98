package tracking

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quocanhngo/fleetwatch/internal/model"
)

func TestAlertAggregator_KeepsMostRecentFive(t *testing.T) {
	a := NewAlertAggregator(DefaultAlertCapacity)

	for i := 1; i <= 6; i++ {
		a.Push(model.AlertEvent{Kind: model.AlertInfo, Title: fmt.Sprint(i)})
	}

	titles := make([]string, 0, a.Len())
	for _, e := range a.All() {
		titles = append(titles, e.Title)
	}
	assert.Equal(t, []string{"6", "5", "4", "3", "2"}, titles)
}

func TestAlertAggregator_NeverExceedsCapacity(t *testing.T) {
	a := NewAlertAggregator(0)
	for i := 0; i < 500; i++ {
		a.Push(model.AlertEvent{Title: fmt.Sprint(i)})
		require.LessOrEqual(t, a.Len(), DefaultAlertCapacity)
	}
	assert.Equal(t, "499", a.All()[0].Title)
}

func TestAlertAggregator_CapacityClampedToFive(t *testing.T) {
	a := NewAlertAggregator(10)
	for i := 1; i <= 10; i++ {
		a.Push(model.AlertEvent{Title: fmt.Sprint(i)})
	}
	require.Equal(t, DefaultAlertCapacity, a.Len())
	assert.Equal(t, "10", a.All()[0].Title)
	assert.Equal(t, "6", a.All()[4].Title)

	small := NewAlertAggregator(2)
	for i := 1; i <= 4; i++ {
		small.Push(model.AlertEvent{Title: fmt.Sprint(i)})
	}
	assert.Equal(t, 2, small.Len())
}

func TestAlertAggregator_Dismiss(t *testing.T) {
	a := NewAlertAggregator(5)
	for i := 1; i <= 3; i++ {
		a.Push(model.AlertEvent{Title: fmt.Sprint(i)})
	}

	removed, err := a.Dismiss(1)
	require.NoError(t, err)
	assert.Equal(t, "2", removed.Title)

	all := a.All()
	require.Len(t, all, 2)
	assert.Equal(t, "3", all[0].Title)
	assert.Equal(t, "1", all[1].Title)

	_, err = a.Dismiss(2)
	assert.ErrorIs(t, err, ErrAlertIndex)
	_, err = a.Dismiss(-1)
	assert.ErrorIs(t, err, ErrAlertIndex)
}

func TestAlertAggregator_FillsIdentity(t *testing.T) {
	a := NewAlertAggregator(5)
	e := a.Push(model.AlertEvent{Title: "x"})
	assert.NotEmpty(t, e.ID.String())
	assert.False(t, e.Timestamp.IsZero())
}

func TestValidationStats_ReasonMapping(t *testing.T) {
	tests := []struct {
		reason string
		k      int
		want   model.ValidationStats
	}{
		{model.ReasonHighAccuracyAccepted, 4, model.ValidationStats{Accepted: 4}},
		{model.ReasonMediumAccuracyAccepted, 2, model.ValidationStats{Accepted: 2}},
		{model.ReasonConstrainedToRadius, 3, model.ValidationStats{Constrained: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			v := NewValidationStatsAggregator(nil, model.ValidationStats{})
			for i := 0; i < tt.k; i++ {
				require.NoError(t, v.Record(tt.reason))
			}
			assert.Equal(t, tt.want, v.Snapshot())
		})
	}
}

func TestValidationStats_UnrecognizedCountsNowhere(t *testing.T) {
	v := NewValidationStatsAggregator(nil, model.ValidationStats{Accepted: 7})

	err := v.Record("first_location_accepted")
	require.ErrorIs(t, err, ErrUnrecognizedReason)
	assert.Equal(t, model.ValidationStats{Accepted: 7}, v.Snapshot())

	v.RecordRejection()
	v.RecordRejection()
	assert.Equal(t, model.ValidationStats{Accepted: 7, Rejected: 2}, v.Snapshot())
}

func TestZoneOverlay_HighlightFromServerZones(t *testing.T) {
	s := newTestStore(t)
	z := NewZoneOverlay(s)

	require.NoError(t, z.SetCampus(model.Campus{
		Center: model.LatLng{Lat: 1, Lon: 1},
		Zones:  []model.Zone{{Name: "Library"}, {Name: "Canteen"}},
	}))
	assert.ErrorIs(t, z.SetCampus(model.Campus{}), ErrCampusAlreadySet)

	assert.Empty(t, z.Highlighted())

	s.ApplyBaseline([]model.LocationRecord{
		{DeviceID: "dev-a", CurrentZone: "Canteen"},
		{DeviceID: "dev-b", CurrentZone: "Outside Campus"},
	})
	assert.Equal(t, []string{"Canteen"}, z.Highlighted())

	_, err := s.ApplyDelta(model.LocationDelta{DeviceID: "dev-b", CurrentZone: ptr("Library")})
	require.NoError(t, err)
	assert.Equal(t, []string{"Library", "Canteen"}, z.Highlighted(), "campus layout order")
}

func TestNoticeBoard_Expires(t *testing.T) {
	b := NewNoticeBoard(50 * time.Millisecond)
	n := b.Post(model.AlertWarning, "Location rejected")

	active := b.Active()
	require.Len(t, active, 1)
	assert.Equal(t, n.ID, active[0].ID)

	assert.Eventually(t, func() bool { return len(b.Active()) == 0 }, time.Second, 10*time.Millisecond)
}

func TestNoticeBoard_Dismiss(t *testing.T) {
	b := NewNoticeBoard(time.Minute)
	n := b.Post(model.AlertInfo, "hello")
	b.Dismiss(n.ID)
	assert.Empty(t, b.Active())
}
