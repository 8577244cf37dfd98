package restapi

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quocanhngo/fleetwatch/internal/model"
)

const base = "http://backend.test"

func newMockedClient(t *testing.T) *Client {
	t.Helper()
	c := New(base, time.Second, nil, nil)
	httpmock.ActivateNonDefault(c.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	c.SetToken("tok")
	return c
}

func TestRosterSendsBearer(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodGet, base+"/api/user-devices",
		func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("Authorization") != "Bearer tok" {
				return httpmock.NewStringResponse(http.StatusUnauthorized, `{"error":"Token is missing"}`), nil
			}
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
				"devices": []map[string]any{
					{"device_id": "d1", "device_name": "Laptop", "os": "Linux", "location_tracking": true},
					{"device_id": "d2", "device_name": "Phone", "os": "Android"},
				},
			})
		})

	devices, err := c.Roster(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, model.Device{DeviceID: "d1", DeviceName: "Laptop", OS: "Linux"}, devices[0])
}

func TestLocationsNormalizesZones(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodGet, base+"/api/all-devices-locations",
		httpmock.NewStringResponder(http.StatusOK, `{"locations":[
			{"device_id":"d1","device_name":"Laptop","os":"Linux","latitude":48.1,"longitude":11.5,"accuracy":12.5,
			 "timestamp":"2026-03-01T10:00:00.500000","is_online":true,"current_section":"Library"},
			{"device_id":"d2","latitude":48.2,"longitude":11.6,"is_online":false,"current_section":"Outside Campus"}
		]}`))

	recs, err := c.Locations(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "Library", recs[0].CurrentZone)
	assert.Equal(t, 12.5, recs[0].AccuracyMeters)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 500000000, time.UTC), recs[0].CapturedAt)
	assert.Equal(t, model.ZoneOutside, recs[1].CurrentZone)
	assert.False(t, recs[1].IsOnline)
}

func TestCampusAbsent(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodGet, base+"/api/university-layout",
		httpmock.NewStringResponder(http.StatusOK, `{"university":null}`))

	campus, err := c.Campus(context.Background())
	require.NoError(t, err)
	assert.Nil(t, campus)
}

func TestEstablishCampus(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodPost, base+"/api/grant-location-permission",
		func(req *http.Request) (*http.Response, error) {
			return httpmock.NewStringResponse(http.StatusOK, `{"university":{
				"center":{"lat":48.15,"lon":11.58},
				"sections":[{"name":"Library","color":"#FF6B6B","bounds":{"min_lat":48.1499,"max_lat":48.15,"min_lon":11.58,"max_lon":11.5801}}]
			}}`), nil
		})

	campus, err := c.EstablishCampus(context.Background(), model.PositionSample{DeviceID: "d1", Latitude: 48.15, Longitude: 11.58})
	require.NoError(t, err)
	require.NotNil(t, campus)
	assert.Equal(t, 48.15, campus.Center.Lat)
	require.Len(t, campus.Zones, 1)
	assert.Equal(t, "Library", campus.Zones[0].Name)
	assert.Equal(t, 11.5801, campus.Zones[0].Bounds.MaxLon)
}

func TestStatusErrorIsNetworkFailure(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodGet, base+"/api/ml-status",
		httpmock.NewStringResponder(http.StatusInternalServerError, `{"error":"boom"}`))

	_, err := c.TrainingStatus(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.Equal(t, "boom", se.Message)
}

func TestTimeoutIsNetworkFailure(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodGet, base+"/api/user-devices",
		func(req *http.Request) (*http.Response, error) {
			<-req.Context().Done()
			return nil, req.Context().Err()
		})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Roster(ctx)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestLoginInstallsToken(t *testing.T) {
	c := New(base, time.Second, nil, nil)
	httpmock.ActivateNonDefault(c.HTTPClient())
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, base+"/api/login",
		httpmock.NewStringResponder(http.StatusOK, `{"message":"Login successful","token":"new-token","device_id":"abc123","user":{"email":"a@b.c"}}`))
	httpmock.RegisterResponder(http.MethodGet, base+"/api/ml-status",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer new-token", req.Header.Get("Authorization"))
			return httpmock.NewStringResponse(http.StatusOK, `{"is_training":true,"is_trained":false,"training_samples":7}`), nil
		})

	res, err := c.Login(context.Background(), "a@b.c", "secret")
	require.NoError(t, err)
	assert.Equal(t, "abc123", res.DeviceID)

	st, err := c.TrainingStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.TrainingStatus{IsTraining: true, TrainingSamples: 7}, st)
}

func TestLoginRejected(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodPost, base+"/api/login",
		httpmock.NewStringResponder(http.StatusUnauthorized, `{"error":"Invalid credentials"}`))

	_, err := c.Login(context.Background(), "a@b.c", "wrong")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
}
