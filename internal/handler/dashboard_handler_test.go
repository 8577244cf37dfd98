package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/quocanhngo/fleetwatch/internal/mapview"
	"github.com/quocanhngo/fleetwatch/internal/model"
	"github.com/quocanhngo/fleetwatch/internal/publisher"
	"github.com/quocanhngo/fleetwatch/internal/service"
	"github.com/quocanhngo/fleetwatch/internal/tracking"
	"github.com/quocanhngo/fleetwatch/pkg/auth"
	"github.com/quocanhngo/fleetwatch/pkg/storage"
)

type fakeDashboard struct {
	alerts    []model.AlertEvent
	camera    *mapview.Pose
	trackErr  error
	archive   bool
	refreshes int
}

func (f *fakeDashboard) Snapshot() model.Snapshot {
	return model.Snapshot{Status: f.Status(), Alerts: f.alerts}
}

func (f *fakeDashboard) Status() model.Status {
	return model.Status{Connection: model.ConnConnected, Tracking: model.TrackingInactive, Account: "owner@example.com"}
}

func (f *fakeDashboard) Locations() []model.LocationRecord {
	return []model.LocationRecord{{DeviceID: "A", Latitude: 10, Longitude: 20, IsOnline: true}}
}

func (f *fakeDashboard) Alerts() []model.AlertEvent { return f.alerts }
func (f *fakeDashboard) Stats() model.ValidationStats { return model.ValidationStats{Accepted: 3, Rejected: 1} }
func (f *fakeDashboard) Scene() mapview.SceneState { return mapview.SceneState{} }
func (f *fakeDashboard) StopTracking() error { return nil }
func (f *fakeDashboard) Connect(ctx context.Context) error { return nil }
func (f *fakeDashboard) Disconnect() error { return nil }

func (f *fakeDashboard) DismissAlert(index int) error {
	if index >= len(f.alerts) {
		return tracking.ErrAlertIndex
	}
	f.alerts = append(f.alerts[:index], f.alerts[index+1:]...)
	return nil
}

func (f *fakeDashboard) StartTracking() error { return f.trackErr }

func (f *fakeDashboard) ShowAll() (mapview.Pose, bool, error) {
	return mapview.Pose{Center: model.LatLng{Lat: 10, Lon: 20}, Zoom: 16}, true, nil
}

func (f *fakeDashboard) SetCamera(p mapview.Pose) error {
	f.camera = &p
	return nil
}

func (f *fakeDashboard) RefreshRoster() error {
	f.refreshes++
	return nil
}

func (f *fakeDashboard) ArchiveReport(context.Context) (*storage.UploadResult, error) {
	if !f.archive {
		return nil, service.ErrNoArchive
	}
	return &storage.UploadResult{Key: "reports/x.json", FileSize: 42}, nil
}

type testServer struct {
	router    *gin.Engine
	dashboard *fakeDashboard
	token     string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret-pass"), bcrypt.MinCost)
	require.NoError(t, err)
	operatorAuth := service.NewOperatorAuth("ops@example.com", string(hash), auth.NewJWTManager("secret", time.Hour), auth.NewMemoryRevocations())

	dash := &fakeDashboard{alerts: []model.AlertEvent{{Title: "one"}, {Title: "two"}}}
	router := gin.New()
	Routes{
		Auth:          NewAuthHandler(operatorAuth),
		Dashboard:     NewDashboardHandler(dash),
		Authenticator: operatorAuth,
	}.Register(router)

	s := &testServer{router: router, dashboard: dash}

	w := s.do(t, http.MethodPost, "/api/v1/auth/login", `{"email":"ops@example.com","password":"s3cret-pass"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var resp model.LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	s.token = resp.Token
	return s
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)
	s.token = ""

	w := s.do(t, http.MethodGet, "/api/v1/snapshot", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginWrongPassword(t *testing.T) {
	s := newTestServer(t)
	s.token = ""

	w := s.do(t, http.MethodPost, "/api/v1/auth/login", `{"email":"ops@example.com","password":"nope-nope"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogoutRevokesToken(t *testing.T) {
	s := newTestServer(t)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/auth/logout", "").Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/v1/status", "").Code)
}

func TestSnapshotAndStats(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/snapshot", "")
	require.Equal(t, http.StatusOK, w.Code)
	var snap model.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, model.ConnConnected, snap.Status.Connection)
	assert.Len(t, snap.Alerts, 2)

	w = s.do(t, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"accepted":3,"constrained":0,"rejected":1}`, w.Body.String())
}

func TestDismissAlert(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodDelete, "/api/v1/alerts/first", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/api/v1/alerts/9", "").Code)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, "/api/v1/alerts/0", "").Code)
	require.Len(t, s.dashboard.alerts, 1)
	assert.Equal(t, "two", s.dashboard.alerts[0].Title)
}

func TestStartTrackingWithoutCapability(t *testing.T) {
	s := newTestServer(t)
	s.dashboard.trackErr = publisher.ErrUnsupportedCapability

	w := s.do(t, http.MethodPost, "/api/v1/tracking/start", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestCameraAndShowAll(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/v1/map/camera", `{"lat":95,"lon":0,"zoom":3}`).Code)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/map/camera", `{"lat":48.85,"lon":2.35,"zoom":14}`).Code)
	require.NotNil(t, s.dashboard.camera)
	assert.Equal(t, 14.0, s.dashboard.camera.Zoom)

	w := s.do(t, http.MethodPost, "/api/v1/map/show-all", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"performed":true,"lat":10,"lon":20,"zoom":16}`, w.Body.String())
}

func TestRosterRefreshAndReports(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/api/v1/roster/refresh", "").Code)
	assert.Equal(t, 1, s.dashboard.refreshes)

	assert.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodPost, "/api/v1/reports", "").Code)

	s.dashboard.archive = true
	w := s.do(t, http.MethodPost, "/api/v1/reports", "")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "reports/x.json")
}
