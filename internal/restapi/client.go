// Package restapi is the client for the tracking backend's REST endpoints:
// roster, location baseline, campus layout, training status and login.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/quocanhngo/fleetwatch/internal/model"
	"github.com/quocanhngo/fleetwatch/internal/telemetry"
)

const DefaultTimeout = 10 * time.Second

var (
	// ErrNetwork is the root of every failed REST call.
	ErrNetwork = errors.New("network failure")
	// ErrTimeout marks calls that ran out of time. It is also an ErrNetwork.
	ErrTimeout = errors.New("request timed out")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Endpoint string
	Code     int
	Message  string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Endpoint, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: HTTP %d", e.Endpoint, e.Code)
}

func (e *StatusError) Unwrap() error { return ErrNetwork }

// Client talks to one backend with one bearer credential.
type Client struct {
	baseURL string
	http    *http.Client
	metrics *telemetry.Metrics
	logger  *slog.Logger

	mu    sync.RWMutex
	token string
}

// New creates a client. A zero timeout uses DefaultTimeout.
func New(baseURL string, timeout time.Duration, metrics *telemetry.Metrics, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		metrics: metrics,
		logger:  logger.With("component", "restapi"),
	}
}

// HTTPClient exposes the underlying client, mainly so tests can mock its
// transport.
func (c *Client) HTTPClient() *http.Client { return c.http }

// SetToken installs the bearer credential used for authenticated calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

type rosterResponse struct {
	Devices []model.Device `json:"devices"`
}

// Roster lists the devices registered to the account.
func (c *Client) Roster(ctx context.Context) ([]model.Device, error) {
	var resp rosterResponse
	if err := c.do(ctx, http.MethodGet, "/api/user-devices", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

type wireLocation struct {
	DeviceID       string  `json:"device_id"`
	DeviceName     string  `json:"device_name"`
	OS             string  `json:"os"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	Accuracy       float64 `json:"accuracy"`
	Timestamp      string  `json:"timestamp"`
	IsOnline       bool    `json:"is_online"`
	CurrentZone    string  `json:"current_zone"`
	CurrentSection string  `json:"current_section"`
}

type locationsResponse struct {
	Locations []wireLocation `json:"locations"`
}

// Locations fetches the last known position of every device.
func (c *Client) Locations(ctx context.Context) ([]model.LocationRecord, error) {
	var resp locationsResponse
	if err := c.do(ctx, http.MethodGet, "/api/all-devices-locations", nil, &resp); err != nil {
		return nil, err
	}

	out := make([]model.LocationRecord, 0, len(resp.Locations))
	for _, l := range resp.Locations {
		zone := l.CurrentZone
		if zone == "" {
			zone = l.CurrentSection
		}
		if model.IsOutsideZone(zone) {
			zone = model.ZoneOutside
		}
		rec := model.LocationRecord{
			DeviceID:       l.DeviceID,
			DeviceName:     l.DeviceName,
			OS:             l.OS,
			Latitude:       l.Latitude,
			Longitude:      l.Longitude,
			AccuracyMeters: l.Accuracy,
			IsOnline:       l.IsOnline,
			CurrentZone:    zone,
		}
		if ts, ok := model.ParseTimestamp(l.Timestamp); ok {
			rec.CapturedAt = ts
		}
		out = append(out, rec)
	}
	return out, nil
}

type campusResponse struct {
	University *model.Campus `json:"university"`
}

// Campus returns the account's campus layout, or nil when none exists yet.
func (c *Client) Campus(ctx context.Context) (*model.Campus, error) {
	var resp campusResponse
	if err := c.do(ctx, http.MethodGet, "/api/university-layout", nil, &resp); err != nil {
		return nil, err
	}
	return resp.University, nil
}

type establishRequest struct {
	DeviceID  string  `json:"device_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// EstablishCampus asks the backend to lay out the campus around a first
// position. The backend keeps an existing campus and returns it.
func (c *Client) EstablishCampus(ctx context.Context, s model.PositionSample) (*model.Campus, error) {
	var resp campusResponse
	body := establishRequest{DeviceID: s.DeviceID, Latitude: s.Latitude, Longitude: s.Longitude}
	if err := c.do(ctx, http.MethodPost, "/api/grant-location-permission", body, &resp); err != nil {
		return nil, err
	}
	return resp.University, nil
}

// TrainingStatus fetches the anomaly model's training progress.
func (c *Client) TrainingStatus(ctx context.Context) (model.TrainingStatus, error) {
	var st model.TrainingStatus
	if err := c.do(ctx, http.MethodGet, "/api/ml-status", nil, &st); err != nil {
		return model.TrainingStatus{}, err
	}
	return st, nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResult is the backend's answer to a successful login.
type LoginResult struct {
	Token    string         `json:"token"`
	DeviceID string         `json:"device_id"`
	User     map[string]any `json:"user"`
}

// Login exchanges account credentials for a bearer token. The token is
// installed on the client.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	var res LoginResult
	if err := c.do(ctx, http.MethodPost, "/api/login", loginRequest{Email: email, Password: password}, &res); err != nil {
		return LoginResult{}, err
	}
	if res.Token == "" {
		return LoginResult{}, fmt.Errorf("%w: login returned no token", ErrNetwork)
	}
	c.SetToken(res.Token)
	return res, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.bearer(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.IncREST(path, "error")
		if isTimeout(err) {
			return fmt.Errorf("%s: %w: %w", path, ErrNetwork, ErrTimeout)
		}
		return fmt.Errorf("%s: %w: %v", path, ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.metrics.IncREST(path, "status")
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
		return &StatusError{Endpoint: path, Code: resp.StatusCode, Message: e.Error}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.metrics.IncREST(path, "decode")
			return fmt.Errorf("%s: %w: decode response: %v", path, ErrNetwork, err)
		}
	}
	c.metrics.IncREST(path, "ok")
	c.logger.Debug("rest call", "method", method, "path", path, "status", resp.StatusCode)
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
