package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/quocanhngo/fleetwatch/internal/mapview"
	"github.com/quocanhngo/fleetwatch/internal/model"
	"github.com/quocanhngo/fleetwatch/internal/publisher"
	"github.com/quocanhngo/fleetwatch/internal/service"
	"github.com/quocanhngo/fleetwatch/internal/tracking"
	"github.com/quocanhngo/fleetwatch/pkg/storage"
)

// Dashboard is the session surface the operator API drives
type Dashboard interface {
	Snapshot() model.Snapshot
	Status() model.Status
	Locations() []model.LocationRecord
	Alerts() []model.AlertEvent
	Stats() model.ValidationStats
	Scene() mapview.SceneState

	DismissAlert(index int) error
	StartTracking() error
	StopTracking() error
	Connect(ctx context.Context) error
	Disconnect() error
	ShowAll() (mapview.Pose, bool, error)
	SetCamera(p mapview.Pose) error
	RefreshRoster() error
	ArchiveReport(ctx context.Context) (*storage.UploadResult, error)
}

// DashboardHandler handles the operator dashboard endpoints
type DashboardHandler struct {
	session Dashboard
}

func NewDashboardHandler(session Dashboard) *DashboardHandler {
	return &DashboardHandler{session: session}
}

// GetSnapshot godoc
// @Summary Full dashboard state
// @Tags Dashboard
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.Snapshot
// @Router /snapshot [get]
func (h *DashboardHandler) GetSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Snapshot())
}

// GetStatus godoc
// @Summary Connection, tracking and training status
// @Tags Dashboard
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.Status
// @Router /status [get]
func (h *DashboardHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Status())
}

// GetLocations godoc
// @Summary Live device locations in first-seen order
// @Tags Dashboard
// @Produce json
// @Security BearerAuth
// @Success 200 {array} model.LocationRecord
// @Router /locations [get]
func (h *DashboardHandler) GetLocations(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Locations())
}

// GetAlerts godoc
// @Summary Recent alerts, newest first
// @Tags Alerts
// @Produce json
// @Security BearerAuth
// @Success 200 {array} model.AlertEvent
// @Router /alerts [get]
func (h *DashboardHandler) GetAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Alerts())
}

// DismissAlert godoc
// @Summary Dismiss the alert at a position of the current list
// @Tags Alerts
// @Produce json
// @Security BearerAuth
// @Param index path int true "Position in the newest-first list"
// @Success 200 {object} model.SuccessResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 404 {object} model.ErrorResponse
// @Router /alerts/{index} [delete]
func (h *DashboardHandler) DismissAlert(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid alert index"})
		return
	}

	if err := h.session.DismissAlert(index); err != nil {
		if errors.Is(err, tracking.ErrAlertIndex) {
			c.JSON(http.StatusNotFound, model.ErrorResponse{Error: err.Error()})
			return
		}
		respondSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.SuccessResponse{Message: "Alert dismissed"})
}

// GetStats godoc
// @Summary Validation counters of the session
// @Tags Dashboard
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.ValidationStats
// @Router /stats [get]
func (h *DashboardHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Stats())
}

// StartTracking godoc
// @Summary Start publishing this device's position
// @Tags Tracking
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.SuccessResponse
// @Failure 422 {object} model.ErrorResponse
// @Router /tracking/start [post]
func (h *DashboardHandler) StartTracking(c *gin.Context) {
	if err := h.session.StartTracking(); err != nil {
		if errors.Is(err, publisher.ErrUnsupportedCapability) {
			c.JSON(http.StatusUnprocessableEntity, model.ErrorResponse{Error: "Location tracking unavailable", Message: err.Error()})
			return
		}
		respondSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.SuccessResponse{Message: "Tracking started", Data: h.session.Status()})
}

// StopTracking godoc
// @Summary Stop publishing this device's position
// @Tags Tracking
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.SuccessResponse
// @Router /tracking/stop [post]
func (h *DashboardHandler) StopTracking(c *gin.Context) {
	if err := h.session.StopTracking(); err != nil {
		respondSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.SuccessResponse{Message: "Tracking stopped", Data: h.session.Status()})
}

// Connect godoc
// @Summary Open (or reopen) the push channel
// @Tags Connection
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.SuccessResponse
// @Failure 502 {object} model.ErrorResponse
// @Router /connection/connect [post]
func (h *DashboardHandler) Connect(c *gin.Context) {
	if err := h.session.Connect(c.Request.Context()); err != nil {
		if errors.Is(err, service.ErrSessionClosed) {
			respondSessionError(c, err)
			return
		}
		c.JSON(http.StatusBadGateway, model.ErrorResponse{Error: "Push channel unavailable", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, model.SuccessResponse{Message: "Connected", Data: h.session.Status()})
}

// Disconnect godoc
// @Summary Close the push channel
// @Tags Connection
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.SuccessResponse
// @Router /connection/disconnect [post]
func (h *DashboardHandler) Disconnect(c *gin.Context) {
	if err := h.session.Disconnect(); err != nil {
		respondSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.SuccessResponse{Message: "Disconnected", Data: h.session.Status()})
}

// ShowAll godoc
// @Summary Frame every device (or the campus) on the map
// @Tags Map
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.ShowAllResponse
// @Router /map/show-all [post]
func (h *DashboardHandler) ShowAll(c *gin.Context) {
	pose, ok, err := h.session.ShowAll()
	if err != nil {
		respondSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.ShowAllResponse{
		Performed: ok,
		Lat:       pose.Center.Lat,
		Lon:       pose.Center.Lon,
		Zoom:      pose.Zoom,
	})
}

// SetCamera godoc
// @Summary Record a camera pose chosen by the operator
// @Tags Map
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body model.CameraRequest true "Camera pose"
// @Success 200 {object} model.SuccessResponse
// @Failure 400 {object} model.ErrorResponse
// @Router /map/camera [post]
func (h *DashboardHandler) SetCamera(c *gin.Context) {
	var req model.CameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	pose := mapview.Pose{Center: model.LatLng{Lat: req.Lat, Lon: req.Lon}, Zoom: req.Zoom}
	if err := h.session.SetCamera(pose); err != nil {
		respondSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.SuccessResponse{Message: "Camera updated"})
}

// GetScene godoc
// @Summary Markers, zones and camera currently on the map
// @Tags Map
// @Produce json
// @Security BearerAuth
// @Success 200 {object} mapview.SceneState
// @Router /map/scene [get]
func (h *DashboardHandler) GetScene(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Scene())
}

// RefreshRoster godoc
// @Summary Reload the device roster and drop removed devices
// @Tags Dashboard
// @Produce json
// @Security BearerAuth
// @Success 202 {object} model.SuccessResponse
// @Router /roster/refresh [post]
func (h *DashboardHandler) RefreshRoster(c *gin.Context) {
	if err := h.session.RefreshRoster(); err != nil {
		respondSessionError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, model.SuccessResponse{Message: "Roster refresh started"})
}

func respondSessionError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrSessionClosed) {
		c.JSON(http.StatusServiceUnavailable, model.ErrorResponse{Error: "Session closed"})
		return
	}
	c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: err.Error()})
}
