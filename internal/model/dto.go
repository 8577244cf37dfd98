package model

// ========== Operator Auth DTOs ==========

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"` // seconds
}

// ========== Dashboard DTOs ==========

// Status is the connection/tracking summary shown in the dashboard header.
type Status struct {
	Connection ConnectionState `json:"connection"`
	Tracking   TrackingState   `json:"tracking"`
	Training   TrainingStatus  `json:"training"`
	Account    string          `json:"account"`
	DeviceID   string          `json:"device_id"`
	HasCampus  bool            `json:"has_campus"`
}

// Snapshot is the full read-only state handed to the presentation layer.
type Snapshot struct {
	Status      Status           `json:"status"`
	Devices     []Device         `json:"devices"`
	Locations   []LocationRecord `json:"locations"`
	Campus      *Campus          `json:"campus,omitempty"`
	Highlighted []string         `json:"highlighted_zones"`
	Alerts      []AlertEvent     `json:"alerts"`
	Notices     []Notice         `json:"notices"`
	Stats       ValidationStats  `json:"stats"`
}

type CameraRequest struct {
	Lat  float64 `json:"lat" binding:"gte=-90,lte=90"`
	Lon  float64 `json:"lon" binding:"gte=-180,lte=180"`
	Zoom float64 `json:"zoom" binding:"gte=0,lte=22"`
}

type ShowAllResponse struct {
	Performed bool    `json:"performed"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Zoom      float64 `json:"zoom"`
}

// ========== WebSocket Event DTOs ==========

type WSEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Dashboard websocket event types
const (
	WSEventSnapshot = "snapshot"
	WSEventScene    = "scene"
	WSEventNotice   = "notice"
)

// ========== Common ==========

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}
