package model

import (
	"time"

	"github.com/google/uuid"
)

// AlertKind classifies an alert for display.
type AlertKind string

const (
	AlertSuccess AlertKind = "success"
	AlertDanger  AlertKind = "danger"
	AlertWarning AlertKind = "warning"
	AlertInfo    AlertKind = "info"
)

// AlertEvent is one entry of the bounded alert queue.
type AlertEvent struct {
	ID        uuid.UUID      `json:"id"`
	Kind      AlertKind      `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Detail    map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notice is a transient, auto-dismissing message shown to the operator.
type Notice struct {
	ID        uuid.UUID `json:"id"`
	Kind      AlertKind `json:"type"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
