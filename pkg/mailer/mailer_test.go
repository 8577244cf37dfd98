package mailer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/smtp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quocanhngo/fleetwatch/internal/model"
)

func testAlert() model.AlertEvent {
	return model.AlertEvent{
		Kind:    model.AlertDanger,
		Title:   "Unusual Device Behavior Detected",
		Message: "Device 1 (Library) and Device 2 (Lab) are showing unusual patterns. Distance: 25.4m",
		Detail: map[string]any{
			"device1_zone": "Library",
			"device2_zone": "Lab",
			"distance":     25.4,
		},
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNewDisabledWithoutRecipients(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New(Config{Host: "smtp.local"}, logger)
	assert.Nil(t, m)
	assert.NoError(t, m.NotifyAnomaly(context.Background(), testAlert()))
}

func TestNotifyAnomalySendsToRecipients(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New(Config{
		Host: "smtp.local", Port: "1025", From: "alerts@fleetwatch.local", FromName: "Fleetwatch",
		Recipients: []string{"a@example.com", "b@example.com"},
	}, logger)
	require.NotNil(t, m)

	var gotAddr string
	var gotTo []string
	var gotMsg string
	m.send = func(addr string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	require.NoError(t, m.NotifyAnomaly(context.Background(), testAlert()))
	assert.Equal(t, "smtp.local:1025", gotAddr)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: Fleetwatch - Unusual Device Behavior Detected\r\n")
	assert.Contains(t, gotMsg, "Distance: 25.4m")
	assert.Contains(t, gotMsg, "device2_zone")
	assert.Contains(t, gotMsg, "2026-03-01 12:00:00 UTC")
}

func TestNotifyAnomalySendFailure(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New(Config{Host: "smtp.local", Port: "25", Recipients: []string{"a@example.com"}}, logger)
	m.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("connection refused") }

	err := m.NotifyAnomaly(context.Background(), testAlert())
	assert.ErrorContains(t, err, "connection refused")
}
