// Package channel maintains the authenticated push channel to the tracking
// backend: dialing, the join_room announcement, inbound event decoding and
// the bounded reconnect policy.
package channel

import (
	"context"
	"errors"

	"github.com/quocanhngo/fleetwatch/internal/model"
	"github.com/quocanhngo/fleetwatch/pkg/auth"
)

var (
	// ErrChannel wraps failures to establish the push channel.
	ErrChannel = errors.New("push channel error")
	// ErrNotConnected is returned by sends attempted without a live channel.
	ErrNotConnected = errors.New("push channel not connected")
)

// Conn is one established channel session. ReadFrame blocks until a frame
// arrives or the session ends; Close unblocks it.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	Close() error
}

// Transport opens channel sessions for a credential.
type Transport interface {
	Dial(ctx context.Context, cred auth.Credential) (Conn, error)
}

// EventSink receives decoded inbound events and connection state changes.
// Calls are serialized and never happen after Manager.Disconnect returns.
type EventSink interface {
	OnLocationUpdate(model.LocationUpdate)
	OnLocationRejected(model.LocationRejected)
	OnAnomalyAlert(model.AnomalyAlert)
	OnTrainingStatus(model.TrainingUpdate)
	OnJoinConfirmation(model.JoinConfirmation)
	OnStateChange(model.ConnectionState)
}
