package service

import (
	"context"

	"github.com/quocanhngo/fleetwatch/internal/mapview"
	"github.com/quocanhngo/fleetwatch/internal/model"
)

// ========== Read-only snapshots ==========

// Status returns the connection and tracking summary.
func (s *Session) Status() model.Status {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	_, hasCampus := s.zones.Campus()
	return model.Status{
		Connection: s.connState,
		Tracking:   s.trackingState,
		Training:   s.training,
		Account:    s.cred.Account,
		DeviceID:   s.deviceID,
		HasCampus:  hasCampus,
	}
}

// Snapshot returns everything the dashboard renders.
func (s *Session) Snapshot() model.Snapshot {
	snap := model.Snapshot{
		Status:      s.Status(),
		Devices:     s.store.Roster(),
		Locations:   s.store.All(),
		Highlighted: s.zones.Highlighted(),
		Alerts:      s.alerts.All(),
		Notices:     s.notices.Active(),
		Stats:       s.stats.Snapshot(),
	}
	if c, ok := s.zones.Campus(); ok {
		snap.Campus = &c
	}
	return snap
}

func (s *Session) Locations() []model.LocationRecord { return s.store.All() }

func (s *Session) Alerts() []model.AlertEvent { return s.alerts.All() }

func (s *Session) Stats() model.ValidationStats { return s.stats.Snapshot() }

func (s *Session) Notices() []model.Notice { return s.notices.Active() }

// Scene returns what the map surface currently shows.
func (s *Session) Scene() mapview.SceneState { return s.scene.State() }

// ========== Mutating entry points ==========

// DismissAlert removes the alert at index of the current newest-first view.
func (s *Session) DismissAlert(index int) error {
	var err error
	if doErr := s.do(func() {
		var removed model.AlertEvent
		if removed, err = s.alerts.Dismiss(index); err == nil {
			s.journalWrite("dismiss_alert", func() error { return s.journal.DismissAlert(s.sessionKey, removed.ID) })
			s.publish()
		}
	}); doErr != nil {
		return doErr
	}
	return err
}

// ShowAll frames every device (or the campus) and remembers the result as
// the operator's pose.
func (s *Session) ShowAll() (mapview.Pose, bool, error) {
	var (
		pose mapview.Pose
		ok   bool
	)
	err := s.do(func() { pose, ok = s.mapview.ShowAll() })
	return pose, ok, err
}

// SetCamera records a pose the operator set by hand.
func (s *Session) SetCamera(p mapview.Pose) error {
	return s.do(func() { s.mapview.SetOperatorPose(p) })
}

// RefreshRoster starts a roster reconciliation.
func (s *Session) RefreshRoster() error {
	return s.do(s.refreshRoster)
}

// StartTracking begins publishing local positions.
func (s *Session) StartTracking() error {
	s.opsMu.RLock()
	defer s.opsMu.RUnlock()
	if !s.alive.Load() {
		return ErrSessionClosed
	}
	return s.tracker.Start()
}

// StopTracking stops publishing local positions.
func (s *Session) StopTracking() error {
	s.opsMu.RLock()
	defer s.opsMu.RUnlock()
	if !s.alive.Load() {
		return ErrSessionClosed
	}
	s.tracker.Stop()
	return nil
}

// Connect (re)opens the push channel with the session credential. A channel
// in the error state is only recovered this way.
func (s *Session) Connect(ctx context.Context) error {
	s.opsMu.RLock()
	defer s.opsMu.RUnlock()
	if !s.alive.Load() {
		return ErrSessionClosed
	}
	return s.channel.Connect(ctx, s.cred)
}

// Disconnect closes the push channel. Tracking keeps running but its samples
// are dropped until the channel is back.
func (s *Session) Disconnect() error {
	s.opsMu.RLock()
	defer s.opsMu.RUnlock()
	if !s.alive.Load() {
		return ErrSessionClosed
	}
	s.channel.Disconnect()
	return nil
}
