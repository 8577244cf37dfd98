package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/quocanhngo/fleetwatch/internal/mapview"
	"github.com/quocanhngo/fleetwatch/internal/model"
	"github.com/quocanhngo/fleetwatch/internal/tracking"
)

// ========== channel.EventSink ==========
// Called from the channel goroutines; each hands the event to the loop.

func (s *Session) OnLocationUpdate(u model.LocationUpdate) {
	s.post(func() { s.handleLocationUpdate(u) })
}

func (s *Session) OnLocationRejected(r model.LocationRejected) {
	s.post(func() { s.handleRejected(r) })
}

func (s *Session) OnAnomalyAlert(a model.AnomalyAlert) {
	s.post(func() { s.handleAnomaly(a) })
}

func (s *Session) OnTrainingStatus(t model.TrainingUpdate) {
	s.post(func() { s.handleTraining(t) })
}

func (s *Session) OnJoinConfirmation(j model.JoinConfirmation) {
	s.logger.Info("joined account room", "message", j.Message)
}

// OnStateChange records the state immediately so it is correct even when the
// loop has already stopped (final disconnect during teardown).
func (s *Session) OnStateChange(state model.ConnectionState) {
	s.stateMu.Lock()
	s.connState = state
	s.stateMu.Unlock()

	s.logger.Info("channel state", "state", state)
	s.post(func() {
		if state == model.ConnError {
			s.postNotice(model.AlertDanger, "Connection to the tracking server lost")
		}
		s.publish()
	})
}

// ========== publisher.Observer ==========

func (s *Session) OnTrackingState(state model.TrackingState) {
	s.stateMu.Lock()
	s.trackingState = state
	s.stateMu.Unlock()

	s.post(func() {
		if state == model.TrackingError {
			s.postNotice(model.AlertDanger, "Location tracking stopped: position source failed")
		}
		s.publish()
	})
}

// OnSample establishes the campus from the first fix when none exists yet.
func (s *Session) OnSample(sample model.PositionSample) {
	s.post(func() { s.maybeEstablishCampus(sample) })
}

// ========== loop handlers ==========

func (s *Session) applyBaseline(b baseline) {
	if b.roster != nil {
		s.store.SetRoster(b.roster)
	}
	if b.locations != nil {
		s.store.ApplyBaseline(b.locations)
	}
	if b.campus != nil {
		s.installCampus(*b.campus)
	}
	if b.training != nil {
		s.stateMu.Lock()
		s.training = *b.training
		s.stateMu.Unlock()
	}
	s.publish()
}

func (s *Session) handleLocationUpdate(u model.LocationUpdate) {
	if u.ValidationReason != "" {
		s.recordValidation(u.ValidationReason)
	}

	rec, err := s.store.ApplyDelta(u.Delta())
	switch {
	case errors.Is(err, tracking.ErrUnknownDevice):
		s.holdDelta(u.Delta())
		return
	case err != nil:
		s.logger.Warn("location update not applied", "device_id", u.DeviceID, "error", err)
		return
	}

	s.logger.Debug("location updated",
		"device_id", rec.DeviceID,
		"zone", rec.CurrentZone,
		"reason", rec.ValidationReason,
	)
	s.publish()
}

func (s *Session) recordValidation(reason string) {
	if err := s.stats.Record(reason); err != nil {
		s.metrics.IncValidation("unrecognized")
		return
	}
	switch reason {
	case model.ReasonConstrainedToRadius:
		s.metrics.IncValidation("constrained")
	default:
		s.metrics.IncValidation("accepted")
	}
}

// holdDelta keeps an update for a device missing from the roster until the
// roster has been refreshed.
func (s *Session) holdDelta(d model.LocationDelta) {
	if len(s.pendingDeltas) >= maxPendingDeltas {
		s.logger.Warn("dropping update for unknown device, pending queue full", "device_id", d.DeviceID)
		return
	}
	s.pendingDeltas = append(s.pendingDeltas, d)
	s.logger.Info("update for unknown device held until roster refresh", "device_id", d.DeviceID)
	s.refreshRoster()
}

func (s *Session) handleRejected(r model.LocationRejected) {
	s.stats.RecordRejection()
	s.metrics.IncValidation("rejected")
	s.logger.Info("location rejected", "device_id", r.DeviceID, "reason", r.Reason, "accuracy", r.OriginalAccuracy)

	s.postNotice(model.AlertWarning, fmt.Sprintf("Location rejected: %s (accuracy: %.1fm)", r.Reason, r.OriginalAccuracy))
	s.publish()
}

func (s *Session) handleAnomaly(a model.AnomalyAlert) {
	detail := map[string]any{
		"device1_zone": a.Device1Zone,
		"device2_zone": a.Device2Zone,
		"distance":     a.Distance,
		"confidence":   a.Confidence,
	}
	if !a.Timestamp.IsZero() {
		detail["timestamp"] = a.Timestamp.Format(time.RFC3339)
	}

	alert := s.pushAlert(model.AlertEvent{
		Kind:    model.AlertDanger,
		Title:   "Unusual Device Behavior Detected",
		Message: fmt.Sprintf("Device 1 (%s) and Device 2 (%s) are showing unusual patterns. Distance: %.1fm", a.Device1Zone, a.Device2Zone, a.Distance),
		Detail:  detail,
	})
	s.publish()

	key := fmt.Sprintf("%s|%s|%.0f", a.Device1Zone, a.Device2Zone, a.Distance)
	if len(s.notifiers) == 0 || s.notified.Add(key, struct{}{}, cache.DefaultExpiration) != nil {
		return
	}
	s.background(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, backgroundTimeout)
		defer cancel()
		for _, n := range s.notifiers {
			if err := n.NotifyAnomaly(ctx, alert); err != nil {
				s.logger.Warn("anomaly notification failed", "notifier", n.Name(), "error", err)
			}
		}
	})
}

func (s *Session) handleTraining(t model.TrainingUpdate) {
	s.stateMu.Lock()
	prev := s.training
	s.training = model.TrainingStatus{
		IsTraining:      t.IsTraining,
		IsTrained:       t.IsTrained,
		TrainingSamples: t.TrainingSamples,
		Message:         prev.Message,
	}
	s.stateMu.Unlock()

	switch {
	case t.Complete:
		s.pushAlert(model.AlertEvent{
			Kind:    model.AlertSuccess,
			Title:   "Security System Ready",
			Message: fmt.Sprintf("ML model trained with %d samples. Anomaly detection is now active!", t.TrainingSamples),
		})
	case t.IsTrained && !prev.IsTrained:
		s.pushAlert(model.AlertEvent{
			Kind:    model.AlertSuccess,
			Title:   "Security System Activated",
			Message: "Machine learning model trained successfully! Anomaly detection is now active.",
		})
	}
	s.publish()
}

func (s *Session) pushAlert(e model.AlertEvent) model.AlertEvent {
	e = s.alerts.Push(e)
	s.metrics.IncAlert(e.Kind)
	s.journalWrite("append_alert", func() error { return s.journal.AppendAlert(s.sessionKey, e) })
	return e
}

func (s *Session) sweepStale() {
	cutoff := time.Now().Add(-s.staleAfter)
	if stale := s.store.MarkStale(cutoff); len(stale) > 0 {
		s.logger.Info("devices went offline", "device_ids", stale)
		s.publish()
	}
}

// refreshRoster fetches the roster off the loop and reconciles it on the
// loop. At most one refresh is in flight.
func (s *Session) refreshRoster() {
	if s.rosterInFlight {
		return
	}
	s.rosterInFlight = true

	s.background(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, backgroundTimeout)
		defer cancel()

		devices, err := s.backend.Roster(ctx)
		s.post(func() {
			s.rosterInFlight = false
			if err != nil {
				s.networkFailure("roster refresh", err)
				return
			}
			s.reconcileRoster(devices)
		})
	})
}

func (s *Session) reconcileRoster(devices []model.Device) {
	removed := s.store.ReconcileRoster(devices)

	pending := s.pendingDeltas
	s.pendingDeltas = nil
	for _, d := range pending {
		if _, err := s.store.ApplyDelta(d); err != nil {
			s.logger.Warn("dropping update for device not in roster", "device_id", d.DeviceID)
		}
	}

	s.logger.Debug("roster reconciled", "devices", len(devices), "removed", len(removed), "replayed", len(pending))
	s.publish()
}

func (s *Session) maybeEstablishCampus(sample model.PositionSample) {
	if s.campusInFlight {
		return
	}
	if _, ok := s.zones.Campus(); ok {
		return
	}
	s.campusInFlight = true

	s.background(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, backgroundTimeout)
		defer cancel()

		campus, err := s.backend.EstablishCampus(ctx, sample)
		s.post(func() {
			s.campusInFlight = false
			if err != nil {
				s.networkFailure("campus setup", err)
				return
			}
			if campus != nil {
				s.installCampus(*campus)
				s.publish()
			}
		})
	})
}

func (s *Session) installCampus(c model.Campus) {
	if err := s.zones.SetCampus(c); err != nil {
		if !errors.Is(err, tracking.ErrCampusAlreadySet) {
			s.logger.Warn("campus not installed", "error", err)
		}
		return
	}
	s.logger.Info("campus established", "zones", len(c.Zones))
}

func (s *Session) postNotice(kind model.AlertKind, message string) {
	n := s.notices.Post(kind, message)
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(&model.WSEvent{Type: model.WSEventNotice, Payload: n})
	}
}

// publish re-renders the map and pushes a fresh snapshot to the dashboard.
func (s *Session) publish() {
	frame := mapview.Frame{
		Records:     s.store.All(),
		Highlighted: s.zones.Highlighted(),
	}
	if c, ok := s.zones.Campus(); ok {
		frame.Campus = &c
	}
	s.mapview.Render(frame)
	s.metrics.SetTrackedDevices(len(frame.Records))

	if s.broadcaster != nil {
		s.broadcaster.Broadcast(&model.WSEvent{Type: model.WSEventSnapshot, Payload: s.Snapshot()})
	}
}
