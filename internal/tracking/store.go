// Package tracking holds the domain state of one account session: the
// canonical per-device locations and the aggregates derived from push events.
package tracking

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/quocanhngo/fleetwatch/internal/model"
)

// ErrUnknownDevice is returned for a delta naming a device that is neither
// stored nor listed in the roster.
var ErrUnknownDevice = errors.New("unknown device")

// LocationStore maps device_id to its single live LocationRecord.
//
// All writers (baseline load, delta handler, roster reconciliation) go
// through the methods below; readers get copies, so a reader never sees a
// record in the middle of an update.
type LocationStore struct {
	mu      sync.RWMutex
	records map[string]model.LocationRecord
	order   []string // first-appearance order of records
	roster  map[string]model.Device
	devices []string // roster order

	now    func() time.Time
	logger *slog.Logger
}

// NewLocationStore creates an empty store.
func NewLocationStore(logger *slog.Logger) *LocationStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocationStore{
		records: make(map[string]model.LocationRecord),
		roster:  make(map[string]model.Device),
		now:     time.Now,
		logger:  logger.With("component", "location_store"),
	}
}

// SetClock overrides the arrival clock. Intended for tests.
func (s *LocationStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// SetRoster installs device metadata without removing any record.
func (s *LocationStore) SetRoster(devices []model.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setRosterLocked(devices)
}

func (s *LocationStore) setRosterLocked(devices []model.Device) {
	s.roster = make(map[string]model.Device, len(devices))
	s.devices = s.devices[:0]
	for _, d := range devices {
		if _, dup := s.roster[d.DeviceID]; dup {
			continue
		}
		s.roster[d.DeviceID] = d
		s.devices = append(s.devices, d.DeviceID)
	}
}

// ApplyBaseline replaces the whole store with records, keeping their order.
// A duplicate device_id keeps the later entry in the position of the first.
func (s *LocationStore) ApplyBaseline(records []model.LocationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.records = make(map[string]model.LocationRecord, len(records))
	s.order = s.order[:0]
	for _, rec := range records {
		if rec.DeviceID == "" {
			s.logger.Warn("baseline record without device id dropped")
			continue
		}
		if dev, ok := s.roster[rec.DeviceID]; ok {
			if rec.DeviceName == "" {
				rec.DeviceName = dev.DeviceName
			}
			if rec.OS == "" {
				rec.OS = dev.OS
			}
		}
		if model.IsOutsideZone(rec.CurrentZone) {
			rec.CurrentZone = model.ZoneOutside
		}
		rec.ReceivedAt = now
		if _, seen := s.records[rec.DeviceID]; !seen {
			s.order = append(s.order, rec.DeviceID)
		}
		s.records[rec.DeviceID] = rec
	}
	s.logger.Info("baseline applied", "records", len(s.records))
}

// ApplyDelta merges one update. An existing record is overwritten in place
// for the fields present in d; an absent record is synthesized from roster
// metadata. Deltas never remove records.
func (s *LocationStore) ApplyDelta(d model.LocationDelta) (model.LocationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[d.DeviceID]
	if !ok {
		dev, known := s.roster[d.DeviceID]
		if !known {
			return model.LocationRecord{}, ErrUnknownDevice
		}
		rec = model.LocationRecord{
			DeviceID:    dev.DeviceID,
			DeviceName:  dev.DeviceName,
			OS:          dev.OS,
			IsOnline:    true,
			CurrentZone: model.ZoneOutside,
		}
		s.order = append(s.order, d.DeviceID)
		s.logger.Debug("record synthesized from roster", "device_id", d.DeviceID)
	}

	rec = d.Apply(rec)
	rec.ReceivedAt = s.now()
	s.records[d.DeviceID] = rec
	return rec, nil
}

// Remove deletes a record. It is reached only through roster reconciliation.
func (s *LocationStore) Remove(deviceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(deviceID)
}

func (s *LocationStore) removeLocked(deviceID string) bool {
	if _, ok := s.records[deviceID]; !ok {
		return false
	}
	delete(s.records, deviceID)
	for i, id := range s.order {
		if id == deviceID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// ReconcileRoster installs a fresh roster and removes every record whose
// device is no longer listed. It returns the removed device ids.
func (s *LocationStore) ReconcileRoster(devices []model.Device) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setRosterLocked(devices)

	var removed []string
	for _, id := range append([]string(nil), s.order...) {
		if _, listed := s.roster[id]; listed {
			continue
		}
		s.removeLocked(id)
		removed = append(removed, id)
	}
	for id, rec := range s.records {
		dev := s.roster[id]
		if dev.DeviceName != "" {
			rec.DeviceName = dev.DeviceName
		}
		if dev.OS != "" {
			rec.OS = dev.OS
		}
		s.records[id] = rec
	}
	if len(removed) > 0 {
		s.logger.Info("roster shrank", "removed", removed)
	}
	return removed
}

// MarkStale flips is_online to false for records whose last arrival is
// before cutoff. It returns the affected device ids.
func (s *LocationStore) MarkStale(cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []string
	for _, id := range s.order {
		rec := s.records[id]
		if rec.IsOnline && rec.ReceivedAt.Before(cutoff) {
			rec.IsOnline = false
			s.records[id] = rec
			stale = append(stale, id)
		}
	}
	return stale
}

// All returns the records in first-appearance order.
func (s *LocationStore) All() []model.LocationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.LocationRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out
}

// Get returns one record.
func (s *LocationStore) Get(deviceID string) (model.LocationRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[deviceID]
	return rec, ok
}

// Len returns the number of records.
func (s *LocationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Roster returns the known devices in roster order.
func (s *LocationStore) Roster() []model.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Device, 0, len(s.devices))
	for _, id := range s.devices {
		out = append(out, s.roster[id])
	}
	return out
}
