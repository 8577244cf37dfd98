package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quocanhngo/fleetwatch/internal/model"
	"github.com/quocanhngo/fleetwatch/pkg/storage"
)

// Report is the end-of-session summary uploaded to the archive.
type Report struct {
	SessionKey uuid.UUID              `json:"session_key"`
	Account    string                 `json:"account"`
	DeviceID   string                 `json:"device_id"`
	ClosedAt   time.Time              `json:"closed_at"`
	Stats      model.ValidationStats  `json:"stats"`
	Alerts     []model.AlertEvent     `json:"alerts"`
	Locations  []model.LocationRecord `json:"locations"`
	Campus     *model.Campus          `json:"campus,omitempty"`
}

func (s *Session) buildReport(now time.Time) Report {
	r := Report{
		SessionKey: s.sessionKey,
		Account:    s.cred.Account,
		DeviceID:   s.deviceID,
		ClosedAt:   now.UTC(),
		Stats:      s.stats.Snapshot(),
		Alerts:     s.alerts.All(),
		Locations:  s.store.All(),
	}
	if c, ok := s.zones.Campus(); ok {
		r.Campus = &c
	}
	return r
}

func reportObjectName(r Report) string {
	return fmt.Sprintf("reports/%s/%s/%s.json", r.Account, r.SessionKey, r.ClosedAt.Format("20060102T150405Z"))
}

// ErrNoArchive is returned when report archiving is not configured.
var ErrNoArchive = errors.New("report archive not configured")

// ArchiveReport uploads the current session report on demand.
func (s *Session) ArchiveReport(ctx context.Context) (*storage.UploadResult, error) {
	if s.archive == nil {
		return nil, ErrNoArchive
	}
	return s.uploadReport(ctx)
}

func (s *Session) archiveReport(ctx context.Context) error {
	if s.archive == nil {
		return nil
	}
	_, err := s.uploadReport(ctx)
	return err
}

func (s *Session) uploadReport(ctx context.Context) (*storage.UploadResult, error) {
	report := s.buildReport(time.Now())
	data, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}

	res, err := s.archive.PutJSON(ctx, reportObjectName(report), data)
	if err != nil {
		return nil, err
	}
	s.logger.Info("session report archived", "key", res.Key, "size", res.FileSize)
	return res, nil
}
