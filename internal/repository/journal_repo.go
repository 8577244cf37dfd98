package repository

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/quocanhngo/fleetwatch/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JournalRepository persists the validation counters and alert log of a
// login session
type JournalRepository struct {
	db *gorm.DB
}

func NewJournalRepository(db *gorm.DB) *JournalRepository {
	return &JournalRepository{db: db}
}

// AutoMigrate creates the journal tables (used for sqlite; postgres goes
// through the SQL migrations)
func (r *JournalRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&model.SessionStatsRow{}, &model.AlertLogRow{})
}

// LoadStats returns the stored counters of a session. found is false when
// the session has no row yet.
func (r *JournalRepository) LoadStats(sessionKey uuid.UUID) (stats model.ValidationStats, found bool, err error) {
	var row model.SessionStatsRow
	err = r.db.Where("session_key = ?", sessionKey).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.ValidationStats{}, false, nil
	}
	if err != nil {
		return model.ValidationStats{}, false, err
	}
	return model.ValidationStats{
		Accepted:    row.Accepted,
		Constrained: row.Constrained,
		Rejected:    row.Rejected,
	}, true, nil
}

// SaveStats upserts the counters of a session
func (r *JournalRepository) SaveStats(sessionKey uuid.UUID, account string, stats model.ValidationStats) error {
	row := model.SessionStatsRow{
		SessionKey:  sessionKey,
		Account:     account,
		Accepted:    stats.Accepted,
		Constrained: stats.Constrained,
		Rejected:    stats.Rejected,
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"accepted", "constrained", "rejected", "updated_at"}),
	}).Create(&row).Error
}

// AppendAlert records one alert in the session's log
func (r *JournalRepository) AppendAlert(sessionKey uuid.UUID, alert model.AlertEvent) error {
	row := model.AlertLogRow{
		ID:         alert.ID,
		SessionKey: sessionKey,
		Kind:       string(alert.Kind),
		Title:      alert.Title,
		Message:    alert.Message,
		OccurredAt: alert.Timestamp,
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.OccurredAt.IsZero() {
		row.OccurredAt = time.Now()
	}
	if len(alert.Detail) > 0 {
		raw, err := json.Marshal(alert.Detail)
		if err != nil {
			return err
		}
		row.Detail = string(raw)
	}
	return r.db.Create(&row).Error
}

// DismissAlert marks an alert as dismissed by the operator. The row stays in
// the log but is no longer restored.
func (r *JournalRepository) DismissAlert(sessionKey uuid.UUID, alertID uuid.UUID) error {
	return r.db.Model(&model.AlertLogRow{}).
		Where("id = ? AND session_key = ? AND dismissed_at IS NULL", alertID, sessionKey).
		Update("dismissed_at", time.Now()).Error
}

// RecentAlerts returns up to limit undismissed alerts of a session, newest first
func (r *JournalRepository) RecentAlerts(sessionKey uuid.UUID, limit int) ([]model.AlertEvent, error) {
	var rows []model.AlertLogRow
	err := r.db.
		Where("session_key = ? AND dismissed_at IS NULL", sessionKey).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	alerts := make([]model.AlertEvent, 0, len(rows))
	for _, row := range rows {
		a := model.AlertEvent{
			ID:        row.ID,
			Kind:      model.AlertKind(row.Kind),
			Title:     row.Title,
			Message:   row.Message,
			Timestamp: row.OccurredAt,
		}
		if row.Detail != "" {
			_ = json.Unmarshal([]byte(row.Detail), &a.Detail)
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// PurgeBefore deletes alert log rows older than cutoff (housekeeping)
func (r *JournalRepository) PurgeBefore(cutoff time.Time) (int64, error) {
	res := r.db.Where("occurred_at < ?", cutoff).Delete(&model.AlertLogRow{})
	return res.RowsAffected, res.Error
}
