package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatsRow persists the validation counters of one login session.
type SessionStatsRow struct {
	SessionKey  uuid.UUID `json:"session_key" gorm:"type:uuid;primaryKey"`
	Account     string    `json:"account" gorm:"size:255;index;not null"`
	Accepted    uint64    `json:"accepted" gorm:"not null;default:0"`
	Constrained uint64    `json:"constrained" gorm:"not null;default:0"`
	Rejected    uint64    `json:"rejected" gorm:"not null;default:0"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (SessionStatsRow) TableName() string { return "session_stats" }

// AlertLogRow is the durable audit trail of alerts raised during a session.
type AlertLogRow struct {
	ID          uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	SessionKey  uuid.UUID  `json:"session_key" gorm:"type:uuid;index;not null"`
	Kind        string     `json:"kind" gorm:"size:20;not null"`
	Title       string     `json:"title" gorm:"size:255"`
	Message     string     `json:"message" gorm:"type:text"`
	Detail      string     `json:"detail,omitempty" gorm:"type:text"`
	OccurredAt  time.Time  `json:"occurred_at" gorm:"index;not null"`
	DismissedAt *time.Time `json:"dismissed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (AlertLogRow) TableName() string { return "alert_logs" }
