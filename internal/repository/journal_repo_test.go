package repository

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/quocanhngo/fleetwatch/internal/model"
)

func newTestRepo(t *testing.T) *JournalRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	repo := NewJournalRepository(db)
	require.NoError(t, repo.AutoMigrate())
	return repo
}

func TestStatsUpsert(t *testing.T) {
	repo := newTestRepo(t)
	key := uuid.New()

	_, found, err := repo.LoadStats(key)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, repo.SaveStats(key, "alice@example.com", model.ValidationStats{Accepted: 2, Rejected: 1}))
	require.NoError(t, repo.SaveStats(key, "alice@example.com", model.ValidationStats{Accepted: 5, Constrained: 1, Rejected: 1}))

	stats, found, err := repo.LoadStats(key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, model.ValidationStats{Accepted: 5, Constrained: 1, Rejected: 1}, stats)

	_, found, err = repo.LoadStats(uuid.New())
	require.NoError(t, err)
	assert.False(t, found, "a different session starts fresh")
}

func TestAlertLog(t *testing.T) {
	repo := newTestRepo(t)
	key := uuid.New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		require.NoError(t, repo.AppendAlert(key, model.AlertEvent{
			ID:        uuid.New(),
			Kind:      model.AlertDanger,
			Title:     "Unusual Device Behavior Detected",
			Message:   "m",
			Detail:    map[string]any{"distance": float64(i)},
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, repo.AppendAlert(uuid.New(), model.AlertEvent{Kind: model.AlertInfo, Timestamp: base}))

	alerts, err := repo.RecentAlerts(key, 3)
	require.NoError(t, err)
	require.Len(t, alerts, 3)
	assert.Equal(t, 3.0, alerts[0].Detail["distance"])
	assert.Equal(t, 1.0, alerts[2].Detail["distance"])
	assert.Equal(t, model.AlertDanger, alerts[0].Kind)

	n, err := repo.PurgeBefore(base.Add(90 * time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestDismissedAlertsAreNotRestored(t *testing.T) {
	repo := newTestRepo(t)
	key := uuid.New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ids := make([]uuid.UUID, 3)
	for i := range ids {
		ids[i] = uuid.New()
		require.NoError(t, repo.AppendAlert(key, model.AlertEvent{
			ID:        ids[i],
			Kind:      model.AlertInfo,
			Title:     "alert",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	require.NoError(t, repo.DismissAlert(key, ids[1]))
	require.NoError(t, repo.DismissAlert(uuid.New(), ids[2]), "other session: no-op")

	alerts, err := repo.RecentAlerts(key, 5)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, ids[2], alerts[0].ID)
	assert.Equal(t, ids[0], alerts[1].ID)
}
