package tracking

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/quocanhngo/fleetwatch/internal/model"
)

// ErrUnrecognizedReason is returned for a reason code that maps to no counter.
var ErrUnrecognizedReason = errors.New("unrecognized validation reason")

// ValidationStatsAggregator counts update outcomes. Counters only grow.
type ValidationStatsAggregator struct {
	mu     sync.RWMutex
	stats  model.ValidationStats
	logger *slog.Logger
}

// NewValidationStatsAggregator starts from initial, which is non-zero only
// when a session is resumed from its journal.
func NewValidationStatsAggregator(logger *slog.Logger, initial model.ValidationStats) *ValidationStatsAggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ValidationStatsAggregator{
		stats:  initial,
		logger: logger.With("component", "validation_stats"),
	}
}

// Record counts one accepted or constrained update by its reason code.
// Unknown codes are logged and counted nowhere.
func (v *ValidationStatsAggregator) Record(reason string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch reason {
	case model.ReasonHighAccuracyAccepted, model.ReasonMediumAccuracyAccepted:
		v.stats.Accepted++
	case model.ReasonConstrainedToRadius:
		v.stats.Constrained++
	default:
		v.logger.Warn("unrecognized validation reason", "reason", reason)
		return ErrUnrecognizedReason
	}
	return nil
}

// RecordRejection counts one rejection event, whatever its reason.
func (v *ValidationStatsAggregator) RecordRejection() {
	v.mu.Lock()
	v.stats.Rejected++
	v.mu.Unlock()
}

// Snapshot returns the current counters.
func (v *ValidationStatsAggregator) Snapshot() model.ValidationStats {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.stats
}
