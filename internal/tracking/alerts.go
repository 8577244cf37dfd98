package tracking

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quocanhngo/fleetwatch/internal/model"
)

// DefaultAlertCapacity bounds the alert queue. It is also the upper limit
// for any configured capacity.
const DefaultAlertCapacity = 5

// ErrAlertIndex is returned by Dismiss for an index outside the current view.
var ErrAlertIndex = errors.New("alert index out of range")

// AlertAggregator keeps the most recent alerts, newest first.
type AlertAggregator struct {
	mu       sync.RWMutex
	capacity int
	items    []model.AlertEvent
}

// NewAlertAggregator keeps at most capacity alerts, clamped to
// 1..DefaultAlertCapacity. Zero or less selects the default.
func NewAlertAggregator(capacity int) *AlertAggregator {
	if capacity <= 0 || capacity > DefaultAlertCapacity {
		capacity = DefaultAlertCapacity
	}
	return &AlertAggregator{capacity: capacity}
}

// Push prepends e and evicts the oldest entries beyond capacity. A missing
// id or timestamp is filled in.
func (a *AlertAggregator) Push(e model.AlertEvent) model.AlertEvent {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	items := make([]model.AlertEvent, 0, a.capacity)
	items = append(items, e)
	for _, old := range a.items {
		if len(items) == a.capacity {
			break
		}
		items = append(items, old)
	}
	a.items = items
	return e
}

// Dismiss removes the entry at index of the current newest-first view.
func (a *AlertAggregator) Dismiss(index int) (model.AlertEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if index < 0 || index >= len(a.items) {
		return model.AlertEvent{}, fmt.Errorf("%w: %d (have %d)", ErrAlertIndex, index, len(a.items))
	}
	removed := a.items[index]
	a.items = append(a.items[:index:index], a.items[index+1:]...)
	return removed, nil
}

// All returns the alerts newest first.
func (a *AlertAggregator) All() []model.AlertEvent {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]model.AlertEvent(nil), a.items...)
}

func (a *AlertAggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.items)
}
