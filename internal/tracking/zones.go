package tracking

import (
	"errors"
	"sort"
	"sync"

	"github.com/quocanhngo/fleetwatch/internal/model"
)

// ErrCampusAlreadySet is returned when a second campus is installed.
var ErrCampusAlreadySet = errors.New("campus already established")

// ZoneOverlay holds the static campus geometry and projects, from the
// LocationStore, which zones currently hold a device.
type ZoneOverlay struct {
	mu     sync.RWMutex
	campus *model.Campus
	store  *LocationStore
}

func NewZoneOverlay(store *LocationStore) *ZoneOverlay {
	return &ZoneOverlay{store: store}
}

// SetCampus installs the geometry. The campus is immutable afterwards.
func (z *ZoneOverlay) SetCampus(c model.Campus) error {
	z.mu.Lock()
	defer z.mu.Unlock()

	if z.campus != nil {
		return ErrCampusAlreadySet
	}
	c.Zones = append([]model.Zone(nil), c.Zones...)
	z.campus = &c
	return nil
}

// Campus returns a copy of the installed campus.
func (z *ZoneOverlay) Campus() (model.Campus, bool) {
	z.mu.RLock()
	defer z.mu.RUnlock()

	if z.campus == nil {
		return model.Campus{}, false
	}
	c := *z.campus
	c.Zones = append([]model.Zone(nil), c.Zones...)
	return c, true
}

// Highlighted returns the names of zones holding at least one device,
// read from each record's server-assigned zone. Zones of the campus come
// first in layout order, unknown names follow sorted.
func (z *ZoneOverlay) Highlighted() []string {
	occupied := make(map[string]struct{})
	for _, rec := range z.store.All() {
		if model.IsOutsideZone(rec.CurrentZone) {
			continue
		}
		occupied[rec.CurrentZone] = struct{}{}
	}
	if len(occupied) == 0 {
		return nil
	}

	out := make([]string, 0, len(occupied))
	z.mu.RLock()
	if z.campus != nil {
		for _, zone := range z.campus.Zones {
			if _, ok := occupied[zone.Name]; ok {
				out = append(out, zone.Name)
				delete(occupied, zone.Name)
			}
		}
	}
	z.mu.RUnlock()

	rest := make([]string, 0, len(occupied))
	for name := range occupied {
		rest = append(rest, name)
	}
	sort.Strings(rest)
	return append(out, rest...)
}
