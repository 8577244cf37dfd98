package publisher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quocanhngo/fleetwatch/internal/model"
)

// Source produces local position fixes. Watch blocks, calling emit for each
// fix, until ctx is cancelled (returning nil) or the source fails.
type Source interface {
	Watch(ctx context.Context, emit func(model.PositionSample)) error
}

// ErrEmptyTrack is returned when a replay track has no points.
var ErrEmptyTrack = errors.New("replay track has no points")

const defaultInterval = 5 * time.Second

// StaticSource reports the same fix on a fixed interval, for hosts with a
// known installation point.
type StaticSource struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
	Interval  time.Duration

	now func() time.Time
}

func NewStaticSource(lat, lon, accuracy float64, interval time.Duration) *StaticSource {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &StaticSource{Latitude: lat, Longitude: lon, Accuracy: accuracy, Interval: interval, now: time.Now}
}

func (s *StaticSource) Watch(ctx context.Context, emit func(model.PositionSample)) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		emit(model.PositionSample{
			Latitude:  s.Latitude,
			Longitude: s.Longitude,
			Accuracy:  s.Accuracy,
			Timestamp: s.now().UTC(),
		})
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// TrackPoint is one entry of a replay track file.
type TrackPoint struct {
	Lat      float64 `yaml:"lat"`
	Lon      float64 `yaml:"lon"`
	Accuracy float64 `yaml:"accuracy"`
}

// Track is the on-disk replay format.
type Track struct {
	Interval time.Duration `yaml:"interval"`
	Loop     bool          `yaml:"loop"`
	Points   []TrackPoint  `yaml:"points"`
}

// ReplaySource plays back a recorded track.
type ReplaySource struct {
	track Track
	now   func() time.Time
}

// LoadTrack reads a YAML track file.
func LoadTrack(path string) (Track, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Track{}, fmt.Errorf("read track: %w", err)
	}
	var tr Track
	if err := yaml.Unmarshal(raw, &tr); err != nil {
		return Track{}, fmt.Errorf("parse track %s: %w", path, err)
	}
	if len(tr.Points) == 0 {
		return Track{}, ErrEmptyTrack
	}
	if tr.Interval <= 0 {
		tr.Interval = defaultInterval
	}
	return tr, nil
}

func NewReplaySource(track Track) *ReplaySource {
	if track.Interval <= 0 {
		track.Interval = defaultInterval
	}
	return &ReplaySource{track: track, now: time.Now}
}

// Watch emits the track points in order. A non-looping track returns nil
// once exhausted.
func (r *ReplaySource) Watch(ctx context.Context, emit func(model.PositionSample)) error {
	if len(r.track.Points) == 0 {
		return ErrEmptyTrack
	}

	ticker := time.NewTicker(r.track.Interval)
	defer ticker.Stop()

	for i := 0; ; i++ {
		if i == len(r.track.Points) {
			if !r.track.Loop {
				return nil
			}
			i = 0
		}
		p := r.track.Points[i]
		emit(model.PositionSample{
			Latitude:  p.Lat,
			Longitude: p.Lon,
			Accuracy:  p.Accuracy,
			Timestamp: r.now().UTC(),
		})

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
