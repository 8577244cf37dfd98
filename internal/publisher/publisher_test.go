package publisher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/quocanhngo/fleetwatch/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSink struct {
	connected atomic.Bool
	mu        sync.Mutex
	sent      []model.PositionSample
}

func (s *fakeSink) IsConnected() bool { return s.connected.Load() }

func (s *fakeSink) SendSample(sample model.PositionSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sample)
	return nil
}

func (s *fakeSink) Sent() []model.PositionSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.PositionSample(nil), s.sent...)
}

type fakeObserver struct {
	mu      sync.Mutex
	states  []model.TrackingState
	samples int
}

func (o *fakeObserver) OnTrackingState(st model.TrackingState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, st)
}

func (o *fakeObserver) OnSample(model.PositionSample) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.samples++
}

func (o *fakeObserver) Samples() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.samples
}

// countingSource emits on every tick and counts concurrent watchers.
type countingSource struct {
	watchers atomic.Int32
	peak     atomic.Int32
	fail     chan error
}

func (s *countingSource) Watch(ctx context.Context, emit func(model.PositionSample)) error {
	n := s.watchers.Add(1)
	defer s.watchers.Add(-1)
	if n > s.peak.Load() {
		s.peak.Store(n)
	}

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-s.fail:
			return err
		case <-ticker.C:
			emit(model.PositionSample{Latitude: 1, Longitude: 2, Accuracy: 3, Timestamp: time.Now()})
		}
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStartTwiceRunsOneStream(t *testing.T) {
	src := &countingSource{fail: make(chan error)}
	sink := &fakeSink{}
	sink.connected.Store(true)
	obs := &fakeObserver{}
	p := New(src, sink, obs, "host-1", nil, quietLogger())

	require.NoError(t, p.Start())
	require.NoError(t, p.Start())
	assert.Equal(t, model.TrackingActive, p.State())

	require.Eventually(t, func() bool { return len(sink.Sent()) >= 3 }, time.Second, time.Millisecond)
	assert.EqualValues(t, 1, src.peak.Load())
	assert.Equal(t, "host-1", sink.Sent()[0].DeviceID)

	p.Stop()
	assert.Equal(t, model.TrackingInactive, p.State())
	assert.EqualValues(t, 0, src.watchers.Load())
}

func TestSamplesDroppedWhileDisconnected(t *testing.T) {
	src := &countingSource{fail: make(chan error)}
	sink := &fakeSink{}
	obs := &fakeObserver{}
	p := New(src, sink, obs, "host-1", nil, quietLogger())

	require.NoError(t, p.Start())
	require.Eventually(t, func() bool { return obs.Samples() >= 3 }, time.Second, time.Millisecond)
	assert.Empty(t, sink.Sent())

	sink.connected.Store(true)
	require.Eventually(t, func() bool { return len(sink.Sent()) > 0 }, time.Second, time.Millisecond)
	p.Stop()
}

func TestNoSourceIsUnsupported(t *testing.T) {
	obs := &fakeObserver{}
	p := New(nil, &fakeSink{}, obs, "host-1", nil, quietLogger())

	err := p.Start()
	assert.ErrorIs(t, err, ErrUnsupportedCapability)
	assert.Equal(t, model.TrackingError, p.State())
	assert.Equal(t, []model.TrackingState{model.TrackingError}, obs.states)
	p.Stop()
}

func TestSourceFailureStopsWithoutRestart(t *testing.T) {
	src := &countingSource{fail: make(chan error, 1)}
	obs := &fakeObserver{}
	p := New(src, &fakeSink{}, obs, "host-1", nil, quietLogger())

	require.NoError(t, p.Start())
	src.fail <- errors.New("permission denied")

	require.Eventually(t, func() bool { return p.State() == model.TrackingError }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 0, src.watchers.Load())

	// a new Start is allowed after a failure
	require.NoError(t, p.Start())
	assert.Equal(t, model.TrackingActive, p.State())
	p.Stop()
}

func TestStopIsIdempotent(t *testing.T) {
	src := &countingSource{fail: make(chan error)}
	obs := &fakeObserver{}
	p := New(src, &fakeSink{}, obs, "host-1", nil, quietLogger())

	p.Stop()
	require.NoError(t, p.Start())
	p.Stop()
	p.Stop()

	assert.Equal(t, []model.TrackingState{model.TrackingActive, model.TrackingInactive}, obs.states)
}

func TestReplaySourceFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "track.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
interval: 1ms
loop: false
points:
  - {lat: 48.1, lon: 11.5, accuracy: 8}
  - {lat: 48.2, lon: 11.6, accuracy: 12}
`), 0o600))

	track, err := LoadTrack(path)
	require.NoError(t, err)
	assert.Equal(t, time.Millisecond, track.Interval)

	var got []model.PositionSample
	err = NewReplaySource(track).Watch(context.Background(), func(s model.PositionSample) {
		got = append(got, s)
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 48.2, got[1].Latitude)
	assert.Equal(t, 12.0, got[1].Accuracy)
}

func TestLoadTrackRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("points: []\n"), 0o600))

	_, err := LoadTrack(path)
	assert.ErrorIs(t, err, ErrEmptyTrack)
}

func TestStaticSourceStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := NewStaticSource(1, 2, 10, time.Millisecond)

	var n atomic.Int32
	done := make(chan error)
	go func() {
		done <- src.Watch(ctx, func(model.PositionSample) { n.Add(1) })
	}()
	require.Eventually(t, func() bool { return n.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
