// Package publisher streams this host's own position over the push channel.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/quocanhngo/fleetwatch/internal/model"
	"github.com/quocanhngo/fleetwatch/internal/telemetry"
)

// ErrUnsupportedCapability is returned by Start when no position source is
// available on this host.
var ErrUnsupportedCapability = errors.New("position capability unavailable")

// Sink accepts samples for upstream delivery.
type Sink interface {
	IsConnected() bool
	SendSample(model.PositionSample) error
}

// Observer is told about tracking state changes and sees every fix, whether
// or not it could be delivered.
type Observer interface {
	OnTrackingState(model.TrackingState)
	OnSample(model.PositionSample)
}

// Publisher runs at most one position stream at a time.
type Publisher struct {
	source   Source
	sink     Sink
	observer Observer
	deviceID string
	metrics  *telemetry.Metrics
	logger   *slog.Logger

	mu     sync.Mutex
	state  model.TrackingState
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an inactive publisher. source may be nil when the host has no
// position capability.
func New(source Source, sink Sink, observer Observer, deviceID string, metrics *telemetry.Metrics, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		source:   source,
		sink:     sink,
		observer: observer,
		deviceID: deviceID,
		metrics:  metrics,
		logger:   logger.With("component", "publisher"),
		state:    model.TrackingInactive,
	}
}

// State returns the tracking state.
func (p *Publisher) State() model.TrackingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start begins streaming. A second Start while a stream runs is a no-op.
func (p *Publisher) Start() error {
	p.mu.Lock()
	if p.source == nil {
		p.state = model.TrackingError
		p.mu.Unlock()
		p.logger.Warn("no position source configured")
		p.notify(model.TrackingError)
		return ErrUnsupportedCapability
	}
	if p.cancel != nil {
		p.mu.Unlock()
		p.logger.Info("tracking already active")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	p.state = model.TrackingActive
	p.mu.Unlock()

	p.logger.Info("tracking started", "device_id", p.deviceID)
	p.notify(model.TrackingActive)

	go p.run(ctx, done)
	return nil
}

func (p *Publisher) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	err := p.source.Watch(ctx, p.handle)
	if ctx.Err() != nil {
		return
	}

	next := model.TrackingInactive
	if err != nil {
		p.logger.Error("position source failed", "error", err)
		next = model.TrackingError
	} else {
		p.logger.Info("position source finished")
	}

	p.mu.Lock()
	if p.done == done {
		p.cancel()
		p.cancel = nil
		p.done = nil
		p.state = next
	}
	p.mu.Unlock()
	p.notify(next)
}

func (p *Publisher) handle(s model.PositionSample) {
	s.DeviceID = p.deviceID
	if p.observer != nil {
		p.observer.OnSample(s)
	}

	if !p.sink.IsConnected() {
		p.metrics.IncSample("dropped")
		p.logger.Debug("sample dropped, channel not connected")
		return
	}
	if err := p.sink.SendSample(s); err != nil {
		p.metrics.IncSample("failed")
		p.logger.Warn("sample send failed", "error", err)
		return
	}
	p.metrics.IncSample("sent")
}

// Stop ends the stream and waits for it to exit. It is idempotent.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if p.cancel == nil {
		p.mu.Unlock()
		return
	}
	p.cancel()
	done := p.done
	p.cancel = nil
	p.done = nil
	p.state = model.TrackingInactive
	p.mu.Unlock()

	<-done
	p.logger.Info("tracking stopped")
	p.notify(model.TrackingInactive)
}

func (p *Publisher) notify(state model.TrackingState) {
	if p.observer != nil {
		p.observer.OnTrackingState(state)
	}
}
