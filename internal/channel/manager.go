package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quocanhngo/fleetwatch/internal/model"
	"github.com/quocanhngo/fleetwatch/internal/telemetry"
	"github.com/quocanhngo/fleetwatch/pkg/auth"
)

const (
	DefaultMaxRetries       = 5
	DefaultRetryInterval    = time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

// Config bounds dialing and automatic reconnection.
type Config struct {
	MaxRetries       int
	RetryInterval    time.Duration
	HandshakeTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return c
}

// Manager owns the single push channel of a session.
//
// Every connection attempt gets a generation number. Disconnect and a new
// Connect bump it, and anything a stale generation tries to emit is dropped,
// which is how events are guaranteed to stop once Disconnect returns.
type Manager struct {
	transport Transport
	sink      EventSink
	cfg       Config
	metrics   *telemetry.Metrics
	logger    *slog.Logger

	mu     sync.Mutex
	state  model.ConnectionState
	conn   Conn
	cred   auth.Credential
	gen    uint64
	cancel context.CancelFunc
	wg     sync.WaitGroup

	emitMu sync.Mutex
}

// NewManager creates a disconnected manager.
func NewManager(transport Transport, sink EventSink, cfg Config, metrics *telemetry.Metrics, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		transport: transport,
		sink:      sink,
		cfg:       cfg.withDefaults(),
		metrics:   metrics,
		logger:    logger.With("component", "channel"),
		state:     model.ConnDisconnected,
	}
	metrics.SetChannelState(model.ConnDisconnected)
	return m
}

// State returns the current connection state.
func (m *Manager) State() model.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether a live channel is established.
func (m *Manager) IsConnected() bool {
	return m.State() == model.ConnConnected
}

// Connect tears down any existing channel and dials a new one for cred. It
// returns once the channel is connected and join_room has been sent, or the
// attempt failed, in which case the state is error and no retry is scheduled.
func (m *Manager) Connect(ctx context.Context, cred auth.Credential) error {
	m.Disconnect()

	m.mu.Lock()
	m.gen++
	gen := m.gen
	// a concurrent Connect may have installed a channel since Disconnect
	if m.cancel != nil {
		m.cancel()
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.cred = cred
	m.mu.Unlock()

	m.transition(gen, model.ConnConnecting)

	conn, err := m.establish(ctx, gen, cred)
	if err != nil {
		m.logger.Error("channel connect failed", "account", cred.Account, "error", err)
		m.transition(gen, model.ConnError)
		return fmt.Errorf("%w: %v", ErrChannel, err)
	}

	// Add under mu so it cannot interleave with the Wait of a Disconnect
	// that has already bumped the generation.
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		conn.Close()
		return fmt.Errorf("%w: %v", ErrChannel, context.Canceled)
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(runCtx, gen, conn)
	return nil
}

// establish dials, announces join_room and installs conn as the live
// connection of gen.
func (m *Manager) establish(ctx context.Context, gen uint64, cred auth.Credential) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	defer cancel()

	conn, err := m.transport.Dial(dialCtx, cred)
	if err != nil {
		return nil, err
	}

	join, err := model.EncodeEnvelope(model.EventJoinRoom, model.JoinRoom{AccountIdentifier: cred.Account})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.WriteFrame(join); err != nil {
		conn.Close()
		return nil, fmt.Errorf("announce join_room: %w", err)
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		conn.Close()
		return nil, context.Canceled
	}
	m.conn = conn
	m.mu.Unlock()

	m.logger.Info("channel connected", "account", cred.Account)
	m.transition(gen, model.ConnConnected)
	return conn, nil
}

// run reads frames until the connection drops, then runs the reconnect
// policy and keeps reading from the replacement connection.
func (m *Manager) run(ctx context.Context, gen uint64, conn Conn) {
	defer m.wg.Done()

	for {
		m.readLoop(gen, conn)
		if ctx.Err() != nil || !m.current(gen) {
			return
		}

		m.logger.Warn("channel closed unexpectedly")
		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
		}
		m.mu.Unlock()

		next, ok := m.reconnect(ctx, gen)
		if !ok {
			return
		}
		conn = next
	}
}

func (m *Manager) readLoop(gen uint64, conn Conn) {
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			m.logger.Debug("channel read ended", "error", err)
			return
		}
		ev, err := model.DecodeEvent(frame)
		if err != nil {
			m.metrics.IncInvalidFrame()
			m.logger.Warn("dropping push frame", "error", err)
			continue
		}
		m.metrics.IncEvent(ev.EventType())
		m.dispatch(gen, ev)
	}
}

// reconnect makes at most MaxRetries attempts spaced RetryInterval apart.
// Exhausting the budget leaves the state at error.
func (m *Manager) reconnect(ctx context.Context, gen uint64) (Conn, bool) {
	m.transition(gen, model.ConnReconnecting)

	m.mu.Lock()
	cred := m.cred
	m.mu.Unlock()

	timer := time.NewTimer(m.cfg.RetryInterval)
	defer timer.Stop()

	for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, false
		case <-timer.C:
		}

		m.metrics.IncReconnect()
		conn, err := m.establish(ctx, gen, cred)
		if err == nil {
			m.logger.Info("channel reconnected", "attempt", attempt)
			return conn, true
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil, false
		}
		m.logger.Warn("channel reconnect failed", "attempt", attempt, "max", m.cfg.MaxRetries, "error", err)
		timer.Reset(m.cfg.RetryInterval)
	}

	m.logger.Error("channel reconnect budget exhausted", "attempts", m.cfg.MaxRetries)
	m.transition(gen, model.ConnError)
	return nil, false
}

// Disconnect closes the channel and stops any reconnect in progress. No sink
// call happens after it returns, apart from the disconnected state change it
// emits itself. Calling it while disconnected is a no-op.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.cancel == nil && m.state == model.ConnDisconnected {
		m.mu.Unlock()
		return
	}
	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.state = model.ConnDisconnected
	m.mu.Unlock()

	// Wait out an emission that passed its generation check before the bump.
	m.emitMu.Lock()
	m.emitMu.Unlock()

	m.wg.Wait()

	m.metrics.SetChannelState(model.ConnDisconnected)
	m.emitMu.Lock()
	m.sink.OnStateChange(model.ConnDisconnected)
	m.emitMu.Unlock()
	m.logger.Info("channel disconnected")
}

// SendSample publishes one position sample on the live channel.
func (m *Manager) SendSample(sample model.PositionSample) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == model.ConnConnected
	m.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	frame, err := model.EncodeEnvelope(model.EventPositionSample, sample)
	if err != nil {
		return err
	}
	if err := conn.WriteFrame(frame); err != nil {
		return fmt.Errorf("%w: %v", ErrChannel, err)
	}
	return nil
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

// transition records state for gen and notifies the sink. Stale generations
// are ignored.
func (m *Manager) transition(gen uint64, state model.ConnectionState) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.state = state
	m.mu.Unlock()

	m.metrics.SetChannelState(state)
	m.sink.OnStateChange(state)
}

func (m *Manager) dispatch(gen uint64, ev model.InboundEvent) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	if !m.current(gen) {
		return
	}
	switch e := ev.(type) {
	case model.LocationUpdate:
		m.sink.OnLocationUpdate(e)
	case model.LocationRejected:
		m.sink.OnLocationRejected(e)
	case model.AnomalyAlert:
		m.sink.OnAnomalyAlert(e)
	case model.TrainingUpdate:
		m.sink.OnTrainingStatus(e)
	case model.JoinConfirmation:
		m.sink.OnJoinConfirmation(e)
	}
}
