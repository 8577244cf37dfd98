// Package telemetry exposes Prometheus metrics for the tracker agent.
package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quocanhngo/fleetwatch/internal/model"
)

var connectionStates = []model.ConnectionState{
	model.ConnDisconnected,
	model.ConnConnecting,
	model.ConnConnected,
	model.ConnReconnecting,
	model.ConnError,
}

// Metrics holds every collector the agent updates. A nil *Metrics is valid
// and records nothing, so components can be built without a registry.
type Metrics struct {
	ChannelState       *prometheus.GaugeVec   // 1 for the current state, 0 otherwise
	ReconnectAttempts  prometheus.Counter     // automatic redials
	EventsReceived     *prometheus.CounterVec // inbound events by type
	InvalidFrames      prometheus.Counter     // frames dropped at decode
	SamplesPublished   *prometheus.CounterVec // outbound samples by outcome
	ValidationOutcomes *prometheus.CounterVec // accepted, constrained, rejected
	AlertsRaised       *prometheus.CounterVec // alerts by kind
	TrackedDevices     prometheus.Gauge
	RESTRequests       *prometheus.CounterVec // backend calls by endpoint and outcome

	registry *prometheus.Registry
}

// NewMetrics creates the collectors and registers them with registry.
func NewMetrics(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register fleetwatch metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.ChannelState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetwatch_channel_state",
			Help: "Push channel connection state (1 for the current state)",
		},
		[]string{"state"},
	)
	m.ReconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleetwatch_channel_reconnect_attempts_total",
		Help: "Total number of automatic push channel reconnect attempts",
	})
	m.EventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_channel_events_total",
			Help: "Total number of inbound push events by type",
		},
		[]string{"type"},
	)
	m.InvalidFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleetwatch_channel_invalid_frames_total",
		Help: "Total number of inbound frames dropped because they failed to decode or validate",
	})
	m.SamplesPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_publisher_samples_total",
			Help: "Total number of position samples by outcome",
		},
		[]string{"outcome"}, // sent, dropped, failed
	)
	m.ValidationOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_validation_outcomes_total",
			Help: "Server-side validation outcomes for location updates",
		},
		[]string{"outcome"},
	)
	m.AlertsRaised = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_alerts_total",
			Help: "Total number of operator alerts by kind",
		},
		[]string{"kind"},
	)
	m.TrackedDevices = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleetwatch_tracked_devices",
		Help: "Number of devices currently held in the location store",
	})
	m.RESTRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_rest_requests_total",
			Help: "Total number of backend REST calls by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.ChannelState.Describe(ch)
	m.ReconnectAttempts.Describe(ch)
	m.EventsReceived.Describe(ch)
	m.InvalidFrames.Describe(ch)
	m.SamplesPublished.Describe(ch)
	m.ValidationOutcomes.Describe(ch)
	m.AlertsRaised.Describe(ch)
	m.TrackedDevices.Describe(ch)
	m.RESTRequests.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.ChannelState.Collect(ch)
	m.ReconnectAttempts.Collect(ch)
	m.EventsReceived.Collect(ch)
	m.InvalidFrames.Collect(ch)
	m.SamplesPublished.Collect(ch)
	m.ValidationOutcomes.Collect(ch)
	m.AlertsRaised.Collect(ch)
	m.TrackedDevices.Collect(ch)
	m.RESTRequests.Collect(ch)
}

// SetChannelState marks state as the current connection state.
func (m *Metrics) SetChannelState(state model.ConnectionState) {
	if m == nil {
		return
	}
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ChannelState.WithLabelValues(string(s)).Set(v)
	}
}

func (m *Metrics) IncReconnect() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

func (m *Metrics) IncEvent(t model.EventType) {
	if m == nil {
		return
	}
	m.EventsReceived.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) IncInvalidFrame() {
	if m == nil {
		return
	}
	m.InvalidFrames.Inc()
}

func (m *Metrics) IncSample(outcome string) {
	if m == nil {
		return
	}
	m.SamplesPublished.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncValidation(outcome string) {
	if m == nil {
		return
	}
	m.ValidationOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncAlert(kind model.AlertKind) {
	if m == nil {
		return
	}
	m.AlertsRaised.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) SetTrackedDevices(n int) {
	if m == nil {
		return
	}
	m.TrackedDevices.Set(float64(n))
}

func (m *Metrics) IncREST(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.RESTRequests.WithLabelValues(endpoint, outcome).Inc()
}
