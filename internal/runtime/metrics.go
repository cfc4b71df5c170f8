package runtime

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Bootstrap outcomes recorded by Metrics.
const (
	OutcomeNoop          = "noop"
	OutcomeSuccess       = "success"
	OutcomeConfigError   = "config_error"
	OutcomeSessionError  = "session_error"
	OutcomeRaceDiscarded = "race_discarded"
)

// Metrics tracks connection lifecycle statistics. A nil *Metrics records
// nothing.
type Metrics struct {
	mu sync.Mutex

	outcomes           map[string]uint64
	disconnectFailures uint64

	bootstrapsTotal      *prometheus.CounterVec
	disconnectsTotal     *prometheus.CounterVec
	disconnectFailsTotal *prometheus.CounterVec
	activeConnections    prometheus.Gauge
	connectSeconds       *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

// MetricsSnapshot is a point-in-time view of the counters.
type MetricsSnapshot struct {
	Outcomes           map[string]uint64 `json:"outcomes"`
	DisconnectFailures uint64            `json:"disconnect_failures"`
	CollectedAt        time.Time         `json:"collected_at"`
}

// NewMetrics creates the collectors. A nil registerer means the prometheus
// default registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		outcomes:   make(map[string]uint64),
		registerer: registerer,
		bootstrapsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "srfbus",
			Name:      "bootstraps_total",
			Help:      "Bootstrap calls by transport and outcome",
		}, []string{"transport", "outcome"}),
		disconnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "srfbus",
			Name:      "disconnects_total",
			Help:      "Connections torn down by transport",
		}, []string{"transport"}),
		disconnectFailsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "srfbus",
			Name:      "disconnect_failures_total",
			Help:      "Disconnects that reported an error",
		}, []string{"transport"}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "srfbus",
			Name:      "active_connections",
			Help:      "Connections currently registered",
		}),
		connectSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "srfbus",
			Name:      "connect_duration_seconds",
			Help:      "Time spent connecting and authenticating",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"transport"}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.bootstrapsTotal,
		m.disconnectsTotal,
		m.disconnectFailsTotal,
		m.activeConnections,
		m.connectSeconds,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordBootstrap counts one Bootstrap call.
func (m *Metrics) RecordBootstrap(transportName, outcome string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.outcomes[outcome]++
	m.mu.Unlock()
	m.bootstrapsTotal.WithLabelValues(transportName, outcome).Inc()
}

// ObserveConnect records how long a successful Connect took.
func (m *Metrics) ObserveConnect(transportName string, d time.Duration) {
	if m == nil {
		return
	}
	m.connectSeconds.WithLabelValues(transportName).Observe(d.Seconds())
}

// RecordDisconnect counts a teardown and whether it failed.
func (m *Metrics) RecordDisconnect(transportName string, err error) {
	if m == nil {
		return
	}
	m.disconnectsTotal.WithLabelValues(transportName).Inc()
	if err == nil {
		return
	}
	m.mu.Lock()
	m.disconnectFailures++
	m.mu.Unlock()
	m.disconnectFailsTotal.WithLabelValues(transportName).Inc()
}

// SetActive publishes the current registry size.
func (m *Metrics) SetActive(n int) {
	if m == nil {
		return
	}
	m.activeConnections.Set(float64(n))
}

// Snapshot returns a copy of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{Outcomes: make(map[string]uint64), CollectedAt: time.Now()}
	if m == nil {
		return snap
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.outcomes {
		snap.Outcomes[k] = v
	}
	snap.DisconnectFailures = m.disconnectFailures
	return snap
}

// Reset clears all counters (useful for testing).
func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = make(map[string]uint64)
	m.disconnectFailures = 0
	m.bootstrapsTotal.Reset()
	m.disconnectsTotal.Reset()
	m.disconnectFailsTotal.Reset()
	m.activeConnections.Set(0)
	m.connectSeconds.Reset()
}
