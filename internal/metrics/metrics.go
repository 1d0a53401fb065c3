package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relaybridge"

// Metrics holds the relay's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	relayed           prometheus.Counter
	cycleFaults       prometheus.Counter
	scrapeTimeouts    *prometheus.CounterVec
	forwardFailures   *prometheus.CounterVec
	emergencies       prometheus.Counter
	snapshotFailures  *prometheus.CounterVec
	loopsStopped      *prometheus.CounterVec
	activeConnections prometheus.Gauge
	upgradesThrottled prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		relayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_relayed_total",
			Help:      "Messages detected on one endpoint and forwarded to its peer.",
		}),
		cycleFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_faults_total",
			Help:      "Relay cycles that ended in a fault.",
		}),
		scrapeTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scrape_timeouts_total",
			Help:      "Scrape requests that got no reply in time.",
		}, []string{"endpoint"}),
		forwardFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forward_failures_total",
			Help:      "Injection requests that were rejected or not confirmed.",
		}, []string{"endpoint"}),
		emergencies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emergencies_handled_total",
			Help:      "emergency_status reports that listed missing endpoints.",
		}),
		snapshotFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_failures_total",
			Help:      "Failed snapshot or journal writes.",
		}, []string{"kind"}),
		loopsStopped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_loops_stopped_total",
			Help:      "Relay loops that reached a terminal state.",
		}, []string{"outcome"}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Connected automation clients.",
		}),
		upgradesThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_upgrades_throttled_total",
			Help:      "Websocket upgrade attempts refused by the per-IP rate limit.",
		}),
	}

	m.Registry.MustRegister(
		m.relayed,
		m.cycleFaults,
		m.scrapeTimeouts,
		m.forwardFailures,
		m.emergencies,
		m.snapshotFailures,
		m.loopsStopped,
		m.activeConnections,
		m.upgradesThrottled,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Relayed() {
	if m != nil {
		m.relayed.Inc()
	}
}

func (m *Metrics) CycleFault() {
	if m != nil {
		m.cycleFaults.Inc()
	}
}

func (m *Metrics) ScrapeTimeout(endpoint string) {
	if m != nil {
		m.scrapeTimeouts.WithLabelValues(endpoint).Inc()
	}
}

func (m *Metrics) ForwardFailed(endpoint string) {
	if m != nil {
		m.forwardFailures.WithLabelValues(endpoint).Inc()
	}
}

func (m *Metrics) Emergency() {
	if m != nil {
		m.emergencies.Inc()
	}
}

func (m *Metrics) SnapshotFailed(kind string) {
	if m != nil {
		m.snapshotFailures.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) LoopStopped(outcome string) {
	if m != nil {
		m.loopsStopped.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) SetActiveConnections(n int) {
	if m != nil {
		m.activeConnections.Set(float64(n))
	}
}

func (m *Metrics) UpgradeThrottled() {
	if m != nil {
		m.upgradesThrottled.Inc()
	}
}
