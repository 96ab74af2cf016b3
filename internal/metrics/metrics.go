// Package metrics exposes the daemon's self-observability counters and
// gauges over a Prometheus registry: hotplug queue depth, device store
// sizes, helper spawn/failure counts, and rule-pass latency.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the registry and every instrument the daemon records into.
type Metrics struct {
	registry *prometheus.Registry

	UeventsReceived  *prometheus.CounterVec
	EventsDispatched prometheus.Counter
	QueueIdle        prometheus.Counter
	HelpersStarted   prometheus.Counter
	HelperFailures   *prometheus.CounterVec
	RulePassDuration *prometheus.HistogramVec
	ConditionsRaised prometheus.Counter
}

// New builds a Metrics set. The queue and store sizes are sampled lazily via
// GaugeFunc closures so there is no periodic update loop to keep in sync:
// queueDepth/inProgress/tdlLen/gdlLen are read at scrape time.
func New(queueDepth, inProgress, tdlLen, gdlLen func() int) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		UeventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hald_uevents_received_total",
			Help: "Kernel uevents received from the netlink source, by action.",
		}, []string{"action"}),
		EventsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hald_events_dispatched_total",
			Help: "Hotplug events released from the queue and dispatched.",
		}),
		QueueIdle: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hald_queue_idle_total",
			Help: "Transitions of the hotplug queue to fully idle.",
		}),
		HelpersStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hald_helpers_started_total",
			Help: "Probe helper processes spawned.",
		}),
		HelperFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hald_helper_failures_total",
			Help: "Probe helper invocations that did not succeed, by exit type.",
		}, []string{"exit_type"}),
		RulePassDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hald_rule_pass_duration_seconds",
			Help:    "Wall time spent running one FDI rule pass over one device.",
			Buckets: prometheus.DefBuckets,
		}, []string{"pass"}),
		ConditionsRaised: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hald_conditions_raised_total",
			Help: "High-level condition signals emitted (ButtonPressed, ...).",
		}),
	}

	reg.MustRegister(
		m.UeventsReceived, m.EventsDispatched, m.QueueIdle,
		m.HelpersStarted, m.HelperFailures, m.RulePassDuration,
		m.ConditionsRaised,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "hald_queue_depth",
			Help: "Hotplug events waiting in the queue.",
		}, func() float64 { return float64(queueDepth()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "hald_queue_in_progress",
			Help: "Hotplug events currently being handled.",
		}, func() float64 { return float64(inProgress()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "hald_devices_tdl",
			Help: "Devices in the temporary device list (mid-probe).",
		}, func() float64 { return float64(tdlLen()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "hald_devices_gdl",
			Help: "Devices in the global device list (published).",
		}, func() float64 { return float64(gdlLen()) }),
	)
	return m
}

// ObserveRulePass records one rule-pass run's duration.
func (m *Metrics) ObserveRulePass(pass string, d time.Duration) {
	m.RulePassDuration.WithLabelValues(pass).Observe(d.Seconds())
}

// Handler returns the HTTP handler serving the /metrics scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, used by tests to gather.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
