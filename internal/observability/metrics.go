package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// alert engine.
type Metrics struct {
	PollCycles   *prometheus.CounterVec // labels: outcome={ok,error}
	PollDuration prometheus.Histogram

	AlertsCreated   prometheus.Counter
	AlertsDuplicate prometheus.Counter
	AlertsExpired   prometheus.Counter

	// Deliveries counts notification attempts by channel type and outcome.
	Deliveries *prometheus.CounterVec // labels: channel_type, status={sent,failed}

	EngineRunning      prometheus.Gauge
	TrialNotifications prometheus.Counter
}

// NewMetrics creates and registers all engine metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		PollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bmkg_alert",
			Name:      "poll_cycles_total",
			Help:      "Completed poll cycles by outcome.",
		}, []string{"outcome"}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bmkg_alert",
			Name:      "poll_duration_seconds",
			Help:      "Duration of a complete fetch-match-dispatch cycle.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		AlertsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bmkg_alert",
			Name:      "alerts_created_total",
			Help:      "New alerts recorded after dedup.",
		}),
		AlertsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bmkg_alert",
			Name:      "alerts_duplicate_total",
			Help:      "Warning/location pairs skipped as already recorded.",
		}),
		AlertsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bmkg_alert",
			Name:      "alerts_expired_total",
			Help:      "Alerts transitioned from active to expired.",
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bmkg_alert",
			Name:      "deliveries_total",
			Help:      "Notification attempts by channel type and outcome.",
		}, []string{"channel_type", "status"}),
		EngineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bmkg_alert",
			Name:      "engine_running",
			Help:      "1 when the poll loop is active, 0 when stopped.",
		}),
		TrialNotifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bmkg_alert",
			Name:      "trial_notifications_total",
			Help:      "Telegram messages sent to trial subscribers.",
		}),
	}

	prometheus.MustRegister(
		m.PollCycles,
		m.PollDuration,
		m.AlertsCreated,
		m.AlertsDuplicate,
		m.AlertsExpired,
		m.Deliveries,
		m.EngineRunning,
		m.TrialNotifications,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		PollCycles:         prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "bmkg_alert", Name: "poll_cycles_total"}, []string{"outcome"}),
		PollDuration:       prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "bmkg_alert", Name: "poll_duration_seconds"}),
		AlertsCreated:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: "bmkg_alert", Name: "alerts_created_total"}),
		AlertsDuplicate:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "bmkg_alert", Name: "alerts_duplicate_total"}),
		AlertsExpired:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: "bmkg_alert", Name: "alerts_expired_total"}),
		Deliveries:         prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "bmkg_alert", Name: "deliveries_total"}, []string{"channel_type", "status"}),
		EngineRunning:      prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "bmkg_alert", Name: "engine_running"}),
		TrialNotifications: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "bmkg_alert", Name: "trial_notifications_total"}),
	}
}
