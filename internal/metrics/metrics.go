// Package metrics exposes Prometheus instruments for the monitoring loop.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qdii_radar",
		Name:      "cycles_total",
		Help:      "Monitoring cycles by result (ok, skipped, error).",
	}, []string{"result"})

	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "qdii_radar",
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of one monitoring cycle.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	AlertsFired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qdii_radar",
		Name:      "alerts_fired_total",
		Help:      "Alerts produced by the change detector.",
	}, []string{"type"})

	AlertsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qdii_radar",
		Name:      "alerts_sent_total",
		Help:      "Alerts delivered and recorded in history.",
	}, []string{"type"})

	AlertsSuppressed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qdii_radar",
		Name:      "alerts_suppressed_total",
		Help:      "Fired alerts that were not dispatched, by reason (window, debounce).",
	}, []string{"type", "reason"})

	DeliveryFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qdii_radar",
		Name:      "delivery_failures_total",
		Help:      "Alerts no notifier channel could deliver.",
	}, []string{"type"})

	FetchErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qdii_radar",
		Name:      "fetch_errors_total",
		Help:      "Data source failures by source.",
	}, []string{"source"})

	FundsEvaluated = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "qdii_radar",
		Name:      "funds_evaluated",
		Help:      "Funds evaluated in the last cycle.",
	})

	LastCheck = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "qdii_radar",
		Name:      "last_check_timestamp_seconds",
		Help:      "Unix time of the last completed cycle.",
	})

	MonitorRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "qdii_radar",
		Name:      "monitor_running",
		Help:      "1 while the monitoring loop is running.",
	})

	StatesPruned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "qdii_radar",
		Name:      "fund_states_pruned_total",
		Help:      "Fund state rows removed by retention.",
	})
)

var registerOnce sync.Once

// Init registers all instruments with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			CyclesTotal,
			CycleDuration,
			AlertsFired,
			AlertsSent,
			AlertsSuppressed,
			DeliveryFailures,
			FetchErrors,
			FundsEvaluated,
			LastCheck,
			MonitorRunning,
			StatesPruned,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
