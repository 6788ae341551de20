package monitor

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for the monitoring loop.
var (
	checksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brokerpulse_health_checks_total",
			Help: "Total number of credential health checks by outcome.",
		},
		[]string{"outcome"},
	)
	checkDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "brokerpulse_health_check_duration_seconds",
			Help:    "Credential health check duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
	monitoredUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "brokerpulse_monitored_users",
			Help: "Number of users with an active monitoring session.",
		},
	)
	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brokerpulse_alerts_total",
			Help: "Total number of alerts raised by kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(checksTotal)
	prometheus.MustRegister(checkDuration)
	prometheus.MustRegister(monitoredUsers)
	prometheus.MustRegister(alertsTotal)
}
