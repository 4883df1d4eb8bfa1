package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	readingsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gridsight_readings_processed_total",
		Help: "Total number of telemetry readings analyzed.",
	})
	alertsByPattern = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gridsight_alerts_total",
		Help: "Total number of alerts raised, by consumption pattern.",
	}, []string{"pattern"})
	runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gridsight_run_duration_seconds",
		Help:    "Duration of one engine batch analysis.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(readingsProcessed)
	prometheus.MustRegister(alertsByPattern)
	prometheus.MustRegister(runDuration)
}
