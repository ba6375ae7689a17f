// internal/metrics/metrics.go
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all the client metrics
type Metrics struct {
	// Submission pipeline metrics
	SubmissionTotal    *prometheus.CounterVec
	SubmissionDuration *prometheus.HistogramVec

	// Location acquisition metrics
	LocationAcquireTotal *prometheus.CounterVec

	// Live channel metrics
	ChannelConnectsTotal    prometheus.Counter
	ChannelDisconnectsTotal prometheus.Counter
	ChannelFramesTotal      *prometheus.CounterVec

	// Alert relay metrics
	RelayPublishTotal *prometheus.CounterVec
}

// Global metrics instance with mutex for thread safety
var (
	globalMetrics *Metrics
	metricsMutex  sync.Mutex
)

// New creates the client Metrics instance, returning the shared instance on
// repeated calls so every component records into the same collectors.
func New() *Metrics {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()

	if globalMetrics != nil {
		return globalMetrics
	}

	m := &Metrics{
		SubmissionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "report_submissions_total",
			Help: "Total number of report submissions by outcome",
		}, []string{"outcome"}),

		SubmissionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "report_submission_duration_seconds",
			Help:    "Report submission duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),

		LocationAcquireTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "report_location_acquire_total",
			Help: "Total number of location acquisition attempts by status",
		}, []string{"status"}),

		ChannelConnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "report_channel_connects_total",
			Help: "Total number of established live channel connections",
		}),

		ChannelDisconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "report_channel_disconnects_total",
			Help: "Total number of live channel disconnects",
		}),

		ChannelFramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "report_channel_frames_total",
			Help: "Total number of inbound channel frames by disposition",
		}, []string{"disposition"}),

		RelayPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "report_relay_publish_total",
			Help: "Total number of alert relay publishes by status",
		}, []string{"status"}),
	}

	registerMetrics(m)
	globalMetrics = m

	return m
}

// registerMetrics registers all metrics with the default registry
func registerMetrics(m *Metrics) {
	registerOrGet(m.SubmissionTotal)
	registerOrGet(m.SubmissionDuration)
	registerOrGet(m.LocationAcquireTotal)
	registerOrGet(m.ChannelConnectsTotal)
	registerOrGet(m.ChannelDisconnectsTotal)
	registerOrGet(m.ChannelFramesTotal)
	registerOrGet(m.RelayPublishTotal)
}

// registerOrGet tries to register a metric, returns the existing one if already registered
func registerOrGet(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
	}
	return c
}
