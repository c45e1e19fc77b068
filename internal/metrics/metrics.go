package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Sync metrics
	SyncRunsTotal *prometheus.CounterVec

	// Resolution metrics
	ResolutionsTotal *prometheus.CounterVec

	// Verification metrics
	VerificationsTotal *prometheus.CounterVec

	// Job metrics
	JobDurationSeconds *prometheus.HistogramVec

	// Health metrics
	HealthStatus *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all required metrics registered
func NewMetrics() *Metrics {
	return &Metrics{
		SyncRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunebridge_sync_runs_total",
				Help: "Total number of playlist sync runs",
			},
			[]string{"status"},
		),

		ResolutionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunebridge_resolutions_total",
				Help: "Total number of track resolution attempts",
			},
			[]string{"outcome"},
		),

		VerificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunebridge_verifications_total",
				Help: "Total number of metadata verification lookups",
			},
			[]string{"provider", "result"},
		),

		JobDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "tunebridge_job_duration_seconds",
				Help: "Duration of background jobs in seconds",
			},
			[]string{"type", "status"},
		),

		HealthStatus: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tunebridge_health_status",
				Help: "Health status of dependencies (1=ok, 0=down)",
			},
			[]string{"dependency"},
		),
	}
}

// InitializeMetrics sets up default values for metrics
func InitializeMetrics() *Metrics {
	metrics := NewMetrics()

	metrics.HealthStatus.WithLabelValues("db").Set(0)
	metrics.HealthStatus.WithLabelValues("redis").Set(0)

	return metrics
}

// RecordSyncRun counts one sync run terminal outcome.
func (m *Metrics) RecordSyncRun(status string) {
	if m == nil {
		return
	}
	m.SyncRunsTotal.WithLabelValues(status).Inc()
}

// RecordResolution counts one track resolution outcome.
func (m *Metrics) RecordResolution(outcome string) {
	if m == nil {
		return
	}
	m.ResolutionsTotal.WithLabelValues(outcome).Inc()
}

// RecordVerification counts one verification lookup.
func (m *Metrics) RecordVerification(provider, result string) {
	if m == nil {
		return
	}
	m.VerificationsTotal.WithLabelValues(provider, result).Inc()
}

// ObserveJobDuration records a completed job's wall time.
func (m *Metrics) ObserveJobDuration(jobType, status string, seconds float64) {
	if m == nil {
		return
	}
	m.JobDurationSeconds.WithLabelValues(jobType, status).Observe(seconds)
}
