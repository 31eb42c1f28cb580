package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const MetricPrefix = "mptrain_"

// Submission results used as the "result" label.
const (
	ResultSubmitted = "submitted"
	ResultFailed    = "failed"
	ResultDryRun    = "dry_run"
)

// TrainingJobStatuses are the primary statuses a training job moves through.
var TrainingJobStatuses = []string{"InProgress", "Completed", "Failed", "Stopping", "Stopped"}

// Metrics holds the collectors updated while submitting and following training jobs.
// Collectors are registered on their own registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	Submissions         *prometheus.CounterVec
	SubmitDuration      prometheus.Histogram
	JobStatus           *prometheus.GaugeVec
	SecondaryTransition *prometheus.CounterVec
	LogEvents           prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPrefix + "job_submissions_total",
				Help: "Number of training job submissions, by result",
			},
			[]string{"result"},
		),
		SubmitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricPrefix + "submit_duration_seconds",
				Help:    "Time taken by the CreateTrainingJob call, including retries",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
		),
		JobStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricPrefix + "job_status",
				Help: "1 for the current primary status of the followed training job, 0 otherwise",
			},
			[]string{"status"},
		),
		SecondaryTransition: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPrefix + "job_secondary_status_transitions_total",
				Help: "Secondary status transitions observed for the followed training job",
			},
			[]string{"status"},
		),
		LogEvents: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricPrefix + "log_events_total",
				Help: "Number of training log events streamed",
			},
		),
	}
	m.registry.MustRegister(m.Submissions, m.SubmitDuration, m.JobStatus, m.SecondaryTransition, m.LogEvents)
	return m
}

func (m *Metrics) RecordSubmission(result string, took time.Duration) {
	m.Submissions.WithLabelValues(result).Inc()
	if result != ResultDryRun {
		m.SubmitDuration.Observe(took.Seconds())
	}
}

// RecordStatus sets the one-hot primary status gauge.
func (m *Metrics) RecordStatus(status string) {
	for _, s := range TrainingJobStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		m.JobStatus.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) RecordSecondaryTransition(status string) {
	m.SecondaryTransition.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordLogEvents(n int) {
	m.LogEvents.Add(float64(n))
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
