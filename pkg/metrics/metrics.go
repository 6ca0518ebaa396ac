// Package metrics holds the Prometheus collectors of the provisioner
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "kube_provisioner"

// Metrics is safe to use as a nil pointer, in which case nothing is recorded
type Metrics struct {
	registry prometheus.Gatherer

	JobsTotal      *prometheus.CounterVec
	JobDuration    prometheus.Histogram
	JobsInFlight   prometheus.Gauge
	PhaseDuration  *prometheus.HistogramVec
	RemoteCommands *prometheus.CounterVec
	QueueMessages  *prometheus.CounterVec
}

// New registers the collectors on reg. Pass a fresh prometheus.NewRegistry()
// in tests, since registering twice on the same registry panics.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		JobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "jobs_total",
				Help:      "Provisioning jobs by result",
			},
			[]string{"result"},
		),
		JobDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "job_duration_seconds",
				Help:      "Wall time of a provisioning job",
				Buckets:   []float64{30, 60, 120, 300, 600, 900, 1200, 1800, 3600},
			},
		),
		JobsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "jobs_in_flight",
				Help:      "Jobs currently being provisioned",
			},
		),
		PhaseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of each provisioning phase",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"phase", "result"},
		),
		RemoteCommands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "remote_commands_total",
				Help:      "Remote commands run over SSH by result",
			},
			[]string{"result"},
		),
		QueueMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "queue_messages_total",
				Help:      "Queue messages handled by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func (m *Metrics) RecordJob(duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(result(err)).Inc()
	m.JobDuration.Observe(duration.Seconds())
}

func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.JobsInFlight.Inc()
}

func (m *Metrics) JobFinished() {
	if m == nil {
		return
	}
	m.JobsInFlight.Dec()
}

func (m *Metrics) RecordPhase(phase string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(phase, result(err)).Observe(duration.Seconds())
}

// RecordRemoteCommand counts a command by how it ended: success, exit, timeout or error
func (m *Metrics) RecordRemoteCommand(outcome string) {
	if m == nil {
		return
	}
	m.RemoteCommands.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordQueueMessage(outcome string) {
	if m == nil {
		return
	}
	m.QueueMessages.WithLabelValues(outcome).Inc()
}

// Handler serves the registry this Metrics was created on
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
