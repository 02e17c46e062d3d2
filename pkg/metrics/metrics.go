// Package metrics exports engine counters and histograms to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "flowgate"

// Metrics is safe to use through a nil pointer, which disables recording.
type Metrics struct {
	executionsStarted  *prometheus.CounterVec
	executionsFinished *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	resumes            *prometheus.CounterVec
	interceptions      *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		executionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_started_total",
				Help:      "Total number of executions created",
			},
			[]string{"workflow", "mode"}, // mode: sync, async
		),
		executionsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_finished_total",
				Help:      "Total number of executions that reached a terminal status",
			},
			[]string{"workflow", "status"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Histogram of instruction run and resume duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"node_type", "status"},
		),
		resumes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resumes_total",
				Help:      "Total number of resume requests by outcome",
			},
			[]string{"outcome"}, // outcome: resumed, ignored, duplicate, error
		),
		interceptions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "interceptions_total",
				Help:      "Total number of intercepted requests by outcome",
			},
			[]string{"outcome"}, // outcome: passed, rejected, error
		),
	}

	reg.MustRegister(m.executionsStarted, m.executionsFinished, m.jobDuration, m.resumes, m.interceptions)

	return m
}

func (m *Metrics) ExecutionStarted(workflow string, sync bool) {
	if m == nil {
		return
	}

	mode := "async"
	if sync {
		mode = "sync"
	}

	m.executionsStarted.WithLabelValues(workflow, mode).Inc()
}

func (m *Metrics) ExecutionFinished(workflow, status string) {
	if m == nil {
		return
	}

	m.executionsFinished.WithLabelValues(workflow, status).Inc()
}

func (m *Metrics) JobCompleted(nodeType, status string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.jobDuration.WithLabelValues(nodeType, status).Observe(elapsed.Seconds())
}

func (m *Metrics) Resume(outcome string) {
	if m == nil {
		return
	}

	m.resumes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Interception(outcome string) {
	if m == nil {
		return
	}

	m.interceptions.WithLabelValues(outcome).Inc()
}
