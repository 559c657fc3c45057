// Package metrics provides the Prometheus metrics of the acquisition worker.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sample outcomes
const (
	OutcomeInserted  = "inserted"
	OutcomeDuplicate = "duplicate"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Metrics contains all Prometheus metrics of the worker. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	samplesTotal            *prometheus.CounterVec
	alarmsTotal             *prometheus.CounterVec
	classifierFailuresTotal prometheus.Counter
	offlineTransitionsTotal *prometheus.CounterVec
	jobDuration             *prometheus.HistogramVec
	lockEntries             prometheus.Gauge
	registry                *prometheus.Registry
}

// New creates the metrics and registers them on registry
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register worker metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.samplesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pdmon_samples_total",
		Help: "Acquisition samples processed, by outcome",
	}, []string{"outcome"})

	m.alarmsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pdmon_alarms_total",
		Help: "Ingested samples with a non-zero alarm level, by level",
	}, []string{"level"})

	m.classifierFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pdmon_classifier_failures_total",
		Help: "Diagnosis calls that failed and fell back to the site diagnosis",
	})

	m.offlineTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pdmon_offline_transitions_total",
		Help: "Offline state machine transitions, by kind",
	}, []string{"transition"})

	m.jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pdmon_job_duration_seconds",
		Help:    "Duration of scheduled job runs",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"job", "result"})

	m.lockEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pdmon_ingest_lock_entries",
		Help: "Live entries in the per-sample ingestion lock table",
	})
}

// RecordSample counts one processed sample
func (m *Metrics) RecordSample(outcome string) {
	if m == nil {
		return
	}
	m.samplesTotal.WithLabelValues(outcome).Inc()
}

// RecordAlarm counts one alarmed sample
func (m *Metrics) RecordAlarm(level int) {
	if m == nil {
		return
	}
	m.alarmsTotal.WithLabelValues(strconv.Itoa(level)).Inc()
}

// RecordClassifierFailure counts one failed diagnosis call
func (m *Metrics) RecordClassifierFailure() {
	if m == nil {
		return
	}
	m.classifierFailuresTotal.Inc()
}

// RecordOfflineTransition counts one offline state change
func (m *Metrics) RecordOfflineTransition(transition string) {
	if m == nil {
		return
	}
	m.offlineTransitionsTotal.WithLabelValues(transition).Inc()
}

// ObserveJob records the duration of a job run
func (m *Metrics) ObserveJob(job string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.jobDuration.WithLabelValues(job, result).Observe(d.Seconds())
}

// SetLockEntries reports the size of the ingestion lock table
func (m *Metrics) SetLockEntries(n int) {
	if m == nil {
		return
	}
	m.lockEntries.Set(float64(n))
}

// Describe implements the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.samplesTotal.Describe(ch)
	m.alarmsTotal.Describe(ch)
	m.classifierFailuresTotal.Describe(ch)
	m.offlineTransitionsTotal.Describe(ch)
	m.jobDuration.Describe(ch)
	m.lockEntries.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.samplesTotal.Collect(ch)
	m.alarmsTotal.Collect(ch)
	m.classifierFailuresTotal.Collect(ch)
	m.offlineTransitionsTotal.Collect(ch)
	m.jobDuration.Collect(ch)
	m.lockEntries.Collect(ch)
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
