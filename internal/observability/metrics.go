package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the pipeline and daemon.
type Metrics struct {
	registry       *prometheus.Registry
	Runs           *prometheus.CounterVec
	RunDuration    *prometheus.HistogramVec
	StageDuration  *prometheus.HistogramVec
	Completions    *prometheus.CounterVec
	CompletionTime *prometheus.HistogramVec
	Retries        *prometheus.CounterVec
	WatchEvents    *prometheus.CounterVec
	ActiveStreams  *prometheus.GaugeVec
	TransportErrs  *prometheus.CounterVec
}

// NewMetrics constructs a metrics registry with pipeline collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "masbolt_pipeline_runs_total",
		Help: "Pipeline runs by final status",
	}, []string{"status"})

	runDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "masbolt_pipeline_run_duration_seconds",
		Help:    "Pipeline run duration in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"status"})

	stageDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "masbolt_pipeline_stage_duration_seconds",
		Help:    "Pipeline stage duration in seconds",
		Buckets: []float64{0.1, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"stage", "outcome"})

	completions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "masbolt_completions_total",
		Help: "Completion calls by provider and outcome",
	}, []string{"provider", "outcome"})

	completionTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "masbolt_completion_duration_seconds",
		Help:    "Completion call duration including retries",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "masbolt_completion_retries_total",
		Help: "Overload retries by provider and status code",
	}, []string{"provider", "status"})

	watch := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "masbolt_watch_events_total",
		Help: "Applied sandbox watch events by kind",
	}, []string{"kind"})

	active := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "masbolt_transport_active_streams",
		Help: "Active streaming sessions by transport",
	}, []string{"transport"})

	trErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "masbolt_transport_errors_total",
		Help: "Transport-level errors (handler/streaming) by transport and reason",
	}, []string{"transport", "reason"})

	reg.MustRegister(runs, runDur, stageDur, completions, completionTime, retries, watch, active, trErrors)

	return &Metrics{
		registry:       reg,
		Runs:           runs,
		RunDuration:    runDur,
		StageDuration:  stageDur,
		Completions:    completions,
		CompletionTime: completionTime,
		Retries:        retries,
		WatchEvents:    watch,
		ActiveStreams:  active,
		TransportErrs:  trErrors,
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRun records a finished pipeline run.
func (m *Metrics) RecordRun(status string, duration time.Duration) {
	if m == nil {
		return
	}
	status = orUnknown(status)
	m.Runs.WithLabelValues(status).Inc()
	m.RunDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStage records one pipeline stage.
func (m *Metrics) RecordStage(stage string, failed bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "failed"
	}
	m.StageDuration.WithLabelValues(orUnknown(stage), outcome).Observe(duration.Seconds())
}

// RecordCompletion records one completion call.
func (m *Metrics) RecordCompletion(provider, outcome string, attempts int, duration time.Duration) {
	if m == nil {
		return
	}
	provider = orUnknown(provider)
	m.Completions.WithLabelValues(provider, orUnknown(outcome)).Inc()
	m.CompletionTime.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordRetry records one overload retry.
func (m *Metrics) RecordRetry(provider string, statusCode int) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(orUnknown(provider), strconv.Itoa(statusCode)).Inc()
}

// RecordWatchEvent records one applied watch event.
func (m *Metrics) RecordWatchEvent(kind string) {
	if m == nil {
		return
	}
	m.WatchEvents.WithLabelValues(orUnknown(kind)).Inc()
}

// IncActiveStreams increments the active stream gauge.
func (m *Metrics) IncActiveStreams(transport string) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(transport).Inc()
}

// DecActiveStreams decrements the active stream gauge.
func (m *Metrics) DecActiveStreams(transport string) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(transport).Dec()
}

// RecordTransportError records a transport-level error.
func (m *Metrics) RecordTransportError(transport, reason string) {
	if m == nil {
		return
	}
	m.TransportErrs.WithLabelValues(orUnknown(transport), orUnknown(reason)).Inc()
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
