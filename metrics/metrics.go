// Package metrics exposes Prometheus instrumentation for turns, model
// calls, stream flushes, memory sweeps, initiation decisions and queue
// tasks. A nil *Metrics is valid everywhere and records nothing, so
// callers never need to guard instrumentation sites.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the instrument set for one process.
type Metrics struct {
	registry *prometheus.Registry

	turnsTotal        *prometheus.CounterVec
	turnDuration      prometheus.Histogram
	modelCallsTotal   *prometheus.CounterVec
	modelCallDuration *prometheus.HistogramVec
	tokensTotal       *prometheus.CounterVec
	flushesTotal      *prometheus.CounterVec
	sweepDuration     *prometheus.HistogramVec
	sweepItemsTotal   *prometheus.CounterVec
	decisionsTotal    *prometheus.CounterVec
	tasksTotal        *prometheus.CounterVec
	queueDepth        prometheus.Gauge
}

// New registers the confab instrument set on the given registry. A nil
// registry gets a fresh private one.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		turnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "confab_turns_total",
			Help: "Agent turns by terminal status.",
		}, []string{"status"}),

		turnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "confab_turn_duration_seconds",
			Help:    "Wall time of one agent turn.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),

		modelCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "confab_model_calls_total",
			Help: "Model API calls by provider and outcome.",
		}, []string{"provider", "outcome"}),

		modelCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "confab_model_call_duration_seconds",
			Help:    "Latency of model API calls.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"provider"}),

		tokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "confab_model_tokens_total",
			Help: "Tokens exchanged with model providers.",
		}, []string{"direction"}),

		flushesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "confab_stream_flushes_total",
			Help: "Debounced buffer flushes by channel.",
		}, []string{"channel"}),

		sweepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "confab_sweep_duration_seconds",
			Help:    "Duration of memory and initiation sweeps.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"sweep"}),

		sweepItemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "confab_sweep_items_total",
			Help: "Per-item sweep outcomes.",
		}, []string{"sweep", "outcome"}),

		decisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "confab_initiation_decisions_total",
			Help: "Initiation decisions by action.",
		}, []string{"action"}),

		tasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "confab_queue_tasks_total",
			Help: "Queue task executions by kind and outcome.",
		}, []string{"kind", "outcome"}),

		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "confab_queue_depth",
			Help: "Tasks waiting in the queue buffer.",
		}),
	}
}

// NewNop returns an isolated instrument set that is never scraped. For
// tests and embedders that do not export metrics.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Registry returns the underlying registry, e.g. for custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTurn records one finished agent turn.
func (m *Metrics) ObserveTurn(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(status).Inc()
	m.turnDuration.Observe(d.Seconds())
}

// ObserveModelCall records one model API call with its token usage.
func (m *Metrics) ObserveModelCall(provider string, d time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.modelCallsTotal.WithLabelValues(provider, outcome).Inc()
	m.modelCallDuration.WithLabelValues(provider).Observe(d.Seconds())
	if inputTokens > 0 {
		m.tokensTotal.WithLabelValues("input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.tokensTotal.WithLabelValues("output").Add(float64(outputTokens))
	}
}

// ObserveFlush records one debounced buffer flush.
func (m *Metrics) ObserveFlush(channel string) {
	if m == nil {
		return
	}
	m.flushesTotal.WithLabelValues(channel).Inc()
}

// ObserveSweep records one completed sweep with its per-item outcomes.
func (m *Metrics) ObserveSweep(sweep string, items, failures int, d time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.WithLabelValues(sweep).Observe(d.Seconds())
	if ok := items - failures; ok > 0 {
		m.sweepItemsTotal.WithLabelValues(sweep, "ok").Add(float64(ok))
	}
	if failures > 0 {
		m.sweepItemsTotal.WithLabelValues(sweep, "failed").Add(float64(failures))
	}
}

// ObserveDecision records one initiation decision.
func (m *Metrics) ObserveDecision(action string) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(action).Inc()
}

// ObserveTask records one queue task execution.
func (m *Metrics) ObserveTask(kind, outcome string) {
	if m == nil {
		return
	}
	m.tasksTotal.WithLabelValues(kind, outcome).Inc()
}

// SetQueueDepth reports the current queue backlog.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
