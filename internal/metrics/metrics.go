// Package metrics exposes corpusd runtime counters over Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the daemon records into. All collectors
// are registered on a private registry so tests can run side by side.
type Metrics struct {
	registry *prometheus.Registry

	// Ingestion
	DocumentsIngested prometheus.Counter
	DocumentsFailed   prometheus.Counter
	ChunksStored      prometheus.Counter

	// Job queue
	JobsActive          prometheus.Gauge
	JobRetries          prometheus.Counter
	PollBudgetExhausted prometheus.Counter

	// Timings
	EmbedDuration     prometheus.Histogram
	IndexPollDuration prometheus.Histogram
	SearchDuration    *prometheus.HistogramVec

	// Cache
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Status channel
	StatusClients prometheus.Gauge

	// HTTP
	RequestDuration *prometheus.HistogramVec
}

// New creates and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := newFactory(registry)

	m := &Metrics{
		registry: registry,

		DocumentsIngested: factory.counter("corpusd_documents_ingested_total",
			"Documents accepted for ingestion."),
		DocumentsFailed: factory.counter("corpusd_documents_failed_total",
			"Documents that ended in the failed state."),
		ChunksStored: factory.counter("corpusd_chunks_stored_total",
			"Chunks persisted with embeddings."),

		JobsActive: factory.gauge("corpusd_jobs_active",
			"Ingestion jobs currently queued or running."),
		JobRetries: factory.counter("corpusd_job_retries_total",
			"Job attempts that were requeued after a failure."),
		PollBudgetExhausted: factory.counter("corpusd_poll_budget_exhausted_total",
			"Remote index operations that timed out while polling."),

		EmbedDuration: factory.histogram("corpusd_embed_duration_seconds",
			"Time spent embedding one batch of chunks.",
			prometheus.DefBuckets),
		IndexPollDuration: factory.histogram("corpusd_index_poll_duration_seconds",
			"Wall time from job start until the remote operation finished.",
			[]float64{1, 5, 15, 30, 60, 120, 300}),
		SearchDuration: factory.histogramVec("corpusd_search_duration_seconds",
			"Retrieval latency by mode.",
			prometheus.DefBuckets, "mode"),

		CacheHits: factory.counter("corpusd_cache_hits_total",
			"Cache reads served without hitting the store."),
		CacheMisses: factory.counter("corpusd_cache_misses_total",
			"Cache reads that fell through to the store."),

		StatusClients: factory.gauge("corpusd_status_clients",
			"Connected status channel clients."),

		RequestDuration: factory.histogramVec("corpusd_http_request_duration_seconds",
			"HTTP request latency by route and status class.",
			prometheus.DefBuckets, "route", "status"),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Recording helpers. All tolerate a nil receiver so components wired
// without metrics can call them unconditionally.

// DocumentIngested counts an upload accepted into the pipeline.
func (m *Metrics) DocumentIngested() {
	if m == nil {
		return
	}
	m.DocumentsIngested.Inc()
}

// DocumentFailed counts a document reaching the failed state.
func (m *Metrics) DocumentFailed() {
	if m == nil {
		return
	}
	m.DocumentsFailed.Inc()
}

// ChunksAdded counts chunks persisted with embeddings.
func (m *Metrics) ChunksAdded(n int) {
	if m == nil {
		return
	}
	m.ChunksStored.Add(float64(n))
}

// JobStarted and JobFinished bracket a job's stay in the queue.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.JobsActive.Inc()
}

func (m *Metrics) JobFinished() {
	if m == nil {
		return
	}
	m.JobsActive.Dec()
}

// JobRetried counts a failed attempt that was requeued.
func (m *Metrics) JobRetried() {
	if m == nil {
		return
	}
	m.JobRetries.Inc()
}

// PollBudgetSpent counts a remote operation that timed out while polling.
func (m *Metrics) PollBudgetSpent() {
	if m == nil {
		return
	}
	m.PollBudgetExhausted.Inc()
}

// ObserveEmbed records the duration of one embedding run.
func (m *Metrics) ObserveEmbed(d time.Duration) {
	if m == nil {
		return
	}
	m.EmbedDuration.Observe(d.Seconds())
}

// ObserveIndexing records the wall time of a successful remote attempt.
func (m *Metrics) ObserveIndexing(d time.Duration) {
	if m == nil {
		return
	}
	m.IndexPollDuration.Observe(d.Seconds())
}

// ObserveSearch records retrieval latency for a mode.
func (m *Metrics) ObserveSearch(mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.SearchDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// CacheHit and CacheMiss count cache read outcomes.
func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.CacheHits.Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.CacheMisses.Inc()
}

// ClientConnected and ClientDisconnected track status channel clients.
func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.StatusClients.Inc()
}

func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.StatusClients.Dec()
}

// ObserveRequest records HTTP latency for a route and status class.
func (m *Metrics) ObserveRequest(route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(route, status).Observe(d.Seconds())
}

// factory wraps a registry so collector construction stays one line each.
type factory struct {
	registry *prometheus.Registry
}

func newFactory(registry *prometheus.Registry) factory {
	return factory{registry: registry}
}

func (f factory) counter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	f.registry.MustRegister(c)
	return c
}

func (f factory) gauge(name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	f.registry.MustRegister(g)
	return g
}

func (f factory) histogram(name, help string, buckets []float64) prometheus.Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets})
	f.registry.MustRegister(h)
	return h
}

func (f factory) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, labels)
	f.registry.MustRegister(h)
	return h
}
