package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the cache method being instrumented.
type CacheOperation string

const (
	// CacheOperationLookup records response cache reads.
	CacheOperationLookup CacheOperation = "lookup"
	// CacheOperationStore records response cache writes.
	CacheOperationStore CacheOperation = "store"
)

// CacheLookupOutcome captures the result of a cache read.
type CacheLookupOutcome string

const (
	// CacheLookupHit indicates a fresh entry satisfied the request.
	CacheLookupHit CacheLookupOutcome = "hit"
	// CacheLookupMiss indicates no usable entry was present.
	CacheLookupMiss CacheLookupOutcome = "miss"
	// CacheLookupError indicates the read itself failed.
	CacheLookupError CacheLookupOutcome = "error"
)

// CacheStoreOutcome captures the result of a cache write.
type CacheStoreOutcome string

const (
	// CacheStoreStored indicates the entry was persisted.
	CacheStoreStored CacheStoreOutcome = "stored"
	// CacheStoreError indicates the write failed.
	CacheStoreError CacheStoreOutcome = "error"
)

// Recorder publishes Prometheus metrics for generation and cache activity.
// A nil Recorder is a valid no-op, so library consumers opt in.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	generateRequests *prometheus.CounterVec
	generateLatency  *prometheus.HistogramVec
	attempts         *prometheus.CounterVec

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// touching the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	generateRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "genclient",
		Subsystem: "generate",
		Name:      "requests_total",
		Help:      "Total generate calls, by provider, outcome, and cache involvement.",
	}, []string{"provider", "outcome", "from_cache"})

	generateLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "genclient",
		Subsystem: "generate",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for completed generate calls.",
		Buckets:   []float64{0.005, 0.05, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"provider", "outcome"})

	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "genclient",
		Subsystem: "transport",
		Name:      "attempts_total",
		Help:      "Network attempts consumed by generate calls, including retries.",
	}, []string{"provider"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "genclient",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Response cache operations executed by the client.",
	}, []string{"backend", "operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "genclient",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for response cache operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"backend", "operation", "result"})

	reg.MustRegister(generateRequests, generateLatency, attempts, cacheOperations, cacheLatency)

	return &Recorder{
		gatherer:         reg,
		handler:          promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		generateRequests: generateRequests,
		generateLatency:  generateLatency,
		attempts:         attempts,
		cacheOperations:  cacheOperations,
		cacheLatency:     cacheLatency,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying registry for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveGenerate records one completed generate call. attempts counts the
// network calls consumed, zero when the cache answered.
func (r *Recorder) ObserveGenerate(provider string, success, fromCache bool, attempts int, duration time.Duration) {
	if r == nil {
		return
	}
	providerLabel := normalizeLabel(provider)
	outcome := "failure"
	if success {
		outcome = "success"
	}
	cacheLabel := "false"
	if fromCache {
		cacheLabel = "true"
	}
	r.generateRequests.WithLabelValues(providerLabel, outcome, cacheLabel).Inc()
	r.generateLatency.WithLabelValues(providerLabel, outcome).Observe(duration.Seconds())
	if attempts > 0 {
		r.attempts.WithLabelValues(providerLabel).Add(float64(attempts))
	}
}

// ObserveCacheLookup records the result of a cache read.
func (r *Recorder) ObserveCacheLookup(backend string, result CacheLookupOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	r.observeCache(backend, CacheOperationLookup, string(result), duration)
}

// ObserveCacheStore records the result of a cache write.
func (r *Recorder) ObserveCacheStore(backend string, result CacheStoreOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	r.observeCache(backend, CacheOperationStore, string(result), duration)
}

func (r *Recorder) observeCache(backend string, operation CacheOperation, result string, duration time.Duration) {
	backendLabel := normalizeLabel(backend)
	resultLabel := normalizeLabel(result)
	r.cacheOperations.WithLabelValues(backendLabel, string(operation), resultLabel).Inc()
	r.cacheLatency.WithLabelValues(backendLabel, string(operation), resultLabel).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
