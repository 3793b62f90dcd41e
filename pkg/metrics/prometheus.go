package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	ticksReceived   *prometheus.CounterVec
	mergesTotal     *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	reconnectsTotal prometheus.Counter
	queueDepth      *prometheus.GaugeVec
	breakerState    prometheus.Gauge
	budgetRemaining *prometheus.GaugeVec
	lastPrice       *prometheus.GaugeVec
	latency         *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		ticksReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketsync_ticks_received_total",
				Help: "Total number of symbol updates received, by source",
			},
			[]string{"source"},
		),
		mergesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketsync_merges_total",
				Help: "Total number of merge operations applied to the symbol cache",
			},
			[]string{"kind"},
		),
		cacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketsync_response_cache_hits_total",
				Help: "Pull gateway response cache hits",
			},
			[]string{"endpoint"},
		),
		cacheMisses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketsync_response_cache_misses_total",
				Help: "Pull gateway response cache misses",
			},
			[]string{"endpoint"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketsync_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		reconnectsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "marketsync_stream_reconnects_total",
				Help: "Total number of stream reconnect attempts",
			},
		),
		queueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketsync_request_queue_depth",
				Help: "Pending requests in the priority queue",
			},
			[]string{"priority"},
		),
		breakerState: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketsync_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
		),
		budgetRemaining: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketsync_budget_calls_remaining",
				Help: "Remaining call budget, by window",
			},
			[]string{"window"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketsync_last_price",
				Help: "Last merged price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketsync_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordTick records an inbound symbol update from a source ("stream"|"poll").
func (r *Recorder) RecordTick(source string) {
	r.ticksReceived.WithLabelValues(source).Inc()
}

// RecordMerge records a merge of the given kind ("delta"|"snapshot").
func (r *Recorder) RecordMerge(kind string) {
	r.mergesTotal.WithLabelValues(kind).Inc()
}

// RecordCacheHit records a response cache hit for an endpoint.
func (r *Recorder) RecordCacheHit(endpoint string) {
	r.cacheHits.WithLabelValues(endpoint).Inc()
}

// RecordCacheMiss records a response cache miss for an endpoint.
func (r *Recorder) RecordCacheMiss(endpoint string) {
	r.cacheMisses.WithLabelValues(endpoint).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordReconnect records a stream reconnect attempt.
func (r *Recorder) RecordReconnect() {
	r.reconnectsTotal.Inc()
}

// SetQueueDepth records current queue depth for a priority tier.
func (r *Recorder) SetQueueDepth(priority string, depth int) {
	r.queueDepth.WithLabelValues(priority).Set(float64(depth))
}

// SetBreakerState records the circuit breaker state.
func (r *Recorder) SetBreakerState(state int) {
	r.breakerState.Set(float64(state))
}

// SetBudgetRemaining records remaining budget for a window ("daily"|"monthly").
func (r *Recorder) SetBudgetRemaining(window string, remaining int64) {
	r.budgetRemaining.WithLabelValues(window).Set(float64(remaining))
}

// RecordLastPrice records the last merged price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
