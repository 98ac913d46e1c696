package http

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"playdeck/internal/api"
	"playdeck/internal/core"
	"playdeck/internal/player"
)

// Metrics owns a private registry so several servers can coexist in one
// process. It implements the observer interfaces of the pipeline, the result
// caches, the state store and the controller.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	RetriesTotal        *prometheus.CounterVec
	RateLimitWaitTotal  prometheus.Counter
	CacheLookupsTotal   *prometheus.CounterVec
	CacheEvictionsTotal *prometheus.CounterVec
	StateUpdatesTotal   *prometheus.CounterVec
	StaleFieldsTotal    *prometheus.CounterVec
	SubscriberPanics    prometheus.Counter
	CommandsTotal       *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playdeck_api_requests_total",
				Help: "Web API attempts by method and HTTP status (0 for network failures)",
			},
			[]string{"method", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "playdeck_api_request_duration_seconds",
				Help:    "Latency of single Web API attempts",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playdeck_api_retries_total",
				Help: "Retries spent by failure kind",
			},
			[]string{"kind"},
		),
		RateLimitWaitTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "playdeck_api_rate_limit_wait_seconds_total",
				Help: "Time spent waiting for the rate-limit window to reset",
			},
		),
		CacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playdeck_cache_lookups_total",
				Help: "Result cache lookups by cache and result",
			},
			[]string{"cache", "result"},
		),
		CacheEvictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playdeck_cache_evictions_total",
				Help: "Result cache evictions by cache and reason",
			},
			[]string{"cache", "reason"},
		),
		StateUpdatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playdeck_state_updates_total",
				Help: "Playback state mutations by source",
			},
			[]string{"source"},
		),
		StaleFieldsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playdeck_state_stale_fields_total",
				Help: "Authoritative fields dropped because a newer value was already applied",
			},
			[]string{"source"},
		),
		SubscriberPanics: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "playdeck_state_subscriber_panics_total",
				Help: "State subscribers that panicked",
			},
		),
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playdeck_commands_total",
				Help: "Playback commands by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestsTotal,
		m.RequestDuration,
		m.RetriesTotal,
		m.RateLimitWaitTotal,
		m.CacheLookupsTotal,
		m.CacheEvictionsTotal,
		m.StateUpdatesTotal,
		m.StaleFieldsTotal,
		m.SubscriberPanics,
		m.CommandsTotal,
	)
	return m
}

// Registry exposes the registry backing /metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	m.RequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveRetry(kind api.Kind) {
	m.RetriesTotal.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) ObserveRateLimitWait(wait time.Duration) {
	m.RateLimitWaitTotal.Add(wait.Seconds())
}

func (m *Metrics) ObserveLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(cache, result).Inc()
}

func (m *Metrics) ObserveEviction(cache, reason string) {
	m.CacheEvictionsTotal.WithLabelValues(cache, reason).Inc()
}

func (m *Metrics) ObserveStateUpdate(source player.Source) {
	m.StateUpdatesTotal.WithLabelValues(string(source)).Inc()
}

func (m *Metrics) ObserveStaleFields(source player.Source, n int) {
	m.StaleFieldsTotal.WithLabelValues(string(source)).Add(float64(n))
}

func (m *Metrics) ObserveSubscriberPanic() {
	m.SubscriberPanics.Inc()
}

func (m *Metrics) ObserveCommand(kind core.CommandKind, outcome string) {
	m.CommandsTotal.WithLabelValues(string(kind), outcome).Inc()
}
