// Package metrics provides Prometheus metrics collection for usagegate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for usagegate.
type Collector struct {
	// Rate limit metrics
	ChecksTotal   *prometheus.CounterVec
	RateLimitHits *prometheus.CounterVec
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter

	// Ledger metrics
	LedgerAppends     *prometheus.CounterVec
	LedgerWriteErrors prometheus.Counter

	// Billing metrics
	CyclesClosed prometheus.Counter

	// Store metrics
	StoreErrors prometheus.Counter
}

// New creates a new metrics collector with all metrics registered.
func New() *Collector {
	return &Collector{
		ChecksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "usagegate",
				Name:      "checks_total",
				Help:      "Total number of rate limit checks",
			},
			[]string{"plan_id", "result"},
		),
		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "usagegate",
				Name:      "rate_limit_hits_total",
				Help:      "Total number of rate limit denials by window",
			},
			[]string{"plan_id", "window"},
		),
		CacheHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "usagegate",
				Name:      "counter_cache_hits_total",
				Help:      "Window counter cache hits",
			},
		),
		CacheMisses: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "usagegate",
				Name:      "counter_cache_misses_total",
				Help:      "Window counter cache misses (store reads)",
			},
		),
		LedgerAppends: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "usagegate",
				Name:      "ledger_appends_total",
				Help:      "Usage events appended to the ledger",
			},
			[]string{"capability"},
		),
		LedgerWriteErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "usagegate",
				Name:      "ledger_write_errors_total",
				Help:      "Failed ledger appends",
			},
		),
		CyclesClosed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "usagegate",
				Name:      "billing_cycles_closed_total",
				Help:      "Billing cycles transitioned to closed",
			},
		),
		StoreErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "usagegate",
				Name:      "store_errors_total",
				Help:      "Durable store operation failures surfaced to clients",
			},
		),
	}
}
