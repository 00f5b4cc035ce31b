// Package metrics exposes Prometheus instrumentation for credential
// resolution, cache behavior, lifecycle mutations, and connection tests.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	resolutionsTotal   *prometheus.CounterVec
	cacheEventsTotal   *prometheus.CounterVec
	mutationsTotal     *prometheus.CounterVec
	connTestDuration   *prometheus.HistogramVec
	availableProviders *prometheus.GaugeVec

	metricsOnce sync.Once
)

// Init registers all metrics. Safe to call more than once; registration
// happens exactly once.
func Init() {
	metricsOnce.Do(func() {
		resolutionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credstore_resolutions_total",
				Help: "Credential resolutions by provider, source, and outcome",
			},
			[]string{"provider", "source", "outcome"},
		)

		cacheEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credstore_cache_events_total",
				Help: "Credential cache hits, misses, and invalidations",
			},
			[]string{"event"},
		)

		mutationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credstore_mutations_total",
				Help: "Credential lifecycle mutations by operation and outcome",
			},
			[]string{"op", "outcome"},
		)

		connTestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credstore_connection_test_duration_seconds",
				Help:    "Duration of provider connection tests",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"provider", "success"},
		)

		availableProviders = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "credstore_provider_available",
				Help: "Whether a provider resolved successfully (1) or not (0)",
			},
			[]string{"provider"},
		)
	})
}

// RecordResolution counts one resolution attempt.
func RecordResolution(provider, source string, err error) {
	if resolutionsTotal == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	resolutionsTotal.WithLabelValues(provider, source, outcome).Inc()
}

// RecordCacheEvent counts a cache hit, miss, or invalidation.
func RecordCacheEvent(event string) {
	if cacheEventsTotal == nil {
		return
	}
	cacheEventsTotal.WithLabelValues(event).Inc()
}

// RecordMutation counts a lifecycle mutation (create, rotate, rollback,
// revoke, update).
func RecordMutation(op string, err error) {
	if mutationsTotal == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	mutationsTotal.WithLabelValues(op, outcome).Inc()
}

// RecordConnectionTest observes one connection test duration.
func RecordConnectionTest(provider string, success bool, elapsed time.Duration) {
	if connTestDuration == nil {
		return
	}
	label := "false"
	if success {
		label = "true"
	}
	connTestDuration.WithLabelValues(provider, label).Observe(elapsed.Seconds())
}

// SetProviderAvailable records a provider's availability after a sweep
// or refresh.
func SetProviderAvailable(provider string, available bool) {
	if availableProviders == nil {
		return
	}
	v := 0.0
	if available {
		v = 1.0
	}
	availableProviders.WithLabelValues(provider).Set(v)
}
