package observability

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"dscengine/core/events"
)

var (
	dscMetricsOnce sync.Once
	dscRegistry    *DSCMetrics

	apiMetricsOnce sync.Once
	apiRegistry    *APIMetrics

	healthScale = new(big.Float).SetInt(big.NewInt(1_000_000_000_000_000_000))
)

// DSCMetrics captures engine level activity for the stable asset module.
type DSCMetrics struct {
	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	liquidations *prometheus.CounterVec
	liquidatedHF prometheus.Histogram
	events       *prometheus.CounterVec
}

// DSC returns the lazily-initialised stable asset engine metrics registry.
func DSC() *DSCMetrics {
	dscMetricsOnce.Do(func() {
		dscRegistry = &DSCMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dsc",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Count of engine operations segmented by operation and outcome reason.",
			}, []string{"operation", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "dsc",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dsc",
				Subsystem: "engine",
				Name:      "liquidations_total",
				Help:      "Count of committed liquidations segmented by collateral asset.",
			}, []string{"collateral"}),
			liquidatedHF: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "dsc",
				Subsystem: "engine",
				Name:      "liquidated_health_factor",
				Help:      "Health factor of positions at the moment they were liquidated.",
				Buckets:   []float64{0.1, 0.25, 0.5, 0.75, 0.9, 0.95, 1},
			}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dsc",
				Subsystem: "engine",
				Name:      "events_total",
				Help:      "Count of committed engine events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(
			dscRegistry.operations,
			dscRegistry.latency,
			dscRegistry.liquidations,
			dscRegistry.liquidatedHF,
			dscRegistry.events,
		)
	})
	return dscRegistry
}

// ObserveOperation records the outcome of an engine operation. Reason should be
// a stable label such as "ok" or "stale_price".
func (m *DSCMetrics) ObserveOperation(operation, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	if operation = strings.TrimSpace(operation); operation == "" {
		operation = "unknown"
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unknown"
	}
	m.operations.WithLabelValues(operation, reason).Inc()
	if duration > 0 {
		m.latency.WithLabelValues(operation).Observe(duration.Seconds())
	}
}

// RecordLiquidation counts a committed liquidation and the 18 decimal health
// factor the position had before it.
func (m *DSCMetrics) RecordLiquidation(collateral string, startingHF *big.Int) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(strings.ToLower(strings.TrimSpace(collateral))).Inc()
	if startingHF != nil {
		ratio, _ := new(big.Float).Quo(new(big.Float).SetInt(startingHF), healthScale).Float64()
		m.liquidatedHF.Observe(ratio)
	}
}

// Emit counts a committed engine event, letting the registry sit behind an
// events.Emitter.
func (m *DSCMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	m.events.WithLabelValues(evt.EventType()).Inc()
}

// EventsCounter exposes the event counter for tests.
func (m *DSCMetrics) EventsCounter() *prometheus.CounterVec { return m.events }

// OperationsCounter exposes the operation counter for tests.
func (m *DSCMetrics) OperationsCounter() *prometheus.CounterVec { return m.operations }

// LiquidationsCounter exposes the liquidation counter for tests.
func (m *DSCMetrics) LiquidationsCounter() *prometheus.CounterVec { return m.liquidations }

// APIMetrics tracks the HTTP surface of the engine service.
type APIMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	throttle *prometheus.CounterVec
}

// API returns the lazily-initialised HTTP metrics registry.
func API() *APIMetrics {
	apiMetricsOnce.Do(func() {
		apiRegistry = &APIMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dsc",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route and outcome.",
			}, []string{"route", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dsc",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "dsc",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttle: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dsc",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by the rate limiter.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			apiRegistry.requests,
			apiRegistry.errors,
			apiRegistry.latency,
			apiRegistry.throttle,
		)
	})
	return apiRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *APIMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(route, fmt.Sprintf("%d", status)).Inc()
	}
	m.requests.WithLabelValues(route, outcome).Inc()
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for route.
func (m *APIMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.throttle.WithLabelValues(route).Inc()
}
