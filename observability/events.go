package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type tokenMetrics struct {
	transfers *prometheus.CounterVec
}

var (
	tokenMetricsOnce sync.Once
	tokenRegistry    *tokenMetrics
)

// Tokens returns the metrics registry tracking reference token movements.
func Tokens() *tokenMetrics {
	tokenMetricsOnce.Do(func() {
		tokenRegistry = &tokenMetrics{
			transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dsc",
				Subsystem: "token",
				Name:      "movements_total",
				Help:      "Count of token movements segmented by token symbol and kind.",
			}, []string{"token", "kind"}),
		}
		prometheus.MustRegister(tokenRegistry.transfers)
	})
	return tokenRegistry
}

// RecordMovement increments the movement counter for the supplied token
// symbol. Kind is one of transfer, mint or burn.
func (m *tokenMetrics) RecordMovement(token, kind string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToUpper(token))
	if normalized == "" {
		normalized = "UNKNOWN"
	}
	m.transfers.WithLabelValues(normalized, kind).Inc()
}
