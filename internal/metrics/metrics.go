// Package metrics exposes Prometheus collectors for the HTTP surface and the
// credit ledger.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "creditsystem",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "creditsystem",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)
)

var (
	reservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "creditsystem",
			Subsystem: "ledger",
			Name:      "reservations_total",
			Help:      "Credit reservation attempts by outcome",
		},
		[]string{"outcome"}, // reserved, insufficient
	)

	settlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "creditsystem",
			Subsystem: "ledger",
			Name:      "settlements_total",
			Help:      "Terminal reservation transitions by outcome",
		},
		[]string{"outcome"}, // committed, reversed
	)

	sweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "creditsystem",
			Subsystem: "ledger",
			Name:      "swept_reservations_total",
			Help:      "Stale reservations reversed by the sweeper",
		},
	)

	sweepFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "creditsystem",
			Subsystem: "ledger",
			Name:      "sweep_failures_total",
			Help:      "Sweep ticks that exhausted their retries",
		},
	)
)

// HTTP returns gin middleware recording request counts and latency.
func HTTP() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		method := c.Request.Method

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

func RecordReservation(outcome string) {
	reservationsTotal.WithLabelValues(outcome).Inc()
}

func RecordSettlement(outcome string) {
	settlementsTotal.WithLabelValues(outcome).Inc()
}

func RecordSwept(n int) {
	sweptTotal.Add(float64(n))
}

func RecordSweepFailure() {
	sweepFailures.Inc()
}
