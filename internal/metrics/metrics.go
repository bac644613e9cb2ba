// Package metrics exposes Prometheus metrics for protocol rounds and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace is the Prometheus namespace for all custody metrics
	Namespace = "custody"

	LabelProtocol   = "protocol"
	LabelRound      = "round"
	LabelStatus     = "status"
	LabelCategory   = "category"
	LabelRoute      = "route"
	LabelStatusCode = "status_code"

	StatusSuccess = "success"
	StatusError   = "error"
)

var (
	// RoundsTotal counts protocol calls by protocol, round and outcome.
	RoundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rounds_total",
			Help:      "Total number of protocol round calls by protocol, round, and status",
		},
		[]string{LabelProtocol, LabelRound, LabelStatus},
	)

	// RoundDuration tracks how long one round call takes. Paillier key
	// generation dominates the first DKG round.
	RoundDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "round_duration_seconds",
			Help:      "Duration of protocol round calls in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{LabelProtocol},
	)

	// ErrorsTotal counts failed calls by error category.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total number of failed protocol calls by error category",
		},
		[]string{LabelCategory},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status code",
		},
		[]string{LabelRoute, LabelStatusCode},
	)
)

// RecordRound records one protocol call. category is empty on success.
func RecordRound(protocol, round, category string, d time.Duration) {
	status := StatusSuccess
	if category != "" {
		status = StatusError
		ErrorsTotal.WithLabelValues(category).Inc()
	}
	RoundsTotal.WithLabelValues(protocol, round, status).Inc()
	RoundDuration.WithLabelValues(protocol).Observe(d.Seconds())
}

// GinMiddleware counts requests per matched route.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
