package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "protrace_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "protrace_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	registrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "protrace_registrations_total",
		Help: "Total registration attempts by outcome.",
	}, []string{"status"})

	registryEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "protrace_registry_entries",
		Help: "Number of stored fingerprints.",
	})

	treeLeaves = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "protrace_tree_leaves",
		Help: "Number of leaves in the Merkle tree.",
	})

	anchorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "protrace_anchors_total",
		Help: "Total anchoring attempts by result.",
	}, []string{"result"})

	webhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "protrace_webhook_deliveries_total",
		Help: "Total webhook delivery attempts by outcome.",
	}, []string{"result"})

	extractionSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "protrace_extraction_seconds",
		Help:    "Fingerprint extraction time in seconds.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordRegistration records a registration outcome ("accepted", "rejected"
// or "error").
func RecordRegistration(status string) {
	registrationsTotal.WithLabelValues(status).Inc()
}

// SetTreeGauges sets the registry size and tree leaf gauges.
func SetTreeGauges(entries, leaves int) {
	registryEntries.Set(float64(entries))
	treeLeaves.Set(float64(leaves))
}

// RecordAnchor records an anchoring attempt result. It matches
// anchor.MetricsRecordFunc.
func RecordAnchor(result string) {
	anchorsTotal.WithLabelValues(result).Inc()
}

// ObserveExtraction records the time spent fingerprinting one image.
func ObserveExtraction(d time.Duration) {
	extractionSeconds.Observe(d.Seconds())
}

// RecordWebhookDelivery records one webhook delivery attempt. It matches
// webhooks.MetricsRecorder.
func RecordWebhookDelivery(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	webhookDeliveries.WithLabelValues(result).Inc()
}
