package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics. Workflow metrics (verdicts, queue depths,
// durations) live in internal/stats next to the aggregator.
var (
	toolvetRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toolvet_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	toolvetRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "toolvet_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	toolvetHealthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toolvet_health_checks_total",
		Help: "Total collaborator health probes by result.",
	}, []string{"result"})

	toolvetWebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toolvet_webhook_deliveries_total",
		Help: "Total webhook deliveries by success status.",
	}, []string{"status"})
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
			path = c.Request.URL.Path
		}

		toolvetRequestsTotal.WithLabelValues(method, path, status).Inc()
		toolvetRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordHealthCheck records a collaborator health probe result.
// Wired as the health checker's recorder callback.
func RecordHealthCheck(success bool) {
	if success {
		toolvetHealthChecksTotal.WithLabelValues("success").Inc()
	} else {
		toolvetHealthChecksTotal.WithLabelValues("failure").Inc()
	}
}

// RecordWebhookDelivery records a webhook delivery attempt.
// Wired as the webhook service's metrics recorder.
func RecordWebhookDelivery(success bool) {
	if success {
		toolvetWebhookDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		toolvetWebhookDeliveriesTotal.WithLabelValues("failure").Inc()
	}
}
