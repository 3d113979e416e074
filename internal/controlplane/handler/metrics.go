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
	avDomainsTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "avelero_custom_domains_total",
		Help: "Custom-domain records by status.",
	}, []string{"status"})

	avVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avelero_domain_verifications_total",
		Help: "Domain ownership checks by outcome.",
	}, []string{"outcome"})

	avRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avelero_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	avRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "avelero_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	avExportJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avelero_export_jobs_total",
		Help: "Passport re-export job dispatches by result.",
	}, []string{"result"})
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

		avRequestsTotal.WithLabelValues(method, path, status).Inc()
		avRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordVerification records the outcome of one domain ownership check.
func RecordVerification(success bool) {
	if success {
		avVerificationsTotal.WithLabelValues("success").Inc()
	} else {
		avVerificationsTotal.WithLabelValues("failure").Inc()
	}
}

// RecordExportDispatch records a passport re-export job dispatch attempt.
func RecordExportDispatch(success bool) {
	if success {
		avExportJobsTotal.WithLabelValues("success").Inc()
	} else {
		avExportJobsTotal.WithLabelValues("failure").Inc()
	}
}

// SetDomainsGauge sets the custom-domain count gauge for a given status.
func SetDomainsGauge(status string, count float64) {
	avDomainsTotal.WithLabelValues(status).Set(count)
}
