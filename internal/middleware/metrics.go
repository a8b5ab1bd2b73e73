package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type httpMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newHTTPMetrics() *httpMetrics {
	return &httpMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests (Rate)",
			},
			[]string{"method", "path", "status"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_request_errors_total",
				Help: "Total number of HTTP request errors",
			},
			[]string{"method", "path", "status", "error_type"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds (Duration)",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}
}

// Metrics records rate, errors and duration of every request into reg.
func Metrics(reg prometheus.Registerer) gin.HandlerFunc {
	m := newHTTPMetrics()
	reg.MustRegister(m.requests, m.errors, m.duration)

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		statusStr := strconv.Itoa(status)
		// Route templates keep ride ids out of the label set.
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method

		m.requests.WithLabelValues(method, path, statusStr).Inc()

		switch {
		case status >= 500:
			m.errors.WithLabelValues(method, path, statusStr, "server").Inc()
		case status >= 400:
			m.errors.WithLabelValues(method, path, statusStr, "client").Inc()
		}

		m.duration.WithLabelValues(method, path, statusStr).Observe(time.Since(start).Seconds())
	}
}
