package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// unmatchedPath labels requests that hit no route, so arbitrary URLs never
// become label values.
const unmatchedPath = "unmatched"

type httpMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	size     *prometheus.HistogramVec
	inflight prometheus.Gauge
	replays  *prometheus.CounterVec
}

func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	f := promauto.With(reg)
	byRoute := []string{"method", "path"}
	return &httpMetrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldops",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "path", "status"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fieldops",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency. AI and remote-store routes fill the upper buckets.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, byRoute),
		size: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fieldops",
			Name:      "http_response_size_bytes",
			Help:      "HTTP response body size.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
		}, byRoute),
		inflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "fieldops",
			Name:      "http_requests_inflight",
			Help:      "HTTP requests currently being served.",
		}),
		replays: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldops",
			Name:      "http_idempotent_replays_total",
			Help:      "Writes answered from a stored idempotent result.",
		}, byRoute),
	}
}

var defaultHTTPMetrics = newHTTPMetrics(prometheus.DefaultRegisterer)

// Metrics records request count, latency, response size and in-flight
// requests per registered route, plus idempotent replays.
func Metrics() gin.HandlerFunc { return defaultHTTPMetrics.handler() }

func (m *httpMetrics) handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.inflight.Inc()
		defer m.inflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = unmatchedPath
		}
		method := c.Request.Method
		m.requests.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.latency.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		if n := c.Writer.Size(); n >= 0 {
			m.size.WithLabelValues(method, path).Observe(float64(n))
		}
		if IsReplay(c) {
			m.replays.WithLabelValues(method, path).Inc()
		}
	}
}
