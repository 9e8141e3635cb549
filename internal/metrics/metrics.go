package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "crosspost"

// Collector holds the Prometheus metrics of the service.
// A nil *Collector is valid and records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	publishResults   *prometheus.CounterVec
	publishDuration  *prometheus.HistogramVec
	postOutcomes     *prometheus.CounterVec
	rateLimitDenials *prometheus.CounterVec
	tokenRefreshes   *prometheus.CounterVec
	cleanupJobs      *prometheus.CounterVec
	circuitState     *prometheus.GaugeVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates a collector registered on a fresh registry
func New() *Collector {
	reg := prometheus.NewRegistry()
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry creates a collector registered on reg and served from gatherer
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Collector {
	c := &Collector{gatherer: gatherer}

	c.publishResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "platform_publish_total",
			Help:      "Platform publish attempts by result kind",
		},
		[]string{"platform", "kind"},
	)

	c.publishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "platform_publish_duration_seconds",
			Help:      "Duration of platform adapter calls",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"platform"},
	)

	c.postOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "post_outcomes_total",
			Help:      "Publish attempts by overall post status",
		},
		[]string{"status"},
	)

	c.rateLimitDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_denials_total",
			Help:      "Publish calls denied by local rate limiting",
		},
		[]string{"platform"},
	)

	c.tokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Credential refresh attempts by outcome",
		},
		[]string{"platform", "outcome"},
	)

	c.cleanupJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_jobs_total",
			Help:      "Deferred cleanup dispatches by outcome",
		},
		[]string{"outcome"},
	)

	c.circuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_circuit_open",
			Help:      "1 when the circuit breaker for an upstream host is open",
		},
		[]string{"host"},
	)

	c.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	c.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	reg.MustRegister(
		c.publishResults,
		c.publishDuration,
		c.postOutcomes,
		c.rateLimitDenials,
		c.tokenRefreshes,
		c.cleanupJobs,
		c.circuitState,
		c.httpRequestsTotal,
		c.httpRequestDuration,
	)

	return c
}

// ObservePublish records one adapter result
func (c *Collector) ObservePublish(platform, kind string, d time.Duration) {
	if c == nil {
		return
	}
	c.publishResults.WithLabelValues(platform, kind).Inc()
	c.publishDuration.WithLabelValues(platform).Observe(d.Seconds())
}

// ObservePostOutcome records the overall status of one publish attempt
func (c *Collector) ObservePostOutcome(status string) {
	if c == nil {
		return
	}
	c.postOutcomes.WithLabelValues(status).Inc()
}

// RateLimitDenied records a local admission denial
func (c *Collector) RateLimitDenied(platform string) {
	if c == nil {
		return
	}
	c.rateLimitDenials.WithLabelValues(platform).Inc()
}

// TokenRefresh records a credential refresh attempt
func (c *Collector) TokenRefresh(platform, outcome string) {
	if c == nil {
		return
	}
	c.tokenRefreshes.WithLabelValues(platform, outcome).Inc()
}

// CleanupJob records a cleanup dispatch outcome
func (c *Collector) CleanupJob(outcome string) {
	if c == nil {
		return
	}
	c.cleanupJobs.WithLabelValues(outcome).Inc()
}

// CircuitOpen sets the breaker gauge for a host
func (c *Collector) CircuitOpen(host string, open bool) {
	if c == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	c.circuitState.WithLabelValues(host).Set(v)
}

// Middleware returns gin middleware that collects HTTP metrics
func (c *Collector) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if c == nil {
			ctx.Next()
			return
		}
		start := time.Now()
		ctx.Next()

		endpoint := ctx.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		method := ctx.Request.Method
		c.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(ctx.Writer.Status())).Inc()
		c.httpRequestDuration.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (c *Collector) Handler() gin.HandlerFunc {
	var handler = promhttp.Handler()
	if c != nil && c.gatherer != nil {
		handler = promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
	}
	return func(ctx *gin.Context) {
		handler.ServeHTTP(ctx.Writer, ctx.Request)
	}
}
