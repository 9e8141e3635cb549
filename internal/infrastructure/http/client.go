package infrastructure

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"

	"crosspost/config"
	"crosspost/internal/domain"
	"crosspost/internal/logger"
	"crosspost/internal/metrics"
)

// HTTPClient provides a pooled HTTP client with one circuit breaker per upstream host
type HTTPClient struct {
	client  *http.Client
	config  *config.Config
	metrics *metrics.Collector

	mu       sync.Mutex
	breakers map[string]circuitbreaker.CircuitBreaker[*http.Response]
}

// Option configures an HTTPClient
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPClient) {
		if client != nil {
			c.client = client
		}
	}
}

// WithMetrics reports breaker state changes to the collector
func WithMetrics(collector *metrics.Collector) Option {
	return func(c *HTTPClient) {
		c.metrics = collector
	}
}

// NewHTTPClient creates a new optimized HTTP client for I/O bound operations
func NewHTTPClient(cfg *config.Config, opts ...Option) *HTTPClient {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		ForceAttemptHTTP2: true,
		WriteBufferSize:   64 * 1024,
		ReadBufferSize:    64 * 1024,
	}

	c := &HTTPClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.HTTPClientTimeout,
		},
		config:   cfg,
		breakers: make(map[string]circuitbreaker.CircuitBreaker[*http.Response]),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// breaker returns the circuit breaker of host, creating it on first use
func (c *HTTPClient) breaker(host string) circuitbreaker.CircuitBreaker[*http.Response] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[host]; ok {
		return cb
	}

	threshold := uint(c.config.BreakerFailureThreshold)
	if threshold == 0 {
		threshold = 5
	}
	delay := c.config.BreakerDelay
	if delay <= 0 {
		delay = 30 * time.Second
	}

	cb := circuitbreaker.NewBuilder[*http.Response]().
		WithFailureThresholdRatio(threshold, threshold*2).
		WithDelay(delay).
		WithSuccessThreshold(1).
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				// caller deadlines say nothing about the health of the host
				return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
			}
			return resp != nil && resp.StatusCode >= http.StatusInternalServerError
		}).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			open := event.NewState == circuitbreaker.OpenState
			c.metrics.CircuitOpen(host, open)
			logger.WithFields(logger.Fields{
				"host":       host,
				"from_state": stateName(event.OldState),
				"to_state":   stateName(event.NewState),
			}).Warn("circuit breaker state change")
		}).
		Build()

	c.breakers[host] = cb
	return cb
}

func stateName(state circuitbreaker.State) string {
	switch state {
	case circuitbreaker.OpenState:
		return "open"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	default:
		return "closed"
	}
}

// Do performs a request through the circuit breaker of its host.
// An open circuit fails fast with an upstream_unavailable PublishError.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	host := req.URL.Host
	resp, err := failsafe.With(c.breaker(host)).
		WithContext(req.Context()).
		Get(func() (*http.Response, error) {
			return c.client.Do(req)
		})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return nil, domain.WrapPublishError(domain.ErrorKindUpstreamUnavailable, err, "circuit open for %s", host)
		}
		return nil, err
	}
	return resp, nil
}

// Get performs a GET request
func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return c.Do(req)
}

// GetClient returns the underlying HTTP client
func (c *HTTPClient) GetClient() *http.Client {
	return c.client
}
