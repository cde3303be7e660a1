// Package ors fetches reachability polygons from an OpenRouteService-style
// routing API. Calls are paced by a shared token bucket and retried with
// exponential backoff; anything the provider rejects outright becomes a
// per-center failure for the orchestrator to record.
package ors

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/reachmaps/reach-cli/internal/model"
	"github.com/reachmaps/reach-cli/internal/resilience"
)

// Client fetches isochrones for one center across a threshold set.
type Client interface {
	// FetchIsochrones issues a single batched request covering every
	// threshold and returns one record per valid feature, sorted by
	// ascending threshold value. Thresholds must already be normalized
	// (seconds or meters).
	FetchIsochrones(ctx context.Context, center model.Location, thresholds []float64, mode model.RangeMode) ([]model.Isochrone, error)
}

// Limiter suspends the caller until request capacity is available. The
// default is a token bucket sized to the provider's requests-per-minute
// ceiling; tests inject their own to avoid wall-clock waits.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Option configures the client.
type Option func(*client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) { c.httpClient = hc }
}

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(base string) Option {
	return func(c *client) { c.baseURL = base }
}

// WithProfile sets the routing profile (default driving-car).
func WithProfile(profile string) Option {
	return func(c *client) { c.profile = profile }
}

// WithSmoothing sets the isochrone smoothing factor.
func WithSmoothing(s float64) Option {
	return func(c *client) { c.smoothing = s }
}

// WithLimiter injects the rate limiter shared across all calls in a run.
func WithLimiter(l Limiter) Option {
	return func(c *client) { c.limiter = l }
}

// WithRequestsPerMinute sizes the default token-bucket limiter.
func WithRequestsPerMinute(rpm int) Option {
	return func(c *client) {
		if rpm > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1)
		}
	}
}

// WithRetryPolicy overrides the retry policy for transient failures.
func WithRetryPolicy(p resilience.Policy) Option {
	return func(c *client) { c.retry = p }
}

type client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	profile    string
	smoothing  float64
	limiter    Limiter
	retry      resilience.Policy
}

// NewClient creates an isochrone client for the given API key.
func NewClient(apiKey string, opts ...Option) Client {
	c := &client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    "https://api.openrouteservice.org",
		apiKey:     apiKey,
		profile:    "driving-car",
		smoothing:  25,
		limiter:    rate.NewLimiter(rate.Limit(20.0/60.0), 1),
		retry:      resilience.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger("openrouteservice", "isochrones")
	}
	return c
}
