// Package geocode resolves place rows to coordinates via a Nominatim-style
// public geocoding service, with a multi-stage query fallback and a
// minimum-interval rate policy the service's usage terms require.
package geocode

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/reachmaps/reach-cli/internal/model"
)

// Advisory and failure strings recorded on rows. They are part of the
// geocoded output file contract, so downstream tooling matches on them.
const (
	ErrNeedsManualReview = "Geocoded to city center - needs manual review"
	ErrNotFound          = "Location not found"
)

// Client geocodes a single place row.
type Client interface {
	// Resolve runs the fallback chain for one row: full address, then the
	// place name, then city/state/zip. A miss is not an error; the Result
	// reports Matched=false.
	Resolve(ctx context.Context, row model.Location) (*Result, error)
}

// Result holds the geocoding output for one row.
type Result struct {
	Latitude  float64
	Longitude float64
	Matched   bool
	Query     string // the query string that produced the match
	Advisory  string // non-empty when the match needs manual review
}

// Option configures the nominatim client.
type Option func(*nominatim)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(n *nominatim) { n.httpClient = hc }
}

// WithUserAgent sets the User-Agent header. The public service rejects
// requests without an identifying agent.
func WithUserAgent(ua string) Option {
	return func(n *nominatim) { n.userAgent = ua }
}

// WithRateLimit sets the requests-per-second ceiling. The public service
// allows at most one request per second.
func WithRateLimit(rps float64) Option {
	return func(n *nominatim) { n.limiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

// WithBaseURL points the client at a different service endpoint.
func WithBaseURL(base string) Option {
	return func(n *nominatim) { n.baseURL = base }
}

type nominatim struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	limiter    *rate.Limiter
}

// NewClient creates a Nominatim geocoding client with the given options.
func NewClient(opts ...Option) Client {
	n := &nominatim{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    "https://nominatim.openstreetmap.org",
		userAgent:  "reach-cli geo_mapper",
		limiter:    rate.NewLimiter(1, 1),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Resolve tries the best available query strings in order. Every stage that
// actually issues a request first waits on the shared limiter, so the
// fallback chain never bursts.
func (n *nominatim) Resolve(ctx context.Context, row model.Location) (*Result, error) {
	// Stage 1: full street address.
	if row.Address != "" {
		q := joinQuery(row.Address, row.City, row.State, row.ZipCode)
		hit, err := n.search(ctx, q)
		if err != nil {
			return nil, err
		}
		if hit != nil {
			return &Result{Latitude: hit.lat, Longitude: hit.lon, Matched: true, Query: q}, nil
		}
	}

	// Stage 2: the bare place name (parks, landmarks).
	if row.Name != "" {
		hit, err := n.search(ctx, row.Name)
		if err != nil {
			return nil, err
		}
		if hit != nil {
			return &Result{Latitude: hit.lat, Longitude: hit.lon, Matched: true, Query: row.Name}, nil
		}
	}

	// Stage 3: city/state/zip centroid.
	if row.City != "" || row.State != "" || row.ZipCode != "" {
		q := joinQuery("", row.City, row.State, row.ZipCode)
		hit, err := n.search(ctx, q)
		if err != nil {
			return nil, err
		}
		if hit != nil {
			res := &Result{Latitude: hit.lat, Longitude: hit.lon, Matched: true, Query: q}
			// A centroid match when a street address existed is flagged for
			// manual review rather than trusted silently.
			if row.Address != "" {
				res.Advisory = ErrNeedsManualReview
			}
			return res, nil
		}
	}

	return &Result{Matched: false}, nil
}
