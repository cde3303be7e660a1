package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// searchResult is one entry of the Nominatim /search JSON response.
// Coordinates arrive as strings.
type searchResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

type hit struct {
	lat float64
	lon float64
}

// search issues one /search lookup and returns the best match, or nil when
// the service knows nothing about the query.
func (n *nominatim) search(ctx context.Context, query string) (*hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	if err := n.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: rate limit wait")
	}

	params := url.Values{
		"q":      {query},
		"format": {"json"},
		"limit":  {"1"},
	}
	reqURL := strings.TrimSuffix(n.baseURL, "/") + "/search?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: build request")
	}
	req.Header.Set("User-Agent", n.userAgent)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: search %q", query)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("geocode: service returned status %d for %q", resp.StatusCode, query)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: read body")
	}

	var results []searchResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, eris.Wrapf(err, "geocode: parse response for %q", query)
	}

	if len(results) == 0 {
		zap.L().Debug("geocode: no match", zap.String("query", query))
		return nil, nil
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: parse latitude %q", results[0].Lat)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: parse longitude %q", results[0].Lon)
	}

	zap.L().Debug("geocode: match",
		zap.String("query", query),
		zap.String("display_name", results[0].DisplayName),
		zap.Float64("lat", lat),
		zap.Float64("lon", lon),
	)
	return &hit{lat: lat, lon: lon}, nil
}

// joinQuery joins the non-empty address parts with commas.
func joinQuery(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, ", ")
}
