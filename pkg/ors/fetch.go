package ors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/reachmaps/reach-cli/internal/model"
	"github.com/reachmaps/reach-cli/internal/resilience"
)

type isochroneRequest struct {
	Locations [][]float64 `json:"locations"`
	Range     []float64   `json:"range"`
	RangeType string      `json:"range_type"`
	Smoothing float64     `json:"smoothing,omitempty"`
}

type featureCollection struct {
	Type     string          `json:"type"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Features []feature       `json:"features"`
}

type feature struct {
	Properties struct {
		GroupIndex int       `json:"group_index"`
		Value      float64   `json:"value"`
		Center     []float64 `json:"center"`
	} `json:"properties"`
	Geometry struct {
		Type        string        `json:"type"`
		Coordinates [][][]float64 `json:"coordinates"`
	} `json:"geometry"`
}

// FetchIsochrones requests every threshold for one center in a single call
// and converts the response features into records. Features the provider
// returns malformed, open-ringed, or at a threshold nobody asked for are
// dropped with a warning rather than failing the center.
func (c *client) FetchIsochrones(ctx context.Context, center model.Location, thresholds []float64, mode model.RangeMode) ([]model.Isochrone, error) {
	if !center.Resolved() {
		return nil, eris.Errorf("ors: center %s has no coordinates", center.Identity())
	}
	if len(thresholds) == 0 {
		return nil, eris.New("ors: no thresholds requested")
	}
	for _, t := range thresholds {
		if t <= 0 {
			return nil, eris.Errorf("ors: threshold must be positive, got %v", t)
		}
	}

	payload := isochroneRequest{
		Locations: [][]float64{{*center.Longitude, *center.Latitude}},
		Range:     thresholds,
		RangeType: string(mode),
		Smoothing: c.smoothing,
	}

	fc, err := resilience.Do(ctx, c.retry, func(ctx context.Context) (*featureCollection, error) {
		return c.request(ctx, payload)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "ors: isochrones for %s", center.Identity())
	}

	records := c.collect(center, fc, thresholds)
	sort.SliceStable(records, func(i, j int) bool { return records[i].Value < records[j].Value })
	return records, nil
}

func (c *client) request(ctx context.Context, payload isochroneRequest) (*featureCollection, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "ors: marshal request")
	}

	url := fmt.Sprintf("%s/v2/isochrones/%s", c.baseURL, c.profile)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "ors: build request")
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/geo+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		err := eris.Errorf("ors: status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, resilience.NewClientError(err, resp.StatusCode)
	}

	var fc featureCollection
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		return nil, eris.Wrap(err, "ors: decode response")
	}
	return &fc, nil
}

// collect converts response features into records, skipping anything that
// fails validation. Interior rings are discarded; only the outer boundary
// matters for the reachability map.
func (c *client) collect(center model.Location, fc *featureCollection, requested []float64) []model.Isochrone {
	id := center.Identity()
	records := make([]model.Isochrone, 0, len(fc.Features))
	for i, f := range fc.Features {
		if f.Geometry.Type != "Polygon" || len(f.Geometry.Coordinates) == 0 {
			zap.L().Warn("dropping feature with unusable geometry",
				zap.String("center", id.String()),
				zap.Int("feature", i),
				zap.String("geometry_type", f.Geometry.Type))
			continue
		}
		if !containsValue(requested, f.Properties.Value) {
			zap.L().Warn("dropping feature with unrequested threshold",
				zap.String("center", id.String()),
				zap.Int("feature", i),
				zap.Float64("value", f.Properties.Value))
			continue
		}

		outer := f.Geometry.Coordinates[0]
		rec := model.Isochrone{
			Name:       id.Name,
			State:      id.State,
			ZipCode:    id.ZipCode,
			GroupIndex: f.Properties.GroupIndex,
			Value:      f.Properties.Value,
			Center:     featureCenter(f, center),
			Ring:       toRing(outer),
			Metadata:   fc.Metadata,
		}
		if err := rec.Validate(); err != nil {
			zap.L().Warn("dropping invalid feature",
				zap.String("center", id.String()),
				zap.Int("feature", i),
				zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records
}

// featureCenter prefers the provider's snapped center, falling back to the
// geocoded coordinates when the response omits it.
func featureCenter(f feature, center model.Location) geom.Coord {
	if len(f.Properties.Center) >= 2 {
		return geom.Coord{f.Properties.Center[0], f.Properties.Center[1]}
	}
	return geom.Coord{*center.Longitude, *center.Latitude}
}

func toRing(coords [][]float64) []geom.Coord {
	ring := make([]geom.Coord, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		ring = append(ring, geom.Coord{c[0], c[1]})
	}
	return ring
}

func containsValue(requested []float64, v float64) bool {
	const eps = 1e-6
	for _, r := range requested {
		if v > r-eps && v < r+eps {
			return true
		}
	}
	return false
}
