package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// RangeMode selects whether isochrone thresholds measure travel time or
// travel distance.
type RangeMode string

const (
	RangeTime     RangeMode = "time"     // thresholds in seconds
	RangeDistance RangeMode = "distance" // thresholds in meters
)

// Isochrone is one reachability polygon for a center at a single threshold.
// A center has at most one record per (identity, Value); GroupIndex is the
// provider's opaque disambiguator for disjoint polygons within a response
// and carries no ordering semantics.
type Isochrone struct {
	Name       string          `json:"name"`
	State      string          `json:"state"`
	ZipCode    string          `json:"zip_code"`
	GroupIndex int             `json:"group_index"`
	Value      float64         `json:"value"`  // seconds (time mode) or meters (distance mode)
	Center     geom.Coord      `json:"center"` // [lon, lat]
	Ring       []geom.Coord    `json:"ring"`   // closed outer ring, first == last
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	ModifiedAt time.Time       `json:"modified_at,omitempty"`
}

// Identity returns the owning center's natural key.
func (iso Isochrone) Identity() Identity {
	return Identity{Name: iso.Name, State: iso.State, ZipCode: iso.ZipCode}
}

// Minutes returns the threshold expressed in minutes. Only meaningful in
// time mode; it is echoed into GeoJSON properties for map tooltips.
func (iso Isochrone) Minutes() float64 { return iso.Value / 60 }

// Polygon builds a go-geom polygon (SRID 4326) from the ring.
func (iso Isochrone) Polygon() (*geom.Polygon, error) {
	if err := iso.Validate(); err != nil {
		return nil, err
	}
	flat := make([]float64, 0, len(iso.Ring)*2)
	for _, c := range iso.Ring {
		flat = append(flat, c[0], c[1])
	}
	poly := geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)})
	return poly.SetSRID(4326), nil
}

// Validate enforces the record invariants: a positive threshold and a simple
// closed ring with at least four points. The center is not required to lie
// inside the ring; routing asymmetries put it outside on occasion.
func (iso Isochrone) Validate() error {
	if iso.Value <= 0 {
		return eris.Errorf("isochrone %s: threshold must be positive, got %v", iso.Identity(), iso.Value)
	}
	if len(iso.Ring) < 4 {
		return eris.Errorf("isochrone %s: ring has %d points, need at least 4", iso.Identity(), len(iso.Ring))
	}
	first, last := iso.Ring[0], iso.Ring[len(iso.Ring)-1]
	if first[0] != last[0] || first[1] != last[1] {
		return eris.Errorf("isochrone %s: ring is not closed", iso.Identity())
	}
	if len(iso.Center) < 2 {
		return eris.Errorf("isochrone %s: missing center point", iso.Identity())
	}
	return nil
}
