package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/reachmaps/reach-cli/internal/model"
)

func newLocalStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	return s
}

func springfield() model.Location {
	return model.Location{
		Name:      "Springfield Medical Center",
		Address:   "800 E Carpenter St",
		City:      "Springfield",
		State:     "IL",
		ZipCode:   "62701",
		Latitude:  model.Float64Ptr(39.7817),
		Longitude: model.Float64Ptr(-89.6501),
	}
}

func ringAround(lon, lat, d float64) []geom.Coord {
	return []geom.Coord{
		{lon - d, lat - d},
		{lon + d, lat - d},
		{lon + d, lat + d},
		{lon - d, lat + d},
		{lon - d, lat - d},
	}
}

func isochroneFor(loc model.Location, value float64) model.Isochrone {
	id := loc.Identity()
	return model.Isochrone{
		Name:    id.Name,
		State:   id.State,
		ZipCode: id.ZipCode,
		Value:   value,
		Center:  geom.Coord{*loc.Longitude, *loc.Latitude},
		Ring:    ringAround(*loc.Longitude, *loc.Latitude, value/36000),
	}
}

func TestLocalUpsertCentersPreservesOrder(t *testing.T) {
	s := newLocalStore(t)
	ctx := context.Background()

	first := springfield()
	second := springfield()
	second.Name = "Decatur Clinic"
	second.City = "Decatur"
	second.ZipCode = "62521"

	require.NoError(t, s.UpsertCenters(ctx, []model.Location{first, second}))

	// Re-upserting the first row with new coordinates must replace it in
	// place, not reorder or duplicate.
	updated := first
	updated.Latitude = model.Float64Ptr(40.0)
	require.NoError(t, s.UpsertCenters(ctx, []model.Location{updated}))

	centers, err := s.ListCenters(ctx)
	require.NoError(t, err)
	require.Len(t, centers, 2)
	assert.Equal(t, "Springfield Medical Center", centers[0].Name)
	assert.Equal(t, "Decatur Clinic", centers[1].Name)
	require.NotNil(t, centers[0].Latitude)
	assert.Equal(t, 40.0, *centers[0].Latitude)
	assert.Equal(t, "800 E Carpenter St", centers[0].Address)
}

func TestLocalCSVRoundTripKeepsErrorColumn(t *testing.T) {
	s := newLocalStore(t)
	ctx := context.Background()

	row := springfield()
	row.Latitude = nil
	row.Longitude = nil
	row.GeocodeError = "Location not found"
	require.NoError(t, s.UpsertLocations(ctx, []model.Location{row}))

	rows, err := s.ListLocations(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Location not found", rows[0].GeocodeError)
	assert.Nil(t, rows[0].Latitude)
	assert.False(t, rows[0].Resolved())
}

func TestLocalUpsertIsochronesIdempotent(t *testing.T) {
	s := newLocalStore(t)
	ctx := context.Background()
	loc := springfield()

	records := []model.Isochrone{
		isochroneFor(loc, 900),
		isochroneFor(loc, 1800),
		isochroneFor(loc, 2700),
	}
	require.NoError(t, s.UpsertIsochrones(ctx, records))
	require.NoError(t, s.UpsertIsochrones(ctx, records))

	got, err := s.IsochronesFor(ctx, loc.Identity())
	require.NoError(t, err)
	require.Len(t, got, 3)

	values := []float64{got[0].Value, got[1].Value, got[2].Value}
	assert.Equal(t, []float64{900, 1800, 2700}, values)
	assert.Equal(t, 15.0, got[0].Minutes())
	assert.Equal(t, 30.0, got[1].Minutes())
	assert.Equal(t, 45.0, got[2].Minutes())
	for _, rec := range got {
		assert.NoError(t, rec.Validate())
		assert.GreaterOrEqual(t, len(rec.Ring), 4)
		assert.Equal(t, rec.Ring[0], rec.Ring[len(rec.Ring)-1])
	}
}

func TestLocalUpsertReplacesMatchingThreshold(t *testing.T) {
	s := newLocalStore(t)
	ctx := context.Background()
	loc := springfield()

	require.NoError(t, s.UpsertIsochrones(ctx, []model.Isochrone{isochroneFor(loc, 1800)}))

	// Same identity and value with a different ring replaces the feature.
	replacement := isochroneFor(loc, 1800)
	replacement.Ring = ringAround(*loc.Longitude, *loc.Latitude, 0.5)
	require.NoError(t, s.UpsertIsochrones(ctx, []model.Isochrone{replacement}))

	got, err := s.IsochronesFor(ctx, loc.Identity())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, *loc.Longitude-0.5, got[0].Ring[0][0], 1e-9)
}

func TestLocalDocumentLayout(t *testing.T) {
	s := newLocalStore(t)
	ctx := context.Background()
	loc := springfield()
	loc.Name = "São Paulo Café"

	require.NoError(t, s.UpsertIsochrones(ctx, []model.Isochrone{isochroneFor(loc, 900)}))

	// Diacritics are stripped from document names; the state and zip are
	// part of the name so the identity tuple stays unambiguous on disk.
	perCenter := filepath.Join(s.root, "isochrones", "SaoPauloCafe_IL_62701_isochrones.geojson")
	_, err := os.Stat(perCenter)
	require.NoError(t, err)

	combined, err := os.ReadFile(filepath.Join(s.root, "isochrones", "isochrones.geojson"))
	require.NoError(t, err)

	var doc struct {
		Type     string `json:"type"`
		Features []struct {
			Properties map[string]any `json:"properties"`
			Geometry   struct {
				Type string `json:"type"`
			} `json:"geometry"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(combined, &doc))
	assert.Equal(t, "FeatureCollection", doc.Type)
	require.Len(t, doc.Features, 1)

	props := doc.Features[0].Properties
	assert.Equal(t, "São Paulo Café", props["name"])
	assert.Equal(t, "IL", props["state"])
	assert.Equal(t, "62701", props["zip_code"])
	assert.Equal(t, 900.0, props["value"])
	assert.Equal(t, 15.0, props["minutes"])
	assert.Equal(t, 0.0, props["group_index"])
	assert.Equal(t, "Polygon", doc.Features[0].Geometry.Type)
}

// Two centers can share a name as long as state or zip differ; each keeps
// its own document, reads, and cascade delete.
func TestLocalSameNameCentersStayIndependent(t *testing.T) {
	s := newLocalStore(t)
	ctx := context.Background()

	il := springfield()
	il.Name = "Springfield"
	mo := springfield()
	mo.Name = "Springfield"
	mo.State = "MO"
	mo.ZipCode = "65801"
	mo.Latitude = model.Float64Ptr(37.2090)
	mo.Longitude = model.Float64Ptr(-93.2923)

	require.NoError(t, s.UpsertCenters(ctx, []model.Location{il, mo}))
	require.NoError(t, s.UpsertIsochrones(ctx, []model.Isochrone{isochroneFor(il, 900)}))
	require.NoError(t, s.UpsertIsochrones(ctx, []model.Isochrone{isochroneFor(mo, 900)}))

	gotIL, err := s.IsochronesFor(ctx, il.Identity())
	require.NoError(t, err)
	require.Len(t, gotIL, 1)
	assert.Equal(t, "IL", gotIL[0].State)
	assert.Equal(t, "62701", gotIL[0].ZipCode)

	gotMO, err := s.IsochronesFor(ctx, mo.Identity())
	require.NoError(t, err)
	require.Len(t, gotMO, 1)
	assert.Equal(t, "MO", gotMO[0].State)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Centers: 2, Locations: 0, Isochrones: 2}, counts)

	// Deleting one namesake must not touch the other.
	require.NoError(t, s.DeleteCenter(ctx, mo.Identity()))

	centers, err := s.ListCenters(ctx)
	require.NoError(t, err)
	require.Len(t, centers, 1)
	assert.Equal(t, "IL", centers[0].State)

	gotIL, err = s.IsochronesFor(ctx, il.Identity())
	require.NoError(t, err)
	require.Len(t, gotIL, 1)
}

func TestLocalDeleteCenterCascades(t *testing.T) {
	s := newLocalStore(t)
	ctx := context.Background()

	keep := springfield()
	doomed := springfield()
	doomed.Name = "Decatur Clinic"
	doomed.ZipCode = "62521"

	require.NoError(t, s.UpsertCenters(ctx, []model.Location{keep, doomed}))
	require.NoError(t, s.UpsertIsochrones(ctx, []model.Isochrone{
		isochroneFor(keep, 900),
		isochroneFor(doomed, 900),
		isochroneFor(doomed, 1800),
	}))

	require.NoError(t, s.DeleteCenter(ctx, doomed.Identity()))

	centers, err := s.ListCenters(ctx)
	require.NoError(t, err)
	require.Len(t, centers, 1)
	assert.Equal(t, "Springfield Medical Center", centers[0].Name)

	gone, err := s.IsochronesFor(ctx, doomed.Identity())
	require.NoError(t, err)
	assert.Empty(t, gone)

	// The survivor's features remain in the combined document.
	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Centers: 1, Locations: 0, Isochrones: 1}, counts)
}

func TestLocalCounts(t *testing.T) {
	s := newLocalStore(t)
	ctx := context.Background()
	loc := springfield()

	require.NoError(t, s.UpsertCenters(ctx, []model.Location{loc}))
	require.NoError(t, s.UpsertLocations(ctx, []model.Location{loc}))
	require.NoError(t, s.UpsertIsochrones(ctx, []model.Isochrone{
		isochroneFor(loc, 900),
		isochroneFor(loc, 1800),
	}))

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Centers: 1, Locations: 1, Isochrones: 2}, counts)
}

func TestLocalEmptyStore(t *testing.T) {
	s := newLocalStore(t)
	ctx := context.Background()

	centers, err := s.ListCenters(ctx)
	require.NoError(t, err)
	assert.Empty(t, centers)

	records, err := s.IsochronesFor(ctx, model.Identity{Name: "Nowhere", State: "KS", ZipCode: "00000"})
	require.NoError(t, err)
	assert.Empty(t, records)

	require.NoError(t, s.Ping(ctx))
}
