package export

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/reachmaps/reach-cli/internal/model"
	"github.com/reachmaps/reach-cli/internal/store"
)

func seedStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	loc := model.Location{
		Name:      "Springfield Medical Center",
		City:      "Springfield",
		State:     "IL",
		ZipCode:   "62701",
		Latitude:  model.Float64Ptr(39.7817),
		Longitude: model.Float64Ptr(-89.6501),
	}
	require.NoError(t, s.UpsertCenters(ctx, []model.Location{loc}))

	var records []model.Isochrone
	for _, v := range []float64{900, 1800} {
		d := v / 36000
		records = append(records, model.Isochrone{
			Name:    loc.Name,
			State:   loc.State,
			ZipCode: loc.ZipCode,
			Value:   v,
			Center:  geom.Coord{-89.6501, 39.7817},
			Ring: []geom.Coord{
				{-89.6501 - d, 39.7817 - d}, {-89.6501 + d, 39.7817 - d},
				{-89.6501 + d, 39.7817 + d}, {-89.6501 - d, 39.7817 + d},
				{-89.6501 - d, 39.7817 - d},
			},
		})
	}
	require.NoError(t, s.UpsertIsochrones(ctx, records))
	return s
}

func TestShapefileRoundTrip(t *testing.T) {
	s := seedStore(t)
	path := filepath.Join(t.TempDir(), "isochrones.shp")

	n, err := Shapefile(context.Background(), s, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	r, err := shp.Open(path)
	require.NoError(t, err)
	defer r.Close()

	fields := r.Fields()
	require.Len(t, fields, 6)

	count := 0
	for r.Next() {
		row, shape := r.Shape()
		poly, ok := shape.(*shp.Polygon)
		require.True(t, ok)
		assert.NotEmpty(t, poly.Points)

		assert.Equal(t, "Springfield Medical Center", r.ReadAttribute(row, 0))
		assert.Equal(t, "IL", r.ReadAttribute(row, 1))
		assert.Equal(t, "62701", r.ReadAttribute(row, 2))
		count++
	}
	assert.Equal(t, 2, count)
}

func TestShapefileEmptyStore(t *testing.T) {
	s, err := store.NewLocal(t.TempDir())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "empty.shp")

	n, err := Shapefile(context.Background(), s, path)
	require.NoError(t, err)
	assert.Zero(t, n)
}
