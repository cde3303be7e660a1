// Package export writes stored isochrones out to ESRI shapefiles for GIS
// tools that do not read GeoJSON.
package export

import (
	"context"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/reachmaps/reach-cli/internal/model"
	"github.com/reachmaps/reach-cli/internal/store"
)

// shapefileFields is the DBF schema: one row of attributes per polygon.
var shapefileFields = []shp.Field{
	shp.StringField("NAME", 64),
	shp.StringField("STATE", 2),
	shp.StringField("ZIP", 10),
	shp.FloatField("VALUE", 12, 2),
	shp.FloatField("MINUTES", 8, 2),
	shp.NumberField("GROUP_IDX", 4),
}

// Shapefile writes every stored isochrone ring to path and returns how many
// polygons were written. Records that fail validation are skipped with a
// warning; they should not exist in a healthy store.
func Shapefile(ctx context.Context, st store.Store, path string) (int, error) {
	centers, err := st.ListCenters(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "export: list centers")
	}

	w, err := shp.Create(path, shp.POLYGON)
	if err != nil {
		return 0, eris.Wrapf(err, "export: create %s", path)
	}
	defer w.Close()

	if err := w.SetFields(shapefileFields); err != nil {
		return 0, eris.Wrap(err, "export: set fields")
	}

	row := 0
	for _, c := range centers {
		records, err := st.IsochronesFor(ctx, c.Identity())
		if err != nil {
			return row, eris.Wrapf(err, "export: isochrones for %s", c.Identity())
		}
		for _, rec := range records {
			if err := rec.Validate(); err != nil {
				zap.L().Warn("export: skipping invalid record",
					zap.String("center", rec.Identity().String()),
					zap.Error(err))
				continue
			}
			w.Write(polygonShape(rec))
			if err := writeAttributes(w, row, rec); err != nil {
				return row, err
			}
			row++
		}
	}

	zap.L().Info("export: shapefile written",
		zap.String("path", path), zap.Int("polygons", row))
	return row, nil
}

func polygonShape(rec model.Isochrone) *shp.Polygon {
	points := make([]shp.Point, 0, len(rec.Ring))
	for _, c := range rec.Ring {
		points = append(points, shp.Point{X: c[0], Y: c[1]})
	}
	return (*shp.Polygon)(shp.NewPolyLine([][]shp.Point{points}))
}

func writeAttributes(w *shp.Writer, row int, rec model.Isochrone) error {
	values := []any{rec.Name, rec.State, rec.ZipCode, rec.Value, rec.Minutes(), rec.GroupIndex}
	for field, v := range values {
		if err := w.WriteAttribute(row, field, v); err != nil {
			return eris.Wrapf(err, "export: attribute %d for %s", field, rec.Identity())
		}
	}
	return nil
}
