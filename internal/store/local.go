package store

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/reachmaps/reach-cli/internal/model"
)

const (
	centersFile     = "geocoded_city_centers.csv"
	locationsFile   = "geocoded_locations.csv"
	combinedDoc     = "isochrones.geojson"
	centerDocSuffix = "_isochrones.geojson"
)

var csvHeader = []string{"name", "address", "city", "state", "zip_code", "latitude", "longitude", "error"}

// LocalStore implements Store on a flat-file tree:
//
//	<root>/locations/geocoded_city_centers.csv
//	<root>/locations/geocoded_locations.csv
//	<root>/isochrones/<Slug>_isochrones.geojson
//	<root>/isochrones/isochrones.geojson
//
// CSV rows keep input order across upserts; existing identities are replaced
// in place and new ones appended. The combined GeoJSON document is rebuilt
// from the per-center documents after every isochrone write.
type LocalStore struct {
	root string
}

// NewLocal creates a LocalStore rooted at dir, creating the tree on the spot.
// An unwritable root is the only fatal condition.
func NewLocal(dir string) (*LocalStore, error) {
	s := &LocalStore{root: dir}
	if err := s.Migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *LocalStore) locationsDir() string  { return filepath.Join(s.root, "locations") }
func (s *LocalStore) isochronesDir() string { return filepath.Join(s.root, "isochrones") }

func (s *LocalStore) centerDoc(id model.Identity) string {
	return filepath.Join(s.isochronesDir(), id.Slug()+centerDocSuffix)
}

// Migrate creates the directory tree. Safe to call repeatedly.
func (s *LocalStore) Migrate(ctx context.Context) error {
	for _, dir := range []string{s.locationsDir(), s.isochronesDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "local: create %s", dir)
		}
	}
	return nil
}

func (s *LocalStore) Ping(ctx context.Context) error {
	if _, err := os.Stat(s.root); err != nil {
		return eris.Wrapf(err, "local: data dir %s", s.root)
	}
	return nil
}

func (s *LocalStore) Close() error { return nil }

func (s *LocalStore) UpsertCenters(ctx context.Context, rows []model.Location) error {
	return s.upsertCSV(filepath.Join(s.locationsDir(), centersFile), rows)
}

func (s *LocalStore) UpsertLocations(ctx context.Context, rows []model.Location) error {
	return s.upsertCSV(filepath.Join(s.locationsDir(), locationsFile), rows)
}

func (s *LocalStore) ListCenters(ctx context.Context) ([]model.Location, error) {
	return ReadLocationCSV(filepath.Join(s.locationsDir(), centersFile))
}

func (s *LocalStore) ListLocations(ctx context.Context) ([]model.Location, error) {
	return ReadLocationCSV(filepath.Join(s.locationsDir(), locationsFile))
}

// upsertCSV merges rows into the file by identity, preserving the order of
// rows already present and appending newcomers in input order.
func (s *LocalStore) upsertCSV(path string, rows []model.Location) error {
	existing, err := ReadLocationCSV(path)
	if err != nil {
		return err
	}

	index := make(map[string]int, len(existing))
	for i, row := range existing {
		index[row.Identity().Key()] = i
	}
	for _, row := range rows {
		if i, ok := index[row.Identity().Key()]; ok {
			existing[i] = row
			continue
		}
		index[row.Identity().Key()] = len(existing)
		existing = append(existing, row)
	}

	return writeLocationCSV(path, existing)
}

// ReadLocationCSV reads a CSV of location rows. Columns are matched by
// header name; latitude, longitude, and error are optional, so the same
// reader handles raw input files and geocoded output files. A missing file
// reads as empty.
func ReadLocationCSV(path string) ([]model.Location, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "local: open %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "local: read %s", path)
	}
	if len(records) == 0 {
		return nil, nil
	}

	cols := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	rows := make([]model.Location, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := model.Location{
			Name:         field(rec, "name"),
			Address:      field(rec, "address"),
			City:         field(rec, "city"),
			State:        field(rec, "state"),
			ZipCode:      field(rec, "zip_code"),
			GeocodeError: field(rec, "error"),
		}
		if v, err := strconv.ParseFloat(field(rec, "latitude"), 64); err == nil {
			row.Latitude = &v
		}
		if v, err := strconv.ParseFloat(field(rec, "longitude"), 64); err == nil {
			row.Longitude = &v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func writeLocationCSV(path string, rows []model.Location) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return eris.Wrapf(err, "local: create %s", tmp)
	}

	w := csv.NewWriter(f)
	records := [][]string{csvHeader}
	for _, row := range rows {
		var lat, lon string
		if row.Latitude != nil {
			lat = strconv.FormatFloat(*row.Latitude, 'f', -1, 64)
		}
		if row.Longitude != nil {
			lon = strconv.FormatFloat(*row.Longitude, 'f', -1, 64)
		}
		records = append(records, []string{
			row.Name, row.Address, row.City, row.State, row.ZipCode, lat, lon, row.GeocodeError,
		})
	}
	if err := w.WriteAll(records); err != nil {
		f.Close()
		return eris.Wrapf(err, "local: write %s", tmp)
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "local: close %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return eris.Wrapf(err, "local: replace %s", path)
	}
	return nil
}

func (s *LocalStore) UpsertIsochrones(ctx context.Context, records []model.Isochrone) error {
	byCenter := make(map[string][]model.Isochrone)
	var order []model.Identity
	for _, rec := range records {
		key := rec.Identity().Key()
		if _, ok := byCenter[key]; !ok {
			order = append(order, rec.Identity())
		}
		byCenter[key] = append(byCenter[key], rec)
	}

	for _, id := range order {
		if err := s.upsertCenterDoc(id, byCenter[id.Key()]); err != nil {
			return err
		}
	}
	return s.rebuildCombined()
}

// featureKey identifies one feature within a document: the full center
// identity plus the threshold value, mirroring the database unique key.
type featureKey struct {
	center string
	value  float64
}

// upsertCenterDoc folds records into one center's document, replacing any
// existing feature with the same identity and threshold value.
func (s *LocalStore) upsertCenterDoc(id model.Identity, records []model.Isochrone) error {
	path := s.centerDoc(id)
	existing, err := readIsochroneDoc(path)
	if err != nil {
		return err
	}

	index := make(map[featureKey]int, len(existing))
	for i, rec := range existing {
		index[featureKey{rec.Identity().Key(), rec.Value}] = i
	}
	for _, rec := range records {
		key := featureKey{rec.Identity().Key(), rec.Value}
		if i, ok := index[key]; ok {
			existing[i] = rec
			continue
		}
		index[key] = len(existing)
		existing = append(existing, rec)
	}

	return writeIsochroneDoc(path, existing)
}

// IsochronesFor returns one center's records. The document path already
// encodes the full identity, but features are filtered again so a document
// edited by hand cannot leak another center's geometry.
func (s *LocalStore) IsochronesFor(ctx context.Context, id model.Identity) ([]model.Isochrone, error) {
	records, err := readIsochroneDoc(s.centerDoc(id))
	if err != nil {
		return nil, err
	}
	kept := records[:0]
	for _, rec := range records {
		if rec.Identity() == id {
			kept = append(kept, rec)
		}
	}
	return kept, nil
}

// DeleteCenter removes the center's CSV row, its isochrone document, and its
// features from the combined document.
func (s *LocalStore) DeleteCenter(ctx context.Context, id model.Identity) error {
	path := filepath.Join(s.locationsDir(), centersFile)
	rows, err := ReadLocationCSV(path)
	if err != nil {
		return err
	}
	kept := rows[:0]
	for _, row := range rows {
		if row.Identity().Key() != id.Key() {
			kept = append(kept, row)
		}
	}
	if len(kept) < len(rows) {
		if err := writeLocationCSV(path, kept); err != nil {
			return err
		}
	}

	if err := os.Remove(s.centerDoc(id)); err != nil && !os.IsNotExist(err) {
		return eris.Wrapf(err, "local: delete isochrones for %s", id)
	}
	return s.rebuildCombined()
}

func (s *LocalStore) Counts(ctx context.Context) (Counts, error) {
	centers, err := s.ListCenters(ctx)
	if err != nil {
		return Counts{}, err
	}
	locations, err := s.ListLocations(ctx)
	if err != nil {
		return Counts{}, err
	}

	docs, err := s.centerDocs()
	if err != nil {
		return Counts{}, err
	}
	var isochrones int
	for _, doc := range docs {
		records, err := readIsochroneDoc(doc)
		if err != nil {
			return Counts{}, err
		}
		isochrones += len(records)
	}

	return Counts{Centers: len(centers), Locations: len(locations), Isochrones: isochrones}, nil
}

// centerDocs lists the per-center documents, excluding the combined one.
func (s *LocalStore) centerDocs() ([]string, error) {
	entries, err := os.ReadDir(s.isochronesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "local: list isochrone documents")
	}
	var docs []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == combinedDoc || !strings.HasSuffix(name, centerDocSuffix) {
			continue
		}
		docs = append(docs, filepath.Join(s.isochronesDir(), name))
	}
	return docs, nil
}

// rebuildCombined regenerates the combined document from the per-center
// documents. Directory order keeps the output deterministic.
func (s *LocalStore) rebuildCombined() error {
	docs, err := s.centerDocs()
	if err != nil {
		return err
	}
	var all []model.Isochrone
	for _, doc := range docs {
		records, err := readIsochroneDoc(doc)
		if err != nil {
			return err
		}
		all = append(all, records...)
	}
	return writeIsochroneDoc(filepath.Join(s.isochronesDir(), combinedDoc), all)
}

func readIsochroneDoc(path string) ([]model.Isochrone, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "local: read %s", path)
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrapf(err, "local: parse %s", path)
	}

	records := make([]model.Isochrone, 0, len(fc.Features))
	for _, f := range fc.Features {
		rec, err := isochroneFromFeature(f)
		if err != nil {
			zap.L().Warn("skipping unreadable feature",
				zap.String("document", path),
				zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// FeatureCollection builds the GeoJSON document for a set of records. The
// local variant writes these to disk; the handoff API serves them directly.
func FeatureCollection(records []model.Isochrone) (*geojson.FeatureCollection, error) {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(records))}
	for _, rec := range records {
		f, err := featureFromIsochrone(rec)
		if err != nil {
			return nil, err
		}
		fc.Features = append(fc.Features, f)
	}
	return fc, nil
}

func writeIsochroneDoc(path string, records []model.Isochrone) error {
	fc, err := FeatureCollection(records)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "local: encode %s", path)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return eris.Wrapf(err, "local: write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return eris.Wrapf(err, "local: replace %s", path)
	}
	return nil
}

func featureFromIsochrone(rec model.Isochrone) (*geojson.Feature, error) {
	poly, err := rec.Polygon()
	if err != nil {
		return nil, err
	}
	props := map[string]any{
		"name":        rec.Name,
		"state":       rec.State,
		"zip_code":    rec.ZipCode,
		"value":       rec.Value,
		"minutes":     rec.Minutes(),
		"group_index": rec.GroupIndex,
	}
	if len(rec.Center) >= 2 {
		props["center"] = []float64{rec.Center[0], rec.Center[1]}
	}
	if len(rec.Metadata) > 0 {
		props["metadata"] = json.RawMessage(rec.Metadata)
	}
	return &geojson.Feature{Geometry: poly, Properties: props}, nil
}

func isochroneFromFeature(f *geojson.Feature) (model.Isochrone, error) {
	poly, ok := f.Geometry.(*geom.Polygon)
	if !ok || poly.NumLinearRings() == 0 {
		return model.Isochrone{}, eris.New("local: feature geometry is not a polygon")
	}

	str := func(key string) string {
		v, _ := f.Properties[key].(string)
		return v
	}
	num := func(key string) float64 {
		v, _ := f.Properties[key].(float64)
		return v
	}

	outer := poly.LinearRing(0)
	ring := make([]geom.Coord, outer.NumCoords())
	for i := range ring {
		ring[i] = outer.Coord(i)
	}

	rec := model.Isochrone{
		Name:       str("name"),
		State:      str("state"),
		ZipCode:    str("zip_code"),
		Value:      num("value"),
		GroupIndex: int(num("group_index")),
		Ring:       ring,
	}
	if c, ok := f.Properties["center"].([]any); ok && len(c) >= 2 {
		lon, _ := c[0].(float64)
		lat, _ := c[1].(float64)
		rec.Center = geom.Coord{lon, lat}
	} else {
		// Older documents lack a center property; fall back to the
		// ring's first vertex so validation still passes.
		rec.Center = geom.Coord{ring[0][0], ring[0][1]}
	}
	if m, ok := f.Properties["metadata"]; ok {
		if raw, err := json.Marshal(m); err == nil {
			rec.Metadata = raw
		}
	}
	return rec, nil
}
