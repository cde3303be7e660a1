package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/reachmaps/reach-cli/internal/model"
	"github.com/reachmaps/reach-cli/internal/resilience"
	"github.com/reachmaps/reach-cli/internal/store"
	"github.com/reachmaps/reach-cli/pkg/geocode"
	"github.com/reachmaps/reach-cli/pkg/ors"
)

// memStore is an in-memory Store for orchestration tests.
type memStore struct {
	centers    map[string]model.Location
	locations  map[string]model.Location
	isochrones map[string]model.Isochrone // keyed identity|value

	failUpsertFor map[string]bool // identity keys whose isochrone writes fail
}

func newMemStore() *memStore {
	return &memStore{
		centers:       make(map[string]model.Location),
		locations:     make(map[string]model.Location),
		isochrones:    make(map[string]model.Isochrone),
		failUpsertFor: make(map[string]bool),
	}
}

func (s *memStore) UpsertCenters(ctx context.Context, rows []model.Location) error {
	for _, row := range rows {
		s.centers[row.Identity().Key()] = row
	}
	return nil
}

func (s *memStore) UpsertLocations(ctx context.Context, rows []model.Location) error {
	for _, row := range rows {
		s.locations[row.Identity().Key()] = row
	}
	return nil
}

func (s *memStore) ListCenters(ctx context.Context) ([]model.Location, error) {
	var out []model.Location
	for _, row := range s.centers {
		out = append(out, row)
	}
	return out, nil
}

func (s *memStore) ListLocations(ctx context.Context) ([]model.Location, error) {
	var out []model.Location
	for _, row := range s.locations {
		out = append(out, row)
	}
	return out, nil
}

func (s *memStore) UpsertIsochrones(ctx context.Context, records []model.Isochrone) error {
	for _, rec := range records {
		if s.failUpsertFor[rec.Identity().Key()] {
			return fmt.Errorf("disk full")
		}
	}
	for _, rec := range records {
		s.isochrones[fmt.Sprintf("%s|%v", rec.Identity().Key(), rec.Value)] = rec
	}
	return nil
}

func (s *memStore) IsochronesFor(ctx context.Context, id model.Identity) ([]model.Isochrone, error) {
	var out []model.Isochrone
	for key, rec := range s.isochrones {
		if strings.HasPrefix(key, id.Key()+"|") {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *memStore) DeleteCenter(ctx context.Context, id model.Identity) error {
	delete(s.centers, id.Key())
	for key := range s.isochrones {
		if strings.HasPrefix(key, id.Key()+"|") {
			delete(s.isochrones, key)
		}
	}
	return nil
}

func (s *memStore) Counts(ctx context.Context) (store.Counts, error) {
	return store.Counts{
		Centers:    len(s.centers),
		Locations:  len(s.locations),
		Isochrones: len(s.isochrones),
	}, nil
}

func (s *memStore) Ping(ctx context.Context) error    { return nil }
func (s *memStore) Migrate(ctx context.Context) error { return nil }
func (s *memStore) Close() error                      { return nil }

// mapGeocoder resolves rows from a fixed coordinate table and fails the rest.
type mapGeocoder struct {
	coords map[string][2]float64 // identity key -> lat, lon
}

func (g *mapGeocoder) Resolve(ctx context.Context, row model.Location) (*geocode.Result, error) {
	c, ok := g.coords[row.Identity().Key()]
	if !ok {
		return &geocode.Result{Matched: false}, nil
	}
	return &geocode.Result{Latitude: c[0], Longitude: c[1], Matched: true}, nil
}

// fakeIsochrones builds synthetic rings, optionally failing chosen centers.
type fakeIsochrones struct {
	failFor map[string]error // identity key -> error
	calls   int
}

func (f *fakeIsochrones) FetchIsochrones(ctx context.Context, center model.Location, thresholds []float64, mode model.RangeMode) ([]model.Isochrone, error) {
	f.calls++
	if err, ok := f.failFor[center.Identity().Key()]; ok {
		return nil, err
	}
	id := center.Identity()
	var out []model.Isochrone
	for _, v := range thresholds {
		d := v / 36000
		lon, lat := *center.Longitude, *center.Latitude
		out = append(out, model.Isochrone{
			Name:    id.Name,
			State:   id.State,
			ZipCode: id.ZipCode,
			Value:   v,
			Center:  geom.Coord{lon, lat},
			Ring: []geom.Coord{
				{lon - d, lat - d}, {lon + d, lat - d},
				{lon + d, lat + d}, {lon - d, lat + d},
				{lon - d, lat - d},
			},
		})
	}
	return out, nil
}

func center(name, zip string) model.Location {
	return model.Location{Name: name, City: "Springfield", State: "IL", ZipCode: zip}
}

func testParams(st store.Store, gc geocode.Client, iso ors.Client) Params {
	return Params{
		Store:      st,
		Resolver:   geocode.NewResolver(gc),
		Isochrones: iso,
		Thresholds: []float64{900, 1800, 2700},
		RangeMode:  model.RangeTime,
		Mode:       "use-local",
	}
}

func coordsFor(centers ...model.Location) map[string][2]float64 {
	coords := make(map[string][2]float64, len(centers))
	for i, c := range centers {
		coords[c.Identity().Key()] = [2]float64{39.0 + float64(i)*0.1, -89.0 - float64(i)*0.1}
	}
	return coords
}

func TestRunPartialFailureSurvives(t *testing.T) {
	centers := []model.Location{
		center("Alpha", "62701"),
		center("Beta", "62702"),
		center("Gamma", "62703"),
		center("Delta", "62704"),
		center("Epsilon", "62705"),
	}
	st := newMemStore()
	iso := &fakeIsochrones{failFor: map[string]error{
		centers[2].Identity().Key(): resilience.NewClientError(fmt.Errorf("unknown profile"), 404),
	}}
	pl := New(testParams(st, &mapGeocoder{coords: coordsFor(centers...)}, iso))

	m, err := pl.Run(context.Background(), centers)
	require.NoError(t, err)

	assert.Len(t, m.Succeeded, 4)
	require.Len(t, m.Failed, 1)
	assert.Equal(t, "Gamma", m.Failed[0].Identity.Name)
	assert.Equal(t, model.StageGenerate, m.Failed[0].Stage)
	assert.Contains(t, m.Failed[0].Reason, "unknown profile")

	counts, err := st.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, counts.Centers)
	assert.Equal(t, 4*3, counts.Isochrones)
}

func TestRunResolutionFailureSkipsGeneration(t *testing.T) {
	resolvable := center("Alpha", "62701")
	unplaceable := center("Atlantis", "00001")
	st := newMemStore()
	iso := &fakeIsochrones{}
	pl := New(testParams(st, &mapGeocoder{coords: coordsFor(resolvable)}, iso))

	m, err := pl.Run(context.Background(), []model.Location{resolvable, unplaceable})
	require.NoError(t, err)

	require.Len(t, m.Failed, 1)
	assert.Equal(t, "Atlantis", m.Failed[0].Identity.Name)
	assert.Equal(t, model.StageResolve, m.Failed[0].Stage)
	assert.Equal(t, geocode.ErrNotFound, m.Failed[0].Reason)
	assert.Len(t, m.Succeeded, 1)

	// The failed row still lands in the geocoded output with its error.
	stored := st.centers[unplaceable.Identity().Key()]
	assert.Equal(t, geocode.ErrNotFound, stored.GeocodeError)
	assert.False(t, stored.Resolved())
}

func TestRunPersistFailureIsPerCenter(t *testing.T) {
	good := center("Alpha", "62701")
	bad := center("Beta", "62702")
	st := newMemStore()
	st.failUpsertFor[bad.Identity().Key()] = true
	pl := New(testParams(st, &mapGeocoder{coords: coordsFor(good, bad)}, &fakeIsochrones{}))

	m, err := pl.Run(context.Background(), []model.Location{good, bad})
	require.NoError(t, err)

	assert.Len(t, m.Succeeded, 1)
	require.Len(t, m.Failed, 1)
	assert.Equal(t, model.StagePersist, m.Failed[0].Stage)
	assert.Contains(t, m.Failed[0].Reason, "disk full")
}

func TestRunDryRunWritesNothing(t *testing.T) {
	c := center("Alpha", "62701")
	st := newMemStore()
	params := testParams(st, &mapGeocoder{coords: coordsFor(c)}, &fakeIsochrones{})
	params.DryRun = true
	pl := New(params)

	m, err := pl.Run(context.Background(), []model.Location{c})
	require.NoError(t, err)

	assert.Len(t, m.Succeeded, 1)
	counts, err := st.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.Counts{}, counts)
}

func TestRunKeepsStoredCoordinatesOnNewFailure(t *testing.T) {
	c := center("Alpha", "62701")
	stored := c
	stored.Latitude = model.Float64Ptr(39.7817)
	stored.Longitude = model.Float64Ptr(-89.6501)

	st := newMemStore()
	require.NoError(t, st.UpsertCenters(context.Background(), []model.Location{stored}))

	// The geocoder knows nothing this pass; without coordinates in the
	// input row the resolver fails it.
	iso := &fakeIsochrones{}
	pl := New(testParams(st, &mapGeocoder{}, iso))

	m, err := pl.Run(context.Background(), []model.Location{c})
	require.NoError(t, err)

	// Stored coordinates survive and the center still generates.
	assert.Empty(t, m.Failed)
	assert.Len(t, m.Succeeded, 1)
	kept := st.centers[c.Identity().Key()]
	require.NotNil(t, kept.Latitude)
	assert.Equal(t, 39.7817, *kept.Latitude)
	assert.Equal(t, 1, iso.calls)
}

func TestRunForceOverwritesStoredCoordinates(t *testing.T) {
	c := center("Alpha", "62701")
	stored := c
	stored.Latitude = model.Float64Ptr(39.7817)
	stored.Longitude = model.Float64Ptr(-89.6501)

	st := newMemStore()
	require.NoError(t, st.UpsertCenters(context.Background(), []model.Location{stored}))

	params := testParams(st, &mapGeocoder{}, &fakeIsochrones{})
	params.Force = true
	pl := New(params)

	m, err := pl.Run(context.Background(), []model.Location{c})
	require.NoError(t, err)

	require.Len(t, m.Failed, 1)
	assert.Equal(t, model.StageResolve, m.Failed[0].Stage)
	overwritten := st.centers[c.Identity().Key()]
	assert.False(t, overwritten.Resolved())
	assert.Equal(t, geocode.ErrNotFound, overwritten.GeocodeError)
}

func TestRunIdempotentAcrossReruns(t *testing.T) {
	centers := []model.Location{center("Alpha", "62701"), center("Beta", "62702")}
	st := newMemStore()
	gc := &mapGeocoder{coords: coordsFor(centers...)}
	pl := New(testParams(st, gc, &fakeIsochrones{}))

	_, err := pl.Run(context.Background(), centers)
	require.NoError(t, err)
	first, err := st.Counts(context.Background())
	require.NoError(t, err)

	_, err = pl.Run(context.Background(), centers)
	require.NoError(t, err)
	second, err := st.Counts(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

// The flat-file and in-memory backends see identical pipeline behavior for
// the same input: same successes, same failures, same stored values. The
// fixture includes namesake centers in different states; they must remain
// distinct records on both backends.
func TestRunBackendEquivalence(t *testing.T) {
	alphaMO := center("Alpha", "65801")
	alphaMO.State = "MO"
	centers := []model.Location{
		center("Alpha", "62701"),
		alphaMO,
		center("Beta", "62702"),
		center("Atlantis", "00001"), // never resolves
	}
	gc := &mapGeocoder{coords: coordsFor(centers[0], centers[1], centers[2])}

	local, err := store.NewLocal(t.TempDir())
	require.NoError(t, err)
	mem := newMemStore()

	manifests := make([]*model.Manifest, 0, 2)
	for _, st := range []store.Store{local, mem} {
		m, err := New(testParams(st, gc, &fakeIsochrones{})).Run(context.Background(), centers)
		require.NoError(t, err)
		manifests = append(manifests, m)
	}

	assert.Equal(t, manifests[0].Succeeded, manifests[1].Succeeded)
	assert.Equal(t, manifests[0].Failed, manifests[1].Failed)

	for _, id := range manifests[0].Succeeded {
		fromLocal, err := local.IsochronesFor(context.Background(), id)
		require.NoError(t, err)
		fromMem, err := mem.IsochronesFor(context.Background(), id)
		require.NoError(t, err)
		require.Len(t, fromLocal, len(fromMem))

		values := func(records []model.Isochrone) map[float64]int {
			out := make(map[float64]int, len(records))
			for _, rec := range records {
				out[rec.Value] = len(rec.Ring)
			}
			return out
		}
		assert.Equal(t, values(fromMem), values(fromLocal))
	}
	assert.Contains(t, manifests[0].Succeeded, centers[0].Identity())
	assert.Contains(t, manifests[0].Succeeded, alphaMO.Identity())

	// Deleting one namesake leaves the other intact on both backends.
	for _, st := range []store.Store{local, mem} {
		require.NoError(t, st.DeleteCenter(context.Background(), alphaMO.Identity()))
		remaining, err := st.IsochronesFor(context.Background(), centers[0].Identity())
		require.NoError(t, err)
		assert.Len(t, remaining, 3)
		gone, err := st.IsochronesFor(context.Background(), alphaMO.Identity())
		require.NoError(t, err)
		assert.Empty(t, gone)
	}
}

// Springfield at 15, 30, and 45 minutes through the real flat-file store.
func TestRunSpringfieldExample(t *testing.T) {
	c := center("Springfield Medical Center", "62701")
	local, err := store.NewLocal(t.TempDir())
	require.NoError(t, err)

	pl := New(testParams(local, &mapGeocoder{coords: coordsFor(c)}, &fakeIsochrones{}))
	m, err := pl.Run(context.Background(), []model.Location{c})
	require.NoError(t, err)
	require.Len(t, m.Succeeded, 1)

	records, err := local.IsochronesFor(context.Background(), c.Identity())
	require.NoError(t, err)
	require.Len(t, records, 3)

	wantMinutes := []float64{15, 30, 45}
	for i, rec := range records {
		assert.Equal(t, wantMinutes[i]*60, rec.Value)
		assert.Equal(t, wantMinutes[i], rec.Minutes())
		assert.GreaterOrEqual(t, len(rec.Ring), 4)
		assert.Equal(t, rec.Ring[0], rec.Ring[len(rec.Ring)-1])
	}
}

func TestRunCancelledContext(t *testing.T) {
	c := center("Alpha", "62701")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pl := New(testParams(newMemStore(), &mapGeocoder{coords: coordsFor(c)}, &fakeIsochrones{}))
	m, err := pl.Run(ctx, []model.Location{c})
	require.Error(t, err)
	require.NotNil(t, m)
}

func TestResolveLocations(t *testing.T) {
	rows := []model.Location{center("Cafe One", "62701"), center("Cafe Two", "62702")}
	st := newMemStore()
	pl := New(testParams(st, &mapGeocoder{coords: coordsFor(rows[0])}, &fakeIsochrones{}))

	stats, err := pl.ResolveLocations(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, 1, stats.Failed)

	locs, err := st.ListLocations(context.Background())
	require.NoError(t, err)
	assert.Len(t, locs, 2)
}
