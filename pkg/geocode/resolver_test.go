package geocode

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reachmaps/reach-cli/internal/model"
)

// scriptedClient returns canned results keyed by display name.
type scriptedClient struct {
	results map[string]*Result
	err     error
	calls   []string
}

func (s *scriptedClient) Resolve(_ context.Context, row model.Location) (*Result, error) {
	s.calls = append(s.calls, row.DisplayName())
	if s.err != nil {
		return nil, s.err
	}
	if res, ok := s.results[row.DisplayName()]; ok {
		return res, nil
	}
	return &Result{Matched: false}, nil
}

func TestResolveAll_SkipsAlreadyResolved(t *testing.T) {
	sc := &scriptedClient{results: map[string]*Result{
		"Herod": {Latitude: 37.58, Longitude: -88.45, Matched: true},
	}}
	r := NewResolver(sc)

	rows := []model.Location{
		{City: "Springfield", State: "IL", ZipCode: "62701",
			Latitude: model.Float64Ptr(39.798), Longitude: model.Float64Ptr(-89.644)},
		{City: "Herod", State: "IL", ZipCode: "62946"},
	}

	out, stats, err := r.ResolveAll(context.Background(), rows)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, []string{"Herod"}, sc.calls, "resolved rows are never re-queried")
	assert.True(t, out[1].Resolved())
}

func TestResolveAll_RetriesRowsWithErrors(t *testing.T) {
	sc := &scriptedClient{results: map[string]*Result{
		"Springfield": {Latitude: 39.798, Longitude: -89.644, Matched: true},
	}}
	r := NewResolver(sc)

	rows := []model.Location{
		{City: "Springfield", State: "IL", ZipCode: "62701",
			Latitude: model.Float64Ptr(1), Longitude: model.Float64Ptr(1),
			GeocodeError: ErrNeedsManualReview},
	}

	out, stats, err := r.ResolveAll(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Resolved)
	assert.InDelta(t, 39.798, *out[0].Latitude, 1e-9)
	assert.Empty(t, out[0].GeocodeError)
}

func TestResolveAll_FailuresKeepRowInOutput(t *testing.T) {
	sc := &scriptedClient{}
	r := NewResolver(sc)

	rows := []model.Location{
		{City: "Nowhereville", State: "ZZ", ZipCode: "00000"},
	}

	out, stats, err := r.ResolveAll(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 1, stats.Failed)
	assert.False(t, out[0].Resolved())
	assert.Equal(t, ErrNotFound, out[0].GeocodeError)
}

func TestResolveAll_ClientErrorMarksRowAndContinues(t *testing.T) {
	sc := &scriptedClient{err: errors.New("service unreachable")}
	r := NewResolver(sc)

	rows := []model.Location{
		{City: "Springfield", State: "IL", ZipCode: "62701"},
		{City: "Herod", State: "IL", ZipCode: "62946"},
	}

	out, stats, err := r.ResolveAll(context.Background(), rows)
	require.NoError(t, err, "per-row failures never abort the batch")
	assert.Equal(t, 2, stats.Failed)
	assert.Equal(t, "service unreachable", out[0].GeocodeError)
	assert.Equal(t, "service unreachable", out[1].GeocodeError)
}

func TestResolveAll_PreservesInputOrder(t *testing.T) {
	sc := &scriptedClient{results: map[string]*Result{
		"B": {Latitude: 2, Longitude: 2, Matched: true},
	}}
	r := NewResolver(sc)

	rows := []model.Location{
		{City: "A", State: "IL", Latitude: model.Float64Ptr(1), Longitude: model.Float64Ptr(1)},
		{City: "B", State: "IL"},
		{City: "C", State: "IL"},
	}

	out, _, err := r.ResolveAll(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "A", out[0].City)
	assert.Equal(t, "B", out[1].City)
	assert.Equal(t, "C", out[2].City)
}
