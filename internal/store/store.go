// Package store persists geocoded locations and isochrone records. Two
// variants implement the same interface: Local writes a flat-file tree of
// CSV and GeoJSON documents, Postgres writes PostGIS tables. A run picks
// one at startup and the pipeline never learns which.
package store

import (
	"context"

	"github.com/reachmaps/reach-cli/internal/model"
)

// Counts summarizes stored record totals for the status command.
type Counts struct {
	Centers    int `json:"centers"`
	Locations  int `json:"locations"`
	Isochrones int `json:"isochrones"`
}

// Store defines the persistence interface for the reachability pipeline.
// All upserts are keyed on the natural identity (name, state, zip code;
// isochrones additionally on threshold value), so re-runs replace rather
// than duplicate.
type Store interface {
	// Centers and points of interest
	UpsertCenters(ctx context.Context, rows []model.Location) error
	UpsertLocations(ctx context.Context, rows []model.Location) error
	ListCenters(ctx context.Context) ([]model.Location, error)
	ListLocations(ctx context.Context) ([]model.Location, error)

	// Isochrones
	UpsertIsochrones(ctx context.Context, records []model.Isochrone) error
	IsochronesFor(ctx context.Context, id model.Identity) ([]model.Isochrone, error)

	// DeleteCenter removes a center and everything derived from it.
	DeleteCenter(ctx context.Context, id model.Identity) error

	// Counts returns stored record totals.
	Counts(ctx context.Context) (Counts, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
