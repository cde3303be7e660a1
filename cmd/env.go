package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/reachmaps/reach-cli/internal/config"
	"github.com/reachmaps/reach-cli/internal/model"
	"github.com/reachmaps/reach-cli/internal/pipeline"
	"github.com/reachmaps/reach-cli/internal/resilience"
	"github.com/reachmaps/reach-cli/internal/store"
	"github.com/reachmaps/reach-cli/pkg/geocode"
	"github.com/reachmaps/reach-cli/pkg/ors"
)

// env bundles the wired-up subsystems a command needs.
type env struct {
	Store      store.Store
	Pipeline   *pipeline.Pipeline
	Thresholds []float64
	RangeMode  model.RangeMode
}

func (e *env) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore constructs the persistence variant the mode flag selects. This
// is the one place a bad environment is allowed to kill the run.
func initStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	switch cfg.Store.Mode {
	case config.ModeLocal:
		return store.NewLocal(cfg.Store.DataDir)
	case config.ModeDB:
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.Pool.MaxConns,
			MinConns: cfg.Store.Pool.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store mode: %s", cfg.Store.Mode)
	}
}

func initGeocoder() *geocode.Resolver {
	client := geocode.NewClient(
		geocode.WithBaseURL(cfg.Geocode.BaseURL),
		geocode.WithUserAgent(cfg.Geocode.UserAgent),
		geocode.WithRateLimit(cfg.Geocode.RatePerSec),
		geocode.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Geocode.TimeoutSecs) * time.Second,
		}),
	)
	return geocode.NewResolver(client)
}

func initIsochrones() (ors.Client, []float64, model.RangeMode, error) {
	if err := cfg.Validate("isochrone"); err != nil {
		return nil, nil, "", err
	}

	units := cfg.Isochrone.Units
	if units == "" && cfg.Isochrone.RangeType == string(model.RangeDistance) {
		units = "meters"
	}
	thresholds, mode, err := ors.NormalizeThresholds(cfg.Isochrone.Thresholds, units)
	if err != nil {
		return nil, nil, "", err
	}

	retry := resilience.DefaultPolicy()
	if cfg.Isochrone.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.Isochrone.MaxAttempts
	}

	client := ors.NewClient(cfg.Isochrone.APIKey,
		ors.WithBaseURL(cfg.Isochrone.BaseURL),
		ors.WithProfile(cfg.Isochrone.Profile),
		ors.WithSmoothing(cfg.Isochrone.Smoothing),
		ors.WithRequestsPerMinute(cfg.Isochrone.RequestsPerMinute),
		ors.WithRetryPolicy(retry),
		ors.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Isochrone.TimeoutSecs) * time.Second,
		}),
	)
	return client, thresholds, mode, nil
}

// initPipeline wires the full run environment.
func initPipeline(ctx context.Context, dryRun, force bool) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	isochrones, thresholds, rangeMode, err := initIsochrones()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	pl := pipeline.New(pipeline.Params{
		Store:      st,
		Resolver:   initGeocoder(),
		Isochrones: isochrones,
		Thresholds: thresholds,
		RangeMode:  rangeMode,
		Mode:       cfg.Store.Mode,
		DryRun:     dryRun,
		Force:      force,
	})

	return &env{
		Store:      st,
		Pipeline:   pl,
		Thresholds: thresholds,
		RangeMode:  rangeMode,
	}, nil
}
