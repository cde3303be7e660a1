// Package pipeline orchestrates a reachability run: resolve centers to
// coordinates, fetch isochrones at every threshold, persist the results.
// The run moves through a fixed sequence of states and collects per-center
// failures along the way; no single center can abort the run.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/reachmaps/reach-cli/internal/model"
	"github.com/reachmaps/reach-cli/internal/store"
	"github.com/reachmaps/reach-cli/pkg/geocode"
	"github.com/reachmaps/reach-cli/pkg/ors"
)

// Params collects the pipeline's dependencies and run settings.
type Params struct {
	Store      store.Store
	Resolver   *geocode.Resolver
	Isochrones ors.Client

	// Thresholds are already normalized (seconds or meters, ascending).
	Thresholds []float64
	RangeMode  model.RangeMode

	// Mode is the persistence mode label echoed into the manifest
	// ("use-local" or "use-db").
	Mode string

	// DryRun logs what would be written instead of writing it.
	DryRun bool

	// Force lets a failed resolution overwrite previously stored
	// coordinates. Off by default: a flaky geocoder must not erase a
	// good earlier answer.
	Force bool
}

// Pipeline runs the geocode and isochrone stages against one Store.
type Pipeline struct {
	p Params
}

// New creates a Pipeline.
func New(p Params) *Pipeline {
	return &Pipeline{p: p}
}

// Run executes the full sequence for the given center rows and returns the
// manifest. The returned error is non-nil only for run-fatal conditions
// (cancellation, unusable storage); per-center failures land in the
// manifest instead.
func (pl *Pipeline) Run(ctx context.Context, centers []model.Location) (*model.Manifest, error) {
	m := &model.Manifest{
		RunID:     uuid.New().String(),
		Mode:      pl.p.Mode,
		StartedAt: time.Now().UTC(),
	}
	log := zap.L().With(zap.String("run_id", m.RunID), zap.String("mode", m.Mode))
	pl.setState(log, model.StateInit, len(centers))

	pl.setState(log, model.StateResolving, len(centers))
	rows, _, err := pl.resolveCenters(ctx, log, centers)
	if err != nil {
		return m, err
	}

	var generate []model.Location
	for _, row := range rows {
		if row.Resolved() {
			generate = append(generate, row)
			continue
		}
		m.AddFailure(row.Identity(), model.StageResolve, row.GeocodeError)
	}

	pl.setState(log, model.StateGenerating, len(generate))
	for _, center := range generate {
		if err := ctx.Err(); err != nil {
			m.FinishedAt = time.Now().UTC()
			return m, eris.Wrap(err, "pipeline: run cancelled")
		}
		pl.runCenter(ctx, log, m, center)
	}

	pl.setState(log, model.StatePersisted, len(m.Succeeded))
	m.FinishedAt = time.Now().UTC()
	pl.setState(log, model.StateDone, len(m.Succeeded))
	log.Info("pipeline: run complete",
		zap.Int("succeeded", len(m.Succeeded)),
		zap.Int("failed", len(m.Failed)),
		zap.Duration("elapsed", m.FinishedAt.Sub(m.StartedAt)),
	)
	return m, nil
}

// runCenter fetches and persists one center's isochrones. Failures are
// recorded on the manifest and the loop moves on.
func (pl *Pipeline) runCenter(ctx context.Context, log *zap.Logger, m *model.Manifest, center model.Location) {
	id := center.Identity()

	records, err := pl.p.Isochrones.FetchIsochrones(ctx, center, pl.p.Thresholds, pl.p.RangeMode)
	if err != nil {
		m.AddFailure(id, model.StageGenerate, err.Error())
		log.Warn("pipeline: isochrone fetch failed",
			zap.String("center", id.String()), zap.Error(err))
		return
	}
	if len(records) == 0 {
		m.AddFailure(id, model.StageGenerate, "no valid isochrones in response")
		log.Warn("pipeline: empty isochrone response", zap.String("center", id.String()))
		return
	}

	if pl.p.DryRun {
		log.Info("pipeline: dry run, skipping isochrone write",
			zap.String("center", id.String()),
			zap.Int("records", len(records)))
		m.Succeeded = append(m.Succeeded, id)
		return
	}

	if err := pl.p.Store.UpsertIsochrones(ctx, records); err != nil {
		m.AddFailure(id, model.StagePersist, err.Error())
		log.Warn("pipeline: isochrone write failed",
			zap.String("center", id.String()), zap.Error(err))
		return
	}
	m.Succeeded = append(m.Succeeded, id)
}

// resolveCenters geocodes the batch and stores the geocoded rows. A row
// whose resolution newly failed keeps its previously stored coordinates
// unless Force is set.
func (pl *Pipeline) resolveCenters(ctx context.Context, log *zap.Logger, centers []model.Location) ([]model.Location, geocode.Stats, error) {
	rows, stats, err := pl.p.Resolver.ResolveAll(ctx, centers)
	if err != nil {
		return rows, stats, eris.Wrap(err, "pipeline: resolve centers")
	}
	log.Info("pipeline: resolution pass",
		zap.Int("resolved", stats.Resolved),
		zap.Int("failed", stats.Failed),
		zap.Int("skipped", stats.Skipped),
	)

	if !pl.p.Force {
		rows, err = pl.keepStoredCoordinates(ctx, log, rows)
		if err != nil {
			return rows, stats, err
		}
	}

	if pl.p.DryRun {
		log.Info("pipeline: dry run, skipping geocoded write", zap.Int("rows", len(rows)))
		return rows, stats, nil
	}
	if err := pl.p.Store.UpsertCenters(ctx, rows); err != nil {
		return rows, stats, eris.Wrap(err, "pipeline: store geocoded centers")
	}
	return rows, stats, nil
}

// ResolveCenters geocodes a centers batch and stores it without running the
// isochrone stage. Used by the geocode command.
func (pl *Pipeline) ResolveCenters(ctx context.Context, rows []model.Location) (geocode.Stats, error) {
	_, stats, err := pl.resolveCenters(ctx, zap.L(), rows)
	return stats, err
}

// keepStoredCoordinates restores stored coordinates for rows whose
// resolution failed this pass.
func (pl *Pipeline) keepStoredCoordinates(ctx context.Context, log *zap.Logger, rows []model.Location) ([]model.Location, error) {
	stored, err := pl.p.Store.ListCenters(ctx)
	if err != nil {
		return rows, eris.Wrap(err, "pipeline: list stored centers")
	}
	byKey := make(map[string]model.Location, len(stored))
	for _, row := range stored {
		byKey[row.Identity().Key()] = row
	}

	for i, row := range rows {
		if row.Resolved() {
			continue
		}
		prev, ok := byKey[row.Identity().Key()]
		if !ok || !prev.Resolved() {
			continue
		}
		log.Warn("pipeline: keeping stored coordinates after failed resolution",
			zap.String("center", row.Identity().String()),
			zap.String("reason", row.GeocodeError))
		rows[i] = prev
	}
	return rows, nil
}

// ResolveLocations geocodes a points-of-interest batch and stores it. Used
// by the geocode command for files that never feed the isochrone stage.
func (pl *Pipeline) ResolveLocations(ctx context.Context, rows []model.Location) (geocode.Stats, error) {
	out, stats, err := pl.p.Resolver.ResolveAll(ctx, rows)
	if err != nil {
		return stats, eris.Wrap(err, "pipeline: resolve locations")
	}
	if pl.p.DryRun {
		zap.L().Info("pipeline: dry run, skipping location write", zap.Int("rows", len(out)))
		return stats, nil
	}
	if err := pl.p.Store.UpsertLocations(ctx, out); err != nil {
		return stats, eris.Wrap(err, "pipeline: store geocoded locations")
	}
	return stats, nil
}

func (pl *Pipeline) setState(log *zap.Logger, state model.RunState, n int) {
	log.Info("pipeline: state", zap.String("state", string(state)), zap.Int("centers", n))
}
