package geocode

import (
	"context"

	"go.uber.org/zap"

	"github.com/reachmaps/reach-cli/internal/model"
)

// Resolver walks a batch of rows through the Client, skipping rows a prior
// run already resolved. Rows the service cannot place are emitted with an
// error string rather than dropped, so the output file always has one row
// per input row in input order.
type Resolver struct {
	client Client
}

// NewResolver creates a Resolver backed by the given client.
func NewResolver(client Client) *Resolver {
	return &Resolver{client: client}
}

// Stats summarizes one resolver pass.
type Stats struct {
	Resolved int // rows geocoded this pass
	Failed   int // rows that still lack coordinates
	Skipped  int // rows already carrying clean coordinates
}

// ResolveAll resolves every row that needs it and returns the full batch in
// input order. A row needs resolution when it has no coordinates or carries
// any error from a prior attempt, advisory rows included, so a corrected
// address gets picked up on the next pass. Service-level failures mark the
// row and continue; they never abort the batch.
func (r *Resolver) ResolveAll(ctx context.Context, rows []model.Location) ([]model.Location, Stats, error) {
	out := make([]model.Location, len(rows))
	copy(out, rows)

	var stats Stats
	for i := range out {
		row := &out[i]

		if row.Resolved() && row.GeocodeError == "" {
			stats.Skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			return out, stats, err
		}

		log := zap.L().With(
			zap.String("name", row.DisplayName()),
			zap.String("state", row.State),
			zap.String("zip_code", row.ZipCode),
		)

		res, err := r.client.Resolve(ctx, *row)
		if err != nil {
			row.Latitude = nil
			row.Longitude = nil
			row.GeocodeError = err.Error()
			stats.Failed++
			log.Warn("geocode: resolve failed", zap.Error(err))
			continue
		}

		if !res.Matched {
			row.Latitude = nil
			row.Longitude = nil
			row.GeocodeError = ErrNotFound
			stats.Failed++
			log.Warn("geocode: no match")
			continue
		}

		row.Latitude = model.Float64Ptr(res.Latitude)
		row.Longitude = model.Float64Ptr(res.Longitude)
		row.GeocodeError = res.Advisory
		stats.Resolved++
		log.Info("geocode: resolved",
			zap.Float64("lat", res.Latitude),
			zap.Float64("lon", res.Longitude),
			zap.String("query", res.Query),
		)
	}

	return out, stats, nil
}
