package ors

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/reachmaps/reach-cli/internal/model"
)

// NormalizeThresholds converts user-facing threshold values into the units
// the routing API expects: seconds for time ranges, meters for distance
// ranges. The result is sorted ascending with duplicates removed.
func NormalizeThresholds(values []float64, units string) ([]float64, model.RangeMode, error) {
	if len(values) == 0 {
		return nil, "", eris.New("ors: no thresholds given")
	}

	var scale float64
	var mode model.RangeMode
	switch strings.ToLower(strings.TrimSpace(units)) {
	case "", "minutes", "min":
		scale, mode = 60, model.RangeTime
	case "seconds", "sec":
		scale, mode = 1, model.RangeTime
	case "meters", "m":
		scale, mode = 1, model.RangeDistance
	case "kilometers", "km":
		scale, mode = 1000, model.RangeDistance
	default:
		return nil, "", eris.Errorf("ors: unknown threshold units %q", units)
	}

	out := make([]float64, 0, len(values))
	seen := make(map[float64]bool, len(values))
	for _, v := range values {
		if v <= 0 {
			return nil, "", eris.Errorf("ors: threshold must be positive, got %v", v)
		}
		scaled := v * scale
		if seen[scaled] {
			continue
		}
		seen[scaled] = true
		out = append(out, scaled)
	}
	sort.Float64s(out)
	return out, mode, nil
}
