package dag

import (
	"errors"
	"fmt"
)

// ErrAlphaOutOfRange is returned when an impact weighting falls outside
// [0, 1].
var ErrAlphaOutOfRange = errors.New("alpha out of range")

// ImpactOptions configures composite impact scoring.
type ImpactOptions struct {
	// Alpha weights PageRank in the composite score; betweenness gets
	// (1 - Alpha). Must be in [0, 1].
	Alpha float64

	// PageRank configures the underlying PageRank pass.
	PageRank PageRankOptions
}

// DefaultImpactOptions weights influence slightly over bottleneck
// detection: alpha 0.6 with standard PageRank settings.
func DefaultImpactOptions() ImpactOptions {
	return ImpactOptions{
		Alpha:    0.6,
		PageRank: DefaultPageRankOptions(),
	}
}

// Impact computes a composite score for every step:
//
//	Impact = Alpha * NormalizedPageRank + (1-Alpha) * Betweenness
//
// A high score marks a step the plan is structurally exposed to: either
// much of the plan consumes its outputs (influence), or many dependency
// chains pass through it (bottleneck). Failing such a step skips or
// serializes a large share of the run. PageRank is normalized to [0, 1]
// by its maximum; betweenness is already normalized.
func (d *DAG) Impact(opts ImpactOptions) (map[string]float64, error) {
	if opts.Alpha < 0 || opts.Alpha > 1 {
		return nil, fmt.Errorf("%w: %v", ErrAlphaOutOfRange, opts.Alpha)
	}
	impact := make(map[string]float64, len(d.nodes))
	if len(d.nodes) == 0 {
		return impact, nil
	}

	pr := d.PageRank(opts.PageRank)
	bc := d.BetweennessCentrality()

	maxPR := 0.0
	for _, v := range pr {
		if v > maxPR {
			maxPR = v
		}
	}
	if maxPR > 0 {
		for id := range pr {
			pr[id] /= maxPR
		}
	}

	for id := range d.nodes {
		impact[id] = opts.Alpha*pr[id] + (1-opts.Alpha)*bc[id]
	}
	return impact, nil
}
