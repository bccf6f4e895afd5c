package kernel

import (
	"math"

	"github.com/adaptive-imaging/optim-core/pkg/utils"
)

// ThompsonSampler selects the next action by drawing one value per action
// from its posterior and taking the extremum. All randomness flows through
// the injected source, so a fixed seed reproduces the whole selection
// sequence.
type ThompsonSampler struct {
	Rng *utils.RandSource
}

// Select draws from every action's posterior and returns the index of the
// best draw. Maximize picks the largest draw, otherwise the smallest. Exact
// ties resolve to the lowest enumeration index.
func (t ThompsonSampler) Select(post Posterior, maximize bool) int {
	bestIdx := 0
	bestDraw := math.Inf(-1)
	if !maximize {
		bestDraw = math.Inf(1)
	}

	for i := range post.Mean {
		draw := t.Rng.NormFloat64(post.Mean[i], math.Sqrt(post.Variance[i]))
		if maximize {
			if draw > bestDraw {
				bestDraw = draw
				bestIdx = i
			}
		} else {
			if draw < bestDraw {
				bestDraw = draw
				bestIdx = i
			}
		}
	}
	return bestIdx
}
