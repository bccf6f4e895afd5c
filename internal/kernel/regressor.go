// Package kernel implements the online kernel-regression bandit: an RBF
// regressor over the normalized action space, boundary-reflected
// pseudo-observations, and a Thompson sampler over the resulting posterior.
package kernel

import (
	"math"
	"sync"

	"github.com/adaptive-imaging/optim-core/internal/space"
)

// weightEps is the total-kernel-weight threshold below which an action is
// treated as unobserved and falls back to the prior.
const weightEps = 1e-12

// parallelThreshold is the space size above which the per-action posterior
// computation fans out across goroutines.
const parallelThreshold = 256

// Sample is one scalar-reward observation at an action. Pseudo-observations
// use reflected actions that lie outside the space bounds.
type Sample struct {
	Action space.Action
	Reward float64
}

// Posterior holds the per-action posterior mean and variance, indexed by the
// space's enumeration order.
type Posterior struct {
	Mean     []float64
	Variance []float64
}

// Regressor computes the kernel-regression posterior. It is a pure function
// of the history snapshot it is handed: recomputing over the same history
// yields the same posterior.
type Regressor struct {
	// Bandwidth is the RBF length scale in normalized coordinates.
	Bandwidth float64
	// PriorMean and PriorVariance describe unobserved regions.
	PriorMean     float64
	PriorVariance float64
}

// rbf evaluates the kernel between two normalized points.
func (r Regressor) rbf(x, y []float64) float64 {
	sum := 0.0
	for i := range x {
		d := x[i] - y[i]
		sum += d * d
	}
	return math.Exp(-sum / (2 * r.Bandwidth * r.Bandwidth))
}

// Compute evaluates the posterior over every action in the space given the
// observation history and the noise bound. Actions whose total kernel weight
// underflows fall back to the prior; everywhere else the posterior variance
// shrinks with accumulated weight and is capped at the prior variance.
func (r Regressor) Compute(sp *space.Space, samples []Sample, noise float64) Posterior {
	n := sp.Size()
	post := Posterior{
		Mean:     make([]float64, n),
		Variance: make([]float64, n),
	}

	if len(samples) == 0 {
		for i := 0; i < n; i++ {
			post.Mean[i] = r.PriorMean
			post.Variance[i] = r.PriorVariance
		}
		return post
	}

	normalized := make([][]float64, len(samples))
	for i, s := range samples {
		normalized[i] = sp.Normalize(s.Action)
	}

	evalRange := func(lo, hi int) {
		for i := lo; i < hi; i++ {
			x := sp.Normalize(sp.Action(i))

			totalWeight := 0.0
			weighted := 0.0
			weights := make([]float64, len(samples))
			for j := range samples {
				w := r.rbf(x, normalized[j])
				weights[j] = w
				totalWeight += w
				weighted += w * samples[j].Reward
			}

			if totalWeight <= weightEps {
				post.Mean[i] = r.PriorMean
				post.Variance[i] = r.PriorVariance
				continue
			}

			mu := weighted / totalWeight
			dispersion := 0.0
			for j := range samples {
				d := samples[j].Reward - mu
				dispersion += weights[j] * d * d
			}
			dispersion /= totalWeight

			v := (dispersion + noise*noise) / totalWeight
			if v > r.PriorVariance {
				v = r.PriorVariance
			}
			post.Mean[i] = mu
			post.Variance[i] = v
		}
	}

	if n <= parallelThreshold {
		evalRange(0, n)
		return post
	}

	workers := 4
	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += chunk {
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			evalRange(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
	return post
}
