package kernel

import (
	"math"
)

// boundEps is the tolerance for deciding that a coordinate sits on a bound.
const boundEps = 1e-9

// Reflect returns the pseudo-observations for one real observation. For each
// coordinate of the action that lies on a bound of [lo, hi], one synthetic
// sample is produced with that coordinate reflected one full range outside
// the space and the reward copied. Interior actions produce nothing.
//
// Pseudo-observations feed the regressor only; they are never persisted and
// never eligible for selection.
func Reflect(s Sample, lo, hi []float64) []Sample {
	var out []Sample
	for i := range s.Action {
		span := hi[i] - lo[i]
		var reflected float64
		switch {
		case math.Abs(s.Action[i]-lo[i]) <= boundEps:
			reflected = lo[i] - span
		case math.Abs(s.Action[i]-hi[i]) <= boundEps:
			reflected = hi[i] + span
		default:
			continue
		}
		a := s.Action.Clone()
		a[i] = reflected
		out = append(out, Sample{Action: a, Reward: s.Reward})
	}
	return out
}

// ReflectAll applies Reflect to every sample against the given bounds.
func ReflectAll(samples []Sample, lo, hi []float64) []Sample {
	var out []Sample
	for _, s := range samples {
		out = append(out, Reflect(s, lo, hi)...)
	}
	return out
}
