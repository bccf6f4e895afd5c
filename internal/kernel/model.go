package kernel

import (
	"github.com/adaptive-imaging/optim-core/internal/space"
)

// Model bundles the regressor, noise estimator, and sampler with the
// observation history for one session. It is not safe for concurrent use;
// the session serializes access.
type Model struct {
	space   *space.Space
	reg     Regressor
	noise   NoiseEstimator
	sampler ThompsonSampler
	pseudo  bool

	samples []Sample
	// pseudoSamples are regression input only. They never appear in the
	// exported history and are never selectable.
	pseudoSamples []Sample
}

// NewModel creates a model over the given space.
func NewModel(sp *space.Space, reg Regressor, noise NoiseEstimator, sampler ThompsonSampler, pseudo bool) *Model {
	return &Model{
		space:   sp,
		reg:     reg,
		noise:   noise,
		sampler: sampler,
		pseudo:  pseudo,
	}
}

// Observe records a measured reward at an action from the current space.
func (m *Model) Observe(a space.Action, reward float64) {
	s := Sample{Action: a.Clone(), Reward: reward}
	m.samples = append(m.samples, s)
	if m.pseudo {
		lo, hi := m.space.Bounds()
		m.pseudoSamples = append(m.pseudoSamples, Reflect(s, lo, hi)...)
	}
}

// Import records an observation carried over from a previous session.
// Reflection uses the previous session's bounds: an action that sat on the
// old space's boundary keeps its pseudo-points even when the current bounds
// differ.
func (m *Model) Import(a space.Action, reward float64, prevLo, prevHi []float64) {
	s := Sample{Action: a.Clone(), Reward: reward}
	m.samples = append(m.samples, s)
	if m.pseudo {
		m.pseudoSamples = append(m.pseudoSamples, Reflect(s, prevLo, prevHi)...)
	}
}

// Len returns the number of real observations.
func (m *Model) Len() int {
	return len(m.samples)
}

// Posterior recomputes the posterior over the whole space from the current
// history snapshot. The noise bound is estimated from real observations
// only; pseudo-observations join the regression input afterwards.
func (m *Model) Posterior() Posterior {
	noise := m.noise.Estimate(m.samples)
	input := m.samples
	if len(m.pseudoSamples) > 0 {
		input = make([]Sample, 0, len(m.samples)+len(m.pseudoSamples))
		input = append(input, m.samples...)
		input = append(input, m.pseudoSamples...)
	}
	return m.reg.Compute(m.space, input, noise)
}

// Next selects the next action index via Thompson sampling over the current
// posterior.
func (m *Model) Next(maximize bool) int {
	return m.sampler.Select(m.Posterior(), maximize)
}

// Space returns the action space the model operates on.
func (m *Model) Space() *space.Space {
	return m.space
}
