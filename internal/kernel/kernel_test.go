package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adaptive-imaging/optim-core/internal/space"
	"github.com/adaptive-imaging/optim-core/pkg/utils"
)

func buildSpace(t *testing.T, params ...space.Parameter) *space.Space {
	t.Helper()
	sp, err := space.Build(params)
	require.NoError(t, err)
	return sp
}

func TestNoiseEstimatorConfigured(t *testing.T) {
	e := NoiseEstimator{Mode: NoiseConfigured, Bound: 0.3}
	samples := []Sample{
		{Action: space.Action{0}, Reward: 1},
		{Action: space.Action{0}, Reward: 5},
	}
	assert.Equal(t, 0.3, e.Estimate(samples))
}

func TestNoiseEstimatorEstimated(t *testing.T) {
	e := NoiseEstimator{Mode: NoiseEstimated, Bound: 0.3}

	t.Run("no repeated actions falls back to bound", func(t *testing.T) {
		samples := []Sample{
			{Action: space.Action{0}, Reward: 1},
			{Action: space.Action{1}, Reward: 2},
		}
		assert.Equal(t, 0.3, e.Estimate(samples))
	})

	t.Run("largest group stddev wins", func(t *testing.T) {
		samples := []Sample{
			{Action: space.Action{0}, Reward: 1},
			{Action: space.Action{0}, Reward: 3},
			{Action: space.Action{1}, Reward: 2},
			{Action: space.Action{1}, Reward: 2.2},
		}
		// Group at 0 has sample stddev sqrt(2); group at 1 has ~0.141.
		assert.InDelta(t, 1.4142, e.Estimate(samples), 1e-3)
	})

	t.Run("identical repeats give zero stddev and fall back", func(t *testing.T) {
		samples := []Sample{
			{Action: space.Action{0}, Reward: 2},
			{Action: space.Action{0}, Reward: 2},
		}
		assert.Equal(t, 0.3, e.Estimate(samples))
	})
}

func TestNoiseEstimatorValidate(t *testing.T) {
	assert.NoError(t, NoiseEstimator{Mode: NoiseConfigured, Bound: 1}.Validate())
	assert.Error(t, NoiseEstimator{Mode: "other", Bound: 1}.Validate())
	assert.Error(t, NoiseEstimator{Mode: NoiseConfigured, Bound: 0}.Validate())
}

func TestRegressorEmptyHistoryIsPrior(t *testing.T) {
	sp := buildSpace(t, space.Parameter{Name: "p", Min: 0, Max: 1, Count: 5})
	r := Regressor{Bandwidth: 0.3, PriorMean: 0.5, PriorVariance: 2}

	post := r.Compute(sp, nil, 0.1)
	for i := 0; i < sp.Size(); i++ {
		assert.Equal(t, 0.5, post.Mean[i])
		assert.Equal(t, 2.0, post.Variance[i])
	}
}

func TestRegressorObservedActionTracksReward(t *testing.T) {
	sp := buildSpace(t, space.Parameter{Name: "p", Min: 0, Max: 1, Count: 5})
	r := Regressor{Bandwidth: 0.05, PriorMean: 0, PriorVariance: 10}

	samples := []Sample{{Action: space.Action{0.5}, Reward: 0.8}}
	post := r.Compute(sp, samples, 0.1)

	// Index 2 is the observed action; narrow bandwidth keeps neighbors
	// nearly prior.
	assert.InDelta(t, 0.8, post.Mean[2], 1e-6)
	assert.Less(t, post.Variance[2], 10.0)
}

func TestRegressorZeroWeightFallsBackToPrior(t *testing.T) {
	sp := buildSpace(t, space.Parameter{Name: "p", Min: 0, Max: 1, Count: 2})
	r := Regressor{Bandwidth: 0.01, PriorMean: 0.25, PriorVariance: 4}

	// One observation at the lower bound; the upper bound is 100 bandwidths
	// away, so its kernel weight underflows.
	samples := []Sample{{Action: space.Action{0}, Reward: 1}}
	post := r.Compute(sp, samples, 0.1)

	assert.InDelta(t, 1.0, post.Mean[0], 1e-9)
	assert.Equal(t, 0.25, post.Mean[1])
	assert.Equal(t, 4.0, post.Variance[1])
}

func TestRegressorIdempotentOverSnapshot(t *testing.T) {
	sp := buildSpace(t,
		space.Parameter{Name: "a", Min: 0, Max: 1, Count: 4},
		space.Parameter{Name: "b", Min: 0, Max: 1, Count: 4},
	)
	r := Regressor{Bandwidth: 0.4, PriorMean: 0, PriorVariance: 1}
	samples := []Sample{
		{Action: space.Action{0, 0}, Reward: 0.2},
		{Action: space.Action{1, 1}, Reward: 0.9},
		{Action: space.Action{0, 1}, Reward: 0.5},
	}

	p1 := r.Compute(sp, samples, 0.2)
	p2 := r.Compute(sp, samples, 0.2)
	assert.Equal(t, p1.Mean, p2.Mean)
	assert.Equal(t, p1.Variance, p2.Variance)
}

func TestRegressorVarianceShrinksWithRepeats(t *testing.T) {
	sp := buildSpace(t, space.Parameter{Name: "p", Min: 0, Max: 1, Count: 5})
	r := Regressor{Bandwidth: 0.1, PriorMean: 0, PriorVariance: 10}

	var samples []Sample
	prev := r.PriorVariance
	for k := 0; k < 5; k++ {
		samples = append(samples, Sample{Action: space.Action{0.5}, Reward: 0.7})
		post := r.Compute(sp, samples, 0.2)
		assert.Less(t, post.Variance[2], prev, "variance after %d repeats", k+1)
		prev = post.Variance[2]
	}
}

func TestRegressorVarianceCappedAtPrior(t *testing.T) {
	sp := buildSpace(t, space.Parameter{Name: "p", Min: 0, Max: 1, Count: 3})
	r := Regressor{Bandwidth: 0.5, PriorMean: 0, PriorVariance: 0.01}

	samples := []Sample{{Action: space.Action{0.5}, Reward: 3}}
	post := r.Compute(sp, samples, 5)
	for i := range post.Variance {
		assert.LessOrEqual(t, post.Variance[i], 0.01)
	}
}

func TestRegressorParallelMatchesSerial(t *testing.T) {
	// 20x20 = 400 actions crosses the parallel threshold; the fan-out must
	// not perturb the result, so two computations over the same snapshot
	// must agree bit for bit.
	sp := buildSpace(t,
		space.Parameter{Name: "a", Min: 0, Max: 1, Count: 20},
		space.Parameter{Name: "b", Min: 0, Max: 1, Count: 20},
	)
	r := Regressor{Bandwidth: 0.2, PriorMean: 0, PriorVariance: 1}
	samples := []Sample{
		{Action: space.Action{0.25, 0.5}, Reward: 0.4},
		{Action: space.Action{0.75, 0.25}, Reward: 0.9},
	}
	p1 := r.Compute(sp, samples, 0.1)
	p2 := r.Compute(sp, samples, 0.1)
	assert.Equal(t, p1.Mean, p2.Mean)
	assert.Equal(t, p1.Variance, p2.Variance)
}

func TestReflect(t *testing.T) {
	lo := []float64{0, 0}
	hi := []float64{10, 4}

	t.Run("interior action produces nothing", func(t *testing.T) {
		got := Reflect(Sample{Action: space.Action{5, 2}, Reward: 1}, lo, hi)
		assert.Empty(t, got)
	})

	t.Run("lower bound reflects below the space", func(t *testing.T) {
		got := Reflect(Sample{Action: space.Action{0, 2}, Reward: 0.6}, lo, hi)
		require.Len(t, got, 1)
		assert.Equal(t, space.Action{-10, 2}, got[0].Action)
		assert.Equal(t, 0.6, got[0].Reward)
	})

	t.Run("upper bound reflects above the space", func(t *testing.T) {
		got := Reflect(Sample{Action: space.Action{5, 4}, Reward: 0.6}, lo, hi)
		require.Len(t, got, 1)
		assert.Equal(t, space.Action{5, 8}, got[0].Action)
	})

	t.Run("corner reflects once per boundary dimension", func(t *testing.T) {
		got := Reflect(Sample{Action: space.Action{10, 0}, Reward: 0.3}, lo, hi)
		require.Len(t, got, 2)
		assert.Equal(t, space.Action{20, 0}, got[0].Action)
		assert.Equal(t, space.Action{10, -4}, got[1].Action)
	})
}

func TestSamplerDeterministicUnderSeed(t *testing.T) {
	post := Posterior{
		Mean:     []float64{0.1, 0.5, 0.3, 0.9, 0.2},
		Variance: []float64{1, 1, 1, 1, 1},
	}

	var first []int
	for run := 0; run < 2; run++ {
		s := ThompsonSampler{Rng: utils.NewRandSource(42)}
		var picks []int
		for i := 0; i < 20; i++ {
			picks = append(picks, s.Select(post, true))
		}
		if run == 0 {
			first = picks
		} else {
			assert.Equal(t, first, picks)
		}
	}
}

func TestSamplerTieBreaksToFirstIndex(t *testing.T) {
	// Zero variance makes every draw equal its mean, so equal means tie
	// exactly and the lowest index must win.
	post := Posterior{
		Mean:     []float64{0.7, 0.7, 0.7},
		Variance: []float64{0, 0, 0},
	}
	s := ThompsonSampler{Rng: utils.NewRandSource(1)}
	assert.Equal(t, 0, s.Select(post, true))
	assert.Equal(t, 0, s.Select(post, false))
}

func TestSamplerPolarity(t *testing.T) {
	post := Posterior{
		Mean:     []float64{0.1, 0.9, 0.5},
		Variance: []float64{0, 0, 0},
	}
	s := ThompsonSampler{Rng: utils.NewRandSource(1)}
	assert.Equal(t, 1, s.Select(post, true))
	assert.Equal(t, 0, s.Select(post, false))
}

func TestModelObserveAndPseudo(t *testing.T) {
	sp := buildSpace(t,
		space.Parameter{Name: "a", Min: 0, Max: 4, Count: 5},
		space.Parameter{Name: "b", Min: 0, Max: 4, Count: 5},
	)
	reg := Regressor{Bandwidth: 0.2, PriorMean: 0, PriorVariance: 1}
	noise := NoiseEstimator{Mode: NoiseConfigured, Bound: 0.1}
	sampler := ThompsonSampler{Rng: utils.NewRandSource(7)}

	m := NewModel(sp, reg, noise, sampler, true)
	m.Observe(space.Action{0, 2}, 0.5)

	// One real observation; the pseudo reflection is regression input only.
	assert.Equal(t, 1, m.Len())

	// The reflected point pulls the posterior near the opposite edge of the
	// boundary dimension, so the boundary action's neighborhood is informed
	// symmetrically: compare against a model without pseudo-points.
	plain := NewModel(sp, reg, noise, ThompsonSampler{Rng: utils.NewRandSource(7)}, false)
	plain.Observe(space.Action{0, 2}, 0.5)

	pWith := m.Posterior()
	pWithout := plain.Posterior()
	assert.NotEqual(t, pWith.Variance, pWithout.Variance)
}

func TestModelImportUsesPreviousBounds(t *testing.T) {
	sp := buildSpace(t, space.Parameter{Name: "a", Min: 0, Max: 10, Count: 11})
	reg := Regressor{Bandwidth: 0.2, PriorMean: 0, PriorVariance: 1}
	noise := NoiseEstimator{Mode: NoiseConfigured, Bound: 0.1}

	m := NewModel(sp, reg, noise, ThompsonSampler{Rng: utils.NewRandSource(3)}, true)
	// Action 5 is interior for the current bounds but was the upper bound
	// of the previous session's space.
	m.Import(space.Action{5}, 0.9, []float64{0}, []float64{5})

	fresh := NewModel(sp, reg, noise, ThompsonSampler{Rng: utils.NewRandSource(3)}, true)
	fresh.Observe(space.Action{5}, 0.9)

	pImported := m.Posterior()
	pFresh := fresh.Posterior()
	assert.NotEqual(t, pImported.Mean, pFresh.Mean)
}

func TestModelImportEquivalentToObserve(t *testing.T) {
	// Importing a history recorded over the same bounds must yield the
	// posterior a continuous session would have.
	sp := buildSpace(t, space.Parameter{Name: "a", Min: 0, Max: 10, Count: 6})
	reg := Regressor{Bandwidth: 0.3, PriorMean: 0, PriorVariance: 1}
	noise := NoiseEstimator{Mode: NoiseConfigured, Bound: 0.1}
	lo, hi := sp.Bounds()

	history := []Sample{
		{Action: space.Action{0}, Reward: 0.2},
		{Action: space.Action{4}, Reward: 0.5},
		{Action: space.Action{10}, Reward: 0.9},
	}

	observed := NewModel(sp, reg, noise, ThompsonSampler{Rng: utils.NewRandSource(1)}, true)
	imported := NewModel(sp, reg, noise, ThompsonSampler{Rng: utils.NewRandSource(1)}, true)
	for _, s := range history {
		observed.Observe(s.Action, s.Reward)
		imported.Import(s.Action, s.Reward, lo, hi)
	}

	pObs := observed.Posterior()
	pImp := imported.Posterior()
	assert.Equal(t, pObs.Mean, pImp.Mean)
	assert.Equal(t, pObs.Variance, pImp.Variance)
}

func TestModelNextDeterministicUnderSeed(t *testing.T) {
	build := func() *Model {
		sp := buildSpace(t, space.Parameter{Name: "a", Min: 0, Max: 1, Count: 10})
		reg := Regressor{Bandwidth: 0.15, PriorMean: 0, PriorVariance: 1}
		noise := NoiseEstimator{Mode: NoiseConfigured, Bound: 0.1}
		return NewModel(sp, reg, noise, ThompsonSampler{Rng: utils.NewRandSource(99)}, false)
	}

	m1, m2 := build(), build()
	for i := 0; i < 10; i++ {
		i1 := m1.Next(true)
		i2 := m2.Next(true)
		require.Equal(t, i1, i2, "round %d", i)
		m1.Observe(m1.Space().Action(i1), float64(i)/10)
		m2.Observe(m2.Space().Action(i2), float64(i)/10)
	}
}
