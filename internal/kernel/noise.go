package kernel

import (
	"fmt"

	"github.com/adaptive-imaging/optim-core/pkg/utils"
)

// NoiseMode selects how the reward-noise upper bound is obtained.
type NoiseMode string

const (
	// NoiseConfigured uses the operator-supplied bound as-is.
	NoiseConfigured NoiseMode = "configured"
	// NoiseEstimated derives the bound from repeated observations of the
	// same action, falling back to the configured bound until repeats exist.
	NoiseEstimated NoiseMode = "estimated"
)

// NoiseEstimator produces the noise standard-deviation bound fed into the
// posterior variance.
type NoiseEstimator struct {
	Mode  NoiseMode
	Bound float64
}

// Validate checks the estimator settings.
func (e NoiseEstimator) Validate() error {
	switch e.Mode {
	case NoiseConfigured, NoiseEstimated:
	default:
		return fmt.Errorf("unknown noise mode %q", e.Mode)
	}
	if e.Bound <= 0 {
		return fmt.Errorf("noise bound must be positive, got %v", e.Bound)
	}
	return nil
}

// Estimate returns the noise bound for the given history. In estimated mode
// the bound is the largest sample standard deviation across groups of
// observations that share an identical action; groups need at least two
// members to contribute. Without any such group the configured bound stands.
func (e NoiseEstimator) Estimate(samples []Sample) float64 {
	if e.Mode != NoiseEstimated {
		return e.Bound
	}

	groups := make(map[string][]float64)
	for _, s := range samples {
		key := actionKey(s.Action)
		groups[key] = append(groups[key], s.Reward)
	}

	best := 0.0
	for _, rewards := range groups {
		if len(rewards) < 2 {
			continue
		}
		if sd := utils.SampleStdDev(rewards); sd > best {
			best = sd
		}
	}
	if best == 0 {
		return e.Bound
	}
	return best
}

func actionKey(a []float64) string {
	return fmt.Sprintf("%v", a)
}
