// Package reward collapses per-objective scores into the scalar reward the
// bandit model learns from.
package reward

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adaptive-imaging/optim-core/internal/objective"
	"github.com/adaptive-imaging/optim-core/internal/rating"
	"github.com/adaptive-imaging/optim-core/pkg/logger"
	"github.com/adaptive-imaging/optim-core/pkg/utils"
)

var (
	// ErrNoObjectiveSelected indicates an empty objective set.
	ErrNoObjectiveSelected = errors.New("no objective selected")
	// ErrMissingScore indicates a measurement without a score for an
	// enabled objective.
	ErrMissingScore = errors.New("missing score for enabled objective")
)

// Policy selects how multiple objective scores combine into one reward.
type Policy string

const (
	// PolicySingle passes the sole objective's score through, clipped to
	// its noise bound.
	PolicySingle Policy = "single"
	// PolicyWeighted combines noise-normalized scores with configured
	// weights, negating less-is-better objectives.
	PolicyWeighted Policy = "weighted"
	// PolicyDelegated asks the remote trade-off service to rate the score
	// vector, falling back to PolicyWeighted for the round when the
	// service is unavailable.
	PolicyDelegated Policy = "delegated"
)

// Rater is the remote trade-off capability PolicyDelegated consumes.
type Rater interface {
	Rate(ctx context.Context, scores []float64) (float64, error)
}

// Combiner turns a round's per-objective scores into the scalar reward.
// Objectives must already be in priority order.
type Combiner struct {
	Objectives []objective.Objective
	Policy     Policy
	// WithTime adds acquisition time as an implicit less-is-better
	// objective in the weighted combination.
	WithTime       bool
	TimeNoiseBound float64
	// Tradeoff is required for PolicyDelegated.
	Tradeoff Rater
}

// Validate reports the fatal configuration errors before a session starts.
func (c *Combiner) Validate() error {
	if len(c.Objectives) == 0 {
		return ErrNoObjectiveSelected
	}
	for _, o := range c.Objectives {
		if err := o.Validate(); err != nil {
			return err
		}
	}
	switch c.Policy {
	case PolicySingle:
		if len(c.Objectives) != 1 {
			return fmt.Errorf("policy %s requires exactly one objective, got %d", c.Policy, len(c.Objectives))
		}
	case PolicyWeighted:
		if c.totalWeight() <= 0 {
			return fmt.Errorf("policy %s requires a positive total weight", c.Policy)
		}
	case PolicyDelegated:
		if c.Tradeoff == nil {
			return fmt.Errorf("policy %s requires a trade-off service", c.Policy)
		}
		// Degraded rounds fall back to the weighted combination, so the
		// weights must be usable here too.
		if c.totalWeight() <= 0 {
			return fmt.Errorf("policy %s requires a positive total weight for its weighted fallback", c.Policy)
		}
	default:
		return fmt.Errorf("unknown reward policy %q", c.Policy)
	}
	if c.WithTime && c.TimeNoiseBound <= 0 {
		return errors.New("with_time requires a positive time noise bound")
	}
	return nil
}

// Maximize reports the polarity of the combined reward. Single-objective
// sessions inherit the objective's polarity; combined rewards always
// maximize because less-is-better scores are negated inside the
// combination.
func (c *Combiner) Maximize() bool {
	if c.Policy == PolicySingle {
		return c.Objectives[0].Maximize()
	}
	return true
}

// NoiseBound returns the reward-noise bound matching the combination: the
// sole objective's bound for single, 1 for the normalized combinations.
func (c *Combiner) NoiseBound() float64 {
	if c.Policy == PolicySingle {
		return c.Objectives[0].NoiseBound
	}
	return 1
}

// Combine computes the round reward. The returned degraded flag is true when
// the delegated policy fell back to the weighted combination for this round.
func (c *Combiner) Combine(ctx context.Context, scores map[string]float64, elapsed time.Duration) (float64, bool, error) {
	vector, err := c.vector(scores)
	if err != nil {
		return 0, false, err
	}

	switch c.Policy {
	case PolicySingle:
		bound := c.Objectives[0].NoiseBound
		return utils.Clamp(vector[0], -bound, bound), false, nil

	case PolicyWeighted:
		return c.weighted(vector, elapsed), false, nil

	case PolicyDelegated:
		value, err := c.Tradeoff.Rate(ctx, vector)
		if err != nil {
			if !errors.Is(err, rating.ErrUnavailable) {
				return 0, false, err
			}
			logger.Warn("trade-off service unavailable, using weighted combination for this round",
				"error", err)
			return c.weighted(vector, elapsed), true, nil
		}
		return value, false, nil

	default:
		return 0, false, fmt.Errorf("unknown reward policy %q", c.Policy)
	}
}

// vector extracts the scores for the enabled objectives in priority order.
func (c *Combiner) vector(scores map[string]float64) ([]float64, error) {
	out := make([]float64, len(c.Objectives))
	for i, o := range c.Objectives {
		v, ok := scores[string(o.Kind)]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingScore, o.Kind)
		}
		out[i] = v
	}
	return out, nil
}

// weighted computes the noise-normalized weighted combination. Scores of
// less-is-better objectives enter negated so the combined reward always
// maximizes.
func (c *Combiner) totalWeight() float64 {
	total := 0.0
	for _, o := range c.Objectives {
		total += o.Weight
	}
	return total
}

func (c *Combiner) weighted(vector []float64, elapsed time.Duration) float64 {
	total := 0.0
	for i, o := range c.Objectives {
		term := o.Weight * vector[i] / o.NoiseBound
		if !o.Maximize() {
			term = -term
		}
		total += term
	}
	if c.WithTime {
		total -= elapsed.Seconds() / c.TimeNoiseBound
	}
	return total
}
