package optimd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/adaptive-imaging/optim-core/internal/kernel"
	"github.com/adaptive-imaging/optim-core/internal/objective"
	"github.com/adaptive-imaging/optim-core/internal/rating"
	"github.com/adaptive-imaging/optim-core/internal/reward"
	"github.com/adaptive-imaging/optim-core/internal/session"
	"github.com/adaptive-imaging/optim-core/internal/space"
	"github.com/adaptive-imaging/optim-core/pkg/config"
	"github.com/adaptive-imaging/optim-core/pkg/utils"
)

// CreateRequest is the per-session override surface of the create endpoint.
// Everything else comes from the daemon configuration.
type CreateRequest struct {
	Folder          string   `json:"folder,omitempty"`
	Previous        []string `json:"previous,omitempty"`
	IncludeThrashed *bool    `json:"include_thrashed,omitempty"`
	MaxRounds       int      `json:"max_rounds,omitempty"`
	Seed            *int64   `json:"seed,omitempty"`
}

// SessionOptions builds session options from the daemon configuration and
// the create request's overrides.
func SessionOptions(cfg *config.Config, req CreateRequest) (session.Options, error) {
	var params []space.Parameter
	for _, p := range cfg.EnabledParameters() {
		params = append(params, space.Parameter{
			Name:  p.Name,
			Unit:  p.Unit,
			Min:   p.Min,
			Max:   p.Max,
			Count: p.Count,
			Step:  p.Step,
		})
	}

	var objectives []objective.Objective
	for _, o := range cfg.EnabledObjectives() {
		objectives = append(objectives, objective.Objective{
			Kind:       objective.Kind(o.Kind),
			NoiseBound: o.NoiseUB,
			Weight:     o.Weight,
			Pixelsize:  o.Pixelsize,
			Percentile: o.Percentile,
		})
	}

	policy, tradeoff, err := rewardPolicy(cfg, len(objectives))
	if err != nil {
		return session.Options{}, err
	}

	folder := req.Folder
	if folder == "" {
		folder = cfg.Output.Folder
	}
	if folder == "" {
		folder = utils.GenerateSessionID()
	}

	previous := req.Previous
	if previous == nil {
		previous = cfg.Output.Previous
	}
	// Previous sessions are named by folder; absolute paths pass through.
	resolved := make([]string, 0, len(previous))
	for _, p := range previous {
		if !filepath.IsAbs(p) {
			p = filepath.Join(cfg.Output.SavingDir, p)
		}
		resolved = append(resolved, p)
	}
	includeThrashed := cfg.Output.IncludeThrashed
	if req.IncludeThrashed != nil {
		includeThrashed = *req.IncludeThrashed
	}
	maxRounds := cfg.Rounds.MaxRounds
	if req.MaxRounds > 0 {
		maxRounds = req.MaxRounds
	}
	seed := cfg.Sampler.Seed
	if req.Seed != nil {
		seed = *req.Seed
	}

	return session.Options{
		Dir:             filepath.Join(cfg.Output.SavingDir, folder),
		SessionID:       folder,
		Parameters:      params,
		Objectives:      objectives,
		Policy:          policy,
		Tradeoff:        tradeoff,
		WithTime:        cfg.WithTime,
		TimeNoiseBound:  cfg.TimeNoiseUB,
		PseudoPoints:    cfg.PseudoPoints,
		ThrashData:      cfg.ThrashData,
		NoiseMode:       kernel.NoiseMode(cfg.Sampler.NoiseMode),
		Bandwidth:       cfg.Sampler.Bandwidth,
		PriorMean:       cfg.Sampler.PriorMean,
		PriorVariance:   cfg.Sampler.PriorVariance,
		Seed:            seed,
		MaxRounds:       maxRounds,
		MeasureTimeout:  time.Duration(cfg.Rounds.MeasureTimeoutMs) * time.Millisecond,
		Previous:        resolved,
		IncludeThrashed: includeThrashed,
	}, nil
}

// rewardPolicy maps the configured decision policy onto a reward policy and
// the rating service backing it. Manual sessions combine locally;
// quality-assisted sessions delegate to the quality service; fully-automatic
// sessions delegate to the trade-off service.
func rewardPolicy(cfg *config.Config, objectives int) (reward.Policy, reward.Rater, error) {
	switch cfg.DecisionPolicy {
	case config.PolicyManualWeighted:
		if objectives == 1 {
			return reward.PolicySingle, nil, nil
		}
		return reward.PolicyWeighted, nil, nil
	case config.PolicyQualityAssist:
		return reward.PolicyDelegated, ratingClient(cfg.QualityService), nil
	case config.PolicyFullyAutomatic:
		return reward.PolicyDelegated, ratingClient(cfg.TradeoffService), nil
	default:
		return "", nil, fmt.Errorf("unknown decision policy %q", cfg.DecisionPolicy)
	}
}

func ratingClient(svc *config.ServiceConfig) *rating.Client {
	return rating.NewClient(rating.Config{
		Address:    svc.Address,
		Port:       svc.Port,
		Timeout:    time.Duration(svc.TimeoutMs) * time.Millisecond,
		Retries:    svc.Retries,
		RatePerSec: svc.RatePerSec,
	})
}

// ParameterNames returns the enabled parameter names in order, for the
// measurement endpoint.
func ParameterNames(cfg *config.Config) []string {
	var names []string
	for _, p := range cfg.EnabledParameters() {
		names = append(names, p.Name)
	}
	return names
}
