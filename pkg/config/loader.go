package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads and parses a configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := ParseConfigYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfigYAML parses and validates a YAML configuration document
func ParseConfigYAML(data []byte) (*Config, error) {
	cfg := &Config{
		LogLevel: "info",
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validateConfig performs validation on the configuration
func validateConfig(cfg *Config) error {
	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", cfg.LogLevel)
	}

	if cfg.Output.SavingDir == "" {
		return fmt.Errorf("output.saving_dir cannot be empty")
	}

	// Validate parameters
	enabledParams := cfg.EnabledParameters()
	if len(enabledParams) == 0 {
		return fmt.Errorf("at least one parameter must be enabled")
	}
	paramNames := make(map[string]bool)
	for _, p := range enabledParams {
		if p.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if paramNames[p.Name] {
			return fmt.Errorf("duplicate parameter name: %s", p.Name)
		}
		paramNames[p.Name] = true
		if p.Min >= p.Max {
			return fmt.Errorf("parameter %s: min %v must be strictly below max %v", p.Name, p.Min, p.Max)
		}
		if p.Step < 0 {
			return fmt.Errorf("parameter %s: step cannot be negative", p.Name)
		}
		if p.Step == 0 && p.Count < 2 {
			return fmt.Errorf("parameter %s: count must be at least 2 when no step is set", p.Name)
		}
	}

	// Validate objectives
	enabledObjectives := cfg.EnabledObjectives()
	if len(enabledObjectives) == 0 {
		return fmt.Errorf("at least one objective must be enabled")
	}
	validKinds := map[string]bool{
		"quality":         true,
		"bleach":          true,
		"autocorrelation": true,
		"frc":             true,
		"fwhm":            true,
		"signal_ratio":    true,
	}
	objectiveKinds := make(map[string]bool)
	for _, o := range enabledObjectives {
		if !validKinds[o.Kind] {
			return fmt.Errorf("invalid objective kind: %s", o.Kind)
		}
		if objectiveKinds[o.Kind] {
			return fmt.Errorf("duplicate objective kind: %s", o.Kind)
		}
		objectiveKinds[o.Kind] = true
		if o.NoiseUB <= 0 {
			return fmt.Errorf("objective %s: noise_ub must be positive", o.Kind)
		}
		if o.Weight < 0 {
			return fmt.Errorf("objective %s: weight cannot be negative", o.Kind)
		}
	}

	// Validate decision policy
	switch cfg.DecisionPolicy {
	case PolicyManualWeighted:
	case PolicyQualityAssist:
		if cfg.QualityService == nil {
			return fmt.Errorf("decision_policy %s requires quality_service", cfg.DecisionPolicy)
		}
	case PolicyFullyAutomatic:
		if cfg.QualityService == nil {
			return fmt.Errorf("decision_policy %s requires quality_service", cfg.DecisionPolicy)
		}
		if cfg.TradeoffService == nil {
			return fmt.Errorf("decision_policy %s requires tradeoff_service", cfg.DecisionPolicy)
		}
	default:
		return fmt.Errorf("invalid decision_policy: %s (must be %s, %s, or %s)",
			cfg.DecisionPolicy, PolicyManualWeighted, PolicyQualityAssist, PolicyFullyAutomatic)
	}

	// The weighted combination backs manual multi-objective sessions and
	// every degraded round of the delegated policies.
	if cfg.DecisionPolicy != PolicyManualWeighted || len(enabledObjectives) > 1 {
		totalWeight := 0.0
		for _, o := range enabledObjectives {
			totalWeight += o.Weight
		}
		if totalWeight <= 0 {
			return fmt.Errorf("decision_policy %s requires a positive total objective weight", cfg.DecisionPolicy)
		}
	}

	if cfg.WithTime && cfg.TimeNoiseUB <= 0 {
		return fmt.Errorf("with_time requires a positive time_noise_ub")
	}

	// Validate sampler
	if cfg.Sampler.Bandwidth < 0 {
		return fmt.Errorf("sampler.bandwidth cannot be negative")
	}
	if cfg.Sampler.PriorVariance < 0 {
		return fmt.Errorf("sampler.prior_variance cannot be negative")
	}
	if cfg.Sampler.NoiseMode != "" && cfg.Sampler.NoiseMode != "configured" && cfg.Sampler.NoiseMode != "estimated" {
		return fmt.Errorf("invalid sampler.noise_mode: %s (must be configured or estimated)", cfg.Sampler.NoiseMode)
	}

	// Validate rounds
	if cfg.Rounds.MaxRounds <= 0 {
		return fmt.Errorf("rounds.max_rounds must be positive, got %d", cfg.Rounds.MaxRounds)
	}
	if cfg.Rounds.MeasureTimeoutMs < 0 {
		return fmt.Errorf("rounds.measure_timeout_ms cannot be negative")
	}

	if cfg.MeasureURL == "" {
		return fmt.Errorf("measure_url cannot be empty")
	}

	for name, svc := range map[string]*ServiceConfig{
		"quality_service":  cfg.QualityService,
		"tradeoff_service": cfg.TradeoffService,
	} {
		if svc == nil {
			continue
		}
		if svc.Address == "" {
			return fmt.Errorf("%s: address cannot be empty", name)
		}
		if svc.Port <= 0 || svc.Port > 65535 {
			return fmt.Errorf("%s: invalid port %d", name, svc.Port)
		}
	}

	return nil
}
