// Package config loads and validates the daemon's YAML configuration.
package config

// Config represents the main daemon configuration
type Config struct {
	LogLevel string `yaml:"log_level"`

	Output     OutputConfig      `yaml:"output"`
	Parameters []ParameterConfig `yaml:"parameters"`
	Objectives []ObjectiveConfig `yaml:"objectives"`

	// DecisionPolicy selects how multiple objectives collapse into one
	// reward: manual-weighted, quality-assisted, or fully-automatic.
	DecisionPolicy string `yaml:"decision_policy"`

	WithTime    bool    `yaml:"with_time"`
	TimeNoiseUB float64 `yaml:"time_noise_ub"`

	PseudoPoints bool `yaml:"pseudo_points"`
	ThrashData   bool `yaml:"thrash_data"`

	Sampler SamplerConfig `yaml:"sampler"`
	Rounds  RoundsConfig  `yaml:"rounds"`

	// MeasureURL is the acquisition endpoint sessions post actions to.
	MeasureURL string `yaml:"measure_url"`

	QualityService  *ServiceConfig `yaml:"quality_service,omitempty"`
	TradeoffService *ServiceConfig `yaml:"tradeoff_service,omitempty"`
}

// OutputConfig controls where session folders live and which previous
// folders seed new sessions
type OutputConfig struct {
	SavingDir string `yaml:"saving_dir"`
	// Folder optionally fixes the session folder name; generated when empty
	Folder          string   `yaml:"folder,omitempty"`
	Previous        []string `yaml:"previous,omitempty"`
	IncludeThrashed bool     `yaml:"include_thrashed"`
}

// ParameterConfig describes one controllable instrument parameter
type ParameterConfig struct {
	Name    string  `yaml:"name"`
	Unit    string  `yaml:"unit,omitempty"`
	Enabled bool    `yaml:"enabled"`
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
	Count   int     `yaml:"count,omitempty"`
	Step    float64 `yaml:"step,omitempty"`
}

// ObjectiveConfig describes one optimization objective
type ObjectiveConfig struct {
	Kind       string  `yaml:"kind"`
	Enabled    bool    `yaml:"enabled"`
	NoiseUB    float64 `yaml:"noise_ub"`
	Weight     float64 `yaml:"weight,omitempty"`
	Pixelsize  float64 `yaml:"pixelsize,omitempty"`
	Percentile float64 `yaml:"percentile,omitempty"`
}

// SamplerConfig tunes the regression and sampling stage
type SamplerConfig struct {
	// Bandwidth in normalized coordinates; 0 picks numParams/3
	Bandwidth     float64 `yaml:"bandwidth"`
	PriorMean     float64 `yaml:"prior_mean"`
	PriorVariance float64 `yaml:"prior_variance"`
	// Seed 0 seeds from the clock
	Seed int64 `yaml:"seed"`
	// NoiseMode is "configured" or "estimated"
	NoiseMode string `yaml:"noise_mode,omitempty"`
}

// RoundsConfig bounds the optimization loop
type RoundsConfig struct {
	MaxRounds        int `yaml:"max_rounds"`
	MeasureTimeoutMs int `yaml:"measure_timeout_ms"`
}

// ServiceConfig points at one remote rating service
type ServiceConfig struct {
	Address    string  `yaml:"address"`
	Port       int     `yaml:"port"`
	TimeoutMs  int     `yaml:"timeout_ms,omitempty"`
	Retries    int     `yaml:"retries,omitempty"`
	RatePerSec float64 `yaml:"rate_per_sec,omitempty"`
}

// Decision policies
const (
	PolicyManualWeighted = "manual-weighted"
	PolicyQualityAssist  = "quality-assisted"
	PolicyFullyAutomatic = "fully-automatic"
)

// EnabledParameters returns the enabled parameters in declaration order
func (c *Config) EnabledParameters() []ParameterConfig {
	var out []ParameterConfig
	for _, p := range c.Parameters {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// EnabledObjectives returns the enabled objectives in declaration order
func (c *Config) EnabledObjectives() []ObjectiveConfig {
	var out []ObjectiveConfig
	for _, o := range c.Objectives {
		if o.Enabled {
			out = append(out, o)
		}
	}
	return out
}
