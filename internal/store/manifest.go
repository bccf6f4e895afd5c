package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// SchemaVersion identifies the session folder layout and manifest format.
const SchemaVersion = 1

const manifestFile = "manifest.yaml"

// Manifest is the YAML description written into every session folder. It
// records the search configuration in physical values so later sessions can
// check compatibility and import the history.
type Manifest struct {
	SchemaVersion int                 `yaml:"schema_version"`
	SessionID     string              `yaml:"session_id"`
	CreatedAt     time.Time           `yaml:"created_at"`
	Parameters    []ManifestParameter `yaml:"parameters"`
	Objectives    []ManifestObjective `yaml:"objectives"`
	WithTime      bool                `yaml:"with_time"`
	PseudoPoints  bool                `yaml:"pseudo_points"`
}

// ManifestParameter records one parameter's bounds and discretized values.
type ManifestParameter struct {
	Name   string    `yaml:"name"`
	Unit   string    `yaml:"unit,omitempty"`
	Min    float64   `yaml:"min"`
	Max    float64   `yaml:"max"`
	Values []float64 `yaml:"values"`
}

// ManifestObjective records one enabled objective and its inputs.
type ManifestObjective struct {
	Kind       string  `yaml:"kind"`
	NoiseBound float64 `yaml:"noise_ub"`
	Weight     float64 `yaml:"weight,omitempty"`
	Pixelsize  float64 `yaml:"pixelsize,omitempty"`
	Percentile float64 `yaml:"percentile,omitempty"`
}

// WriteManifest writes the manifest into the session directory.
func WriteManifest(dir string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	path := filepath.Join(dir, manifestFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ReadManifest reads the manifest from a session directory.
func ReadManifest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}
