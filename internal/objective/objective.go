// Package objective declares the closed set of optimization targets an
// imaging session can pursue. Objectives carry identity, polarity, noise
// bound, and the extra inputs their evaluation needs; the evaluation itself
// happens outside the engine, which only ever sees the resulting scores.
package objective

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownKind indicates an objective kind outside the supported set.
var ErrUnknownKind = errors.New("unknown objective kind")

// Kind identifies one supported objective.
type Kind string

const (
	// Quality is an image-quality score, manually entered or remotely rated.
	Quality Kind = "quality"
	// Bleach is photobleaching between acquisitions. Less is better.
	Bleach Kind = "bleach"
	// Autocorrelation measures image structure sharpness.
	Autocorrelation Kind = "autocorrelation"
	// FRC is Fourier ring correlation resolution. Needs a pixel size.
	FRC Kind = "frc"
	// FWHM is the full width at half maximum of line profiles. Needs a
	// pixel size. Less is better.
	FWHM Kind = "fwhm"
	// SignalRatio compares foreground signal against a background
	// percentile. Needs the percentile.
	SignalRatio Kind = "signal_ratio"
)

// priority fixes the cross-session ordering of objectives so reward vectors
// and persisted histories index consistently.
var priority = map[Kind]int{
	Quality:         0,
	Bleach:          1,
	Autocorrelation: 2,
	FRC:             3,
	FWHM:            4,
	SignalRatio:     5,
}

// Objective is one enabled optimization target.
type Objective struct {
	Kind       Kind
	NoiseBound float64
	Weight     float64
	Pixelsize  float64
	Percentile float64
}

// Maximize reports the objective's polarity: true when larger scores are
// better.
func (o Objective) Maximize() bool {
	switch o.Kind {
	case Bleach, FWHM:
		return false
	default:
		return true
	}
}

// Validate checks the kind and its required extra inputs.
func (o Objective) Validate() error {
	if _, ok := priority[o.Kind]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, o.Kind)
	}
	if o.NoiseBound <= 0 {
		return fmt.Errorf("objective %s: noise bound must be positive, got %v", o.Kind, o.NoiseBound)
	}
	if o.Weight < 0 {
		return fmt.Errorf("objective %s: weight must not be negative, got %v", o.Kind, o.Weight)
	}
	switch o.Kind {
	case FRC, FWHM:
		if o.Pixelsize <= 0 {
			return fmt.Errorf("objective %s: pixel size is required", o.Kind)
		}
	case SignalRatio:
		if o.Percentile <= 0 || o.Percentile > 100 {
			return fmt.Errorf("objective %s: percentile must be in (0, 100], got %v", o.Kind, o.Percentile)
		}
	}
	return nil
}

// Sort orders objectives in the fixed priority order, quality first.
func Sort(objectives []Objective) {
	sort.SliceStable(objectives, func(i, j int) bool {
		return priority[objectives[i].Kind] < priority[objectives[j].Kind]
	})
}

// Names returns the objective kinds in order.
func Names(objectives []Objective) []string {
	out := make([]string, len(objectives))
	for i, o := range objectives {
		out[i] = string(o.Kind)
	}
	return out
}
