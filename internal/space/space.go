// Package space builds the discrete action space an optimization session
// searches over: the cartesian product of per-parameter value grids.
package space

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidParameterRange indicates a parameter whose range or
// discretization settings cannot produce a valid value grid.
var ErrInvalidParameterRange = errors.New("invalid parameter range")

// stepEps absorbs floating-point drift when stepping across a range so the
// upper bound is included when the range is an exact multiple of the step.
// It scales with the step so sub-epsilon steps cannot stall the walk.
const stepEps = 1e-9

// Parameter describes one controllable instrument parameter and how its
// continuous range is discretized. Exactly one of Count or Step drives the
// grid: a positive Step takes precedence, otherwise Count evenly spaced
// values including both bounds.
type Parameter struct {
	Name  string
	Unit  string
	Min   float64
	Max   float64
	Count int
	Step  float64
}

// Values returns the discretized value grid for the parameter in ascending
// order.
func (p Parameter) Values() ([]float64, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("%w: parameter has no name", ErrInvalidParameterRange)
	}
	if math.IsNaN(p.Min) || math.IsNaN(p.Max) || p.Min >= p.Max {
		return nil, fmt.Errorf("%w: parameter %q: min %v must be strictly below max %v",
			ErrInvalidParameterRange, p.Name, p.Min, p.Max)
	}

	if p.Step > 0 {
		var values []float64
		eps := p.Step * stepEps
		for v := p.Min; v <= p.Max+eps; v += p.Step {
			// The last value is always Max itself, never appended twice.
			if v >= p.Max-eps {
				values = append(values, p.Max)
				break
			}
			values = append(values, v)
		}
		if len(values) < 2 {
			return nil, fmt.Errorf("%w: parameter %q: step %v produces fewer than two values over [%v, %v]",
				ErrInvalidParameterRange, p.Name, p.Step, p.Min, p.Max)
		}
		return values, nil
	}

	if p.Count < 2 {
		return nil, fmt.Errorf("%w: parameter %q: count %d must be at least 2",
			ErrInvalidParameterRange, p.Name, p.Count)
	}
	values := make([]float64, p.Count)
	span := p.Max - p.Min
	for i := 0; i < p.Count; i++ {
		values[i] = p.Min + span*float64(i)/float64(p.Count-1)
	}
	values[p.Count-1] = p.Max
	return values, nil
}

// Action is one point of the action space: a physical value per parameter,
// in parameter declaration order.
type Action []float64

// Equal reports whether two actions have identical coordinates.
func (a Action) Equal(b Action) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the action.
func (a Action) Clone() Action {
	out := make(Action, len(a))
	copy(out, a)
	return out
}

// Space is the enumerated action space. Enumeration order is deterministic:
// the cartesian product with the last parameter varying fastest.
type Space struct {
	params  []Parameter
	grids   [][]float64
	actions []Action
}

// Build validates the parameters and enumerates the full action space.
func Build(params []Parameter) (*Space, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("%w: no parameters", ErrInvalidParameterRange)
	}
	seen := make(map[string]bool, len(params))
	grids := make([][]float64, len(params))
	total := 1
	for i, p := range params {
		if seen[p.Name] {
			return nil, fmt.Errorf("%w: duplicate parameter %q", ErrInvalidParameterRange, p.Name)
		}
		seen[p.Name] = true
		values, err := p.Values()
		if err != nil {
			return nil, err
		}
		grids[i] = values
		total *= len(values)
	}

	actions := make([]Action, 0, total)
	idx := make([]int, len(params))
	for {
		a := make(Action, len(params))
		for d := range params {
			a[d] = grids[d][idx[d]]
		}
		actions = append(actions, a)

		d := len(params) - 1
		for d >= 0 {
			idx[d]++
			if idx[d] < len(grids[d]) {
				break
			}
			idx[d] = 0
			d--
		}
		if d < 0 {
			break
		}
	}

	return &Space{params: params, grids: grids, actions: actions}, nil
}

// Dim returns the number of parameters.
func (s *Space) Dim() int {
	return len(s.params)
}

// Size returns the number of actions in the space.
func (s *Space) Size() int {
	return len(s.actions)
}

// Parameters returns the parameter definitions in declaration order.
func (s *Space) Parameters() []Parameter {
	return s.params
}

// Grid returns the discretized values for parameter dimension d.
func (s *Space) Grid(d int) []float64 {
	return s.grids[d]
}

// Actions returns all actions in enumeration order. The returned slice is
// shared; callers must not mutate it.
func (s *Space) Actions() []Action {
	return s.actions
}

// Action returns the action at enumeration index i.
func (s *Space) Action(i int) Action {
	return s.actions[i]
}

// Bounds returns the lower and upper physical bounds per dimension.
func (s *Space) Bounds() (lo, hi []float64) {
	lo = make([]float64, len(s.params))
	hi = make([]float64, len(s.params))
	for i, p := range s.params {
		lo[i] = p.Min
		hi[i] = p.Max
	}
	return lo, hi
}

// Normalize maps an action's physical values onto [0, 1] per dimension.
// Values outside the bounds map outside [0, 1]; reflected pseudo-actions
// rely on that.
func (s *Space) Normalize(a Action) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		p := s.params[i]
		out[i] = (a[i] - p.Min) / (p.Max - p.Min)
	}
	return out
}

// Contains reports whether every coordinate of the action lies within the
// current parameter bounds. Used to filter imported observations at warm
// start; grid membership is deliberately not required.
func (s *Space) Contains(a Action) bool {
	if len(a) != len(s.params) {
		return false
	}
	for i := range a {
		if a[i] < s.params[i].Min-stepEps || a[i] > s.params[i].Max+stepEps {
			return false
		}
	}
	return true
}
