package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/adaptive-imaging/optim-core/internal/space"
)

// ErrIncompatibleHistory indicates a previous session folder whose
// configuration cannot seed the current session.
var ErrIncompatibleHistory = errors.New("incompatible previous session")

// Imported is the usable history of one previous session folder.
type Imported struct {
	Rounds []Round
	// PrevLo and PrevHi are the previous session's physical bounds, which
	// drive pseudo-action reflection for the imported observations.
	PrevLo []float64
	PrevHi []float64
}

// ImportPrevious loads a prior session folder for warm start. The previous
// session must have searched the same parameters in the same order; bounds
// may differ. Rounds whose artifacts were discarded are skipped unless
// includeThrashed is set.
func ImportPrevious(ctx context.Context, dir string, params []space.Parameter, includeThrashed bool) (Imported, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return Imported{}, err
	}
	if m.SchemaVersion != SchemaVersion {
		return Imported{}, fmt.Errorf("%w: %s: schema version %d, want %d",
			ErrIncompatibleHistory, dir, m.SchemaVersion, SchemaVersion)
	}
	if len(m.Parameters) != len(params) {
		return Imported{}, fmt.Errorf("%w: %s: %d parameters, want %d",
			ErrIncompatibleHistory, dir, len(m.Parameters), len(params))
	}
	for i, p := range params {
		if m.Parameters[i].Name != p.Name {
			return Imported{}, fmt.Errorf("%w: %s: parameter %d is %q, want %q",
				ErrIncompatibleHistory, dir, i, m.Parameters[i].Name, p.Name)
		}
	}

	prev, err := Open(dir)
	if err != nil {
		return Imported{}, fmt.Errorf("open previous session %s: %w", dir, err)
	}
	defer prev.Close()

	rounds, err := prev.Rounds(ctx)
	if err != nil {
		return Imported{}, fmt.Errorf("load previous session %s: %w", dir, err)
	}

	out := Imported{
		PrevLo: make([]float64, len(m.Parameters)),
		PrevHi: make([]float64, len(m.Parameters)),
	}
	for i, p := range m.Parameters {
		out.PrevLo[i] = p.Min
		out.PrevHi[i] = p.Max
	}
	for _, r := range rounds {
		if r.Thrashed && !includeThrashed {
			continue
		}
		out.Rounds = append(out.Rounds, r)
	}
	return out, nil
}
