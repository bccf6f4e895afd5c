// Package session runs the round-based optimization loop: sample an action,
// measure it on the instrument, combine the scores into a reward, update the
// model, persist the round.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adaptive-imaging/optim-core/internal/kernel"
	"github.com/adaptive-imaging/optim-core/internal/objective"
	"github.com/adaptive-imaging/optim-core/internal/reward"
	"github.com/adaptive-imaging/optim-core/internal/space"
	"github.com/adaptive-imaging/optim-core/internal/store"
	"github.com/adaptive-imaging/optim-core/pkg/logger"
	"github.com/adaptive-imaging/optim-core/pkg/utils"
)

// State is the session lifecycle state.
type State string

const (
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StateSampling     State = "sampling"
	StateMeasuring    State = "measuring"
	StateUpdating     State = "updating"
	StateStopped      State = "stopped"
	StateAborted      State = "aborted"
)

var (
	// ErrNotReady indicates a round was requested while the session is not
	// in the Ready state. Only one round may be in flight.
	ErrNotReady = errors.New("session not ready")
	// ErrMeasurement indicates the instrument failed to produce a
	// measurement after the retry.
	ErrMeasurement = errors.New("measurement failed")
)

// Measurement is one acquisition's outcome: the per-objective scores, how
// long the acquisition took, and the optional raw artifact bytes.
type Measurement struct {
	Scores   map[string]float64
	Elapsed  time.Duration
	Artifact []byte
}

// Measurer is the instrument boundary: apply the action, acquire, evaluate
// the enabled objectives.
type Measurer interface {
	Measure(ctx context.Context, action space.Action) (Measurement, error)
}

// Options configures one optimization session.
type Options struct {
	// Dir is the session output folder.
	Dir string
	// SessionID names the session; generated when empty.
	SessionID string

	Parameters []space.Parameter
	Objectives []objective.Objective
	Policy     reward.Policy
	// Tradeoff is the remote trade-off service for the delegated policy.
	Tradeoff reward.Rater

	// WithTime adds acquisition time as an implicit objective. It is
	// disabled with a warning when more than two objectives are enabled.
	WithTime       bool
	TimeNoiseBound float64

	PseudoPoints bool
	// ThrashData skips persisting raw artifact bytes. Round records are
	// always kept.
	ThrashData bool

	NoiseMode kernel.NoiseMode
	// Bandwidth is the RBF length scale in normalized coordinates;
	// defaults to numParams/3.
	Bandwidth     float64
	PriorMean     float64
	PriorVariance float64
	Seed          int64

	MaxRounds      int
	MeasureTimeout time.Duration

	// Previous lists prior session folders whose histories seed the model.
	Previous []string
	// IncludeThrashed also imports rounds whose artifacts were discarded.
	IncludeThrashed bool
}

// Session is one optimization run. States move
// Initializing -> Ready -> (Sampling -> Measuring -> Updating -> Ready)* and
// terminate in Stopped or Aborted. A single round is in flight at any time.
type Session struct {
	mu    sync.RWMutex
	state State
	// round counts recorded observations including imported history;
	// imported is the warm-start portion.
	round    int
	imported int
	lastErr  error
	stopping bool

	id       string
	opts     Options
	sp       *space.Space
	model    *kernel.Model
	combiner *reward.Combiner
	st       *store.Store
	measurer Measurer
	log      *slog.Logger
}

// New builds, validates, and warm-starts a session, leaving it Ready.
// Configuration errors here are fatal: the session never starts.
func New(opts Options, measurer Measurer) (*Session, error) {
	if measurer == nil {
		return nil, errors.New("measurer is required")
	}
	if opts.Dir == "" {
		return nil, errors.New("output directory is required")
	}
	if opts.MaxRounds <= 0 {
		return nil, fmt.Errorf("max rounds must be positive, got %d", opts.MaxRounds)
	}
	if opts.MeasureTimeout <= 0 {
		opts.MeasureTimeout = 2 * time.Minute
	}
	if opts.SessionID == "" {
		opts.SessionID = utils.GenerateSessionID()
	}

	log := logger.With("session_id", opts.SessionID)

	objective.Sort(opts.Objectives)
	if opts.WithTime && len(opts.Objectives) > 2 {
		log.Warn("with_time disabled: more than two objectives enabled",
			"objectives", len(opts.Objectives))
		opts.WithTime = false
	}

	sp, err := space.Build(opts.Parameters)
	if err != nil {
		return nil, err
	}

	combiner := &reward.Combiner{
		Objectives:     opts.Objectives,
		Policy:         opts.Policy,
		WithTime:       opts.WithTime,
		TimeNoiseBound: opts.TimeNoiseBound,
		Tradeoff:       opts.Tradeoff,
	}
	if err := combiner.Validate(); err != nil {
		return nil, err
	}

	if opts.Bandwidth <= 0 {
		opts.Bandwidth = float64(sp.Dim()) / 3
	}
	if opts.PriorVariance <= 0 {
		opts.PriorVariance = 1
	}
	if opts.NoiseMode == "" {
		opts.NoiseMode = kernel.NoiseConfigured
	}
	noise := kernel.NoiseEstimator{Mode: opts.NoiseMode, Bound: combiner.NoiseBound()}
	if err := noise.Validate(); err != nil {
		return nil, err
	}

	reg := kernel.Regressor{
		Bandwidth:     opts.Bandwidth,
		PriorMean:     opts.PriorMean,
		PriorVariance: opts.PriorVariance,
	}
	sampler := kernel.ThompsonSampler{Rng: utils.NewRandSource(opts.Seed)}
	model := kernel.NewModel(sp, reg, noise, sampler, opts.PseudoPoints)

	st, err := store.Open(opts.Dir)
	if err != nil {
		return nil, err
	}

	s := &Session{
		state:    StateInitializing,
		id:       opts.SessionID,
		opts:     opts,
		sp:       sp,
		model:    model,
		combiner: combiner,
		st:       st,
		measurer: measurer,
		log:      log,
	}

	if err := s.writeManifest(); err != nil {
		st.Close()
		return nil, err
	}
	if err := s.warmStart(context.Background()); err != nil {
		st.Close()
		return nil, err
	}

	s.state = StateReady
	s.log.Info("session ready",
		"actions", sp.Size(),
		"objectives", len(opts.Objectives),
		"imported", s.imported,
		"max_rounds", opts.MaxRounds)
	return s, nil
}

func (s *Session) writeManifest() error {
	params := make([]store.ManifestParameter, s.sp.Dim())
	for i, p := range s.sp.Parameters() {
		params[i] = store.ManifestParameter{
			Name:   p.Name,
			Unit:   p.Unit,
			Min:    p.Min,
			Max:    p.Max,
			Values: s.sp.Grid(i),
		}
	}
	objs := make([]store.ManifestObjective, len(s.opts.Objectives))
	for i, o := range s.opts.Objectives {
		objs[i] = store.ManifestObjective{
			Kind:       string(o.Kind),
			NoiseBound: o.NoiseBound,
			Weight:     o.Weight,
			Pixelsize:  o.Pixelsize,
			Percentile: o.Percentile,
		}
	}
	return store.WriteManifest(s.opts.Dir, store.Manifest{
		SchemaVersion: store.SchemaVersion,
		SessionID:     s.id,
		CreatedAt:     time.Now().UTC(),
		Parameters:    params,
		Objectives:    objs,
		WithTime:      s.opts.WithTime,
		PseudoPoints:  s.opts.PseudoPoints,
	})
}

// warmStart seeds the model from previous session folders. Incompatible
// folders are fatal; observations outside the current bounds are dropped
// with a warning.
func (s *Session) warmStart(ctx context.Context) error {
	for _, dir := range s.opts.Previous {
		imp, err := store.ImportPrevious(ctx, dir, s.opts.Parameters, s.opts.IncludeThrashed)
		if err != nil {
			return err
		}
		kept := 0
		for _, r := range imp.Rounds {
			if !s.sp.Contains(r.Action) {
				s.log.Warn("dropping imported observation outside current bounds",
					"previous", dir,
					"round", r.Round,
					"action", r.Action)
				continue
			}
			s.model.Import(r.Action, r.Reward, imp.PrevLo, imp.PrevHi)
			kept++
		}
		s.imported += kept
		s.log.Info("imported previous session",
			"previous", dir,
			"rounds", kept,
			"dropped", len(imp.Rounds)-kept)
	}
	s.round = s.imported
	return nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Round returns the number of recorded observations, imported history
// included. On abort this still reports the last successful round.
func (s *Session) Round() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.round
}

// Err returns the error that aborted the session, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// History loads this session's persisted rounds.
func (s *Session) History(ctx context.Context) ([]store.Round, error) {
	return s.st.Rounds(ctx)
}

// Stop requests a graceful stop after the in-flight round, if any.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopping = true
	if s.state == StateReady {
		s.state = StateStopped
		s.log.Info("session stopped")
	}
}

// Close releases the session's persistence handle.
func (s *Session) Close() error {
	return s.st.Close()
}

// setState moves to the given state while holding the lock.
func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// begin claims the Ready state for a new round.
func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return fmt.Errorf("%w: state %s", ErrNotReady, s.state)
	}
	s.state = StateSampling
	return nil
}

// abort terminates the session, keeping the history untouched.
func (s *Session) abort(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateAborted
	s.lastErr = err
	s.log.Error("session aborted",
		"round", s.round,
		"error", err)
}

// Step runs one full round: sample, measure (with one retry), combine,
// update, persist. A failing round is never recorded.
func (s *Session) Step(ctx context.Context) error {
	if err := s.begin(); err != nil {
		return err
	}

	idx := s.model.Next(s.combiner.Maximize())
	action := s.sp.Action(idx)
	s.log.Debug("sampled action", "round", s.round+1, "action", action)

	s.setState(StateMeasuring)
	m, err := s.measure(ctx, action)
	if err != nil {
		s.log.Warn("measurement failed, retrying once",
			"round", s.round+1,
			"action", action,
			"error", err)
		m, err = s.measure(ctx, action)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrMeasurement, err)
			s.abort(err)
			return err
		}
	}

	s.setState(StateUpdating)
	value, degraded, err := s.combiner.Combine(ctx, m.Scores, m.Elapsed)
	if err != nil {
		s.abort(err)
		return err
	}

	s.model.Observe(action, value)

	rec := store.Round{
		Round:      s.round + 1,
		Action:     action,
		Scores:     m.Scores,
		Elapsed:    m.Elapsed,
		Reward:     value,
		NoiseBound: s.combiner.NoiseBound(),
		Degraded:   degraded,
		RecordedAt: time.Now().UTC(),
	}
	if len(m.Artifact) > 0 {
		if s.opts.ThrashData {
			rec.Thrashed = true
		} else if err := s.st.WriteArtifact(rec.Round, m.Artifact); err != nil {
			s.abort(err)
			return err
		}
	}
	if err := s.st.AppendRound(ctx, rec); err != nil {
		s.abort(err)
		return err
	}

	s.mu.Lock()
	s.round++
	round := s.round
	stopping := s.stopping
	if stopping {
		s.state = StateStopped
	} else {
		s.state = StateReady
	}
	s.mu.Unlock()

	s.log.Info("round complete",
		"round", round,
		"action", action,
		"reward", value,
		"degraded", degraded)
	if stopping {
		s.log.Info("session stopped")
	}
	return nil
}

func (s *Session) measure(ctx context.Context, action space.Action) (Measurement, error) {
	mctx, cancel := context.WithTimeout(ctx, s.opts.MeasureTimeout)
	defer cancel()
	return s.measurer.Measure(mctx, action)
}

// Run executes rounds until the budget is spent, a stop is requested, the
// context ends, or the session aborts.
func (s *Session) Run(ctx context.Context) error {
	for {
		s.mu.RLock()
		state := s.state
		done := s.round-s.imported >= s.opts.MaxRounds
		s.mu.RUnlock()

		if state == StateStopped || state == StateAborted {
			return s.Err()
		}
		if done {
			s.setState(StateStopped)
			s.log.Info("round budget spent", "rounds", s.opts.MaxRounds)
			return nil
		}
		if err := ctx.Err(); err != nil {
			s.setState(StateStopped)
			s.log.Info("session stopped by context", "error", err)
			return nil
		}

		if err := s.Step(ctx); err != nil {
			// A stop can land between the state read above and the
			// round's claim; loop once more to observe it.
			if errors.Is(err, ErrNotReady) {
				continue
			}
			return err
		}
	}
}
