package optimd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adaptive-imaging/optim-core/pkg/logger"
)

// shutdownGrace bounds how long Shutdown waits for in-flight rounds before
// cancelling their contexts.
const shutdownGrace = 30 * time.Second

var (
	// ErrSessionNotFound indicates an unknown session ID.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionRunning indicates a start request for a session whose loop
	// is already in flight.
	ErrSessionRunning = errors.New("session already running")
)

// Runner drives registered sessions' round loops, one goroutine each.
type Runner struct {
	registry *Registry

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner creates a runner over the registry.
func NewRunner(registry *Registry) *Runner {
	return &Runner{
		registry: registry,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Start launches the session's round loop in the background.
func (r *Runner) Start(id string) error {
	rec, ok := r.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	r.mu.Lock()
	if _, running := r.cancels[id]; running {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionRunning, id)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancels[id] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.cancels, id)
			r.mu.Unlock()
			cancel()
		}()

		logger.Info("session loop started", "id", id, "session_id", rec.Session.ID())
		if err := rec.Session.Run(ctx); err != nil {
			logger.Error("session loop ended with error",
				"id", id,
				"session_id", rec.Session.ID(),
				"error", err)
			return
		}
		logger.Info("session loop finished", "id", id, "session_id", rec.Session.ID())
	}()
	return nil
}

// Stop requests a graceful stop: the in-flight round finishes, then the loop
// exits.
func (r *Runner) Stop(id string) error {
	rec, ok := r.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	rec.Session.Stop()
	return nil
}

// Shutdown stops every running session and waits for the loops to exit.
// In-flight rounds get a grace period to finish before their contexts are
// cancelled, so a graceful stop ends Stopped rather than Aborted.
func (r *Runner) Shutdown() {
	r.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(r.cancels))
	for id, cancel := range r.cancels {
		if rec, ok := r.registry.Get(id); ok {
			rec.Session.Stop()
		}
		cancels = append(cancels, cancel)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		logger.Warn("shutdown grace period spent, cancelling sessions")
		for _, cancel := range cancels {
			cancel()
		}
		<-done
	}
}
