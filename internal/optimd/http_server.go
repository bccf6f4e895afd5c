package optimd

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/adaptive-imaging/optim-core/internal/session"
	"github.com/adaptive-imaging/optim-core/pkg/config"
	"github.com/adaptive-imaging/optim-core/pkg/logger"
)

// HTTPServer exposes session management over HTTP. Session configuration
// comes from the daemon config; the create endpoint only accepts per-session
// overrides.
type HTTPServer struct {
	cfg      *config.Config
	registry *Registry
	runner   *Runner
	router   chi.Router
}

// NewHTTPServer builds the API router.
func NewHTTPServer(cfg *config.Config, registry *Registry, runner *Runner) *HTTPServer {
	s := &HTTPServer{
		cfg:      cfg,
		registry: registry,
		runner:   runner,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Get("/", s.handleListSessions)
		r.Get("/{id}", s.handleGetSession)
		r.Post("/{id}/start", s.handleStartSession)
		r.Post("/{id}/stop", s.handleStopSession)
		r.Get("/{id}/history", s.handleGetHistory)
	})

	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleCreateSession handles POST /v1/sessions
func (s *HTTPServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	opts, err := SessionOptions(s.cfg, req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	measurer := NewHTTPMeasurer(s.cfg.MeasureURL, ParameterNames(s.cfg))
	sess, err := session.New(opts, measurer)
	if err != nil {
		// All initialization failures are configuration problems.
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec := s.registry.Add(sess)
	logger.Info("session created (HTTP)", "id", rec.ID, "session_id", sess.ID())
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"session": convertSessionToJSON(rec),
	})
}

// handleListSessions handles GET /v1/sessions
func (s *HTTPServer) handleListSessions(w http.ResponseWriter, r *http.Request) {
	records := s.registry.List()
	sessions := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		sessions = append(sessions, convertSessionToJSON(rec))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleGetSession handles GET /v1/sessions/{id}
func (s *HTTPServer) handleGetSession(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.registry.Get(chi.URLParam(r, "id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session": convertSessionToJSON(rec),
	})
}

// handleStartSession handles POST /v1/sessions/{id}/start
func (s *HTTPServer) handleStartSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.runner.Start(id); err != nil {
		switch {
		case errors.Is(err, ErrSessionNotFound):
			s.writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, ErrSessionRunning):
			s.writeError(w, http.StatusConflict, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	rec, _ := s.registry.Get(id)
	logger.Info("session started (HTTP)", "id", id)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session": convertSessionToJSON(rec),
	})
}

// handleStopSession handles POST /v1/sessions/{id}/stop
func (s *HTTPServer) handleStopSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.runner.Stop(id); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	rec, _ := s.registry.Get(id)
	logger.Info("session stop requested (HTTP)", "id", id)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session": convertSessionToJSON(rec),
	})
}

// handleGetHistory handles GET /v1/sessions/{id}/history
func (s *HTTPServer) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.registry.Get(chi.URLParam(r, "id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}

	rounds, err := rec.Session.History(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	roundsJSON := make([]map[string]any, 0, len(rounds))
	for _, rd := range rounds {
		roundsJSON = append(roundsJSON, map[string]any{
			"round":       rd.Round,
			"action":      rd.Action,
			"scores":      rd.Scores,
			"elapsed_ms":  rd.Elapsed.Milliseconds(),
			"reward":      rd.Reward,
			"noise_bound": rd.NoiseBound,
			"degraded":    rd.Degraded,
			"thrashed":    rd.Thrashed,
			"recorded_at": rd.RecordedAt.UTC().Format(time.RFC3339),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id": rec.Session.ID(),
		"rounds":     roundsJSON,
	})
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": message,
	})
}

func convertSessionToJSON(rec *Record) map[string]any {
	out := map[string]any{
		"id":         rec.ID,
		"session_id": rec.Session.ID(),
		"state":      string(rec.Session.State()),
		"round":      rec.Session.Round(),
		"created_at": rec.CreatedAt.Format(time.RFC3339),
	}
	if err := rec.Session.Err(); err != nil {
		out["error"] = err.Error()
	}
	return out
}
