// Package admin exposes the rewriter's operational surface over HTTP:
// health, statistics, strategy inspection and the enable toggle.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/guileen/heimdall/logger"
	"github.com/guileen/heimdall/optimizer"
)

// Server serves the admin endpoints for one orchestrator.
type Server struct {
	orchestrator *optimizer.Orchestrator
	router       chi.Router
}

// NewServer builds the router.
func NewServer(o *optimizer.Orchestrator) *Server {
	s := &Server{orchestrator: o}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Post("/stats/reset", s.handleStatsReset)
	r.Get("/strategy", s.handleStrategy)
	r.Post("/enabled", s.handleSetEnabled)
	s.router = r
	return s
}

// Handler returns the HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks serving on addr.
func (s *Server) ListenAndServe(addr string) error {
	logger.Info("admin endpoint listening", logger.String("addr", addr))
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"enabled": s.orchestrator.Enabled(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orchestrator.Statistics())
}

func (s *Server) handleStatsReset(w http.ResponseWriter, _ *http.Request) {
	s.orchestrator.ResetStatistics()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleStrategy(w http.ResponseWriter, _ *http.Request) {
	strategy := s.orchestrator.Strategy()
	writeJSON(w, http.StatusOK, map[string]any{
		"enable_for_subqueries":    strategy.EnableForSubqueries,
		"enable_for_complex_joins": strategy.EnableForComplexJoins,
		"min_estimated_cost":       strategy.MinEstimatedCost,
		"max_candidates":           strategy.MaxCandidates,
		"validation_timeout_sec":   strategy.ValidationTimeout.Seconds(),
		"selection_mode":           strategy.SelectionMode.String(),
		"min_improvement_ratio":    strategy.MinImprovementRatio,
	})
}

func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	s.orchestrator.SetEnabled(body.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": body.Enabled})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode admin response", logger.ErrorField(err))
	}
}
