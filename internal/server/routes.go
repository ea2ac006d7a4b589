package server

import (
	"net/http"
	"strings"
)

// registerRoutes maps URL paths to handlers.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Backtest submission and reads. ServeMux prefers the longest pattern,
	// so the sweep routes win over the /backtests/ subtree.
	mux.HandleFunc("/backtests", s.handleSubmitBacktest)
	mux.HandleFunc("/backtests/", s.handleBacktestSubtree)
	mux.HandleFunc("/backtests/sweeps", s.handleSubmitSweep)
	mux.HandleFunc("/backtests/sweeps/", s.handleGetSweep)

	// Operational surface.
	mux.HandleFunc("/api/jobs", s.handleListJobs)
	mux.HandleFunc("/api/jobs/ws", s.handleJobsWS)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.Handle("/metrics", s.app.Collector.Handler())
}

// handleBacktestSubtree dispatches /backtests/{id} and /backtests/{id}/chart.
func (s *Server) handleBacktestSubtree(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/chart") {
		s.handleBacktestChart(w, r)
		return
	}
	s.handleGetBacktest(w, r)
}
