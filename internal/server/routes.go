package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const apiPrefix = "/api/v1/process-snapshots"

// setupRoutes configures all HTTP routes and middleware
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	// System endpoints (no rate limiting)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle("/metrics", promhttp.Handler())

	// API endpoints with middleware
	ingest := s.withMiddleware(s.handleIngest)
	mux.HandleFunc(apiPrefix, ingest)
	mux.HandleFunc(apiPrefix+"/{$}", ingest)
	mux.HandleFunc(apiPrefix+"/latest", s.withMiddleware(s.protectRead(s.handleLatest)))
	mux.HandleFunc(apiPrefix+"/list", s.withMiddleware(s.protectRead(s.handleList)))
	mux.HandleFunc(apiPrefix+"/{id}", s.withMiddleware(s.protectRead(s.handleGet)))

	return mux
}
