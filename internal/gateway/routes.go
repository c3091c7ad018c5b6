package gateway

import "net/http"

// registerRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /streams", s.handleStream)
	mux.HandleFunc("POST /callbacks/twilio", rateLimited(s.limiter, s.log, s.handleStatusCallback))
	mux.HandleFunc("POST /calls", rateLimited(s.limiter, s.log, s.handleCreateCall))

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}
