package gateway

import (
	"net/http"
)

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("POST /agent", s.requireAuth(s.handleAgent))
	mux.HandleFunc("GET /agent/ws", s.requireAuth(s.handleWebSocket))
	mux.HandleFunc("GET /agent/history", s.requireAuth(s.handleHistory))
	mux.HandleFunc("GET /agent/history/days", s.requireAuth(s.handleHistoryDays))
	mux.HandleFunc("PUT /agent/context", s.requireAuth(s.handleSetContext))

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}
