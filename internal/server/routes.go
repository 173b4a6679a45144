package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
// It sets up handlers for new room links, room pages, health check, metrics and
// the WebSocket endpoint.
func (s *Server) SetupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.NewRoomHandler)
	mux.HandleFunc("GET /r/{token}", s.RoomPageHandler)
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	if s.cfg.Metrics.Enabled {
		mux.Handle("GET /metrics", s.analytics.Handler())
	}
	return mux
}
