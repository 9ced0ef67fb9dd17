package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/zeusync/qcserver/internal/core/observability/log"
)

// Router serves the websocket feed and the inspection endpoints.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		MaxAge:         300,
	}))

	r.Get("/ws", s.handleWebSocket)
	r.Get("/healthz", s.handleHealth)
	r.Get("/entities", s.handleEntities)
	r.Handle("/metrics", s.metrics.Handler())
	return r
}

type health struct {
	Status      string `json:"status"`
	Map         string `json:"map"`
	Tick        uint64 `json:"tick"`
	Subscribers int    `json:"subscribers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	v := s.View()
	s.writeJSON(w, health{
		Status:      "ok",
		Map:         v.Map,
		Tick:        v.Tick,
		Subscribers: s.hub.Len(),
	})
}

func (s *Server) handleEntities(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.View())
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", log.Error(err))
	}
}
