// Package api provides HTTP routing and handlers for the REST API.
package api

import (
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/marcelveldt/homeassistant-scheduler/internal/api/handlers"
	"github.com/marcelveldt/homeassistant-scheduler/internal/api/middleware"
	"github.com/marcelveldt/homeassistant-scheduler/internal/engine"
	"github.com/marcelveldt/homeassistant-scheduler/internal/storage"
	"github.com/marcelveldt/homeassistant-scheduler/internal/websocket"
)

// NewRouter creates and configures the HTTP router with all API routes.
func NewRouter(db *storage.DB, eng *engine.Engine, hub *websocket.Hub, logger zerolog.Logger) *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(middleware.Logging(logger.With().Str("component", "http").Logger()))
	r.Use(middleware.ErrorRecovery(logger))

	// API subrouter
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", handlers.HealthCheck(db, eng)).Methods("GET")

	// WebSocket endpoint
	api.HandleFunc("/ws", handlers.WebSocketUpgrade(hub, logger)).Methods("GET")

	// Schedule endpoints
	api.HandleFunc("/schedules", handlers.ListSchedules(eng)).Methods("GET")
	api.HandleFunc("/schedules", handlers.CreateSchedule(eng)).Methods("POST")
	api.HandleFunc("/schedules/active", handlers.ActiveSchedules(eng)).Methods("GET")
	api.HandleFunc("/schedules/{id}", handlers.GetSchedule(eng)).Methods("GET")
	api.HandleFunc("/schedules/{id}", handlers.UpdateSchedule(eng)).Methods("PUT")
	api.HandleFunc("/schedules/{id}", handlers.DeleteSchedule(eng)).Methods("DELETE")

	return r
}
