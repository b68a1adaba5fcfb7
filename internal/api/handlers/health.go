package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/marcelveldt/homeassistant-scheduler/internal/storage"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string `json:"status"`
	DBConnected bool   `json:"db_connected"`
	Schedules   int    `json:"schedules"`
}

// scheduleCounter is the slice of the engine the health check needs.
type scheduleCounter interface {
	ScheduleCount() int
}

// HealthCheck returns a handler that performs a health check.
func HealthCheck(db *storage.DB, engine scheduleCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbConnected := db.Ping() == nil

		status := "healthy"
		if !dbConnected {
			status = "degraded"
		}

		response := HealthResponse{
			Status:      status,
			DBConnected: dbConnected,
			Schedules:   engine.ScheduleCount(),
		}

		w.Header().Set("Content-Type", "application/json")
		if status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(response)
	}
}
