// Package handlers provides HTTP request handlers for the API endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/marcelveldt/homeassistant-scheduler/internal/api/middleware"
	"github.com/marcelveldt/homeassistant-scheduler/internal/engine"
	"github.com/marcelveldt/homeassistant-scheduler/internal/storage"
	"github.com/marcelveldt/homeassistant-scheduler/internal/storage/models"
	"github.com/marcelveldt/homeassistant-scheduler/internal/timespec"
)

// ScheduleResponse represents a schedule in API responses, including its
// current evaluation state.
type ScheduleResponse struct {
	models.ScheduleEntry
	Active bool `json:"active"`
}

func scheduleResponse(eng *engine.Engine, entry models.ScheduleEntry) ScheduleResponse {
	active, _ := eng.IsActive(entry.ID)
	return ScheduleResponse{ScheduleEntry: entry, Active: active}
}

// ListSchedules returns all schedules in creation order.
func ListSchedules(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries := eng.Schedules()

		schedules := make([]ScheduleResponse, 0, len(entries))
		for _, entry := range entries {
			schedules = append(schedules, scheduleResponse(eng, entry))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(schedules)
	}
}

// GetSchedule returns a single schedule by ID.
func GetSchedule(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		entry, err := eng.Schedule(id)
		if err != nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Schedule not found")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(scheduleResponse(eng, entry))
	}
}

// CreateSchedule adds a schedule. An omitted id is generated; a requested id
// may come back suffixed when it collides with an existing one.
func CreateSchedule(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var entry models.ScheduleEntry
		if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
			return
		}
		if entry.ID == "" {
			entry.ID = storage.GenerateID()
		}
		defaultWeekdays(&entry)

		created, err := eng.AddSchedule(r.Context(), entry)
		if err != nil {
			writeScheduleError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(scheduleResponse(eng, created))
	}
}

// UpdateSchedule replaces a schedule wholesale.
func UpdateSchedule(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		var entry models.ScheduleEntry
		if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
			return
		}

		defaultWeekdays(&entry)

		updated, err := eng.UpdateSchedule(r.Context(), id, entry)
		if err != nil {
			writeScheduleError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(scheduleResponse(eng, updated))
	}
}

// DeleteSchedule removes a schedule and tears down its watches.
func DeleteSchedule(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		if err := eng.DeleteSchedule(r.Context(), id); err != nil {
			writeScheduleError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// ActiveSchedulesResponse lists the active schedule ids ranked by window.
type ActiveSchedulesResponse struct {
	// Active holds the ranked ids; the first element is the most relevant
	// active schedule.
	Active []string `json:"all_active"`
	State  string   `json:"state"`
}

// ActiveSchedules returns the ranked set of currently active schedules.
func ActiveSchedules(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		active := eng.ActiveSchedules()

		response := ActiveSchedulesResponse{Active: active, State: "none"}
		if len(active) > 0 {
			response.State = active[0]
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}

// defaultWeekdays fills an omitted day set with all seven days.
func defaultWeekdays(entry *models.ScheduleEntry) {
	if len(entry.Weekdays) == 0 {
		entry.Weekdays = append([]string(nil), timespec.Weekdays...)
	}
}

// writeScheduleError maps engine errors onto API error responses.
func writeScheduleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrUnknownSchedule):
		middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Schedule not found")
	case errors.Is(err, timespec.ErrInvalidTimeSpec), errors.Is(err, models.ErrInvalidDaySet):
		middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, err.Error())
	default:
		middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to store schedule")
	}
}
