// Package models defines the data structures stored by the service.
package models

import (
	"errors"
	"fmt"

	"github.com/marcelveldt/homeassistant-scheduler/internal/timespec"
)

// ErrInvalidDaySet is returned when a schedule uses an unknown weekday token.
var ErrInvalidDaySet = errors.New("invalid day set")

// ScheduleEntry describes one schedule. Entries are treated as immutable
// values: updates replace the whole entry rather than mutating fields.
type ScheduleEntry struct {
	// ID is unique within the live set. Collisions at creation time are
	// resolved by suffixing a timestamp, not by rejecting the write.
	ID string `json:"schedule_id"`

	// After and Before are time specifications: either HH:MM:SS clock
	// times or sunrise/sunset with an optional +/- offset.
	After  string `json:"after"`
	Before string `json:"before"`

	// Weekdays holds weekday tokens plus the synthetic workday and
	// not_workday tokens. Order is preserved for display only.
	Weekdays []string `json:"weekdays"`

	// Condition is an optional boolean template expression. Nil means the
	// schedule has no condition and always condition-matches.
	Condition *string `json:"condition,omitempty"`
}

// allowedDayTokens is the set of valid weekday tokens: the seven day names
// plus workday/not_workday.
var allowedDayTokens = func() map[string]bool {
	allowed := make(map[string]bool, len(timespec.Weekdays)+2)
	for _, d := range timespec.Weekdays {
		allowed[d] = true
	}
	allowed[timespec.TokenWorkday] = true
	allowed[timespec.TokenNotWorkday] = true
	return allowed
}()

// Validate checks the entry at creation/update time. After and Before must
// each parse as a time specification and every weekday token must be known.
// Evaluation never re-validates.
func (e ScheduleEntry) Validate() error {
	if err := timespec.Validate(e.After); err != nil {
		return fmt.Errorf("after: %w", err)
	}
	if err := timespec.Validate(e.Before); err != nil {
		return fmt.Errorf("before: %w", err)
	}
	for _, token := range e.Weekdays {
		if !allowedDayTokens[token] {
			return fmt.Errorf("%w: unknown token %q", ErrInvalidDaySet, token)
		}
	}
	return nil
}

// HasCondition reports whether the entry carries a condition expression.
func (e ScheduleEntry) HasCondition() bool {
	return e.Condition != nil && *e.Condition != ""
}
