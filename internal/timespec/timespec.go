// Package timespec parses the time specifications used by schedules.
// A spec is either a plain clock time ("HH:MM:SS" or "HH:MM"), a bare sun
// event ("sunrise"/"sunset"), or a sun event with an offset
// ("sunset-00:30:00"). Sun events are resolved against an external
// astronomical provider.
package timespec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTimeSpec is returned for malformed time specification strings.
var ErrInvalidTimeSpec = errors.New("invalid time spec")

// SunEvent names an astronomical event.
type SunEvent string

const (
	SunEventSunrise SunEvent = "sunrise"
	SunEventSunset  SunEvent = "sunset"
)

// AstroProvider resolves the absolute instant (UTC) of a sun event for the
// calendar date of the given time.
type AstroProvider interface {
	EventInstant(event SunEvent, date time.Time) (time.Time, error)
}

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// Seconds returns the number of seconds since midnight.
func (t TimeOfDay) Seconds() int {
	return t.Hour*3600 + t.Minute*60 + t.Second
}

// Before reports whether t is earlier in the day than other.
func (t TimeOfDay) Before(other TimeOfDay) bool {
	return t.Seconds() < other.Seconds()
}

// After reports whether t is later in the day than other.
func (t TimeOfDay) After(other TimeOfDay) bool {
	return t.Seconds() > other.Seconds()
}

// At projects the time of day onto the calendar date of ref, in ref's
// location.
func (t TimeOfDay) At(ref time.Time) time.Time {
	return time.Date(ref.Year(), ref.Month(), ref.Day(), t.Hour, t.Minute, t.Second, 0, ref.Location())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// TimeOfDayOf extracts the wall-clock component of an instant.
func TimeOfDayOf(at time.Time) TimeOfDay {
	return TimeOfDay{Hour: at.Hour(), Minute: at.Minute(), Second: at.Second()}
}

// IsSunSpec reports whether the spec references a sun event.
func IsSunSpec(s string) bool {
	return strings.Contains(s, string(SunEventSunrise)) || strings.Contains(s, string(SunEventSunset))
}

// Validate checks a time specification string. It accepts a bare sun event,
// a sun event with a +/- offset whose operand is itself a valid clock
// string, or a plain clock string. Whitespace around the spec is ignored.
func Validate(s string) error {
	s = strings.TrimSpace(s)
	if s == string(SunEventSunrise) || s == string(SunEventSunset) {
		return nil
	}
	if IsSunSpec(s) {
		_, _, err := ParseSunEvent(s)
		return err
	}
	_, err := ParseClock(s)
	return err
}

// ParseClock parses "HH:MM:SS" (or "HH:MM") into a TimeOfDay.
func ParseClock(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeSpec, s)
	}
	vals := make([]int, 3)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v < 0 {
			return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeSpec, s)
		}
		vals[i] = v
	}
	t := TimeOfDay{Hour: vals[0], Minute: vals[1], Second: vals[2]}
	if t.Hour > 23 || t.Minute > 59 || t.Second > 59 {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeSpec, s)
	}
	return t, nil
}

// ParseSunEvent splits a sun-event spec into the event name and its offset.
// The offset operand is parsed through the clock path; a "-" operator yields
// a negative duration, so "sunset-00:15:00" returns (sunset, -15m).
func ParseSunEvent(s string) (SunEvent, time.Duration, error) {
	s = strings.TrimSpace(s)
	if !IsSunSpec(s) {
		return "", 0, fmt.Errorf("%w: %q is not a sun event", ErrInvalidTimeSpec, s)
	}

	name := s
	var offset time.Duration
	// The operator is the first + or - after the event name.
	operator := ""
	if strings.Contains(s, "+") {
		operator = "+"
	} else if strings.Contains(s, "-") {
		operator = "-"
	}
	if operator != "" {
		parts := strings.SplitN(s, operator, 2)
		name = strings.TrimSpace(parts[0])
		offsetTime, err := ParseClock(parts[1])
		if err != nil {
			return "", 0, err
		}
		offset = time.Duration(offsetTime.Seconds()) * time.Second
		if operator == "-" {
			offset = -offset
		}
	}

	event := SunEvent(name)
	if event != SunEventSunrise && event != SunEventSunset {
		return "", 0, fmt.Errorf("%w: %q is not a sun event", ErrInvalidTimeSpec, s)
	}
	return event, offset, nil
}

// Resolver turns time specifications into concrete times of day.
type Resolver struct {
	Astro    AstroProvider
	Location *time.Location
}

// NewResolver creates a resolver for the given astronomical provider and
// local time zone. A nil location falls back to time.Local.
func NewResolver(astro AstroProvider, loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.Local
	}
	return &Resolver{Astro: astro, Location: loc}
}

// TimeOfDay resolves a time specification to a wall-clock time, relative to
// now. Clock specs parse directly. Sun specs resolve today's event instant;
// when that instant already lies on an earlier local date the event is
// resolved for tomorrow instead, so the window stays anchored to the next
// occurrence. The offset is applied before converting back to local time.
func (r *Resolver) TimeOfDay(now time.Time, s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	if !IsSunSpec(s) {
		return ParseClock(s)
	}

	event, offset, err := ParseSunEvent(s)
	if err != nil {
		return TimeOfDay{}, err
	}

	local := now.In(r.Location)
	instant, err := r.Astro.EventInstant(event, local)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("resolving %s: %w", event, err)
	}
	if dateOf(local).After(dateOf(instant.In(r.Location))) {
		instant, err = r.Astro.EventInstant(event, local.AddDate(0, 0, 1))
		if err != nil {
			return TimeOfDay{}, fmt.Errorf("resolving %s: %w", event, err)
		}
	}
	return TimeOfDayOf(instant.Add(offset).In(r.Location)), nil
}

// dateOf truncates an instant to midnight in its own location.
func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// InWindow reports whether now lies within the half-open [after, before)
// window. A window whose after lies past its before crosses midnight and
// matches when now is at or past after, or still short of before.
func InWindow(now, after, before TimeOfDay) bool {
	if after.After(before) {
		return !now.Before(after) || now.Before(before)
	}
	return !now.Before(after) && now.Before(before)
}
