// Package astro supplies sunrise/sunset instants for a configured location.
package astro

import (
	"fmt"
	"time"

	"github.com/nathan-osman/go-sunrise"

	"github.com/marcelveldt/homeassistant-scheduler/internal/timespec"
)

// Provider computes sun events from geographic coordinates. It implements
// timespec.AstroProvider; all returned instants are UTC.
type Provider struct {
	latitude  float64
	longitude float64
}

// NewProvider creates a provider for the given coordinates.
func NewProvider(latitude, longitude float64) *Provider {
	return &Provider{latitude: latitude, longitude: longitude}
}

// EventInstant returns the instant of the given sun event on the calendar
// date of date. Polar days/nights have no such instant and report an error,
// which keeps the affected schedule inactive instead of crashing evaluation.
func (p *Provider) EventInstant(event timespec.SunEvent, date time.Time) (time.Time, error) {
	rise, set := sunrise.SunriseSunset(p.latitude, p.longitude, date.Year(), date.Month(), date.Day())

	var instant time.Time
	switch event {
	case timespec.SunEventSunrise:
		instant = rise
	case timespec.SunEventSunset:
		instant = set
	default:
		return time.Time{}, fmt.Errorf("unknown sun event %q", event)
	}
	if instant.IsZero() {
		return time.Time{}, fmt.Errorf("no %s on %s at %.4f,%.4f",
			event, date.Format("2006-01-02"), p.latitude, p.longitude)
	}
	return instant.UTC(), nil
}
