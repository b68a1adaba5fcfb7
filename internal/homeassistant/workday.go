package homeassistant

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/marcelveldt/homeassistant-scheduler/internal/timespec"
)

const stateTimeout = 10 * time.Second

// WorkdaySensor exposes a binary_sensor entity (typically the workday
// integration's sensor) as a workday signal. It implements
// engine.WorkdaySignal.
type WorkdaySensor struct {
	client   *Client
	stream   *EventStream
	entityID string
	logger   zerolog.Logger
}

// NewWorkdaySensor creates a workday signal backed by the given entity.
func NewWorkdaySensor(client *Client, stream *EventStream, entityID string, logger zerolog.Logger) *WorkdaySensor {
	return &WorkdaySensor{
		client:   client,
		stream:   stream,
		entityID: entityID,
		logger:   logger.With().Str("component", "workday").Str("entity_id", entityID).Logger(),
	}
}

// State fetches the sensor's current state. Anything other than on/off,
// including fetch failures, reports as unknown.
func (w *WorkdaySensor) State() timespec.WorkdayState {
	ctx, cancel := context.WithTimeout(context.Background(), stateTimeout)
	defer cancel()

	state, err := w.client.GetState(ctx, w.entityID)
	if err != nil {
		w.logger.Warn().Err(err).Msg("fetching workday state")
		return timespec.WorkdayUnknown
	}

	switch state.State {
	case "on":
		return timespec.WorkdayOn
	case "off":
		return timespec.WorkdayOff
	default:
		return timespec.WorkdayUnknown
	}
}

// OnChange registers a callback for sensor state changes.
func (w *WorkdaySensor) OnChange(fn func()) (cancel func()) {
	return w.stream.Subscribe(w.entityID, func(string) {
		fn()
	})
}
