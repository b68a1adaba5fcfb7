package websocket

import (
	"github.com/rs/zerolog"
)

// EventBroadcaster adapts engine notifications to hub broadcasts. It
// implements engine.Notifier.
type EventBroadcaster struct {
	hub    *Hub
	logger zerolog.Logger

	// activeList, when bound, supplies the ranked active set included in
	// every schedule.updated broadcast.
	activeList func() []string
}

// NewEventBroadcaster creates a broadcaster for the given hub.
func NewEventBroadcaster(hub *Hub, logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{hub: hub, logger: logger}
}

// BindActiveList wires the ranked-active-set source. Called once during
// startup, after the engine exists.
func (b *EventBroadcaster) BindActiveList(fn func() []string) {
	b.activeList = fn
}

// ScheduleCreated broadcasts a schedule.created event.
func (b *EventBroadcaster) ScheduleCreated(id string) {
	b.send(NewMessage(TypeScheduleCreated, SchedulePayload{ScheduleID: id}))
}

// ScheduleUpdated broadcasts a schedule.updated event followed by the
// freshly ranked active set. Fired on every recompute, not only on
// transitions.
func (b *EventBroadcaster) ScheduleUpdated(id string, active bool) {
	b.send(NewMessage(TypeScheduleUpdated, SchedulePayload{ScheduleID: id, Active: active}))
	if b.activeList != nil {
		b.send(NewMessage(TypeActiveSetChanged, ActiveSetPayload{Active: b.activeList()}))
	}
}

// ScheduleRemoved broadcasts a schedule.removed event.
func (b *EventBroadcaster) ScheduleRemoved(id string) {
	b.send(NewMessage(TypeScheduleRemoved, SchedulePayload{ScheduleID: id}))
	if b.activeList != nil {
		b.send(NewMessage(TypeActiveSetChanged, ActiveSetPayload{Active: b.activeList()}))
	}
}

func (b *EventBroadcaster) send(msg Message) {
	data, err := msg.JSON()
	if err != nil {
		b.logger.Error().Err(err).Msg("encoding websocket message")
		return
	}
	b.hub.Broadcast(data)
}
