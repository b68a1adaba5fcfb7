package websocket

import (
	"encoding/json"
	"time"
)

// MessageType identifies the type of a message pushed to clients.
type MessageType string

const (
	TypeScheduleCreated  MessageType = "schedule.created"
	TypeScheduleUpdated  MessageType = "schedule.updated"
	TypeScheduleRemoved  MessageType = "schedule.removed"
	TypeActiveSetChanged MessageType = "schedule.active_set_changed"
)

// Message is the envelope for every pushed message.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload,omitempty"`
}

// NewMessage wraps a payload in an envelope stamped with the current time.
func NewMessage(msgType MessageType, payload any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// JSON serializes the message.
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// SchedulePayload is the payload for schedule lifecycle events. Active is
// meaningful for updated events only.
type SchedulePayload struct {
	ScheduleID string `json:"schedule_id"`
	Active     bool   `json:"active"`
}

// ActiveSetPayload carries the ranked list of currently-active schedule ids.
// The first element mirrors the "active schedule" sensor state.
type ActiveSetPayload struct {
	Active []string `json:"all_active"`
}
