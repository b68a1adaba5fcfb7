package homeassistant

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	reconnectDelay    = 5 * time.Second
	maxReconnectDelay = 2 * time.Minute
)

// StateHandler receives state updates for a subscribed entity.
type StateHandler func(state string)

// EventStream maintains a websocket connection to Home Assistant and
// dispatches state_changed events to per-entity subscribers.
type EventStream struct {
	config Config
	logger zerolog.Logger

	mu       sync.Mutex
	handlers map[string][]subscription
	nextSub  int
	conn     *websocket.Conn
	stopped  bool
	done     chan struct{}
}

type subscription struct {
	id      int
	handler StateHandler
}

// NewEventStream creates an event stream for the given configuration.
func NewEventStream(config Config, logger zerolog.Logger) *EventStream {
	return &EventStream{
		config:   config,
		logger:   logger.With().Str("component", "ha_stream").Logger(),
		handlers: make(map[string][]subscription),
		done:     make(chan struct{}),
	}
}

// Start connects to Home Assistant and begins dispatching events. The
// connection is maintained in the background and re-established with
// backoff when it drops.
func (s *EventStream) Start() {
	go s.run()
}

// Stop closes the connection and ends the background loop.
func (s *EventStream) Stop() {
	s.mu.Lock()
	s.stopped = true
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
	<-s.done
}

// Subscribe registers a handler for state changes of a single entity.
// The returned function cancels the subscription.
func (s *EventStream) Subscribe(entityID string, handler StateHandler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSub++
	id := s.nextSub
	s.handlers[entityID] = append(s.handlers[entityID], subscription{id: id, handler: handler})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.handlers[entityID]
		for i, sub := range subs {
			if sub.id == id {
				s.handlers[entityID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(s.handlers[entityID]) == 0 {
			delete(s.handlers, entityID)
		}
	}
}

func (s *EventStream) run() {
	defer close(s.done)

	delay := reconnectDelay
	for {
		s.mu.Lock()
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			return
		}

		err := s.connectAndRead()
		if err != nil {
			s.logger.Warn().Err(err).Dur("retry_in", delay).Msg("websocket connection lost")
		}

		s.mu.Lock()
		stopped = s.stopped
		s.mu.Unlock()
		if stopped {
			return
		}

		time.Sleep(delay)
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// wsMessage covers the handful of server message shapes we care about.
type wsMessage struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
}

type stateChangedEvent struct {
	EventType string `json:"event_type"`
	Data      struct {
		EntityID string `json:"entity_id"`
		NewState *struct {
			State string `json:"state"`
		} `json:"new_state"`
	} `json:"data"`
}

func (s *EventStream) connectAndRead() error {
	conn, _, err := websocket.DefaultDialer.Dial(s.config.WebsocketURL(), nil)
	if err != nil {
		return fmt.Errorf("dialing: %w", err)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		conn.Close()
		return nil
	}
	s.conn = conn
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
	}()

	if err := s.authenticate(conn); err != nil {
		return err
	}

	subscribe := map[string]any{
		"id":         1,
		"type":       "subscribe_events",
		"event_type": "state_changed",
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}

	s.logger.Info().Msg("connected to Home Assistant event stream")

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("reading: %w", err)
		}

		switch msg.Type {
		case "result":
			if msg.Success != nil && !*msg.Success {
				return fmt.Errorf("subscription rejected")
			}
		case "event":
			s.dispatch(msg.Event)
		}
	}
}

// authenticate performs the auth_required/auth/auth_ok exchange.
func (s *EventStream) authenticate(conn *websocket.Conn) error {
	var hello wsMessage
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("reading auth prompt: %w", err)
	}
	if hello.Type != "auth_required" {
		return fmt.Errorf("unexpected first message %q", hello.Type)
	}

	auth := map[string]string{
		"type":         "auth",
		"access_token": s.config.AuthToken(),
	}
	if err := conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("sending auth: %w", err)
	}

	var reply wsMessage
	if err := conn.ReadJSON(&reply); err != nil {
		return fmt.Errorf("reading auth reply: %w", err)
	}
	if reply.Type != "auth_ok" {
		return fmt.Errorf("authentication failed (%s)", reply.Type)
	}

	return nil
}

func (s *EventStream) dispatch(raw json.RawMessage) {
	var event stateChangedEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		s.logger.Warn().Err(err).Msg("discarding malformed event")
		return
	}
	if event.EventType != "state_changed" || event.Data.NewState == nil {
		return
	}

	s.mu.Lock()
	subs := append([]subscription(nil), s.handlers[event.Data.EntityID]...)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.handler(event.Data.NewState.State)
	}
}
