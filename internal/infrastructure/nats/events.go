package nats

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nerrad567/gray-logic-iot/internal/command"
)

// EventSink mirrors lifecycle events onto NATS as JSON, one subject per
// event name: <prefix>.command.completed and so on.
type EventSink struct {
	client *Client
	prefix string
}

// NewEventSink creates a sink publishing under prefix.
func NewEventSink(client *Client, prefix string) *EventSink {
	return &EventSink{client: client, prefix: strings.Trim(prefix, ".")}
}

// Subject returns the subject an event name is published on.
func (s *EventSink) Subject(eventName string) string {
	if s.prefix == "" {
		return eventName
	}
	return s.prefix + "." + eventName
}

// Emit publishes event. Failures are logged and never returned.
func (s *EventSink) Emit(_ context.Context, event command.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		s.client.getLogger().Warn("encoding event for NATS", "event", event.Name, "error", err)
		return
	}
	// Not flushed: Emit never waits on the server.
	if err := s.client.conn.Publish(s.Subject(event.Name), data); err != nil {
		s.client.getLogger().Warn("publishing event to NATS", "event", event.Name, "error", err)
	}
}
