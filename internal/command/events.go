package command

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-iot/internal/device"
)

// Event names emitted by the command core.
const (
	EventCommandDispatched       = "command.dispatched"
	EventCommandSent             = "command.sent"
	EventCommandFailed           = "command.failed"
	EventCommandCompleted        = "command.completed"
	EventCommandTimedOut         = "command.timed_out"
	EventDeviceStateReceived     = "device.state_received"
	EventDeviceTelemetryReceived = "device.telemetry_received"
)

// Event is one lifecycle notification. Command fields are zero for device
// events with no matched command.
type Event struct {
	Name       string    `json:"event"`
	OccurredAt time.Time `json:"occurred_at"`

	DeviceID         int64  `json:"device_id"`
	DeviceUUID       string `json:"device_uuid,omitempty"`
	DeviceExternalID string `json:"device_external_id,omitempty"`

	TopicID int64          `json:"topic_id,omitempty"`
	Topic   string         `json:"topic,omitempty"`
	Subject string         `json:"subject,omitempty"`
	Purpose device.Purpose `json:"purpose,omitempty"`

	CommandID     *int64 `json:"command_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Status        Status `json:"status,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`

	// Latency is set on command.completed: completion time minus creation time.
	Latency time.Duration `json:"latency_ns,omitempty"`

	Payload map[string]any `json:"payload,omitempty"`
}

// EventSink receives lifecycle events. Emit must not block for long and
// never reports failure to the caller.
type EventSink interface {
	Emit(ctx context.Context, event Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, event Event)

// Emit calls f.
func (f EventSinkFunc) Emit(ctx context.Context, event Event) {
	f(ctx, event)
}

type noopSink struct{}

func (noopSink) Emit(context.Context, Event) {}

// FanOut delivers each event to every sink in order. Nil sinks are skipped.
type FanOut []EventSink

// Emit forwards event to each sink.
func (f FanOut) Emit(ctx context.Context, event Event) {
	for _, sink := range f {
		if sink != nil {
			sink.Emit(ctx, event)
		}
	}
}

// LogSink writes every event to a logger at Info level.
type LogSink struct {
	Logger Logger
}

// Emit logs the event.
func (s LogSink) Emit(_ context.Context, event Event) {
	args := []any{
		"event", event.Name,
		"device_uuid", event.DeviceUUID,
	}
	if event.Topic != "" {
		args = append(args, "topic", event.Topic)
	}
	if event.CommandID != nil {
		args = append(args, "command_id", *event.CommandID)
	}
	if event.Status != "" {
		args = append(args, "status", string(event.Status))
	}
	if event.ErrorMessage != "" {
		args = append(args, "error", event.ErrorMessage)
	}
	s.Logger.Info("command event", args...)
}

func commandEvent(name string, cmd *Command, dev *device.Device, topic *device.Topic, at time.Time) Event {
	id := cmd.ID
	ev := Event{
		Name:          name,
		OccurredAt:    at,
		DeviceID:      cmd.DeviceID,
		CommandID:     &id,
		CorrelationID: cmd.CorrelationID,
		Status:        cmd.Status,
		ErrorMessage:  cmd.ErrorMessage,
		TopicID:       cmd.TopicID,
		Payload:       cmd.Payload,
	}
	if dev != nil {
		ev.DeviceUUID = dev.UUID
		ev.DeviceExternalID = dev.ExternalID
	}
	if topic != nil {
		ev.Topic = topic.Key
	}
	return ev
}
