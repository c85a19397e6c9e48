package command

import (
	"time"

	"github.com/nerrad567/gray-logic-iot/internal/device"
)

// Status is the lifecycle state of a command.
type Status string

const (
	StatusPending      Status = "pending"
	StatusSent         Status = "sent"
	StatusAcknowledged Status = "acknowledged"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusTimeout      Status = "timeout"
)

// InFlightStatuses are the statuses eligible for feedback matching and expiry.
var InFlightStatuses = []Status{StatusPending, StatusSent, StatusAcknowledged}

// InFlight reports whether the command may still receive feedback.
func (s Status) InFlight() bool {
	return s == StatusPending || s == StatusSent || s == StatusAcknowledged
}

// Terminal reports whether the status can never change again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTimeout
}

// MetaKey is the payload object carrying command metadata on the wire.
const MetaKey = "_meta"

// MetaCommandIDKey is the field under MetaKey holding the correlation id.
const MetaCommandIDKey = "command_id"

// Command is one request sent to a device topic and its feedback.
type Command struct {
	ID            int64  `json:"id"`
	CorrelationID string `json:"correlation_id"`
	DeviceID      int64  `json:"device_id"`
	TopicID       int64  `json:"topic_id"`
	UserID        *int64 `json:"user_id,omitempty"`

	// Payload is the payload as requested, without injected metadata.
	Payload map[string]any `json:"payload"`

	ResponsePayload map[string]any `json:"response_payload,omitempty"`
	ResponseTopicID *int64         `json:"response_topic_id,omitempty"`

	Status       Status `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt      time.Time  `json:"created_at"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ExpiredCommand is an expired command with the device and topic
// identifiers its timeout event carries.
type ExpiredCommand struct {
	Command
	DeviceUUID       string
	DeviceExternalID string
	TopicKey         string
}

// DesiredTopicState is the last value requested for a device topic.
// There is at most one per (device, topic).
type DesiredTopicState struct {
	DeviceID       int64          `json:"device_id"`
	TopicID        int64          `json:"topic_id"`
	DesiredPayload map[string]any `json:"desired_payload"`
	CorrelationID  string         `json:"correlation_id,omitempty"`
	ReconciledAt   *time.Time     `json:"reconciled_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Feedback is the conditional update applied to a matched command.
type Feedback struct {
	Status          Status
	ResponsePayload map[string]any
	ResponseTopicID int64
	At              time.Time
}

// Broker selects the broker endpoint a command is published through.
// The zero value selects the publisher's configured connection.
type Broker struct {
	Host string
	Port int
}

// IsZero reports whether no explicit endpoint was requested.
func (b Broker) IsZero() bool {
	return b.Host == "" && b.Port == 0
}

// Request describes one dispatch.
type Request struct {
	Device  *device.Device
	Topic   *device.Topic
	Payload map[string]any
	UserID  *int64
	Broker  Broker
}

// Result summarises one reconciled inbound message.
type Result struct {
	DeviceUUID       string         `json:"device_uuid"`
	DeviceExternalID string         `json:"device_external_id,omitempty"`
	TopicID          int64          `json:"topic_id"`
	Topic            string         `json:"topic"`
	Purpose          device.Purpose `json:"purpose"`
	CommandID        *int64         `json:"command_id"`
}
