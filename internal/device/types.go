package device

import (
	"strings"
	"time"
)

// Direction is a topic's direction seen from the device.
// A publish topic is published by the device; a subscribe topic is consumed by it.
type Direction string

const (
	DirectionPublish   Direction = "publish"
	DirectionSubscribe Direction = "subscribe"
)

// Purpose classifies a topic's semantic role.
type Purpose string

const (
	PurposeCommand   Purpose = "command"
	PurposeState     Purpose = "state"
	PurposeTelemetry Purpose = "telemetry"
	PurposeEvent     Purpose = "event"
	PurposeAck       Purpose = "ack"
)

// ValidPurposes lists the purposes accepted by the schema_topics table.
var ValidPurposes = []Purpose{PurposeCommand, PurposeState, PurposeTelemetry, PurposeEvent, PurposeAck}

// DataType is the declared type of a topic parameter.
type DataType string

const (
	TypeInteger DataType = "integer"
	TypeDecimal DataType = "decimal"
	TypeBoolean DataType = "boolean"
	TypeString  DataType = "string"
	TypeJSON    DataType = "json"
)

// DeviceType groups devices that share a schema family and subject prefix.
type DeviceType struct {
	ID   int64  `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`

	// BaseTopic is the subject prefix for devices of this type.
	// Empty falls back to the configured broker base topic.
	BaseTopic string `json:"base_topic,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SchemaVersion is one revision of a device type's topic schema.
type SchemaVersion struct {
	ID           int64     `json:"id"`
	DeviceTypeID int64     `json:"device_type_id"`
	Version      string    `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
}

// Device is a provisioned physical device.
type Device struct {
	ID         int64  `json:"id"`
	UUID       string `json:"uuid"`
	ExternalID string `json:"external_id,omitempty"`
	Name       string `json:"name"`

	DeviceTypeID    int64  `json:"device_type_id"`
	SchemaVersionID *int64 `json:"schema_version_id,omitempty"`

	// BaseTopic is copied from the device type when loaded.
	BaseTopic string `json:"base_topic,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Identifier returns the subject segment for the device: its external id
// when set, otherwise its uuid.
func (d *Device) Identifier() string {
	if d.ExternalID != "" {
		return d.ExternalID
	}
	return d.UUID
}

// Topic is a named publish or subscribe channel in a schema version.
type Topic struct {
	ID              int64     `json:"id"`
	SchemaVersionID int64     `json:"schema_version_id"`
	Key             string    `json:"key"`
	Label           string    `json:"label,omitempty"`
	Suffix          string    `json:"suffix"`
	Direction       Direction `json:"direction"`

	// Purpose may be empty for topics created before purposes existed;
	// use ResolvedPurpose.
	Purpose Purpose `json:"purpose,omitempty"`

	Retain   bool `json:"retain"`
	QoS      int  `json:"qos"`
	Sequence int  `json:"sequence"`

	Parameters []Parameter `json:"parameters,omitempty"`
}

// IsPublish reports whether the device publishes on this topic.
func (t *Topic) IsPublish() bool {
	return t.Direction == DirectionPublish
}

// ResolvedPurpose returns the explicit purpose, or infers one:
// subscribe topics are commands, suffixes containing "ack" are acks,
// retained topics and "state"/"status" suffixes are state, anything else
// is telemetry.
func (t *Topic) ResolvedPurpose() Purpose {
	if t.Purpose != "" {
		return t.Purpose
	}
	suffix := strings.ToLower(t.Suffix)
	switch {
	case t.Direction == DirectionSubscribe:
		return PurposeCommand
	case strings.Contains(suffix, "ack"):
		return PurposeAck
	case t.Retain, suffix == "state", suffix == "status":
		return PurposeState
	default:
		return PurposeTelemetry
	}
}

// Parameter is a typed field carried by a topic's payload.
type Parameter struct {
	ID       int64    `json:"id"`
	TopicID  int64    `json:"topic_id"`
	Key      string   `json:"key"`
	Label    string   `json:"label,omitempty"`
	Type     DataType `json:"type"`
	JSONPath string   `json:"json_path,omitempty"`
	Default  any      `json:"default,omitempty"`
	Rules    Rules    `json:"validation_rules,omitempty"`
	Active   bool     `json:"is_active"`
	Sequence int      `json:"sequence"`
}

// Path returns the dotted payload path for the parameter, defaulting to its key.
func (p *Parameter) Path() string {
	if p.JSONPath != "" {
		return strings.TrimPrefix(p.JSONPath, "$.")
	}
	return p.Key
}

// Rules are the validation constraints attached to a parameter.
type Rules struct {
	Required bool     `json:"required,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Enum     []any    `json:"enum,omitempty"`
	Regex    string   `json:"regex,omitempty"`
}

// IsZero reports whether no rule is set.
func (r Rules) IsZero() bool {
	return !r.Required && r.Min == nil && r.Max == nil && len(r.Enum) == 0 && r.Regex == ""
}
