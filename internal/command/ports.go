package command

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-iot/internal/device"
)

// Logger defines the logging interface used by the command core.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Publisher sends a payload to a '/'-separated subject on a broker.
type Publisher interface {
	Publish(ctx context.Context, broker Broker, subject string, payload []byte) error
}

// StateStore keeps the latest payload per device subject.
type StateStore interface {
	Store(ctx context.Context, deviceUUID, subject string, payload map[string]any) error
}

// Catalog is the read side of the device catalog.
type Catalog interface {
	DevicesWithSchema(ctx context.Context) ([]device.Device, error)
	Topics(ctx context.Context, schemaVersionID int64) ([]device.Topic, error)
	FeedbackLinks(ctx context.Context, schemaVersionID int64) (device.FeedbackLinks, error)
}

// Repository persists commands and desired topic states.
//
// Every status change is conditional on the row still being in flight.
// Methods returning a bool report whether a row actually changed.
type Repository interface {
	// CreateWithDesiredState inserts a pending command and upserts the
	// desired state for its device topic in one transaction.
	CreateWithDesiredState(ctx context.Context, cmd *Command) error

	Get(ctx context.Context, id int64) (*Command, error)
	ListByDevice(ctx context.Context, deviceID int64, limit int) ([]Command, error)

	// MarkSent records a successful publish. A pending command becomes sent;
	// a command that already received feedback keeps its status.
	MarkSent(ctx context.Context, id int64, at time.Time) (bool, error)

	// MarkFailed fails a command that is still pending.
	MarkFailed(ctx context.Context, id int64, message string, at time.Time) (bool, error)

	// FindByCorrelation returns the newest in-flight command for a device
	// with the given correlation id, or nil.
	FindByCorrelation(ctx context.Context, deviceID int64, correlationID string) (*Command, error)

	// FindCandidates returns in-flight commands for a device created at or
	// after since, newest first. A nil topicIDs slice applies no topic filter.
	FindCandidates(ctx context.Context, deviceID int64, topicIDs []int64, since time.Time, limit int) ([]Command, error)

	// ApplyFeedback moves an in-flight command to fb.Status.
	ApplyFeedback(ctx context.Context, id int64, fb Feedback) (bool, error)

	// ListExpired returns in-flight commands whose sent_at, or created_at
	// when never sent, is at or before cutoff. Ordered by id, after afterID.
	ListExpired(ctx context.Context, cutoff time.Time, afterID int64, limit int) ([]ExpiredCommand, error)

	// MarkTimedOut times out an in-flight command, keeping any existing error message.
	MarkTimedOut(ctx context.Context, id int64, message string, at time.Time) (bool, error)

	GetDesiredState(ctx context.Context, deviceID, topicID int64) (*DesiredTopicState, error)

	// ReconcileDesiredState marks the desired state reconciled. A non-empty
	// correlationID restricts the update to that dispatch.
	ReconcileDesiredState(ctx context.Context, deviceID, topicID int64, correlationID string, at time.Time) (bool, error)
}
