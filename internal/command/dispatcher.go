package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-iot/internal/device"
)

// DefaultPublishTimeout bounds a publish when none is configured.
const DefaultPublishTimeout = 5 * time.Second

// DispatcherConfig holds the dispatch knobs from the commands config section.
type DispatcherConfig struct {
	// BaseTopic is the subject prefix for device types without their own.
	BaseTopic string

	// InjectMetaCommandID adds _meta.command_id to the published payload.
	InjectMetaCommandID bool

	// PublishTimeout bounds each publish. Zero uses DefaultPublishTimeout.
	PublishTimeout time.Duration
}

// Dispatcher records commands and publishes them to devices.
//
// Thread Safety: Dispatch is safe for concurrent use.
type Dispatcher struct {
	repo      Repository
	publisher Publisher
	events    EventSink
	cfg       DispatcherConfig
	logger    Logger
	now       func() time.Time
	newID     func() string
}

// NewDispatcher creates a dispatcher. A nil events sink discards events and
// a nil logger discards logs.
func NewDispatcher(repo Repository, publisher Publisher, events EventSink, cfg DispatcherConfig, logger Logger) *Dispatcher {
	if events == nil {
		events = noopSink{}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	return &Dispatcher{
		repo:      repo,
		publisher: publisher,
		events:    events,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// Dispatch records a command for req and publishes it.
//
// The command row and desired state are written before any broker I/O, so
// a failed publish still leaves a record. A publish failure or timeout
// marks the command failed and is not returned as an error, including
// when ctx is cancelled or its deadline passes during the publish.
//
// Returns:
//   - *Command: the command as stored after the publish attempt
//   - error: only when the command could not be persisted, or ErrInvalidRequest
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Command, error) {
	if req.Device == nil || req.Topic == nil {
		return nil, fmt.Errorf("%w: device and topic are required", ErrInvalidRequest)
	}

	original := req.Payload
	if original == nil {
		original = map[string]any{}
	}

	cmd := &Command{
		CorrelationID: d.newID(),
		DeviceID:      req.Device.ID,
		TopicID:       req.Topic.ID,
		UserID:        req.UserID,
		Payload:       original,
		Status:        StatusPending,
		CreatedAt:     d.now(),
	}

	wire := original
	if d.cfg.InjectMetaCommandID {
		wire = withMeta(original, cmd.CorrelationID)
	}

	if err := d.repo.CreateWithDesiredState(ctx, cmd); err != nil {
		return nil, fmt.Errorf("recording command: %w", err)
	}
	d.events.Emit(ctx, commandEvent(EventCommandDispatched, cmd, req.Device, req.Topic, cmd.CreatedAt))

	subject := device.Subject(d.cfg.BaseTopic, req.Device, req.Topic)
	body, err := json.Marshal(wire)
	if err != nil {
		d.logger.Warn("command payload not serialisable, sending empty object",
			"command_id", cmd.ID, "error", err)
		body = []byte("{}")
	}

	pubCtx, cancel := context.WithTimeout(ctx, d.cfg.PublishTimeout)
	pubErr := d.publisher.Publish(pubCtx, req.Broker, subject, body)
	if pubErr == nil && pubCtx.Err() != nil {
		pubErr = pubCtx.Err()
	}
	cancel()

	// The outcome is recorded even when the caller has gone away, so the
	// row never stays pending.
	ctx = context.WithoutCancel(ctx)

	if pubErr != nil {
		d.logger.Error("command publish failed",
			"command_id", cmd.ID,
			"device_uuid", req.Device.UUID,
			"subject", subject,
			"error", pubErr,
		)
		changed, err := d.repo.MarkFailed(ctx, cmd.ID, pubErr.Error(), d.now())
		if err != nil {
			return nil, fmt.Errorf("marking command failed: %w", err)
		}
		stored, err := d.reload(ctx, cmd)
		if err != nil {
			return nil, err
		}
		if changed {
			d.events.Emit(ctx, commandEvent(EventCommandFailed, stored, req.Device, req.Topic, d.now()))
		}
		return stored, nil
	}

	sentAt := d.now()
	if _, err := d.repo.MarkSent(ctx, cmd.ID, sentAt); err != nil {
		return nil, fmt.Errorf("marking command sent: %w", err)
	}
	stored, err := d.reload(ctx, cmd)
	if err != nil {
		return nil, err
	}
	d.events.Emit(ctx, commandEvent(EventCommandSent, stored, req.Device, req.Topic, sentAt))

	d.logger.Debug("command sent",
		"command_id", stored.ID,
		"correlation_id", stored.CorrelationID,
		"subject", subject,
	)
	return stored, nil
}

func (d *Dispatcher) reload(ctx context.Context, cmd *Command) (*Command, error) {
	stored, err := d.repo.Get(ctx, cmd.ID)
	if err != nil {
		return nil, fmt.Errorf("reloading command: %w", err)
	}
	return stored, nil
}
