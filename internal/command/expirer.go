package command

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-iot/internal/device"
)

const (
	// DefaultCommandTimeout is how long a command may wait for feedback.
	DefaultCommandTimeout = 120 * time.Second

	// MinCommandTimeout is the smallest accepted timeout.
	MinCommandTimeout = time.Second

	// TimeoutMessage is recorded on commands that never received feedback.
	TimeoutMessage = "Command timed out waiting for device feedback."

	expireBatchSize = 100
)

// Expirer times out commands that waited too long for feedback.
type Expirer struct {
	repo    Repository
	events  EventSink
	timeout time.Duration
	logger  Logger
	now     func() time.Time
}

// NewExpirer creates an expirer. A timeout of zero uses
// DefaultCommandTimeout; anything below MinCommandTimeout is raised to it.
func NewExpirer(repo Repository, events EventSink, timeout time.Duration, logger Logger) *Expirer {
	if events == nil {
		events = noopSink{}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	if timeout == 0 {
		timeout = DefaultCommandTimeout
	}
	if timeout < MinCommandTimeout {
		timeout = MinCommandTimeout
	}
	return &Expirer{
		repo:    repo,
		events:  events,
		timeout: timeout,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source. Used by tests.
func (e *Expirer) SetClock(now func() time.Time) {
	e.now = now
}

// Timeout returns the effective timeout.
func (e *Expirer) Timeout() time.Duration {
	return e.timeout
}

// Cutoff returns the instant before which in-flight commands expire.
func (e *Expirer) Cutoff() time.Time {
	return e.now().Add(-e.timeout)
}

// Sweep makes one pass over expired commands in id order and returns how
// many were timed out. Commands that settle between the select and the
// update are skipped.
func (e *Expirer) Sweep(ctx context.Context) (int, error) {
	now := e.now()
	cutoff := now.Add(-e.timeout)

	var afterID int64
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}

		batch, err := e.repo.ListExpired(ctx, cutoff, afterID, expireBatchSize)
		if err != nil {
			return count, fmt.Errorf("listing expired commands: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for i := range batch {
			exp := &batch[i]
			cmd := &exp.Command
			afterID = cmd.ID

			changed, err := e.repo.MarkTimedOut(ctx, cmd.ID, TimeoutMessage, now)
			if err != nil {
				return count, fmt.Errorf("timing out command %d: %w", cmd.ID, err)
			}
			if !changed {
				continue
			}
			count++

			cmd.Status = StatusTimeout
			if cmd.ErrorMessage == "" {
				cmd.ErrorMessage = TimeoutMessage
			}
			dev := &device.Device{ID: cmd.DeviceID, UUID: exp.DeviceUUID, ExternalID: exp.DeviceExternalID}
			topic := &device.Topic{ID: cmd.TopicID, Key: exp.TopicKey}
			e.events.Emit(ctx, commandEvent(EventCommandTimedOut, cmd, dev, topic, now))
		}

		if len(batch) < expireBatchSize {
			break
		}
	}

	if count > 0 {
		e.logger.Info("timed out stale commands", "count", count, "cutoff", cutoff)
	}
	return count, nil
}

// Run sweeps every interval until ctx is cancelled. Sweep errors are
// logged and do not stop the loop.
func (e *Expirer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Sweep(ctx); err != nil && ctx.Err() == nil {
				e.logger.Error("command expiry sweep failed", "error", err)
			}
		}
	}
}
