package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-iot/internal/device"
)

// RawPayloadKey holds the original text of an inbound payload that is not
// a JSON object.
const RawPayloadKey = "_raw"

// Reconciler matches inbound device messages to in-flight commands.
//
// For each message it stores the latest state, finds the command the
// message answers (by correlation id, else by payload overlap), advances
// that command, and emits events.
//
// Thread Safety: Reconcile is safe for concurrent use. Two messages racing
// for the same command are settled by the repository's conditional update;
// only the winner emits command.completed.
type Reconciler struct {
	repo     Repository
	registry *TopicRegistry
	states   StateStore
	events   EventSink
	logger   Logger
	now      func() time.Time
}

// NewReconciler creates a reconciler. states, events and logger may be nil.
func NewReconciler(repo Repository, registry *TopicRegistry, states StateStore, events EventSink, logger Logger) *Reconciler {
	if events == nil {
		events = noopSink{}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Reconciler{
		repo:     repo,
		registry: registry,
		states:   states,
		events:   events,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source. Used by tests.
func (r *Reconciler) SetClock(now func() time.Time) {
	r.now = now
}

// Reconcile handles one inbound message on a '/'-separated subject.
//
// Returns:
//   - *Result: nil when the subject belongs to no known device topic
//   - error: catalog or repository failures
func (r *Reconciler) Reconcile(ctx context.Context, subject string, raw []byte) (*Result, error) {
	entry, err := r.registry.resolve(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("resolving subject: %w", err)
	}
	if entry == nil {
		r.logger.Debug("ignoring message on unknown subject", "subject", subject)
		return nil, nil
	}

	dev := &entry.device
	topic := &entry.topic
	purpose := topic.ResolvedPurpose()
	inbound := decodeInbound(raw)
	at := r.now()

	if r.states != nil {
		if err := r.states.Store(ctx, dev.UUID, subject, inbound); err != nil {
			r.logger.Warn("storing device state failed",
				"device_uuid", dev.UUID, "subject", subject, "error", err)
		}
	}

	matched, err := r.match(ctx, entry, purpose, inbound, at)
	if err != nil {
		return nil, err
	}

	result := &Result{
		DeviceUUID:       dev.UUID,
		DeviceExternalID: dev.ExternalID,
		TopicID:          topic.ID,
		Topic:            topic.Key,
		Purpose:          purpose,
	}

	if matched != nil {
		if err := r.advance(ctx, entry, matched, purpose, inbound, at); err != nil {
			return nil, err
		}
		id := matched.ID
		result.CommandID = &id
	}

	ev := Event{
		OccurredAt:       at,
		DeviceID:         dev.ID,
		DeviceUUID:       dev.UUID,
		DeviceExternalID: dev.ExternalID,
		TopicID:          topic.ID,
		Topic:            topic.Key,
		Subject:          subject,
		Purpose:          purpose,
		CommandID:        result.CommandID,
		Payload:          inbound,
	}
	if matched != nil {
		ev.CorrelationID = matched.CorrelationID
	}
	ev.Name = EventDeviceStateReceived
	r.events.Emit(ctx, ev)
	if purpose == device.PurposeTelemetry {
		ev.Name = EventDeviceTelemetryReceived
		r.events.Emit(ctx, ev)
	}

	return result, nil
}

// match finds the in-flight command an inbound message answers, or nil.
func (r *Reconciler) match(ctx context.Context, entry *registryEntry, purpose device.Purpose, inbound map[string]any, at time.Time) (*Command, error) {
	if id := correlationID(inbound); id != "" {
		cmd, err := r.repo.FindByCorrelation(ctx, entry.device.ID, id)
		if err != nil {
			return nil, fmt.Errorf("finding command by correlation: %w", err)
		}
		if cmd != nil {
			return cmd, nil
		}
		r.logger.Debug("correlation id matched no in-flight command, falling back to payload",
			"device_uuid", entry.device.UUID, "correlation_id", id)
	}

	topicIDs := entry.links.Sources(entry.topic.ID, device.FeedbackLinkType(purpose))
	if len(topicIDs) == 0 {
		topicIDs = entry.commandTopicIDs
	}

	candidates, err := r.repo.FindCandidates(ctx, entry.device.ID, topicIDs, at.Add(-candidateWindow), candidateLimit)
	if err != nil {
		return nil, fmt.Errorf("finding candidate commands: %w", err)
	}
	return bestCandidate(candidates, inbound), nil
}

// advance applies feedback to cmd. An ack on a command topic that has
// state feedback configured only acknowledges; everything else completes.
func (r *Reconciler) advance(ctx context.Context, entry *registryEntry, cmd *Command, purpose device.Purpose, inbound map[string]any, at time.Time) error {
	status := StatusCompleted
	if purpose == device.PurposeAck && len(entry.links.Targets(cmd.TopicID, device.LinkStateFeedback)) > 0 {
		status = StatusAcknowledged
	}

	changed, err := r.repo.ApplyFeedback(ctx, cmd.ID, Feedback{
		Status:          status,
		ResponsePayload: inbound,
		ResponseTopicID: entry.topic.ID,
		At:              at,
	})
	if err != nil {
		return fmt.Errorf("applying feedback: %w", err)
	}
	if !changed {
		r.logger.Debug("command already settled, feedback ignored", "command_id", cmd.ID)
		return nil
	}
	if status != StatusCompleted {
		return nil
	}

	if _, err := r.repo.ReconcileDesiredState(ctx, cmd.DeviceID, cmd.TopicID, cmd.CorrelationID, at); err != nil {
		return fmt.Errorf("reconciling desired state: %w", err)
	}

	cmd.Status = StatusCompleted
	cmd.ResponsePayload = inbound
	cmd.CompletedAt = &at
	ev := commandEvent(EventCommandCompleted, cmd, &entry.device, nil, at)
	ev.Latency = at.Sub(cmd.CreatedAt)
	ev.Payload = inbound
	r.events.Emit(ctx, ev)
	return nil
}

// decodeInbound parses a message body. Anything other than a JSON object
// is kept verbatim under RawPayloadKey.
func decodeInbound(raw []byte) map[string]any {
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return map[string]any{RawPayloadKey: string(raw)}
	}
	return out
}
