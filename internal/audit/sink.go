package audit

import (
	"context"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-iot/internal/command"
)

// bufferSize bounds the pending entries; beyond it entries are dropped.
const bufferSize = 256

// Logger is the logging surface used by Sink.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Sink writes entries asynchronously through a single writer goroutine.
type Sink struct {
	repo   Repository
	logger Logger
	ch     chan Entry
}

// NewSink creates a sink over repo. Run must be started to persist entries.
func NewSink(repo Repository, logger Logger) *Sink {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Sink{repo: repo, logger: logger, ch: make(chan Entry, bufferSize)}
}

// Record queues entry. It never blocks.
func (s *Sink) Record(entry Entry) {
	select {
	case s.ch <- entry:
	default:
		s.logger.Warn("audit buffer full, dropping entry",
			"action", entry.Action, "entity_type", entry.EntityType, "entity_id", entry.EntityID)
	}
}

// Emit records the terminal outcome of a command. Other events are ignored.
func (s *Sink) Emit(_ context.Context, event command.Event) {
	var action string
	switch event.Name {
	case command.EventCommandFailed:
		action = ActionFailed
	case command.EventCommandTimedOut:
		action = ActionTimedOut
	case command.EventCommandCompleted:
		action = ActionComplete
	default:
		return
	}

	details := map[string]any{
		"device_uuid": event.DeviceUUID,
		"topic":       event.Topic,
	}
	if event.CorrelationID != "" {
		details["correlation_id"] = event.CorrelationID
	}
	if event.ErrorMessage != "" {
		details["error"] = event.ErrorMessage
	}
	if event.Latency > 0 {
		details["latency_ms"] = event.Latency.Milliseconds()
	}

	entry := Entry{
		Action:     action,
		EntityType: "command",
		Source:     SourceCommand,
		Details:    details,
		CreatedAt:  event.OccurredAt,
	}
	if event.CommandID != nil {
		entry.EntityID = strconv.FormatInt(*event.CommandID, 10)
	}
	s.Record(entry)
}

// Run writes queued entries until ctx is cancelled, then flushes what is left.
func (s *Sink) Run(ctx context.Context) {
	for {
		select {
		case entry := <-s.ch:
			s.write(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-s.ch:
					s.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (s *Sink) write(entry Entry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	// Entries are written after the request that produced them has ended.
	if err := s.repo.Create(context.Background(), &entry); err != nil {
		s.logger.Error("audit write failed",
			"action", entry.Action, "entity_type", entry.EntityType, "error", err)
	}
}
