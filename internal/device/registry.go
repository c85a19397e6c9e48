package device

import (
	"context"
	"fmt"
	"sync"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
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

// schemaEntry is the cached view of one schema version.
type schemaEntry struct {
	topics []Topic
	links  FeedbackLinks
}

// Registry is the catalog read surface used by the command core.
// It wraps a Repository and caches topics and feedback links per schema
// version. Devices are always read through to the repository.
//
// Schema versions are treated as immutable once devices point at them;
// call Invalidate after editing one.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	schemas map[int64]*schemaEntry
	mu      sync.RWMutex
	logger  Logger
}

// NewRegistry creates a new catalog registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:    repo,
		schemas: make(map[int64]*schemaEntry),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// DevicesWithSchema returns every device that has a schema version assigned.
func (r *Registry) DevicesWithSchema(ctx context.Context) ([]Device, error) {
	return r.repo.ListDevicesWithSchema(ctx)
}

// GetDevice retrieves a device by id.
func (r *Registry) GetDevice(ctx context.Context, id int64) (*Device, error) {
	return r.repo.GetDevice(ctx, id)
}

// Topics returns a schema version's topics ordered by sequence.
// The returned slice is a copy; callers can safely modify it.
func (r *Registry) Topics(ctx context.Context, schemaVersionID int64) ([]Topic, error) {
	entry, err := r.schema(ctx, schemaVersionID)
	if err != nil {
		return nil, err
	}
	topics := make([]Topic, len(entry.topics))
	for i, t := range entry.topics {
		t.Parameters = append([]Parameter(nil), t.Parameters...)
		topics[i] = t
	}
	return topics, nil
}

// FeedbackLinks returns the link index for a schema version.
func (r *Registry) FeedbackLinks(ctx context.Context, schemaVersionID int64) (FeedbackLinks, error) {
	entry, err := r.schema(ctx, schemaVersionID)
	if err != nil {
		return FeedbackLinks{}, err
	}
	return entry.links, nil
}

// Invalidate drops the cached view of a schema version.
func (r *Registry) Invalidate(schemaVersionID int64) {
	r.mu.Lock()
	delete(r.schemas, schemaVersionID)
	r.mu.Unlock()
}

// RefreshCache drops every cached schema version.
func (r *Registry) RefreshCache() {
	r.mu.Lock()
	n := len(r.schemas)
	r.schemas = make(map[int64]*schemaEntry)
	r.mu.Unlock()
	r.logger.Debug("schema cache cleared", "count", n)
}

func (r *Registry) schema(ctx context.Context, schemaVersionID int64) (*schemaEntry, error) {
	r.mu.RLock()
	entry, ok := r.schemas[schemaVersionID]
	r.mu.RUnlock()
	if ok {
		return entry, nil
	}

	topics, err := r.repo.ListTopics(ctx, schemaVersionID)
	if err != nil {
		return nil, fmt.Errorf("loading topics for schema %d: %w", schemaVersionID, err)
	}
	links, err := r.repo.ListLinks(ctx, schemaVersionID)
	if err != nil {
		return nil, fmt.Errorf("loading links for schema %d: %w", schemaVersionID, err)
	}

	entry = &schemaEntry{topics: topics, links: NewFeedbackLinks(links)}

	r.mu.Lock()
	r.schemas[schemaVersionID] = entry
	r.mu.Unlock()

	r.logger.Debug("schema cached", "schema_version_id", schemaVersionID, "topics", len(topics), "links", len(links))
	return entry, nil
}
