package command

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-iot/internal/device"
)

// RegistryTTL is how long a subject snapshot is served before a rebuild.
const RegistryTTL = 30 * time.Second

// registryEntry is what an inbound subject resolves to.
type registryEntry struct {
	device device.Device
	topic  device.Topic

	// links and commandTopicIDs describe the device's schema version.
	links           device.FeedbackLinks
	commandTopicIDs []int64
}

// registrySnapshot is an immutable subject map with its build time.
type registrySnapshot struct {
	builtAt time.Time
	entries map[string]*registryEntry
}

// stale reports whether the snapshot must be rebuilt at now.
// A snapshot that was never built is always stale.
func (s registrySnapshot) stale(now time.Time, ttl time.Duration) bool {
	return s.entries == nil || now.Sub(s.builtAt) > ttl
}

// TopicRegistry maps inbound subjects to the device topic they belong to.
//
// The whole map is rebuilt from the catalog once it is older than the TTL;
// it is never patched in place. A newly provisioned device can therefore
// be invisible for up to one TTL.
//
// All public methods are thread-safe.
type TopicRegistry struct {
	catalog   Catalog
	baseTopic string
	ttl       time.Duration
	now       func() time.Time
	logger    Logger

	mu        sync.RWMutex
	snap      registrySnapshot
	rebuildMu sync.Mutex
}

// NewTopicRegistry creates a registry over catalog. baseTopic is the
// fallback subject prefix for device types without one.
func NewTopicRegistry(catalog Catalog, baseTopic string) *TopicRegistry {
	return &TopicRegistry{
		catalog:   catalog,
		baseTopic: baseTopic,
		ttl:       RegistryTTL,
		now:       time.Now,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *TopicRegistry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetClock replaces the time source. Used by tests.
func (r *TopicRegistry) SetClock(now func() time.Time) {
	r.now = now
}

// Invalidate forces a rebuild on the next lookup.
func (r *TopicRegistry) Invalidate() {
	r.mu.Lock()
	r.snap.builtAt = time.Time{}
	r.mu.Unlock()
}

// Size returns the number of subjects in the current snapshot.
func (r *TopicRegistry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.snap.entries)
}

// resolve looks a '/'-separated subject up, rebuilding the snapshot first
// when it is stale.
func (r *TopicRegistry) resolve(ctx context.Context, subject string) (*registryEntry, error) {
	snap, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.entries[subject], nil
}

func (r *TopicRegistry) snapshot(ctx context.Context) (registrySnapshot, error) {
	r.mu.RLock()
	snap := r.snap
	r.mu.RUnlock()
	if !snap.stale(r.now(), r.ttl) {
		return snap, nil
	}

	r.rebuildMu.Lock()
	defer r.rebuildMu.Unlock()

	// Another caller may have rebuilt while we waited.
	r.mu.RLock()
	snap = r.snap
	r.mu.RUnlock()
	now := r.now()
	if !snap.stale(now, r.ttl) {
		return snap, nil
	}

	fresh, err := r.build(ctx, now)
	if err != nil {
		if snap.entries != nil {
			r.logger.Warn("topic registry rebuild failed, serving previous snapshot", "error", err)
			return snap, nil
		}
		return registrySnapshot{}, err
	}

	r.mu.Lock()
	r.snap = fresh
	r.mu.Unlock()

	r.logger.Debug("topic registry rebuilt", "subjects", len(fresh.entries))
	return fresh, nil
}

func (r *TopicRegistry) build(ctx context.Context, now time.Time) (registrySnapshot, error) {
	devices, err := r.catalog.DevicesWithSchema(ctx)
	if err != nil {
		return registrySnapshot{}, fmt.Errorf("loading devices: %w", err)
	}

	entries := make(map[string]*registryEntry)
	for i := range devices {
		d := devices[i]
		if d.SchemaVersionID == nil {
			continue
		}

		topics, err := r.catalog.Topics(ctx, *d.SchemaVersionID)
		if err != nil {
			return registrySnapshot{}, fmt.Errorf("loading topics for device %s: %w", d.UUID, err)
		}
		links, err := r.catalog.FeedbackLinks(ctx, *d.SchemaVersionID)
		if err != nil {
			return registrySnapshot{}, fmt.Errorf("loading links for device %s: %w", d.UUID, err)
		}

		var commandTopicIDs []int64
		for _, t := range topics {
			if t.ResolvedPurpose() == device.PurposeCommand {
				commandTopicIDs = append(commandTopicIDs, t.ID)
			}
		}

		for _, t := range topics {
			if !t.IsPublish() {
				continue
			}
			subject := device.Subject(r.baseTopic, &d, &t)
			entries[subject] = &registryEntry{
				device:          d,
				topic:           t,
				links:           links,
				commandTopicIDs: commandTopicIDs,
			}
		}
	}

	return registrySnapshot{builtAt: now, entries: entries}, nil
}
