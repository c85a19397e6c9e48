package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-iot/internal/device"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/database"
	_ "github.com/nerrad567/gray-logic-iot/migrations" // registers the embedded migrations
)

// fixture is a migrated in-memory database with one smart plug provisioned.
//
// The plug's schema has a "set" command topic, an "ack" topic, a "state"
// topic and a "power" telemetry topic. set links to ack (ack_feedback)
// and, unless withoutStateLink was requested, to state (state_feedback).
type fixture struct {
	db       *database.DB
	devices  *device.SQLiteRepository
	repo     *SQLiteRepository
	catalog  *device.Registry
	registry *TopicRegistry

	plug  *device.Device
	set   *device.Topic
	ack   *device.Topic
	state *device.Topic
	power *device.Topic
}

type fixtureOption func(*fixtureOptions)

type fixtureOptions struct {
	stateLink bool
}

func withoutStateLink() fixtureOption {
	return func(o *fixtureOptions) { o.stateLink = false }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	ctx := context.Background()

	o := fixtureOptions{stateLink: true}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := database.Open(database.Config{Path: database.MemoryPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	devices := device.NewSQLiteRepository(db.DB)
	dt := &device.DeviceType{Key: "smart_plug", Name: "Smart Plug", BaseTopic: "plugs"}
	if err := devices.CreateDeviceType(ctx, dt); err != nil {
		t.Fatalf("CreateDeviceType() error = %v", err)
	}
	sv := &device.SchemaVersion{DeviceTypeID: dt.ID, Version: "1.0.0"}
	if err := devices.CreateSchemaVersion(ctx, sv); err != nil {
		t.Fatalf("CreateSchemaVersion() error = %v", err)
	}

	f := &fixture{db: db, devices: devices, repo: NewSQLiteRepository(db.DB)}

	f.set = f.createTopic(t, &device.Topic{
		SchemaVersionID: sv.ID, Key: "set", Suffix: "set",
		Direction: device.DirectionSubscribe, Purpose: device.PurposeCommand, Sequence: 1,
		Parameters: []device.Parameter{
			{Key: "on", Type: device.TypeBoolean, Active: true, Sequence: 1},
			{Key: "brightness", Type: device.TypeInteger, Active: true, Sequence: 2},
		},
	})
	f.ack = f.createTopic(t, &device.Topic{
		SchemaVersionID: sv.ID, Key: "ack", Suffix: "ack",
		Direction: device.DirectionPublish, Purpose: device.PurposeAck, Sequence: 2,
	})
	f.state = f.createTopic(t, &device.Topic{
		SchemaVersionID: sv.ID, Key: "state", Suffix: "state",
		Direction: device.DirectionPublish, Purpose: device.PurposeState, Retain: true, Sequence: 3,
	})
	f.power = f.createTopic(t, &device.Topic{
		SchemaVersionID: sv.ID, Key: "power", Suffix: "power",
		Direction: device.DirectionPublish, Purpose: device.PurposeTelemetry, Sequence: 4,
	})

	f.link(t, f.set, f.ack, device.LinkAckFeedback)
	if o.stateLink {
		f.link(t, f.set, f.state, device.LinkStateFeedback)
	}

	f.plug = &device.Device{Name: "Desk Plug", ExternalID: "plug-1", DeviceTypeID: dt.ID, SchemaVersionID: &sv.ID}
	if err := devices.CreateDevice(ctx, f.plug); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}

	f.catalog = device.NewRegistry(devices)
	f.registry = NewTopicRegistry(f.catalog, "device")
	return f
}

func (f *fixture) createTopic(t *testing.T, topic *device.Topic) *device.Topic {
	t.Helper()
	if err := f.devices.CreateTopic(context.Background(), topic); err != nil {
		t.Fatalf("CreateTopic(%s) error = %v", topic.Key, err)
	}
	return topic
}

func (f *fixture) link(t *testing.T, from, to *device.Topic, lt device.LinkType) {
	t.Helper()
	l := &device.Link{FromTopicID: from.ID, ToTopicID: to.ID, Type: lt}
	if err := f.devices.CreateLink(context.Background(), l); err != nil {
		t.Fatalf("CreateLink(%s->%s) error = %v", from.Key, to.Key, err)
	}
}

// insertCommand records a command directly, bypassing the dispatcher.
func (f *fixture) insertCommand(t *testing.T, topic *device.Topic, payload map[string]any, status Status, createdAt time.Time) *Command {
	t.Helper()
	ctx := context.Background()

	cmd := &Command{
		CorrelationID: uuid.NewString(),
		DeviceID:      f.plug.ID,
		TopicID:       topic.ID,
		Payload:       payload,
		CreatedAt:     createdAt,
	}
	if err := f.repo.CreateWithDesiredState(ctx, cmd); err != nil {
		t.Fatalf("CreateWithDesiredState() error = %v", err)
	}
	if status == StatusSent || status == StatusAcknowledged {
		if _, err := f.repo.MarkSent(ctx, cmd.ID, createdAt); err != nil {
			t.Fatalf("MarkSent() error = %v", err)
		}
	}
	if status == StatusAcknowledged {
		if _, err := f.repo.ApplyFeedback(ctx, cmd.ID, Feedback{Status: StatusAcknowledged, ResponseTopicID: f.ack.ID, At: createdAt}); err != nil {
			t.Fatalf("ApplyFeedback() error = %v", err)
		}
	}
	return f.get(t, cmd.ID)
}

func (f *fixture) get(t *testing.T, id int64) *Command {
	t.Helper()
	cmd, err := f.repo.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%d) error = %v", id, err)
	}
	return cmd
}

// MockPublisher records publishes and fails when err is set.
type MockPublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	err       error
	block     bool

	// onPublish runs before the publish is recorded.
	onPublish func()
}

type publishedMessage struct {
	broker  Broker
	subject string
	payload []byte
}

func (m *MockPublisher) Publish(ctx context.Context, broker Broker, subject string, payload []byte) error {
	if m.onPublish != nil {
		m.onPublish()
	}
	if m.block {
		<-ctx.Done()
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, publishedMessage{broker: broker, subject: subject, payload: payload})
	return nil
}

func (m *MockPublisher) messages() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishedMessage(nil), m.published...)
}

// recordingSink keeps every emitted event.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(_ context.Context, event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.events))
	for i, e := range s.events {
		names[i] = e.Name
	}
	return names
}

func (s *recordingSink) count(name string) int {
	n := 0
	for _, got := range s.names() {
		if got == name {
			n++
		}
	}
	return n
}

func (s *recordingSink) last(name string) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Name == name {
			return s.events[i], true
		}
	}
	return Event{}, false
}

// memoryStates is an in-memory StateStore.
type memoryStates struct {
	mu     sync.Mutex
	states map[string]map[string]any
	err    error
}

func (m *memoryStates) Store(_ context.Context, deviceUUID, subject string, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.states == nil {
		m.states = make(map[string]map[string]any)
	}
	m.states[deviceUUID+"|"+subject] = payload
	return nil
}

func (m *memoryStates) get(deviceUUID, subject string) (map[string]any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.states[deviceUUID+"|"+subject]
	return p, ok
}

var errBrokerDown = errors.New("broker unreachable")

// fixedClock returns a controllable time source.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *fixedClock {
	return &fixedClock{now: t}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
