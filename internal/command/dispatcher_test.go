package command

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func newTestDispatcher(f *fixture, pub *MockPublisher, sink *recordingSink, inject bool) *Dispatcher {
	d := NewDispatcher(f.repo, pub, sink, DispatcherConfig{
		BaseTopic:           "device",
		InjectMetaCommandID: inject,
		PublishTimeout:      50 * time.Millisecond,
	}, nil)
	d.now = func() time.Time { return baseTime }
	d.newID = func() string { return "11111111-2222-4333-8444-555555555555" }
	return d
}

func TestDispatcher_Dispatch(t *testing.T) {
	f := newFixture(t)
	pub := &MockPublisher{}
	sink := &recordingSink{}
	d := newTestDispatcher(f, pub, sink, true)
	ctx := context.Background()

	userID := int64(7)
	cmd, err := d.Dispatch(ctx, Request{
		Device:  f.plug,
		Topic:   f.set,
		Payload: map[string]any{"brightness": 75},
		UserID:  &userID,
		Broker:  Broker{Host: "10.0.0.5", Port: 4222},
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if cmd.Status != StatusSent || cmd.SentAt == nil {
		t.Errorf("Dispatch() status = %q sent_at = %v, want sent", cmd.Status, cmd.SentAt)
	}
	if cmd.CorrelationID != "11111111-2222-4333-8444-555555555555" {
		t.Errorf("CorrelationID = %q", cmd.CorrelationID)
	}
	if cmd.UserID == nil || *cmd.UserID != 7 {
		t.Errorf("UserID = %v, want 7", cmd.UserID)
	}
	if _, ok := cmd.Payload[MetaKey]; ok {
		t.Errorf("stored payload %v should not carry _meta", cmd.Payload)
	}

	msgs := pub.messages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if msgs[0].subject != "plugs/plug-1/set" {
		t.Errorf("subject = %q, want plugs/plug-1/set", msgs[0].subject)
	}
	if msgs[0].broker != (Broker{Host: "10.0.0.5", Port: 4222}) {
		t.Errorf("broker = %+v", msgs[0].broker)
	}
	var wire map[string]any
	if err := json.Unmarshal(msgs[0].payload, &wire); err != nil {
		t.Fatalf("published payload is not JSON: %v", err)
	}
	if wire["brightness"] != 75.0 {
		t.Errorf("wire brightness = %v", wire["brightness"])
	}
	if got := correlationID(wire); got != cmd.CorrelationID {
		t.Errorf("wire _meta.command_id = %q, want %q", got, cmd.CorrelationID)
	}

	names := sink.names()
	if len(names) != 2 || names[0] != EventCommandDispatched || names[1] != EventCommandSent {
		t.Errorf("events = %v, want [dispatched sent]", names)
	}

	state, err := f.repo.GetDesiredState(ctx, f.plug.ID, f.set.ID)
	if err != nil {
		t.Fatalf("GetDesiredState() error = %v", err)
	}
	if state.CorrelationID != cmd.CorrelationID || state.DesiredPayload["brightness"] != 75.0 {
		t.Errorf("desired state = %+v", state)
	}
}

func TestDispatcher_WithoutMetaInjection(t *testing.T) {
	f := newFixture(t)
	pub := &MockPublisher{}
	d := newTestDispatcher(f, pub, &recordingSink{}, false)

	if _, err := d.Dispatch(context.Background(), Request{Device: f.plug, Topic: f.set, Payload: map[string]any{"on": true}}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	msgs := pub.messages()
	if len(msgs) != 1 || string(msgs[0].payload) != `{"on":true}` {
		t.Errorf("published = %v, want bare payload", msgs)
	}
	if !msgs[0].broker.IsZero() {
		t.Errorf("broker = %+v, want zero", msgs[0].broker)
	}
}

func TestDispatcher_PublishFailure(t *testing.T) {
	f := newFixture(t)
	pub := &MockPublisher{err: errBrokerDown}
	sink := &recordingSink{}
	d := newTestDispatcher(f, pub, sink, true)
	ctx := context.Background()

	cmd, err := d.Dispatch(ctx, Request{Device: f.plug, Topic: f.set, Payload: map[string]any{"on": true}})
	if err != nil {
		t.Fatalf("Dispatch() error = %v, publish failures must not propagate", err)
	}
	if cmd.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", cmd.Status)
	}
	if cmd.ErrorMessage != errBrokerDown.Error() {
		t.Errorf("ErrorMessage = %q, want %q", cmd.ErrorMessage, errBrokerDown.Error())
	}
	if sink.count(EventCommandSent) != 0 {
		t.Error("command.sent emitted for a failed publish")
	}
	if sink.count(EventCommandDispatched) != 1 {
		t.Error("command.dispatched not emitted")
	}
	if ev, ok := sink.last(EventCommandFailed); !ok || ev.ErrorMessage != errBrokerDown.Error() {
		t.Errorf("command.failed = %+v, %v; want error %q", ev, ok, errBrokerDown.Error())
	}

	// The desired state is recorded even when the publish fails.
	if _, err := f.repo.GetDesiredState(ctx, f.plug.ID, f.set.ID); err != nil {
		t.Errorf("GetDesiredState() error = %v", err)
	}
}

func TestDispatcher_PublishTimeout(t *testing.T) {
	f := newFixture(t)
	pub := &MockPublisher{block: true}
	d := newTestDispatcher(f, pub, &recordingSink{}, true)

	cmd, err := d.Dispatch(context.Background(), Request{Device: f.plug, Topic: f.set, Payload: map[string]any{"on": true}})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if cmd.Status != StatusFailed {
		t.Errorf("Status = %q, want failed after publish timeout", cmd.Status)
	}
}

func TestDispatcher_CallerCancelledDuringPublish(t *testing.T) {
	f := newFixture(t)
	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pub := &MockPublisher{err: context.Canceled, onPublish: cancel}
	d := newTestDispatcher(f, pub, sink, true)

	cmd, err := d.Dispatch(ctx, Request{Device: f.plug, Topic: f.set, Payload: map[string]any{"on": true}})
	if err != nil {
		t.Fatalf("Dispatch() error = %v, want nil after caller cancellation", err)
	}
	if cmd == nil || cmd.Status != StatusFailed {
		t.Fatalf("Dispatch() command = %+v, want failed", cmd)
	}
	if got := f.get(t, cmd.ID).Status; got != StatusFailed {
		t.Errorf("stored status = %q, want failed", got)
	}
	if sink.count(EventCommandFailed) != 1 {
		t.Errorf("command.failed emitted %d times, want 1", sink.count(EventCommandFailed))
	}
}

func TestDispatcher_CallerGoneBeforePublishReturns(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// The publish itself succeeds but the caller gives up before it returns.
	pub := &MockPublisher{onPublish: cancel}
	d := newTestDispatcher(f, pub, &recordingSink{}, true)

	cmd, err := d.Dispatch(ctx, Request{Device: f.plug, Topic: f.set, Payload: map[string]any{"on": true}})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if got := f.get(t, cmd.ID).Status; got != StatusFailed {
		t.Errorf("stored status = %q, want failed", got)
	}
}

func TestDispatcher_OneRowPerDispatch(t *testing.T) {
	f := newFixture(t)
	pub := &MockPublisher{}
	d := newTestDispatcher(f, pub, &recordingSink{}, true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := d.Dispatch(ctx, Request{Device: f.plug, Topic: f.set, Payload: map[string]any{"level": i}}); err != nil {
			t.Fatalf("Dispatch(%d) error = %v", i, err)
		}
	}
	pub.err = errBrokerDown
	if _, err := d.Dispatch(ctx, Request{Device: f.plug, Topic: f.set, Payload: map[string]any{"level": 3}}); err != nil {
		t.Fatalf("Dispatch(failing) error = %v", err)
	}

	cmds, err := f.repo.ListByDevice(ctx, f.plug.ID, 10)
	if err != nil {
		t.Fatalf("ListByDevice() error = %v", err)
	}
	if len(cmds) != 4 {
		t.Errorf("commands = %d, want 4", len(cmds))
	}

	var rows int
	if err := f.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM device_desired_topic_states").Scan(&rows); err != nil {
		t.Fatalf("counting desired states: %v", err)
	}
	if rows != 1 {
		t.Errorf("desired state rows = %d, want 1", rows)
	}
}

func TestDispatcher_InvalidRequest(t *testing.T) {
	f := newFixture(t)
	d := newTestDispatcher(f, &MockPublisher{}, &recordingSink{}, true)

	if _, err := d.Dispatch(context.Background(), Request{Topic: f.set}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Dispatch(no device) error = %v, want ErrInvalidRequest", err)
	}
}
