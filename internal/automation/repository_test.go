package automation

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/database"
	_ "github.com/nerrad567/gray-logic-iot/migrations" // registers the embedded migrations
)

// openTestDB returns a migrated in-memory database.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(database.Config{Path: database.MemoryPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db.DB
}

func testRule(id, name string) *Rule {
	desc := "turns the fan on"
	return &Rule{
		ID:          id,
		Name:        name,
		Slug:        GenerateSlug(name),
		Description: &desc,
		Enabled:     true,
		Trigger:     Trigger{DeviceUUID: sensorUUID, TopicKey: "state"},
		Condition:   map[string]any{">": []any{map[string]any{"var": "payload.temperature"}, 25.0}},
		Actions: []Action{
			{DeviceUUID: fanUUID, TopicKey: "set", Controls: map[string]any{"on": true}},
			{DeviceUUID: lampUUID, TopicKey: "set", Controls: map[string]any{"level": 10.0}, Parallel: true, DelayMS: 250},
		},
		CooldownSeconds: 30,
	}
}

func TestSQLiteRepository_RuleCRUD(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	rule := testRule("rule-1", "Hot Room")
	if err := repo.Create(ctx, rule); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if rule.CreatedAt.IsZero() || rule.UpdatedAt.IsZero() {
		t.Error("Create() should set timestamps")
	}

	got, err := repo.GetByID(ctx, "rule-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Name != "Hot Room" || got.Slug != "hot-room" || !got.Enabled {
		t.Errorf("GetByID() = %+v", got)
	}
	if got.Description == nil || *got.Description != "turns the fan on" {
		t.Errorf("Description = %v", got.Description)
	}
	if got.Trigger != rule.Trigger {
		t.Errorf("Trigger = %+v, want %+v", got.Trigger, rule.Trigger)
	}
	if len(got.Actions) != 2 || !got.Actions[1].Parallel || got.Actions[1].DelayMS != 250 {
		t.Errorf("Actions = %+v", got.Actions)
	}
	cond, ok := got.Condition.(map[string]any)
	if !ok || cond[">"] == nil {
		t.Errorf("Condition = %#v", got.Condition)
	}

	bySlug, err := repo.GetBySlug(ctx, "hot-room")
	if err != nil || bySlug.ID != "rule-1" {
		t.Errorf("GetBySlug() = %v, %v", bySlug, err)
	}

	got.Name = "Very Hot Room"
	got.Condition = nil
	got.Trigger.TopicKey = ""
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	updated, err := repo.GetByID(ctx, "rule-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if updated.Name != "Very Hot Room" || updated.Condition != nil || updated.Trigger.TopicKey != "" {
		t.Errorf("updated rule = %+v", updated)
	}

	if err := repo.Delete(ctx, "rule-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.GetByID(ctx, "rule-1"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("GetByID() after delete error = %v, want ErrRuleNotFound", err)
	}
}

func TestSQLiteRepository_Errors(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, testRule("rule-1", "Hot Room")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	tests := []struct {
		name    string
		fn      func() error
		wantErr error
	}{
		{"duplicate id", func() error { return repo.Create(ctx, testRule("rule-1", "Other")) }, ErrRuleExists},
		{"duplicate slug", func() error { return repo.Create(ctx, testRule("rule-2", "Hot Room")) }, ErrRuleExists},
		{"get missing", func() error { _, err := repo.GetByID(ctx, "nope"); return err }, ErrRuleNotFound},
		{"slug missing", func() error { _, err := repo.GetBySlug(ctx, "nope"); return err }, ErrRuleNotFound},
		{"update missing", func() error { return repo.Update(ctx, testRule("nope", "Nope")) }, ErrRuleNotFound},
		{"delete missing", func() error { return repo.Delete(ctx, "nope") }, ErrRuleNotFound},
		{"execution missing", func() error { _, err := repo.GetExecution(ctx, "nope"); return err }, ErrExecutionNotFound},
		{"update execution missing", func() error {
			return repo.UpdateExecution(ctx, &Execution{ID: "nope", Status: StatusCompleted})
		}, ErrExecutionNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSQLiteRepository_ListOrdering(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	b := testRule("b", "Bravo")
	a := testRule("a", "Alpha")
	first := testRule("z", "Zulu")
	first.SortOrder = -1
	other := testRule("o", "Other Device")
	other.Trigger.DeviceUUID = lampUUID
	for _, r := range []*Rule{b, a, first, other} {
		if err := repo.Create(ctx, r); err != nil {
			t.Fatalf("Create(%s) error = %v", r.ID, err)
		}
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"z", "a", "b", "o"}
	if len(all) != len(want) {
		t.Fatalf("List() returned %d rules, want %d", len(all), len(want))
	}
	for i, id := range want {
		if all[i].ID != id {
			t.Errorf("List()[%d] = %s, want %s", i, all[i].ID, id)
		}
	}

	bySensor, err := repo.ListByTriggerDevice(ctx, sensorUUID)
	if err != nil {
		t.Fatalf("ListByTriggerDevice() error = %v", err)
	}
	if len(bySensor) != 3 {
		t.Errorf("ListByTriggerDevice() returned %d rules, want 3", len(bySensor))
	}
}

func TestSQLiteRepository_Executions(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, testRule("rule-1", "Hot Room")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	base := time.Date(2026, 2, 16, 10, 0, 0, 0, time.UTC)
	for i := range 3 {
		exec := &Execution{
			ID:           GenerateID(),
			RuleID:       "rule-1",
			TriggeredAt:  base.Add(time.Duration(i) * time.Minute),
			Status:       StatusPending,
			ActionsTotal: 2,
		}
		if err := repo.CreateExecution(ctx, exec); err != nil {
			t.Fatalf("CreateExecution() error = %v", err)
		}
	}

	exec := &Execution{
		ID:             "exec-1",
		RuleID:         "rule-1",
		TriggeredAt:    base.Add(time.Hour),
		TriggerSubject: "sensors/sensor-1/state",
		Status:         StatusRunning,
		ActionsTotal:   2,
	}
	if err := repo.CreateExecution(ctx, exec); err != nil {
		t.Fatalf("CreateExecution() error = %v", err)
	}

	started := base.Add(time.Hour)
	completed := started.Add(1500 * time.Millisecond)
	duration := 1500
	exec.StartedAt = &started
	exec.CompletedAt = &completed
	exec.DurationMS = &duration
	exec.Status = StatusPartial
	exec.ActionsCompleted = 1
	exec.ActionsFailed = 1
	exec.Failures = []ActionFailure{{ActionIndex: 1, DeviceUUID: lampUUID, TopicKey: "set", ErrorCode: FailureValidation, ErrorMsg: "level: above_maximum"}}
	exec.CommandIDs = []int64{7}
	if err := repo.UpdateExecution(ctx, exec); err != nil {
		t.Fatalf("UpdateExecution() error = %v", err)
	}

	got, err := repo.GetExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("GetExecution() error = %v", err)
	}
	if got.Status != StatusPartial || got.TriggerSubject != "sensors/sensor-1/state" {
		t.Errorf("GetExecution() = %+v", got)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(completed) {
		t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, completed)
	}
	if got.DurationMS == nil || *got.DurationMS != 1500 {
		t.Errorf("DurationMS = %v", got.DurationMS)
	}
	if len(got.Failures) != 1 || got.Failures[0].ErrorCode != FailureValidation {
		t.Errorf("Failures = %+v", got.Failures)
	}
	if len(got.CommandIDs) != 1 || got.CommandIDs[0] != 7 {
		t.Errorf("CommandIDs = %v", got.CommandIDs)
	}

	recent, err := repo.ListExecutions(ctx, "rule-1", 2)
	if err != nil {
		t.Fatalf("ListExecutions() error = %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "exec-1" {
		t.Errorf("ListExecutions() = %+v, want exec-1 first of 2", recent)
	}

	// Executions go with their rule.
	if err := repo.Delete(ctx, "rule-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.GetExecution(ctx, "exec-1"); !errors.Is(err, ErrExecutionNotFound) {
		t.Errorf("GetExecution() after rule delete error = %v, want ErrExecutionNotFound", err)
	}
}
