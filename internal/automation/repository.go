package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/database"
)

// Repository defines the interface for rule persistence.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Rule, error)
	GetBySlug(ctx context.Context, slug string) (*Rule, error)
	List(ctx context.Context) ([]Rule, error)
	ListByTriggerDevice(ctx context.Context, deviceUUID string) ([]Rule, error)
	Create(ctx context.Context, rule *Rule) error
	Update(ctx context.Context, rule *Rule) error
	Delete(ctx context.Context, id string) error

	CreateExecution(ctx context.Context, exec *Execution) error
	UpdateExecution(ctx context.Context, exec *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	ListExecutions(ctx context.Context, ruleID string, limit int) ([]Execution, error)
}

const ruleColumns = `id, name, slug, description, enabled, trigger_device_uuid, trigger_topic_key,
			condition, actions, cooldown_seconds, sort_order, created_at, updated_at`

const executionColumns = `id, rule_id, triggered_at, started_at, completed_at, trigger_subject, status,
			actions_total, actions_completed, actions_failed, actions_skipped,
			failures, command_ids, duration_ms`

// SQLiteRepository implements Repository over the automation_rules and
// automation_executions tables.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a rule by its identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Rule, error) {
	return r.getOne(ctx, `SELECT `+ruleColumns+` FROM automation_rules WHERE id = ?`, id)
}

// GetBySlug retrieves a rule by its slug.
func (r *SQLiteRepository) GetBySlug(ctx context.Context, slug string) (*Rule, error) {
	return r.getOne(ctx, `SELECT `+ruleColumns+` FROM automation_rules WHERE slug = ?`, slug)
}

func (r *SQLiteRepository) getOne(ctx context.Context, query string, arg any) (*Rule, error) {
	rule, err := scanRule(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("querying rule: %w", err)
	}
	return rule, nil
}

// List retrieves all rules ordered by sort_order then name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Rule, error) {
	return r.queryRules(ctx, `SELECT `+ruleColumns+` FROM automation_rules ORDER BY sort_order, name`)
}

// ListByTriggerDevice retrieves the rules triggered by one device.
func (r *SQLiteRepository) ListByTriggerDevice(ctx context.Context, deviceUUID string) ([]Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM automation_rules
		WHERE trigger_device_uuid = ? ORDER BY sort_order, name`
	return r.queryRules(ctx, query, deviceUUID)
}

// Create inserts a new rule.
func (r *SQLiteRepository) Create(ctx context.Context, rule *Rule) error {
	actions, condition, err := marshalRuleJSON(rule)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := `
		INSERT INTO automation_rules (
			id, name, slug, description, enabled, trigger_device_uuid, trigger_topic_key,
			condition, actions, cooldown_seconds, sort_order, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		rule.ID,
		rule.Name,
		rule.Slug,
		nullableString(rule.Description),
		boolToInt(rule.Enabled),
		rule.Trigger.DeviceUUID,
		nullableText(rule.Trigger.TopicKey),
		condition,
		actions,
		rule.CooldownSeconds,
		rule.SortOrder,
		database.FormatTime(rule.CreatedAt),
		database.FormatTime(rule.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrRuleExists
		}
		return fmt.Errorf("inserting rule: %w", err)
	}
	return nil
}

// Update modifies an existing rule.
func (r *SQLiteRepository) Update(ctx context.Context, rule *Rule) error {
	actions, condition, err := marshalRuleJSON(rule)
	if err != nil {
		return err
	}

	rule.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE automation_rules SET
			name = ?, slug = ?, description = ?, enabled = ?,
			trigger_device_uuid = ?, trigger_topic_key = ?, condition = ?,
			actions = ?, cooldown_seconds = ?, sort_order = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		rule.Name,
		rule.Slug,
		nullableString(rule.Description),
		boolToInt(rule.Enabled),
		rule.Trigger.DeviceUUID,
		nullableText(rule.Trigger.TopicKey),
		condition,
		actions,
		rule.CooldownSeconds,
		rule.SortOrder,
		database.FormatTime(rule.UpdatedAt),
		rule.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrRuleExists
		}
		return fmt.Errorf("updating rule: %w", err)
	}
	return expectOneRow(result, ErrRuleNotFound)
}

// Delete removes a rule and, by cascade, its executions.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM automation_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting rule: %w", err)
	}
	return expectOneRow(result, ErrRuleNotFound)
}

// CreateExecution inserts a new execution record.
func (r *SQLiteRepository) CreateExecution(ctx context.Context, exec *Execution) error {
	failures, commandIDs, err := marshalExecutionJSON(exec)
	if err != nil {
		return err
	}

	query := `INSERT INTO automation_executions (` + executionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		exec.ID,
		exec.RuleID,
		database.FormatTime(exec.TriggeredAt),
		database.NullTime(exec.StartedAt),
		database.NullTime(exec.CompletedAt),
		nullableText(exec.TriggerSubject),
		string(exec.Status),
		exec.ActionsTotal,
		exec.ActionsCompleted,
		exec.ActionsFailed,
		exec.ActionsSkipped,
		failures,
		commandIDs,
		exec.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

// UpdateExecution updates an existing execution record.
func (r *SQLiteRepository) UpdateExecution(ctx context.Context, exec *Execution) error {
	failures, commandIDs, err := marshalExecutionJSON(exec)
	if err != nil {
		return err
	}

	query := `
		UPDATE automation_executions SET
			started_at = ?, completed_at = ?, status = ?,
			actions_total = ?, actions_completed = ?, actions_failed = ?, actions_skipped = ?,
			failures = ?, command_ids = ?, duration_ms = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		database.NullTime(exec.StartedAt),
		database.NullTime(exec.CompletedAt),
		string(exec.Status),
		exec.ActionsTotal,
		exec.ActionsCompleted,
		exec.ActionsFailed,
		exec.ActionsSkipped,
		failures,
		commandIDs,
		exec.DurationMS,
		exec.ID,
	)
	if err != nil {
		return fmt.Errorf("updating execution: %w", err)
	}
	return expectOneRow(result, ErrExecutionNotFound)
}

// GetExecution retrieves an execution by ID.
func (r *SQLiteRepository) GetExecution(ctx context.Context, id string) (*Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM automation_executions WHERE id = ?`
	exec, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExecutionNotFound
		}
		return nil, fmt.Errorf("querying execution: %w", err)
	}
	return exec, nil
}

// ListExecutions retrieves recent executions for a rule, newest first.
func (r *SQLiteRepository) ListExecutions(ctx context.Context, ruleID string, limit int) ([]Execution, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	query := `SELECT ` + executionColumns + ` FROM automation_executions
		WHERE rule_id = ? ORDER BY triggered_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var executions []Execution
	for rows.Next() {
		exec, scanErr := scanExecution(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning execution: %w", scanErr)
		}
		executions = append(executions, *exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating executions: %w", err)
	}
	return executions, nil
}

func (r *SQLiteRepository) queryRules(ctx context.Context, query string, args ...any) ([]Rule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		rule, scanErr := scanRule(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning rule: %w", scanErr)
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rules: %w", err)
	}
	return rules, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(scanner rowScanner) (*Rule, error) {
	var rule Rule
	var description, topicKey, condition sql.NullString
	var actionsJSON string
	var enabled int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&rule.ID,
		&rule.Name,
		&rule.Slug,
		&description,
		&enabled,
		&rule.Trigger.DeviceUUID,
		&topicKey,
		&condition,
		&actionsJSON,
		&rule.CooldownSeconds,
		&rule.SortOrder,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if description.Valid {
		rule.Description = &description.String
	}
	rule.Trigger.TopicKey = topicKey.String
	rule.Enabled = enabled != 0

	if condition.Valid && condition.String != "" {
		if err := json.Unmarshal([]byte(condition.String), &rule.Condition); err != nil {
			return nil, fmt.Errorf("decoding condition: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(actionsJSON), &rule.Actions); err != nil {
		return nil, fmt.Errorf("decoding actions: %w", err)
	}

	if rule.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if rule.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return &rule, nil
}

func scanExecution(scanner rowScanner) (*Execution, error) {
	var exec Execution
	var triggeredAt string
	var startedAt, completedAt, subject, failures, commandIDs sql.NullString
	var status string
	var duration sql.NullInt64

	err := scanner.Scan(
		&exec.ID,
		&exec.RuleID,
		&triggeredAt,
		&startedAt,
		&completedAt,
		&subject,
		&status,
		&exec.ActionsTotal,
		&exec.ActionsCompleted,
		&exec.ActionsFailed,
		&exec.ActionsSkipped,
		&failures,
		&commandIDs,
		&duration,
	)
	if err != nil {
		return nil, err
	}

	exec.Status = ExecutionStatus(status)
	exec.TriggerSubject = subject.String
	if exec.TriggeredAt, err = database.ParseTime(triggeredAt); err != nil {
		return nil, err
	}
	if exec.StartedAt, err = database.ScanNullTime(startedAt); err != nil {
		return nil, err
	}
	if exec.CompletedAt, err = database.ScanNullTime(completedAt); err != nil {
		return nil, err
	}
	if duration.Valid {
		d := int(duration.Int64)
		exec.DurationMS = &d
	}
	if failures.Valid && failures.String != "" {
		if err := json.Unmarshal([]byte(failures.String), &exec.Failures); err != nil {
			return nil, fmt.Errorf("decoding failures: %w", err)
		}
	}
	if commandIDs.Valid && commandIDs.String != "" {
		if err := json.Unmarshal([]byte(commandIDs.String), &exec.CommandIDs); err != nil {
			return nil, fmt.Errorf("decoding command ids: %w", err)
		}
	}
	return &exec, nil
}

func marshalRuleJSON(rule *Rule) (actions string, condition sql.NullString, err error) {
	raw, err := json.Marshal(rule.Actions)
	if err != nil {
		return "", sql.NullString{}, fmt.Errorf("marshalling actions: %w", err)
	}
	if rule.Condition != nil {
		c, err := json.Marshal(rule.Condition)
		if err != nil {
			return "", sql.NullString{}, fmt.Errorf("marshalling condition: %w", err)
		}
		condition = sql.NullString{String: string(c), Valid: true}
	}
	return string(raw), condition, nil
}

func marshalExecutionJSON(exec *Execution) (failures, commandIDs sql.NullString, err error) {
	if len(exec.Failures) > 0 {
		raw, err := json.Marshal(exec.Failures)
		if err != nil {
			return failures, commandIDs, fmt.Errorf("marshalling failures: %w", err)
		}
		failures = sql.NullString{String: string(raw), Valid: true}
	}
	if len(exec.CommandIDs) > 0 {
		raw, err := json.Marshal(exec.CommandIDs)
		if err != nil {
			return failures, commandIDs, fmt.Errorf("marshalling command ids: %w", err)
		}
		commandIDs = sql.NullString{String: string(raw), Valid: true}
	}
	return failures, commandIDs, nil
}

func expectOneRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableText(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
