package command

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

// inFlightSQL is the status filter shared by every conditional update.
const inFlightSQL = "('pending', 'sent', 'acknowledged')"

const commandColumns = `
	id, correlation_id, device_id, topic_id, user_id, command_payload,
	response_payload, response_topic_id, status, error_message,
	created_at, sent_at, acknowledged_at, completed_at, updated_at`

const expiredColumns = `
	c.id, c.correlation_id, c.device_id, c.topic_id, c.user_id, c.command_payload,
	c.response_payload, c.response_topic_id, c.status, c.error_message,
	c.created_at, c.sent_at, c.acknowledged_at, c.completed_at, c.updated_at,
	d.uuid, d.external_id, t.key`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed command repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// CreateWithDesiredState inserts the command and upserts the desired state.
func (r *SQLiteRepository) CreateWithDesiredState(ctx context.Context, cmd *Command) error {
	payloadJSON, err := marshalPayload(cmd.Payload)
	if err != nil {
		return err
	}

	if cmd.Status == "" {
		cmd.Status = StatusPending
	}
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now().UTC()
	}
	cmd.UpdatedAt = cmd.CreatedAt
	at := database.FormatTime(cmd.CreatedAt)

	var userID sql.NullInt64
	if cmd.UserID != nil {
		userID = sql.NullInt64{Int64: *cmd.UserID, Valid: true}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	res, err := tx.ExecContext(ctx, `
		INSERT INTO device_commands (correlation_id, device_id, topic_id, user_id, command_payload,
			status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableString(cmd.CorrelationID), cmd.DeviceID, cmd.TopicID, userID, payloadJSON,
		string(cmd.Status), at, at,
	)
	if err != nil {
		return fmt.Errorf("inserting command: %w", err)
	}
	if cmd.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("reading command id: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO device_desired_topic_states (device_id, topic_id, desired_payload, correlation_id,
			reconciled_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, NULL, ?, ?)
		ON CONFLICT (device_id, topic_id) DO UPDATE SET
			desired_payload = excluded.desired_payload,
			correlation_id = excluded.correlation_id,
			reconciled_at = NULL,
			updated_at = excluded.updated_at`,
		cmd.DeviceID, cmd.TopicID, payloadJSON, nullableString(cmd.CorrelationID), at, at,
	)
	if err != nil {
		return fmt.Errorf("upserting desired state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing command: %w", err)
	}
	return nil
}

// Get retrieves a command by id.
func (r *SQLiteRepository) Get(ctx context.Context, id int64) (*Command, error) {
	cmd, err := scanCommand(r.db.QueryRowContext(ctx,
		"SELECT"+commandColumns+" FROM device_commands WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCommandNotFound
		}
		return nil, fmt.Errorf("querying command: %w", err)
	}
	return cmd, nil
}

// ListByDevice returns a device's most recent commands, newest first.
func (r *SQLiteRepository) ListByDevice(ctx context.Context, deviceID int64, limit int) ([]Command, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.queryCommands(ctx,
		"SELECT"+commandColumns+" FROM device_commands WHERE device_id = ? ORDER BY id DESC LIMIT ?",
		deviceID, limit)
}

// MarkSent records the publish time and promotes a pending command to sent.
func (r *SQLiteRepository) MarkSent(ctx context.Context, id int64, at time.Time) (bool, error) {
	ts := database.FormatTime(at)
	return r.execConditional(ctx, `
		UPDATE device_commands
		SET status = CASE WHEN status = 'pending' THEN 'sent' ELSE status END,
			sent_at = COALESCE(sent_at, ?),
			updated_at = ?
		WHERE id = ? AND status IN `+inFlightSQL,
		ts, ts, id)
}

// MarkFailed fails a pending command.
func (r *SQLiteRepository) MarkFailed(ctx context.Context, id int64, message string, at time.Time) (bool, error) {
	return r.execConditional(ctx, `
		UPDATE device_commands
		SET status = 'failed', error_message = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		message, database.FormatTime(at), id)
}

// FindByCorrelation returns the newest in-flight command with the correlation id.
func (r *SQLiteRepository) FindByCorrelation(ctx context.Context, deviceID int64, correlationID string) (*Command, error) {
	cmd, err := scanCommand(r.db.QueryRowContext(ctx, `
		SELECT`+commandColumns+`
		FROM device_commands
		WHERE device_id = ? AND correlation_id = ? AND status IN `+inFlightSQL+`
		ORDER BY id DESC
		LIMIT 1`,
		deviceID, correlationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying command by correlation: %w", err)
	}
	return cmd, nil
}

// FindCandidates returns recent in-flight commands for heuristic matching.
func (r *SQLiteRepository) FindCandidates(ctx context.Context, deviceID int64, topicIDs []int64, since time.Time, limit int) ([]Command, error) {
	query := "SELECT" + commandColumns + `
		FROM device_commands
		WHERE device_id = ? AND status IN ` + inFlightSQL + ` AND created_at >= ?`
	args := []any{deviceID, database.FormatTime(since)}

	if topicIDs != nil {
		if len(topicIDs) == 0 {
			return nil, nil
		}
		placeholders := make([]string, len(topicIDs))
		for i, id := range topicIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		query += " AND topic_id IN (" + strings.Join(placeholders, ",") + ")"
	}

	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	return r.queryCommands(ctx, query, args...)
}

// ApplyFeedback stores the response and moves the command to fb.Status.
// acknowledged_at keeps an existing value; completed_at is only written
// when the new status is completed.
func (r *SQLiteRepository) ApplyFeedback(ctx context.Context, id int64, fb Feedback) (bool, error) {
	responseJSON, err := marshalPayload(fb.ResponsePayload)
	if err != nil {
		return false, err
	}

	ts := database.FormatTime(fb.At)
	var completedAt sql.NullString
	if fb.Status == StatusCompleted {
		completedAt = sql.NullString{String: ts, Valid: true}
	}

	return r.execConditional(ctx, `
		UPDATE device_commands
		SET status = ?,
			acknowledged_at = COALESCE(acknowledged_at, ?),
			completed_at = COALESCE(?, completed_at),
			response_payload = ?,
			response_topic_id = ?,
			updated_at = ?
		WHERE id = ? AND status IN `+inFlightSQL,
		string(fb.Status), ts, completedAt, responseJSON, fb.ResponseTopicID, ts, id)
}

// ListExpired returns in-flight commands that reached the cutoff, joined
// with the device uuid and topic key.
func (r *SQLiteRepository) ListExpired(ctx context.Context, cutoff time.Time, afterID int64, limit int) ([]ExpiredCommand, error) {
	ts := database.FormatTime(cutoff)
	rows, err := r.db.QueryContext(ctx, `
		SELECT`+expiredColumns+`
		FROM device_commands c
		JOIN devices d ON d.id = c.device_id
		JOIN schema_topics t ON t.id = c.topic_id
		WHERE c.status IN `+inFlightSQL+`
			AND c.id > ?
			AND ((c.sent_at IS NOT NULL AND c.sent_at <= ?) OR (c.sent_at IS NULL AND c.created_at <= ?))
		ORDER BY c.id
		LIMIT ?`,
		afterID, ts, ts, limit)
	if err != nil {
		return nil, fmt.Errorf("querying expired commands: %w", err)
	}
	defer rows.Close()

	var expired []ExpiredCommand
	for rows.Next() {
		var uuid, topicKey string
		var externalID sql.NullString
		cmd, err := scanCommand(extraScanner{rows, []any{&uuid, &externalID, &topicKey}})
		if err != nil {
			return nil, fmt.Errorf("scanning expired command: %w", err)
		}
		expired = append(expired, ExpiredCommand{
			Command:          *cmd,
			DeviceUUID:       uuid,
			DeviceExternalID: externalID.String,
			TopicKey:         topicKey,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating expired commands: %w", err)
	}
	return expired, nil
}

// MarkTimedOut moves an in-flight command to timeout.
func (r *SQLiteRepository) MarkTimedOut(ctx context.Context, id int64, message string, at time.Time) (bool, error) {
	return r.execConditional(ctx, `
		UPDATE device_commands
		SET status = 'timeout',
			error_message = COALESCE(NULLIF(error_message, ''), ?),
			updated_at = ?
		WHERE id = ? AND status IN `+inFlightSQL,
		message, database.FormatTime(at), id)
}

// GetDesiredState returns the desired state for a device topic.
func (r *SQLiteRepository) GetDesiredState(ctx context.Context, deviceID, topicID int64) (*DesiredTopicState, error) {
	var s DesiredTopicState
	var payloadJSON string
	var correlationID, reconciledAt sql.NullString
	var createdAt, updatedAt string

	err := r.db.QueryRowContext(ctx, `
		SELECT device_id, topic_id, desired_payload, correlation_id, reconciled_at, created_at, updated_at
		FROM device_desired_topic_states
		WHERE device_id = ? AND topic_id = ?`,
		deviceID, topicID,
	).Scan(&s.DeviceID, &s.TopicID, &payloadJSON, &correlationID, &reconciledAt, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDesiredStateNotFound
		}
		return nil, fmt.Errorf("querying desired state: %w", err)
	}

	if s.DesiredPayload, err = unmarshalPayload(payloadJSON); err != nil {
		return nil, err
	}
	s.CorrelationID = correlationID.String
	if s.ReconciledAt, err = database.ScanNullTime(reconciledAt); err != nil {
		return nil, err
	}
	if s.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

// ReconcileDesiredState marks a desired state as reached.
func (r *SQLiteRepository) ReconcileDesiredState(ctx context.Context, deviceID, topicID int64, correlationID string, at time.Time) (bool, error) {
	ts := database.FormatTime(at)
	query := `
		UPDATE device_desired_topic_states
		SET reconciled_at = ?, updated_at = ?
		WHERE device_id = ? AND topic_id = ?`
	args := []any{ts, ts, deviceID, topicID}
	if correlationID != "" {
		query += " AND correlation_id = ?"
		args = append(args, correlationID)
	}
	return r.execConditional(ctx, query, args...)
}

func (r *SQLiteRepository) execConditional(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("updating command: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) queryCommands(ctx context.Context, query string, args ...any) ([]Command, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	defer rows.Close()

	var commands []Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning command: %w", err)
		}
		commands = append(commands, *cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating commands: %w", err)
	}
	return commands, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// extraScanner appends destinations for columns selected after the
// command columns.
type extraScanner struct {
	rows  rowScanner
	extra []any
}

func (s extraScanner) Scan(dest ...any) error {
	return s.rows.Scan(append(dest, s.extra...)...)
}

func scanCommand(scanner rowScanner) (*Command, error) {
	var cmd Command
	var correlationID, responseJSON, errorMessage sql.NullString
	var userID, responseTopicID sql.NullInt64
	var payloadJSON, status, createdAt, updatedAt string
	var sentAt, acknowledgedAt, completedAt sql.NullString

	if err := scanner.Scan(
		&cmd.ID, &correlationID, &cmd.DeviceID, &cmd.TopicID, &userID, &payloadJSON,
		&responseJSON, &responseTopicID, &status, &errorMessage,
		&createdAt, &sentAt, &acknowledgedAt, &completedAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	cmd.CorrelationID = correlationID.String
	cmd.Status = Status(status)
	cmd.ErrorMessage = errorMessage.String
	if userID.Valid {
		id := userID.Int64
		cmd.UserID = &id
	}
	if responseTopicID.Valid {
		id := responseTopicID.Int64
		cmd.ResponseTopicID = &id
	}

	var err error
	if cmd.Payload, err = unmarshalPayload(payloadJSON); err != nil {
		return nil, err
	}
	if responseJSON.Valid {
		if cmd.ResponsePayload, err = unmarshalPayload(responseJSON.String); err != nil {
			return nil, err
		}
	}
	if cmd.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if cmd.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	if cmd.SentAt, err = database.ScanNullTime(sentAt); err != nil {
		return nil, err
	}
	if cmd.AcknowledgedAt, err = database.ScanNullTime(acknowledgedAt); err != nil {
		return nil, err
	}
	if cmd.CompletedAt, err = database.ScanNullTime(completedAt); err != nil {
		return nil, err
	}
	return &cmd, nil
}

func marshalPayload(p map[string]any) (string, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshalling payload: %w", err)
	}
	return string(b), nil
}

func unmarshalPayload(s string) (map[string]any, error) {
	if s == "" {
		return map[string]any{}, nil
	}
	var p map[string]any
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("unmarshalling payload: %w", err)
	}
	if p == nil {
		p = map[string]any{}
	}
	return p, nil
}

// nullableString stores empty strings as NULL.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
