package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/database"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// SQLite stores records in the device_topic_states table.
//
// Every Store appends a row. Rows beyond keep per device subject are pruned
// in the same transaction, so keep = 1 holds only the latest value.
type SQLite struct {
	db   *sql.DB
	keep int
	now  func() time.Time
}

var _ Store = (*SQLite)(nil)

// NewSQLite creates a store. historyLimit is the number of rows kept per
// device subject; values below 1 keep only the latest.
func NewSQLite(db *sql.DB, historyLimit int) *SQLite {
	return &SQLite{db: db, keep: max(historyLimit, 1), now: time.Now}
}

// Store appends a record and prunes the subject's history.
func (s *SQLite) Store(ctx context.Context, deviceUUID, subject string, payload map[string]any) error {
	if err := validate(deviceUUID, subject); err != nil {
		return err
	}

	rec := newRecord(subject, payload, s.now())
	data, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("encoding state payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning state transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO device_topic_states (device_uuid, subject, payload, stored_at)
		 VALUES (?, ?, ?, ?)`,
		deviceUUID, subject, string(data), database.FormatTime(rec.StoredAt),
	); err != nil {
		return fmt.Errorf("inserting state for %s: %w", subject, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM device_topic_states
		 WHERE device_uuid = ? AND subject = ?
		   AND id NOT IN (
		     SELECT id FROM device_topic_states
		     WHERE device_uuid = ? AND subject = ?
		     ORDER BY id DESC
		     LIMIT ?
		   )`,
		deviceUUID, subject, deviceUUID, subject, s.keep,
	); err != nil {
		return fmt.Errorf("pruning state history for %s: %w", subject, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing state for %s: %w", subject, err)
	}
	return nil
}

// StateByTopic returns the latest record for subject, or nil.
func (s *SQLite) StateByTopic(ctx context.Context, deviceUUID, subject string) (*Record, error) {
	if err := validate(deviceUUID, subject); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT subject, payload, stored_at FROM device_topic_states
		 WHERE device_uuid = ? AND subject = ?
		 ORDER BY id DESC
		 LIMIT 1`,
		deviceUUID, subject,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// AllStates returns the latest record of every subject, newest first.
func (s *SQLite) AllStates(ctx context.Context, deviceUUID string) ([]Record, error) {
	if deviceUUID == "" {
		return nil, ErrDeviceRequired
	}

	return s.query(ctx,
		`SELECT s.subject, s.payload, s.stored_at FROM device_topic_states s
		 WHERE s.device_uuid = ?
		   AND s.id = (
		     SELECT MAX(id) FROM device_topic_states
		     WHERE device_uuid = s.device_uuid AND subject = s.subject
		   )
		 ORDER BY s.stored_at DESC, s.subject ASC`,
		deviceUUID,
	)
}

// LastState returns the newest record for the device, or nil.
func (s *SQLite) LastState(ctx context.Context, deviceUUID string) (*Record, error) {
	if deviceUUID == "" {
		return nil, ErrDeviceRequired
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT subject, payload, stored_at FROM device_topic_states
		 WHERE device_uuid = ?
		 ORDER BY stored_at DESC, id DESC
		 LIMIT 1`,
		deviceUUID,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// History returns up to limit records for one subject, newest first.
// limit defaults to 50 and is capped at 200.
func (s *SQLite) History(ctx context.Context, deviceUUID, subject string, limit int) ([]Record, error) {
	if err := validate(deviceUUID, subject); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	return s.query(ctx,
		`SELECT subject, payload, stored_at FROM device_topic_states
		 WHERE device_uuid = ? AND subject = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		deviceUUID, subject, limit,
	)
}

func (s *SQLite) query(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying device states: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device states: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec      Record
		payload  string
		storedAt string
	)
	if err := row.Scan(&rec.Topic, &payload, &storedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning device state: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
		return nil, fmt.Errorf("decoding payload for %s: %w", rec.Topic, err)
	}
	at, err := database.ParseTime(storedAt)
	if err != nil {
		return nil, err
	}
	rec.StoredAt = at
	return &rec, nil
}
