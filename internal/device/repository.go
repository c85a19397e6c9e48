package device

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

// Repository defines the catalog persistence operations.
// This abstraction allows different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	CreateDeviceType(ctx context.Context, dt *DeviceType) error
	GetDeviceTypeByKey(ctx context.Context, key string) (*DeviceType, error)
	CreateSchemaVersion(ctx context.Context, sv *SchemaVersion) error

	// CreateDevice inserts a device. Returns ErrDeviceExists on a uuid clash.
	CreateDevice(ctx context.Context, d *Device) error
	GetDevice(ctx context.Context, id int64) (*Device, error)
	GetDeviceByUUID(ctx context.Context, uuid string) (*Device, error)
	ListDevices(ctx context.Context) ([]Device, error)

	// ListDevicesWithSchema returns devices that have a schema version assigned.
	ListDevicesWithSchema(ctx context.Context) ([]Device, error)
	AssignSchemaVersion(ctx context.Context, deviceID, schemaVersionID int64) error

	// CreateTopic inserts a topic together with its parameters.
	CreateTopic(ctx context.Context, t *Topic) error
	GetTopic(ctx context.Context, id int64) (*Topic, error)
	GetTopicByKey(ctx context.Context, schemaVersionID int64, key string) (*Topic, error)

	// ListTopics returns a schema version's topics with parameters, ordered by sequence.
	ListTopics(ctx context.Context, schemaVersionID int64) ([]Topic, error)

	CreateLink(ctx context.Context, l *Link) error
	ListLinks(ctx context.Context, schemaVersionID int64) ([]Link, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed catalog repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `
	d.id, d.uuid, d.external_id, d.name, d.device_type_id, d.schema_version_id,
	dt.base_topic, d.created_at, d.updated_at`

const topicColumns = `
	id, schema_version_id, key, label, suffix, direction, purpose, retain, qos, sequence`

// CreateDeviceType inserts a device type.
func (r *SQLiteRepository) CreateDeviceType(ctx context.Context, dt *DeviceType) error {
	now := time.Now().UTC()
	dt.CreatedAt, dt.UpdatedAt = now, now

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO device_types (key, name, base_topic, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		dt.Key, dt.Name, nullableString(dt.BaseTopic),
		database.FormatTime(now), database.FormatTime(now),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("device type %q: %w", dt.Key, ErrDeviceExists)
		}
		return fmt.Errorf("inserting device type: %w", err)
	}
	dt.ID, err = res.LastInsertId()
	return err
}

// GetDeviceTypeByKey retrieves a device type by its key.
func (r *SQLiteRepository) GetDeviceTypeByKey(ctx context.Context, key string) (*DeviceType, error) {
	var dt DeviceType
	var baseTopic sql.NullString
	var createdAt, updatedAt string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, key, name, base_topic, created_at, updated_at
		FROM device_types WHERE key = ?`, key,
	).Scan(&dt.ID, &dt.Key, &dt.Name, &baseTopic, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceTypeNotFound
		}
		return nil, fmt.Errorf("querying device type: %w", err)
	}
	dt.BaseTopic = baseTopic.String
	if dt.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if dt.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return &dt, nil
}

// CreateSchemaVersion inserts a schema version for a device type.
func (r *SQLiteRepository) CreateSchemaVersion(ctx context.Context, sv *SchemaVersion) error {
	sv.CreatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO schema_versions (device_type_id, version, created_at)
		VALUES (?, ?, ?)`,
		sv.DeviceTypeID, sv.Version, database.FormatTime(sv.CreatedAt),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return ErrDeviceTypeNotFound
		}
		return fmt.Errorf("inserting schema version: %w", err)
	}
	sv.ID, err = res.LastInsertId()
	return err
}

// CreateDevice inserts a new device.
func (r *SQLiteRepository) CreateDevice(ctx context.Context, d *Device) error {
	if err := ValidateDevice(d); err != nil {
		return err
	}

	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	var schemaVersionID sql.NullInt64
	if d.SchemaVersionID != nil {
		schemaVersionID = sql.NullInt64{Int64: *d.SchemaVersionID, Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (uuid, external_id, name, device_type_id, schema_version_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.UUID,
		nullableString(d.ExternalID),
		d.Name,
		d.DeviceTypeID,
		schemaVersionID,
		database.FormatTime(d.CreatedAt),
		database.FormatTime(d.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		if isForeignKeyError(err) {
			return ErrDeviceTypeNotFound
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	if d.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("reading device id: %w", err)
	}

	// Fill BaseTopic from the type so the returned device resolves subjects.
	var baseTopic sql.NullString
	if err := r.db.QueryRowContext(ctx,
		"SELECT base_topic FROM device_types WHERE id = ?", d.DeviceTypeID,
	).Scan(&baseTopic); err != nil {
		return fmt.Errorf("loading device type base topic: %w", err)
	}
	d.BaseTopic = baseTopic.String
	return nil
}

// GetDevice retrieves a device by id.
func (r *SQLiteRepository) GetDevice(ctx context.Context, id int64) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT`+deviceColumns+`
		FROM devices d JOIN device_types dt ON dt.id = d.device_type_id
		WHERE d.id = ?`, id)
	d, err := scanDeviceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// GetDeviceByUUID retrieves a device by uuid.
func (r *SQLiteRepository) GetDeviceByUUID(ctx context.Context, uuid string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT`+deviceColumns+`
		FROM devices d JOIN device_types dt ON dt.id = d.device_type_id
		WHERE d.uuid = ?`, uuid)
	d, err := scanDeviceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by uuid: %w", err)
	}
	return d, nil
}

// ListDevices retrieves all devices ordered by id.
func (r *SQLiteRepository) ListDevices(ctx context.Context) ([]Device, error) {
	return r.queryDevices(ctx, `
		SELECT`+deviceColumns+`
		FROM devices d JOIN device_types dt ON dt.id = d.device_type_id
		ORDER BY d.id`)
}

// ListDevicesWithSchema retrieves devices that have a schema version.
func (r *SQLiteRepository) ListDevicesWithSchema(ctx context.Context) ([]Device, error) {
	return r.queryDevices(ctx, `
		SELECT`+deviceColumns+`
		FROM devices d JOIN device_types dt ON dt.id = d.device_type_id
		WHERE d.schema_version_id IS NOT NULL
		ORDER BY d.id`)
}

// AssignSchemaVersion points a device at a schema version.
func (r *SQLiteRepository) AssignSchemaVersion(ctx context.Context, deviceID, schemaVersionID int64) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE devices SET schema_version_id = ?, updated_at = ? WHERE id = ?",
		schemaVersionID, database.FormatTime(time.Now()), deviceID,
	)
	if err != nil {
		if isForeignKeyError(err) {
			return ErrSchemaVersionNotFound
		}
		return fmt.Errorf("assigning schema version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports rows affected
		return ErrDeviceNotFound
	}
	return nil
}

// CreateTopic inserts a topic and its parameters in one transaction.
func (r *SQLiteRepository) CreateTopic(ctx context.Context, t *Topic) error {
	if err := ValidateTopic(t); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	res, err := tx.ExecContext(ctx, `
		INSERT INTO schema_topics (schema_version_id, key, label, suffix, direction, purpose, retain, qos, sequence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.SchemaVersionID, t.Key, t.Label, strings.Trim(t.Suffix, "/"), string(t.Direction),
		nullableString(string(t.Purpose)), boolToInt(t.Retain), t.QoS, t.Sequence,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrTopicExists
		}
		if isForeignKeyError(err) {
			return ErrSchemaVersionNotFound
		}
		return fmt.Errorf("inserting topic: %w", err)
	}
	if t.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("reading topic id: %w", err)
	}

	for i := range t.Parameters {
		p := &t.Parameters[i]
		p.TopicID = t.ID
		if err := insertParameter(ctx, tx, p); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing topic: %w", err)
	}
	return nil
}

func insertParameter(ctx context.Context, tx *sql.Tx, p *Parameter) error {
	var defaultJSON sql.NullString
	if p.Default != nil {
		b, err := json.Marshal(p.Default)
		if err != nil {
			return fmt.Errorf("marshalling default for %s: %w", p.Key, err)
		}
		defaultJSON = sql.NullString{String: string(b), Valid: true}
	}

	var rulesJSON sql.NullString
	if !p.Rules.IsZero() {
		b, err := json.Marshal(p.Rules)
		if err != nil {
			return fmt.Errorf("marshalling rules for %s: %w", p.Key, err)
		}
		rulesJSON = sql.NullString{String: string(b), Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO topic_parameters (topic_id, key, label, type, json_path, default_value, validation_rules, is_active, sequence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.TopicID, p.Key, p.Label, string(p.Type), nullableString(p.JSONPath),
		defaultJSON, rulesJSON, boolToInt(p.Active), p.Sequence,
	)
	if err != nil {
		return fmt.Errorf("inserting parameter %s: %w", p.Key, err)
	}
	p.ID, err = res.LastInsertId()
	return err
}

// GetTopic retrieves a topic and its parameters by id.
func (r *SQLiteRepository) GetTopic(ctx context.Context, id int64) (*Topic, error) {
	t, err := scanTopicRow(r.db.QueryRowContext(ctx,
		"SELECT"+topicColumns+" FROM schema_topics WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTopicNotFound
		}
		return nil, fmt.Errorf("querying topic: %w", err)
	}
	if err := r.attachParameters(ctx, []*Topic{t}); err != nil {
		return nil, err
	}
	return t, nil
}

// GetTopicByKey retrieves a topic of a schema version by its key.
func (r *SQLiteRepository) GetTopicByKey(ctx context.Context, schemaVersionID int64, key string) (*Topic, error) {
	t, err := scanTopicRow(r.db.QueryRowContext(ctx,
		"SELECT"+topicColumns+" FROM schema_topics WHERE schema_version_id = ? AND key = ?",
		schemaVersionID, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTopicNotFound
		}
		return nil, fmt.Errorf("querying topic: %w", err)
	}
	if err := r.attachParameters(ctx, []*Topic{t}); err != nil {
		return nil, err
	}
	return t, nil
}

// ListTopics returns every topic of a schema version, ordered by sequence then id.
func (r *SQLiteRepository) ListTopics(ctx context.Context, schemaVersionID int64) ([]Topic, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT"+topicColumns+" FROM schema_topics WHERE schema_version_id = ? ORDER BY sequence, id",
		schemaVersionID)
	if err != nil {
		return nil, fmt.Errorf("querying topics: %w", err)
	}
	defer rows.Close()

	var topics []*Topic
	for rows.Next() {
		t, err := scanTopicRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning topic: %w", err)
		}
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating topics: %w", err)
	}
	rows.Close() //nolint:errcheck,sqlclosecheck // release the single connection before the next query

	if err := r.attachParameters(ctx, topics); err != nil {
		return nil, err
	}

	result := make([]Topic, len(topics))
	for i, t := range topics {
		result[i] = *t
	}
	return result, nil
}

// attachParameters loads parameters for the given topics, ordered by sequence.
func (r *SQLiteRepository) attachParameters(ctx context.Context, topics []*Topic) error {
	if len(topics) == 0 {
		return nil
	}

	byID := make(map[int64]*Topic, len(topics))
	placeholders := make([]string, 0, len(topics))
	args := make([]any, 0, len(topics))
	for _, t := range topics {
		byID[t.ID] = t
		placeholders = append(placeholders, "?")
		args = append(args, t.ID)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, topic_id, key, label, type, json_path, default_value, validation_rules, is_active, sequence
		FROM topic_parameters
		WHERE topic_id IN (`+strings.Join(placeholders, ",")+`)
		ORDER BY sequence, id`, args...)
	if err != nil {
		return fmt.Errorf("querying parameters: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p Parameter
		var dataType string
		var jsonPath, defaultJSON, rulesJSON sql.NullString
		var active int
		if err := rows.Scan(&p.ID, &p.TopicID, &p.Key, &p.Label, &dataType, &jsonPath,
			&defaultJSON, &rulesJSON, &active, &p.Sequence); err != nil {
			return fmt.Errorf("scanning parameter: %w", err)
		}
		p.Type = DataType(dataType)
		p.JSONPath = jsonPath.String
		p.Active = active != 0
		if defaultJSON.Valid && defaultJSON.String != "" {
			if err := json.Unmarshal([]byte(defaultJSON.String), &p.Default); err != nil {
				return fmt.Errorf("unmarshalling default for %s: %w", p.Key, err)
			}
		}
		if rulesJSON.Valid && rulesJSON.String != "" {
			if err := json.Unmarshal([]byte(rulesJSON.String), &p.Rules); err != nil {
				return fmt.Errorf("unmarshalling rules for %s: %w", p.Key, err)
			}
		}
		t := byID[p.TopicID]
		t.Parameters = append(t.Parameters, p)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating parameters: %w", err)
	}
	return nil
}

// CreateLink inserts a feedback link after checking both ends.
func (r *SQLiteRepository) CreateLink(ctx context.Context, l *Link) error {
	from, err := r.GetTopic(ctx, l.FromTopicID)
	if err != nil {
		return fmt.Errorf("loading link source: %w", err)
	}
	to, err := r.GetTopic(ctx, l.ToTopicID)
	if err != nil {
		return fmt.Errorf("loading link target: %w", err)
	}
	if err := ValidateLink(*l, from, to); err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO schema_topic_links (from_topic_id, to_topic_id, link_type, created_at)
		VALUES (?, ?, ?, ?)`,
		l.FromTopicID, l.ToTopicID, string(l.Type), database.FormatTime(time.Now()),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrLinkExists
		}
		return fmt.Errorf("inserting link: %w", err)
	}
	l.ID, err = res.LastInsertId()
	return err
}

// ListLinks returns the feedback links whose source topic belongs to a schema version.
func (r *SQLiteRepository) ListLinks(ctx context.Context, schemaVersionID int64) ([]Link, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT l.id, l.from_topic_id, l.to_topic_id, l.link_type
		FROM schema_topic_links l
		JOIN schema_topics t ON t.id = l.from_topic_id
		WHERE t.schema_version_id = ?
		ORDER BY l.id`, schemaVersionID)
	if err != nil {
		return nil, fmt.Errorf("querying links: %w", err)
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		var l Link
		var linkType string
		if err := rows.Scan(&l.ID, &l.FromTopicID, &l.ToTopicID, &linkType); err != nil {
			return nil, fmt.Errorf("scanning link: %w", err)
		}
		l.Type = LinkType(linkType)
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating links: %w", err)
	}
	return links, nil
}

func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDeviceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeviceRow(scanner rowScanner) (*Device, error) {
	var d Device
	var externalID, baseTopic sql.NullString
	var schemaVersionID sql.NullInt64
	var createdAt, updatedAt string

	if err := scanner.Scan(
		&d.ID, &d.UUID, &externalID, &d.Name, &d.DeviceTypeID, &schemaVersionID,
		&baseTopic, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	d.ExternalID = externalID.String
	d.BaseTopic = baseTopic.String
	if schemaVersionID.Valid {
		id := schemaVersionID.Int64
		d.SchemaVersionID = &id
	}

	var err error
	if d.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &d, nil
}

func scanTopicRow(scanner rowScanner) (*Topic, error) {
	var t Topic
	var direction string
	var purpose sql.NullString
	var retain int
	if err := scanner.Scan(&t.ID, &t.SchemaVersionID, &t.Key, &t.Label, &t.Suffix,
		&direction, &purpose, &retain, &t.QoS, &t.Sequence); err != nil {
		return nil, err
	}
	t.Direction = Direction(direction)
	t.Purpose = Purpose(purpose.String)
	t.Retain = retain != 0
	return &t, nil
}

// nullableString stores empty strings as NULL.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isForeignKeyError checks if an error is a SQLite foreign key violation.
func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
