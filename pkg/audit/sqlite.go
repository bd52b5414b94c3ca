package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteConfig contains configuration for the SQLite audit trail.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// WALMode enables Write-Ahead Logging mode for better concurrency.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:        "data/audit.db",
		WALMode:     true,
		BusyTimeout: 5 * time.Second,
	}
}

// SQLiteTrail implements Trail using SQLite.
type SQLiteTrail struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_records (
	id TEXT PRIMARY KEY,
	event_id TEXT NOT NULL DEFAULT '',
	entity_id TEXT NOT NULL DEFAULT '',
	actor TEXT NOT NULL,
	device TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	old_value TEXT,
	new_value TEXT,
	timestamp TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_records(entity_id, timestamp);
`

// NewSQLiteTrail creates a new SQLite audit trail.
func NewSQLiteTrail(config *SQLiteConfig) (*SQLiteTrail, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}

	logger := slog.Default().With("component", "audit.sqlite")

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, NewStorageError("sqlite", "open", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	t := &SQLiteTrail{db: db, config: config, logger: logger}

	if err := t.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite audit trail initialized", "path", config.Path)

	return t, nil
}

// initialize sets up the database schema and enables WAL mode.
func (t *SQLiteTrail) initialize() error {
	if t.config.WALMode {
		if _, err := t.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return NewStorageError("sqlite", "enable_wal", err)
		}
	}

	busyTimeoutMs := t.config.BusyTimeout.Milliseconds()
	if _, err := t.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeoutMs)); err != nil {
		return NewStorageError("sqlite", "set_busy_timeout", err)
	}

	if _, err := t.db.Exec(auditSchema); err != nil {
		return NewStorageError("sqlite", "create_schema", err)
	}

	return nil
}

// Append persists a new audit record.
func (t *SQLiteTrail) Append(ctx context.Context, record *Record) error {
	if record.Actor == "" {
		return NewStorageError("sqlite", "append", fmt.Errorf("audit record actor must not be empty"))
	}

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	_, err := t.db.ExecContext(ctx, `
		INSERT INTO audit_records (id, event_id, entity_id, actor, device, action, old_value, new_value, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, record.ID, record.EventID, record.EntityID, record.Actor, record.Device, string(record.Action),
		nullableJSON(record.OldValue), nullableJSON(record.NewValue),
		record.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return NewStorageError("sqlite", "append", err)
	}
	return nil
}

// List returns records in chronological order, newest last. A positive
// limit keeps only the most recent records.
func (t *SQLiteTrail) List(ctx context.Context, limit int) ([]*Record, error) {
	if limit > 0 {
		records, err := t.query(ctx, `
			SELECT id, event_id, entity_id, actor, device, action, old_value, new_value, timestamp
			FROM audit_records ORDER BY timestamp DESC, id DESC LIMIT ?
		`, limit)
		if err != nil {
			return nil, err
		}
		reverse(records)
		return records, nil
	}
	return t.query(ctx, `
		SELECT id, event_id, entity_id, actor, device, action, old_value, new_value, timestamp
		FROM audit_records ORDER BY timestamp, id
	`)
}

// ListByEntity returns records whose snapshots concern the entity.
func (t *SQLiteTrail) ListByEntity(ctx context.Context, entityID string, limit int) ([]*Record, error) {
	if limit > 0 {
		records, err := t.query(ctx, `
			SELECT id, event_id, entity_id, actor, device, action, old_value, new_value, timestamp
			FROM audit_records WHERE entity_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?
		`, entityID, limit)
		if err != nil {
			return nil, err
		}
		reverse(records)
		return records, nil
	}
	return t.query(ctx, `
		SELECT id, event_id, entity_id, actor, device, action, old_value, new_value, timestamp
		FROM audit_records WHERE entity_id = ? ORDER BY timestamp, id
	`, entityID)
}

func (t *SQLiteTrail) query(ctx context.Context, query string, args ...any) ([]*Record, error) {
	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewStorageError("sqlite", "list", err)
	}
	defer rows.Close()

	results := []*Record{}
	for rows.Next() {
		var r Record
		var action, timestamp string
		var oldValue, newValue sql.NullString

		err := rows.Scan(&r.ID, &r.EventID, &r.EntityID, &r.Actor, &r.Device, &action,
			&oldValue, &newValue, &timestamp)
		if err != nil {
			return nil, NewStorageError("sqlite", "scan", err)
		}

		r.Action = Action(action)
		if oldValue.Valid {
			r.OldValue = []byte(oldValue.String)
		}
		if newValue.Valid {
			r.NewValue = []byte(newValue.String)
		}
		if r.Timestamp, err = time.Parse(time.RFC3339Nano, timestamp); err != nil {
			return nil, NewStorageError("sqlite", "scan", err)
		}

		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("sqlite", "list", err)
	}
	return results, nil
}

// Close releases resources held by the trail.
func (t *SQLiteTrail) Close() error {
	if err := t.db.Close(); err != nil {
		return NewStorageError("sqlite", "close", err)
	}
	t.logger.Info("SQLite audit trail closed")
	return nil
}

func reverse(records []*Record) {
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
