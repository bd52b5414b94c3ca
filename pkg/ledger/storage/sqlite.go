package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"castellan-hq/portcullis/pkg/ledger"
	"castellan-hq/portcullis/pkg/policy"
)

// SQLiteConfig contains configuration for the SQLite ledger backend.
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
		Path:        "data/ledger.db",
		WALMode:     true,
		BusyTimeout: 5 * time.Second,
	}
}

// SQLiteStorage implements ledger.Storage using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS ledger_events (
	seq INTEGER PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	entity_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	context TEXT NOT NULL,
	decision TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	event_hash TEXT NOT NULL,
	previous_event_hash TEXT NOT NULL,
	receipt TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_ledger_entity_kind ON ledger_events(entity_id, kind, timestamp);
`

// NewSQLiteStorage creates a new SQLite ledger backend.
// It initializes the database schema and enables WAL mode if configured.
func NewSQLiteStorage(config *SQLiteConfig) (*SQLiteStorage, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}

	logger := slog.Default().With("component", "ledger.storage.sqlite")

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, ledger.NewStorageError("sqlite", "open", err)
	}

	// One writer keeps the chain serial at the storage layer too.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStorage{db: db, config: config, logger: logger}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite ledger storage initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
	)

	return s, nil
}

// initialize sets up the database schema and enables WAL mode.
func (s *SQLiteStorage) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return ledger.NewStorageError("sqlite", "enable_wal", err)
		}
	}

	busyTimeoutMs := s.config.BusyTimeout.Milliseconds()
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeoutMs)); err != nil {
		return ledger.NewStorageError("sqlite", "set_busy_timeout", err)
	}

	if _, err := s.db.Exec(ledgerSchema); err != nil {
		return ledger.NewStorageError("sqlite", "create_schema", err)
	}

	return nil
}

// Append persists a sealed event. The seq primary key rejects forks.
func (s *SQLiteStorage) Append(ctx context.Context, event *ledger.Event) error {
	reqCtx, err := json.Marshal(event.Context)
	if err != nil {
		return ledger.NewStorageError("sqlite", "append", err)
	}
	decision, err := json.Marshal(event.Decision)
	if err != nil {
		return ledger.NewStorageError("sqlite", "append", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ledger_events (seq, id, entity_id, kind, context, decision, timestamp, event_hash, previous_event_hash, receipt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, event.Seq, event.ID, event.EntityID, string(event.Kind), string(reqCtx), string(decision),
		event.Timestamp.UTC().Format(time.RFC3339Nano), event.EventHash, event.PreviousEventHash, event.Receipt)
	if err != nil {
		return ledger.NewStorageError("sqlite", "append", err)
	}
	return nil
}

// Last returns the most recent event, or ledger.ErrEmpty.
func (s *SQLiteStorage) Last(ctx context.Context) (*ledger.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, id, entity_id, kind, context, decision, timestamp, event_hash, previous_event_hash, receipt
		FROM ledger_events ORDER BY seq DESC LIMIT 1
	`)

	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrEmpty
	}
	if err != nil {
		return nil, ledger.NewStorageError("sqlite", "last", err)
	}
	return event, nil
}

// All returns every event in sequence order.
func (s *SQLiteStorage) All(ctx context.Context) ([]*ledger.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, entity_id, kind, context, decision, timestamp, event_hash, previous_event_hash, receipt
		FROM ledger_events ORDER BY seq
	`)
	if err != nil {
		return nil, ledger.NewStorageError("sqlite", "all", err)
	}
	defer rows.Close()

	events := []*ledger.Event{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, ledger.NewStorageError("sqlite", "scan", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.NewStorageError("sqlite", "all", err)
	}
	return events, nil
}

// Count returns the number of events.
func (s *SQLiteStorage) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_events`).Scan(&count)
	if err != nil {
		return 0, ledger.NewStorageError("sqlite", "count", err)
	}
	return count, nil
}

// CountEntries returns the number of "entry" events for the entity at
// or after the given instant.
func (s *SQLiteStorage) CountEntries(ctx context.Context, entityID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ledger_events
		WHERE entity_id = ? AND kind = ? AND timestamp >= ?
	`, entityID, string(ledger.KindEntry), since.UTC().Format(time.RFC3339Nano)).Scan(&count)
	if err != nil {
		return 0, ledger.NewStorageError("sqlite", "count_entries", err)
	}
	return count, nil
}

// SetReceipt attaches a notarization receipt to an existing event.
func (s *SQLiteStorage) SetReceipt(ctx context.Context, eventID, receipt string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE ledger_events SET receipt = ? WHERE id = ?`, receipt, eventID)
	if err != nil {
		return ledger.NewStorageError("sqlite", "set_receipt", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return ledger.NewStorageError("sqlite", "set_receipt", err)
	}
	if affected == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

// Close releases resources held by the storage backend.
func (s *SQLiteStorage) Close() error {
	if err := s.db.Close(); err != nil {
		return ledger.NewStorageError("sqlite", "close", err)
	}
	s.logger.Info("SQLite ledger storage closed")
	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanEvent scans a database row into an Event.
func scanEvent(row rowScanner) (*ledger.Event, error) {
	var event ledger.Event
	var kind, reqCtx, decision, timestamp string

	err := row.Scan(&event.Seq, &event.ID, &event.EntityID, &kind, &reqCtx, &decision,
		&timestamp, &event.EventHash, &event.PreviousEventHash, &event.Receipt)
	if err != nil {
		return nil, err
	}

	event.Kind = ledger.Kind(kind)

	if err := json.Unmarshal([]byte(reqCtx), &event.Context); err != nil {
		return nil, fmt.Errorf("failed to decode context for event %s: %w", event.ID, err)
	}
	var dec policy.Decision
	if err := json.Unmarshal([]byte(decision), &dec); err != nil {
		return nil, fmt.Errorf("failed to decode decision for event %s: %w", event.ID, err)
	}
	event.Decision = dec

	if event.Timestamp, err = time.Parse(time.RFC3339Nano, timestamp); err != nil {
		return nil, fmt.Errorf("failed to parse timestamp for event %s: %w", event.ID, err)
	}

	return &event, nil
}
