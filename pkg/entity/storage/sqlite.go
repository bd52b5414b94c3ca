package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"castellan-hq/portcullis/pkg/entity"
)

// SQLiteConfig contains configuration for the SQLite entity store.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:        "data/entities.db",
		BusyTimeout: 5 * time.Second,
	}
}

// SQLiteStore implements entity.Store using SQLite.
//
// Updates are serialized per store through a mutex so the optimistic hash
// check and the row write form one critical section. SQLite only supports a
// single writer, so the connection pool is capped at one connection.
type SQLiteStore struct {
	db     *sql.DB
	config *SQLiteConfig
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time
}

const entitySchema = `
CREATE TABLE IF NOT EXISTS entities (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	attributes TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	previous_hash TEXT NOT NULL DEFAULT '',
	lifecycle_state TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type);
CREATE INDEX IF NOT EXISTS idx_entities_state ON entities(lifecycle_state);
`

// NewSQLiteStore creates a new SQLite entity store.
// It initializes the schema and enables WAL mode.
func NewSQLiteStore(config *SQLiteConfig) (*SQLiteStore, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}

	logger := slog.Default().With("component", "entity.storage.sqlite")

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		config.Path, int(config.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, entity.NewStorageError("sqlite", "open", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:     db,
		config: config,
		logger: logger,
		now:    time.Now,
	}

	if _, err := db.Exec(entitySchema); err != nil {
		db.Close()
		return nil, entity.NewStorageError("sqlite", "create_schema", err)
	}

	logger.Info("SQLite entity store initialized", "path", config.Path)

	return s, nil
}

// Create persists a new entity built from the type and attribute bag.
func (s *SQLiteStore) Create(ctx context.Context, typ entity.Type, attributes map[string]any) (*entity.Entity, error) {
	e, err := entity.New(typ, attributes, s.now())
	if err != nil {
		return nil, err
	}

	attrs, err := json.Marshal(e.Attributes)
	if err != nil {
		return nil, entity.NewStorageError("sqlite", "create", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (id, type, attributes, content_hash, previous_hash, lifecycle_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, string(e.Type), string(attrs), e.ContentHash, e.PreviousHash, string(e.State),
		entity.CanonicalTimestamp(e.CreatedAt), entity.CanonicalTimestamp(e.UpdatedAt),
	)
	if err != nil {
		return nil, entity.NewStorageError("sqlite", "create", err)
	}

	return e, nil
}

// Get returns the entity with the given id, or entity.ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*entity.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, attributes, content_hash, previous_hash, lifecycle_state, created_at, updated_at
		FROM entities WHERE id = ?
	`, id)

	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, entity.NewStorageError("sqlite", "get", err)
	}
	return e, nil
}

// Update shallow-merges delta onto the current attribute map after checking
// the expected content hash. The read-check-write sequence runs under the
// store mutex so concurrent updates to the same entity cannot interleave.
func (s *SQLiteStore) Update(ctx context.Context, id string, delta map[string]any, expectedHash string) (*entity.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if current.ContentHash != expectedHash {
		return nil, &entity.ConflictError{
			EntityID:     id,
			ExpectedHash: expectedHash,
			CurrentHash:  current.ContentHash,
		}
	}

	next, err := entity.NextRevision(current, delta, s.now())
	if err != nil {
		return nil, err
	}

	attrs, err := json.Marshal(next.Attributes)
	if err != nil {
		return nil, entity.NewStorageError("sqlite", "update", err)
	}

	// content_hash in the WHERE clause backstops the mutex: a stale write
	// matches zero rows instead of silently overwriting.
	res, err := s.db.ExecContext(ctx, `
		UPDATE entities
		SET attributes = ?, content_hash = ?, previous_hash = ?, updated_at = ?
		WHERE id = ? AND content_hash = ?
	`,
		string(attrs), next.ContentHash, next.PreviousHash,
		entity.CanonicalTimestamp(next.UpdatedAt), id, expectedHash,
	)
	if err != nil {
		return nil, entity.NewStorageError("sqlite", "update", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, entity.NewStorageError("sqlite", "update", err)
	}
	if affected == 0 {
		return nil, &entity.ConflictError{
			EntityID:     id,
			ExpectedHash: expectedHash,
			CurrentHash:  "unknown",
		}
	}

	return next, nil
}

// Deactivate marks the entity inactive. Idempotent.
func (s *SQLiteStore) Deactivate(ctx context.Context, id string) error {
	return s.setState(ctx, id, entity.StateInactive)
}

// Reactivate marks the entity active. Idempotent.
func (s *SQLiteStore) Reactivate(ctx context.Context, id string) error {
	return s.setState(ctx, id, entity.StateActive)
}

// setState transitions the lifecycle state.
func (s *SQLiteStore) setState(ctx context.Context, id string, state entity.LifecycleState) error {
	res, err := s.db.ExecContext(ctx, `UPDATE entities SET lifecycle_state = ? WHERE id = ?`, string(state), id)
	if err != nil {
		return entity.NewStorageError("sqlite", "set_state", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return entity.NewStorageError("sqlite", "set_state", err)
	}
	if affected == 0 {
		return entity.ErrNotFound
	}
	return nil
}

// List returns all entities, optionally filtered by type.
func (s *SQLiteStore) List(ctx context.Context, typ entity.Type) ([]*entity.Entity, error) {
	query := `
		SELECT id, type, attributes, content_hash, previous_hash, lifecycle_state, created_at, updated_at
		FROM entities
	`
	args := []any{}
	if typ != "" {
		query += " WHERE type = ?"
		args = append(args, string(typ))
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, entity.NewStorageError("sqlite", "list", err)
	}
	defer rows.Close()

	results := []*entity.Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, entity.NewStorageError("sqlite", "scan", err)
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, entity.NewStorageError("sqlite", "list", err)
	}

	return results, nil
}

// Close releases resources held by the store.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return entity.NewStorageError("sqlite", "close", err)
	}
	s.logger.Info("SQLite entity store closed")
	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanEntity scans a database row into an Entity.
func scanEntity(row rowScanner) (*entity.Entity, error) {
	var e entity.Entity
	var typ, attrs, state, createdAt, updatedAt string

	err := row.Scan(&e.ID, &typ, &attrs, &e.ContentHash, &e.PreviousHash, &state, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	e.Type = entity.Type(typ)
	e.State = entity.LifecycleState(state)

	if err := json.Unmarshal([]byte(attrs), &e.Attributes); err != nil {
		return nil, fmt.Errorf("failed to decode attributes for entity %s: %w", e.ID, err)
	}

	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at for entity %s: %w", e.ID, err)
	}
	if e.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at for entity %s: %w", e.ID, err)
	}

	return &e, nil
}
