package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"castellan-hq/portcullis/pkg/policy"
)

// SQLiteConfig contains configuration for the SQLite policy store.
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
		Path:        "data/policies.db",
		BusyTimeout: 5 * time.Second,
	}
}

// SQLiteStore implements policy.Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

const policySchema = `
CREATE TABLE IF NOT EXISTS policies (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	priority INTEGER NOT NULL,
	scope TEXT NOT NULL,
	active INTEGER NOT NULL,
	condition TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_policies_active ON policies(active, priority);
`

// NewSQLiteStore creates a new SQLite policy store.
func NewSQLiteStore(config *SQLiteConfig) (*SQLiteStore, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}

	logger := slog.Default().With("component", "policy.storage.sqlite")

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		config.Path, int(config.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, policy.NewStorageError("sqlite", "open", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(policySchema); err != nil {
		db.Close()
		return nil, policy.NewStorageError("sqlite", "create_schema", err)
	}

	logger.Info("SQLite policy store initialized", "path", config.Path)

	return &SQLiteStore{db: db, config: config, logger: logger}, nil
}

// Create persists a new policy.
func (s *SQLiteStore) Create(ctx context.Context, p *policy.Policy) error {
	if p.ID == "" {
		return policy.NewStorageError("sqlite", "create", fmt.Errorf("policy id must not be empty"))
	}

	condition, err := json.Marshal(p.Condition)
	if err != nil {
		return policy.NewStorageError("sqlite", "create", err)
	}

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO policies (id, name, priority, scope, active, condition, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.Priority, p.Scope, boolToInt(p.Active), string(condition),
		createdAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return policy.NewStorageError("sqlite", "create", err)
	}
	return nil
}

// Get returns the policy with the given id, or policy.ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*policy.Policy, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, priority, scope, active, condition, created_at
		FROM policies WHERE id = ?
	`, id)

	p, err := scanPolicy(row)
	if err == sql.ErrNoRows {
		return nil, policy.ErrNotFound
	}
	if err != nil {
		return nil, policy.NewStorageError("sqlite", "get", err)
	}
	return p, nil
}

// Update replaces the stored policy with the same ID.
func (s *SQLiteStore) Update(ctx context.Context, p *policy.Policy) error {
	condition, err := json.Marshal(p.Condition)
	if err != nil {
		return policy.NewStorageError("sqlite", "update", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE policies SET name = ?, priority = ?, scope = ?, active = ?, condition = ?
		WHERE id = ?
	`, p.Name, p.Priority, p.Scope, boolToInt(p.Active), string(condition), p.ID)
	if err != nil {
		return policy.NewStorageError("sqlite", "update", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return policy.NewStorageError("sqlite", "update", err)
	}
	if affected == 0 {
		return policy.ErrNotFound
	}
	return nil
}

// SetActive toggles the active flag. Idempotent.
func (s *SQLiteStore) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE policies SET active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return policy.NewStorageError("sqlite", "set_active", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return policy.NewStorageError("sqlite", "set_active", err)
	}
	if affected == 0 {
		return policy.ErrNotFound
	}
	return nil
}

// List returns all policies, active or not.
func (s *SQLiteStore) List(ctx context.Context) ([]*policy.Policy, error) {
	return s.query(ctx, `
		SELECT id, name, priority, scope, active, condition, created_at
		FROM policies ORDER BY priority, created_at, id
	`)
}

// ListActive returns active policies only.
func (s *SQLiteStore) ListActive(ctx context.Context) ([]*policy.Policy, error) {
	return s.query(ctx, `
		SELECT id, name, priority, scope, active, condition, created_at
		FROM policies WHERE active = 1 ORDER BY priority, created_at, id
	`)
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]*policy.Policy, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, policy.NewStorageError("sqlite", "list", err)
	}
	defer rows.Close()

	results := []*policy.Policy{}
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, policy.NewStorageError("sqlite", "scan", err)
		}
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, policy.NewStorageError("sqlite", "list", err)
	}
	return results, nil
}

// Close releases resources held by the store.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return policy.NewStorageError("sqlite", "close", err)
	}
	s.logger.Info("SQLite policy store closed")
	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanPolicy scans a database row into a Policy.
func scanPolicy(row rowScanner) (*policy.Policy, error) {
	var p policy.Policy
	var active int
	var condition, createdAt string

	err := row.Scan(&p.ID, &p.Name, &p.Priority, &p.Scope, &active, &condition, &createdAt)
	if err != nil {
		return nil, err
	}

	p.Active = active != 0

	if err := json.Unmarshal([]byte(condition), &p.Condition); err != nil {
		return nil, fmt.Errorf("failed to decode condition for policy %s: %w", p.ID, err)
	}
	if p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at for policy %s: %w", p.ID, err)
	}

	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
