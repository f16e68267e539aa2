// Package postgres implements internal/sessions.Store against PostgreSQL,
// per SPEC_FULL.md §3. Grounded on the teacher's
// internal/sessions/cockroach.go CockroachStore: same prepared-statement
// discipline and connection-pool configuration, adapted from the teacher's
// flat Session/Message rows to models.SessionRecord + a JSON-encoded Turn
// history column.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/wireloop/agentplane/internal/sessions"
	"github.com/wireloop/agentplane/pkg/models"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultConfig returns sane defaults, grounded in the teacher's
// DefaultCockroachConfig.
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Database:        "agentplane",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// Store implements sessions.Store over a PostgreSQL database.
type Store struct {
	db *sql.DB

	stmtCreate      *sql.Stmt
	stmtGet         *sql.Stmt
	stmtUpdate      *sql.Stmt
	stmtDelete      *sql.Stmt
	stmtList        *sql.Stmt
	stmtSaveState   *sql.Stmt
	stmtLoadState   *sql.Stmt
	stmtSavePointer *sql.Stmt
	stmtLoadPointer *sql.Stmt
}

var _ sessions.Store = (*Store)(nil)

// Schema is the DDL this store requires. Callers run it once against a
// fresh database (e.g. via a migration tool); the store itself never
// issues DDL.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	workspace_dir TEXT NOT NULL,
	name TEXT,
	device_id TEXT,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	last_message_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS sessions_workspace_dir_idx ON sessions (workspace_dir);

CREATE TABLE IF NOT EXISTS session_state (
	session_id TEXT PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
	turns JSONB NOT NULL,
	metadata JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS current_pointer (
	workspace_dir TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL
);
`

// New opens a Store against the given config.
func New(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode, int(cfg.ConnectTimeout.Seconds()),
	)
	return NewFromDSN(ctx, dsn, cfg)
}

// NewFromDSN opens a Store against a raw DSN.
func NewFromDSN(ctx context.Context, dsn string, cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	s := &Store{db: db}
	if err := s.prepare(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) prepare() error {
	var err error
	if s.stmtCreate, err = s.db.Prepare(`
		INSERT INTO sessions (id, workspace_dir, name, device_id, status, created_at, updated_at, last_message_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`); err != nil {
		return fmt.Errorf("preparing create: %w", err)
	}
	if s.stmtGet, err = s.db.Prepare(`
		SELECT id, workspace_dir, name, device_id, status, created_at, updated_at, last_message_at
		FROM sessions WHERE id = $1
	`); err != nil {
		return fmt.Errorf("preparing get: %w", err)
	}
	if s.stmtUpdate, err = s.db.Prepare(`
		UPDATE sessions SET name = $1, device_id = $2, status = $3, updated_at = $4, last_message_at = $5
		WHERE id = $6
	`); err != nil {
		return fmt.Errorf("preparing update: %w", err)
	}
	if s.stmtDelete, err = s.db.Prepare(`DELETE FROM sessions WHERE id = $1`); err != nil {
		return fmt.Errorf("preparing delete: %w", err)
	}
	if s.stmtList, err = s.db.Prepare(`
		SELECT id, workspace_dir, name, device_id, status, created_at, updated_at, last_message_at
		FROM sessions WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`); err != nil {
		return fmt.Errorf("preparing list: %w", err)
	}
	if s.stmtSaveState, err = s.db.Prepare(`
		INSERT INTO session_state (session_id, turns, metadata) VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO UPDATE SET turns = EXCLUDED.turns, metadata = EXCLUDED.metadata
	`); err != nil {
		return fmt.Errorf("preparing save state: %w", err)
	}
	if s.stmtLoadState, err = s.db.Prepare(`SELECT turns, metadata FROM session_state WHERE session_id = $1`); err != nil {
		return fmt.Errorf("preparing load state: %w", err)
	}
	if s.stmtSavePointer, err = s.db.Prepare(`
		INSERT INTO current_pointer (workspace_dir, session_id, last_updated) VALUES ($1, $2, $3)
		ON CONFLICT (workspace_dir) DO UPDATE SET session_id = EXCLUDED.session_id, last_updated = EXCLUDED.last_updated
	`); err != nil {
		return fmt.Errorf("preparing save pointer: %w", err)
	}
	if s.stmtLoadPointer, err = s.db.Prepare(`SELECT session_id, last_updated FROM current_pointer WHERE workspace_dir = $1`); err != nil {
		return fmt.Errorf("preparing load pointer: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Create(ctx context.Context, rec *models.SessionRecord) error {
	if rec.ID == "" {
		rec.ID = newID()
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = models.SessionActive
	}
	_, err := s.stmtCreate.ExecContext(ctx, rec.ID, rec.WorkspaceDir, rec.Name, rec.DeviceID, string(rec.Status), rec.CreatedAt, rec.UpdatedAt, nullTime(rec.LastMessageAt))
	return err
}

func (s *Store) Get(ctx context.Context, id string) (*models.SessionRecord, error) {
	row := s.stmtGet.QueryRowContext(ctx, id)
	rec, err := scanSessionRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &sessions.ErrSessionNotFound{ID: id}
	}
	return rec, err
}

func (s *Store) Update(ctx context.Context, rec *models.SessionRecord) error {
	rec.UpdatedAt = time.Now()
	res, err := s.stmtUpdate.ExecContext(ctx, rec.Name, rec.DeviceID, string(rec.Status), rec.UpdatedAt, nullTime(rec.LastMessageAt), rec.ID)
	if err != nil {
		return err
	}
	return checkAffected(res, rec.ID)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.stmtDelete.ExecContext(ctx, id)
	if err != nil {
		return err
	}
	return checkAffected(res, id)
}

func (s *Store) GetOrCreate(ctx context.Context, workspaceDir string) (*models.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_dir, name, device_id, status, created_at, updated_at, last_message_at
		FROM sessions WHERE workspace_dir = $1 ORDER BY created_at DESC LIMIT 1
	`, workspaceDir)
	rec, err := scanSessionRow(row.Scan)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	rec = &models.SessionRecord{WorkspaceDir: workspaceDir}
	if err := s.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) List(ctx context.Context, opts sessions.ListOptions) ([]*models.SessionRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.stmtList.QueryContext(ctx, string(opts.Status), limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.SessionRecord
	for rows.Next() {
		rec, err := scanSessionRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) SaveState(ctx context.Context, sessionID string, turns []models.Turn, meta models.Metadata) error {
	turnsJSON, err := json.Marshal(turns)
	if err != nil {
		return err
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = s.stmtSaveState.ExecContext(ctx, sessionID, turnsJSON, metaJSON)
	return err
}

func (s *Store) LoadState(ctx context.Context, sessionID string) ([]models.Turn, models.Metadata, error) {
	var turnsJSON, metaJSON []byte
	err := s.stmtLoadState.QueryRowContext(ctx, sessionID).Scan(&turnsJSON, &metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.Metadata{}, &sessions.ErrSessionNotFound{ID: sessionID}
	}
	if err != nil {
		return nil, models.Metadata{}, err
	}
	var turns []models.Turn
	if err := json.Unmarshal(turnsJSON, &turns); err != nil {
		return nil, models.Metadata{}, err
	}
	var meta models.Metadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, models.Metadata{}, err
	}
	return turns, meta, nil
}

func (s *Store) SaveCurrentPointer(ctx context.Context, ptr models.CurrentStatePointer) error {
	if ptr.LastUpdated.IsZero() {
		ptr.LastUpdated = time.Now()
	}
	_, err := s.stmtSavePointer.ExecContext(ctx, ptr.WorkspacePath, ptr.CurrentSessionID, ptr.LastUpdated)
	return err
}

func (s *Store) LoadCurrentPointer(ctx context.Context, workspaceDir string) (models.CurrentStatePointer, error) {
	var ptr models.CurrentStatePointer
	ptr.WorkspacePath = workspaceDir
	err := s.stmtLoadPointer.QueryRowContext(ctx, workspaceDir).Scan(&ptr.CurrentSessionID, &ptr.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CurrentStatePointer{}, &sessions.ErrSessionNotFound{ID: workspaceDir}
	}
	return ptr, err
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func checkAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &sessions.ErrSessionNotFound{ID: id}
	}
	return nil
}
