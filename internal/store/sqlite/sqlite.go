// Package sqlite implements internal/sessions.Store against SQLite via
// modernc.org/sqlite (pure-Go, no cgo), per SPEC_FULL.md §3. Grounded on the
// same internal/sessions/cockroach.go CockroachStore shape as
// internal/store/postgres, with SQLite's positional "?" placeholders and
// UPSERT syntax in place of postgres's "$n"/ON CONFLICT dialect.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wireloop/agentplane/internal/sessions"
	"github.com/wireloop/agentplane/pkg/models"
)

// Schema is the DDL this store requires.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	workspace_dir TEXT NOT NULL,
	name TEXT,
	device_id TEXT,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	last_message_at TEXT
);
CREATE INDEX IF NOT EXISTS sessions_workspace_dir_idx ON sessions (workspace_dir);

CREATE TABLE IF NOT EXISTS session_state (
	session_id TEXT PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
	turns TEXT NOT NULL,
	metadata TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS current_pointer (
	workspace_dir TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	last_updated TEXT NOT NULL
);
`

// Store implements sessions.Store over a SQLite database file.
type Store struct {
	db *sql.DB
}

var _ sessions.Store = (*Store)(nil)

// Open opens (creating if necessary) a SQLite database at path and applies
// Schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid pool contention
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, workspace_dir, name, device_id, status, created_at, updated_at, last_message_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.WorkspaceDir, rec.Name, rec.DeviceID, string(rec.Status), timeStr(rec.CreatedAt), timeStr(rec.UpdatedAt), nullTimeStr(rec.LastMessageAt))
	return err
}

func (s *Store) Get(ctx context.Context, id string) (*models.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_dir, name, device_id, status, created_at, updated_at, last_message_at
		FROM sessions WHERE id = ?
	`, id)
	rec, err := scanSessionRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &sessions.ErrSessionNotFound{ID: id}
	}
	return rec, err
}

func (s *Store) Update(ctx context.Context, rec *models.SessionRecord) error {
	rec.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET name = ?, device_id = ?, status = ?, updated_at = ?, last_message_at = ?
		WHERE id = ?
	`, rec.Name, rec.DeviceID, string(rec.Status), timeStr(rec.UpdatedAt), nullTimeStr(rec.LastMessageAt), rec.ID)
	if err != nil {
		return err
	}
	return checkAffected(res, rec.ID)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkAffected(res, id)
}

func (s *Store) GetOrCreate(ctx context.Context, workspaceDir string) (*models.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_dir, name, device_id, status, created_at, updated_at, last_message_at
		FROM sessions WHERE workspace_dir = ? ORDER BY created_at DESC LIMIT 1
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
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_dir, name, device_id, status, created_at, updated_at, last_message_at
		FROM sessions WHERE (? = '' OR status = ?)
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, string(opts.Status), string(opts.Status), limit, opts.Offset)
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
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_state (session_id, turns, metadata) VALUES (?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET turns = excluded.turns, metadata = excluded.metadata
	`, sessionID, string(turnsJSON), string(metaJSON))
	return err
}

func (s *Store) LoadState(ctx context.Context, sessionID string) ([]models.Turn, models.Metadata, error) {
	var turnsJSON, metaJSON string
	err := s.db.QueryRowContext(ctx, `SELECT turns, metadata FROM session_state WHERE session_id = ?`, sessionID).Scan(&turnsJSON, &metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.Metadata{}, &sessions.ErrSessionNotFound{ID: sessionID}
	}
	if err != nil {
		return nil, models.Metadata{}, err
	}
	var turns []models.Turn
	if err := json.Unmarshal([]byte(turnsJSON), &turns); err != nil {
		return nil, models.Metadata{}, err
	}
	var meta models.Metadata
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, models.Metadata{}, err
	}
	return turns, meta, nil
}

func (s *Store) SaveCurrentPointer(ctx context.Context, ptr models.CurrentStatePointer) error {
	if ptr.LastUpdated.IsZero() {
		ptr.LastUpdated = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO current_pointer (workspace_dir, session_id, last_updated) VALUES (?, ?, ?)
		ON CONFLICT (workspace_dir) DO UPDATE SET session_id = excluded.session_id, last_updated = excluded.last_updated
	`, ptr.WorkspacePath, ptr.CurrentSessionID, timeStr(ptr.LastUpdated))
	return err
}

func (s *Store) LoadCurrentPointer(ctx context.Context, workspaceDir string) (models.CurrentStatePointer, error) {
	var ptr models.CurrentStatePointer
	ptr.WorkspacePath = workspaceDir
	var lastUpdated string
	err := s.db.QueryRowContext(ctx, `SELECT session_id, last_updated FROM current_pointer WHERE workspace_dir = ?`, workspaceDir).Scan(&ptr.CurrentSessionID, &lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CurrentStatePointer{}, &sessions.ErrSessionNotFound{ID: workspaceDir}
	}
	if err != nil {
		return models.CurrentStatePointer{}, err
	}
	ptr.LastUpdated, _ = time.Parse(time.RFC3339Nano, lastUpdated)
	return ptr, nil
}

func timeStr(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTimeStr(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return timeStr(t)
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
