package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/wireloop/agentplane/internal/agent"
)

// CockroachConfig holds configuration for CockroachDB connection.
type CockroachConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultCockroachConfig returns default configuration.
func DefaultCockroachConfig() *CockroachConfig {
	return &CockroachConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// CockroachStore implements Store using CockroachDB, for deployments that
// want compaction job history to survive process restarts.
type CockroachStore struct {
	db *sql.DB
}

// NewCockroachStoreFromDSN creates a new Cockroach-backed job store.
func NewCockroachStoreFromDSN(dsn string, config *CockroachConfig) (*CockroachStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultCockroachConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &CockroachStore{db: db}, nil
}

// Close releases database resources.
func (s *CockroachStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create stores a job.
func (s *CockroachStore) Create(ctx context.Context, job *Job) error {
	if job == nil {
		return nil
	}
	originalTokens, newTokens, tokensSaved := reportFields(job.Report)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO compaction_jobs (id, session_id, status, created_at, started_at, finished_at, original_tokens, new_tokens, tokens_saved, error_message)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		job.ID,
		job.SessionID,
		string(job.Status),
		job.CreatedAt,
		nullTime(job.StartedAt),
		nullTime(job.FinishedAt),
		nullInt(originalTokens),
		nullInt(newTokens),
		nullInt(tokensSaved),
		nullableString(job.Error),
	)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// Update updates a job record.
func (s *CockroachStore) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return nil
	}
	originalTokens, newTokens, tokensSaved := reportFields(job.Report)
	_, err := s.db.ExecContext(ctx, `
		UPDATE compaction_jobs
		SET session_id = $2,
			status = $3,
			created_at = $4,
			started_at = $5,
			finished_at = $6,
			original_tokens = $7,
			new_tokens = $8,
			tokens_saved = $9,
			error_message = $10
		WHERE id = $1
	`,
		job.ID,
		job.SessionID,
		string(job.Status),
		job.CreatedAt,
		nullTime(job.StartedAt),
		nullTime(job.FinishedAt),
		nullInt(originalTokens),
		nullInt(newTokens),
		nullInt(tokensSaved),
		nullableString(job.Error),
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// Get returns a job by id.
func (s *CockroachStore) Get(ctx context.Context, id string) (*Job, error) {
	if id == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, status, created_at, started_at, finished_at, original_tokens, new_tokens, tokens_saved, error_message
		FROM compaction_jobs WHERE id = $1
	`, id)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns jobs in reverse chronological order.
func (s *CockroachStore) List(ctx context.Context, limit, offset int) ([]*Job, error) {
	query := `
		SELECT id, session_id, status, created_at, started_at, finished_at, original_tokens, new_tokens, tokens_saved, error_message
		FROM compaction_jobs
		ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Prune removes jobs older than the given duration.
func (s *CockroachStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM compaction_jobs WHERE created_at < $1`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return res.RowsAffected()
}

// Cancel marks a running or queued job as failed. CockroachStore has no
// in-process cancelFunc to invoke; a job running in another process must
// observe this status change on its own.
func (s *CockroachStore) Cancel(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE compaction_jobs
		SET status = $2, error_message = 'job cancelled', finished_at = $3
		WHERE id = $1 AND status IN ('queued', 'running')
	`, id, string(StatusFailed), time.Now())
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	return nil
}

type jobScanner interface {
	Scan(dest ...any) error
}

func scanJob(scanner jobScanner) (*Job, error) {
	var (
		job            Job
		status         string
		startedAt      sql.NullTime
		finishedAt     sql.NullTime
		originalTokens sql.NullInt64
		newTokens      sql.NullInt64
		tokensSaved    sql.NullInt64
		errorMessage   sql.NullString
	)
	if err := scanner.Scan(
		&job.ID,
		&job.SessionID,
		&status,
		&job.CreatedAt,
		&startedAt,
		&finishedAt,
		&originalTokens,
		&newTokens,
		&tokensSaved,
		&errorMessage,
	); err != nil {
		return nil, err
	}
	job.Status = Status(status)
	if startedAt.Valid {
		job.StartedAt = startedAt.Time
	}
	if finishedAt.Valid {
		job.FinishedAt = finishedAt.Time
	}
	if originalTokens.Valid || newTokens.Valid || tokensSaved.Valid {
		job.Report = &agent.CompactReport{
			OriginalTokens: int(originalTokens.Int64),
			NewTokens:      int(newTokens.Int64),
			TokensSaved:    int(tokensSaved.Int64),
		}
	}
	if errorMessage.Valid {
		job.Error = errorMessage.String
	}
	return &job, nil
}

func reportFields(report *agent.CompactReport) (originalTokens, newTokens, tokensSaved int) {
	if report == nil {
		return 0, 0, 0
	}
	return report.OriginalTokens, report.NewTokens, report.TokensSaved
}

func nullInt(value int) sql.NullInt64 {
	if value == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(value), Valid: true}
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func nullTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value, Valid: true}
}
