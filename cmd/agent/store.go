package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"github.com/wireloop/agentplane/internal/config"
	"github.com/wireloop/agentplane/internal/sessions"
	"github.com/wireloop/agentplane/internal/store/postgres"
	"github.com/wireloop/agentplane/internal/store/sqlite"
)

// newDurableStore opens the session store backend named by
// cfg.Database.URL: a "postgres://"/"postgresql://" DSN selects
// internal/store/postgres, anything else is treated as a sqlite file path,
// per SPEC_FULL.md §3's "either backend or the filesystem" durability
// note. Postgres's schema is applied out-of-band here since that store
// (unlike sqlite's) expects schema management to be the caller's job.
func newDurableStore(ctx context.Context, cfg *config.Config) (sessions.Store, error) {
	dsn := cfg.Database.URL
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		if err := ensurePostgresSchema(ctx, dsn); err != nil {
			return nil, fmt.Errorf("applying schema: %w", err)
		}
		pcfg := postgres.DefaultConfig()
		pcfg.MaxOpenConns = cfg.Database.MaxConnections
		pcfg.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
		return postgres.NewFromDSN(ctx, dsn, pcfg)
	}
	return sqlite.Open(ctx, dsn)
}

func ensurePostgresSchema(ctx context.Context, dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.ExecContext(ctx, postgres.Schema)
	return err
}
