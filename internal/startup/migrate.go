package startup

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/promatch/internal/logger"
)

const migrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    name       TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Migrate применяет миграции из fsys по порядку names. Применённые записываются в
// schema_migrations и при следующем старте пропускаются. Каждая миграция: в своей транзакции.
func Migrate(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS, names []string) (int, error) {
	if _, err := pool.Exec(ctx, migrationsTable); err != nil {
		return 0, fmt.Errorf("startup.Migrate: create table: %w", err)
	}
	applied := 0
	for _, name := range names {
		var exists bool
		err := pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE name = $1)`, name).Scan(&exists)
		if err != nil {
			return applied, fmt.Errorf("startup.Migrate: check %s: %w", name, err)
		}
		if exists {
			continue
		}
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return applied, fmt.Errorf("startup.Migrate: read %s: %w", name, err)
		}
		err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(data)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name)
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("startup.Migrate: apply %s: %w", name, err)
		}
		logger.Infof("migration applied: %s", name)
		applied++
	}
	return applied, nil
}
