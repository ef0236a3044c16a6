// Package migrate applies the embedded goose migrations.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const dir = "migrations"

// Commands accepted by Run.
var Commands = []string{"up", "up-by-one", "down", "redo", "status", "version", "reset"}

// Run executes a goose command against the pool.
func Run(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger, command string, args ...string) error {
	if pool == nil {
		return fmt.Errorf("migrate: pool is required")
	}
	if !supported(command) {
		return fmt.Errorf("migrate: unsupported command %q", command)
	}
	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()
	return run(ctx, db, logger, command, args...)
}

func run(ctx context.Context, db *sql.DB, logger *slog.Logger, command string, args ...string) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migrate: dialect: %w", err)
	}
	if logger != nil {
		logger.Info("running migrations", slog.String("command", command))
	}
	if err := goose.RunContext(ctx, command, db, dir, args...); err != nil {
		return fmt.Errorf("migrate: %s: %w", command, err)
	}
	return nil
}

func supported(command string) bool {
	for _, c := range Commands {
		if c == command {
			return true
		}
	}
	return false
}
