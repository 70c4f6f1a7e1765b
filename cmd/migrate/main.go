package main

import (
	"OracleMirror/internal/config"
	"OracleMirror/internal/observability"
	"OracleMirror/internal/persistence"
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
)

func usage() {
	fmt.Println("Usage: migrate <up|down|status> [config.yaml]")
	fmt.Println("  up     - apply all pending projection migrations")
	fmt.Println("  down   - roll back the last migration")
	fmt.Println("  status - list applied and pending migrations")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  MIRROR_POSTGRES_DSN            - Postgres connection string")
	fmt.Println("  MIRROR_POSTGRES_MIGRATIONS_DIR - path to migrations directory (default: migrations)")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	logger := observability.NewLogger("migrate")

	var path string
	if len(os.Args) > 2 {
		path = os.Args[2]
	}
	ctx := context.Background()
	cfg, err := config.Load(ctx, path)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, logger)

	switch os.Args[1] {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate up")
		}
		logger.Info().Msg("all migrations applied")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate down")
		}
		logger.Info().Msg("last migration rolled back")

	case "status":
		applied, err := migrator.Applied(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("list applied migrations")
		}
		pending, err := migrator.Pending(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("list pending migrations")
		}
		for _, m := range applied {
			fmt.Printf("applied  %s\n", m.Filename)
		}
		for _, f := range pending {
			fmt.Printf("pending  %s\n", f)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up', 'down' or 'status')\n", os.Args[1])
		os.Exit(1)
	}
}
