// Command migrate-catalog copies the JSON library catalog into Postgres.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"mediadrop/internal/library"
)

func main() {
	jsonPath := flag.String("json", "data/libraries.json", "path to the JSON library catalog to migrate")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	dsn := strings.TrimSpace(*postgresDSN)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("MEDIADROP_POSTGRES_DSN"))
	}
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		logger.Error("postgres DSN required", "hint", "set --postgres-dsn, MEDIADROP_POSTGRES_DSN, or DATABASE_URL")
		os.Exit(1)
	}

	ctx := context.Background()

	source, err := library.NewJSONCatalog(*jsonPath, logger)
	if err != nil {
		logger.Error("failed to open JSON catalog", "error", err)
		os.Exit(1)
	}
	libraries, err := source.ListLibraries(ctx)
	if err != nil {
		logger.Error("failed to list libraries", "error", err)
		os.Exit(1)
	}
	logger.Info("loaded JSON catalog", "path", *jsonPath, "libraries", len(libraries))

	target, err := library.NewPostgresCatalog(ctx, dsn)
	if err != nil {
		logger.Error("failed to open postgres catalog", "error", err)
		os.Exit(1)
	}
	defer target.Close()

	if err := target.EnsureSchema(ctx); err != nil {
		logger.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}
	for _, lib := range libraries {
		if err := target.UpsertLibrary(ctx, lib); err != nil {
			logger.Error("failed to migrate library", "id", lib.ID, "error", err)
			os.Exit(1)
		}
	}

	if err := verifyCount(ctx, dsn, len(libraries)); err != nil {
		logger.Error("verification failed", "error", err)
		os.Exit(1)
	}

	logger.Info("migration completed", "libraries", len(libraries))
}

func verifyCount(ctx context.Context, dsn string, expected int) error {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("parse verification config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open verification connection: %w", err)
	}
	defer pool.Close()

	var count int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM libraries`).Scan(&count); err != nil {
		return fmt.Errorf("count libraries: %w", err)
	}
	if count < expected {
		return fmt.Errorf("expected at least %d libraries in Postgres, found %d", expected, count)
	}
	return nil
}
