package library

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCatalog reads the host's library table directly. Refresh requests
// are queued into library_refresh_requests for the host's scan workers.
type PostgresCatalog struct {
	pool *pgxpool.Pool
}

// NewPostgresCatalog opens a pooled connection to the host database.
func NewPostgresCatalog(ctx context.Context, dsn string) (*PostgresCatalog, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres catalog dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres catalog config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres catalog pool: %w", err)
	}
	return &PostgresCatalog{pool: pool}, nil
}

// EnsureSchema creates the tables this service depends on when they are
// absent. Safe to run on every boot.
func (c *PostgresCatalog) EnsureSchema(ctx context.Context) error {
	_, err := c.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS libraries (
    id        TEXT PRIMARY KEY,
    name      TEXT NOT NULL,
    root_path TEXT NOT NULL,
    category  TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS library_refresh_requests (
    id           BIGSERIAL PRIMARY KEY,
    library_id   TEXT NOT NULL REFERENCES libraries (id) ON DELETE CASCADE,
    requested_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`)
	if err != nil {
		return fmt.Errorf("ensure catalog schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (c *PostgresCatalog) Close() {
	if c != nil && c.pool != nil {
		c.pool.Close()
	}
}

// Ping verifies database connectivity.
func (c *PostgresCatalog) Ping(ctx context.Context) error {
	if c.pool == nil {
		return fmt.Errorf("postgres catalog pool not configured")
	}
	return c.pool.Ping(ctx)
}

// ListLibraries returns every library ordered by name.
func (c *PostgresCatalog) ListLibraries(ctx context.Context) ([]Library, error) {
	rows, err := c.pool.Query(ctx, `SELECT id, name, root_path, category FROM libraries ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list libraries: %w", err)
	}
	defer rows.Close()

	var libraries []Library
	for rows.Next() {
		var lib Library
		if err := rows.Scan(&lib.ID, &lib.Name, &lib.Path, &lib.Type); err != nil {
			return nil, fmt.Errorf("scan library row: %w", err)
		}
		libraries = append(libraries, lib)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate libraries: %w", err)
	}
	return libraries, nil
}

// GetLibrary resolves a library by ID.
func (c *PostgresCatalog) GetLibrary(ctx context.Context, id string) (Library, bool, error) {
	var lib Library
	err := c.pool.QueryRow(ctx,
		`SELECT id, name, root_path, category FROM libraries WHERE id = $1`,
		strings.TrimSpace(id),
	).Scan(&lib.ID, &lib.Name, &lib.Path, &lib.Type)
	if errors.Is(err, pgx.ErrNoRows) {
		return Library{}, false, nil
	}
	if err != nil {
		return Library{}, false, fmt.Errorf("get library: %w", err)
	}
	return lib, true, nil
}

// UpsertLibrary inserts or updates a library row. Used by migration tooling;
// the host normally owns this table.
func (c *PostgresCatalog) UpsertLibrary(ctx context.Context, lib Library) error {
	if strings.TrimSpace(lib.ID) == "" {
		return fmt.Errorf("library id required")
	}
	_, err := c.pool.Exec(ctx, `
INSERT INTO libraries (id, name, root_path, category)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, root_path = EXCLUDED.root_path, category = EXCLUDED.category
`, lib.ID, lib.Name, lib.Path, lib.Type)
	if err != nil {
		return fmt.Errorf("upsert library: %w", err)
	}
	return nil
}

// RefreshLibrary queues a rescan request for the host's scan workers.
func (c *PostgresCatalog) RefreshLibrary(ctx context.Context, id string) error {
	tag, err := c.pool.Exec(ctx,
		`INSERT INTO library_refresh_requests (library_id) SELECT id FROM libraries WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("queue library refresh: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("library %s not found", id)
	}
	return nil
}
