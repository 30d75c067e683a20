package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSessionStore reads sessions from a Postgres table shared with the
// media host, allowing multiple service replicas to resolve the same tokens.
type PostgresSessionStore struct {
	pool *pgxpool.Pool
}

// NewPostgresSessionStore opens a Postgres-backed session store using the
// provided DSN.
func NewPostgresSessionStore(dsn string) (*PostgresSessionStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres session dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres session config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres session pool: %w", err)
	}
	return &PostgresSessionStore{pool: pool}, nil
}

// EnsureSchema creates the session table when absent. Safe on every boot.
func (s *PostgresSessionStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS host_sessions (
    token_digest TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL,
    user_name    TEXT NOT NULL DEFAULT '',
    expires_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS host_sessions_expires_at ON host_sessions (expires_at);
`)
	if err != nil {
		return fmt.Errorf("ensure session schema: %w", err)
	}
	return nil
}

// Close releases the Postgres connection pool resources.
func (s *PostgresSessionStore) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Save stores or updates the session row.
func (s *PostgresSessionStore) Save(ctx context.Context, tokenDigest string, principal Principal, expiresAt time.Time) error {
	if s.pool == nil {
		return fmt.Errorf("postgres session pool not configured")
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO host_sessions (token_digest, user_id, user_name, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (token_digest) DO UPDATE
    SET user_id = EXCLUDED.user_id, user_name = EXCLUDED.user_name, expires_at = EXCLUDED.expires_at
`, tokenDigest, principal.UserID, principal.UserName, expiresAt.UTC())
	return err
}

// Get fetches the session details for the provided token digest.
func (s *PostgresSessionStore) Get(ctx context.Context, tokenDigest string) (SessionRecord, bool, error) {
	if s.pool == nil {
		return SessionRecord{}, false, fmt.Errorf("postgres session pool not configured")
	}
	record := SessionRecord{TokenDigest: tokenDigest}
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, user_name, expires_at FROM host_sessions WHERE token_digest = $1`,
		tokenDigest,
	).Scan(&record.Principal.UserID, &record.Principal.UserName, &record.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SessionRecord{}, false, nil
	}
	if err != nil {
		return SessionRecord{}, false, err
	}
	return record, true, nil
}

// Delete removes the session row.
func (s *PostgresSessionStore) Delete(ctx context.Context, tokenDigest string) error {
	if s.pool == nil {
		return fmt.Errorf("postgres session pool not configured")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM host_sessions WHERE token_digest = $1`, tokenDigest)
	return err
}

// PurgeExpired removes sessions whose expiry has passed.
func (s *PostgresSessionStore) PurgeExpired(ctx context.Context, now time.Time) error {
	if s.pool == nil {
		return fmt.Errorf("postgres session pool not configured")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM host_sessions WHERE expires_at <= $1`, now.UTC())
	return err
}

// Ping verifies database connectivity.
func (s *PostgresSessionStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("postgres session pool not configured")
	}
	return s.pool.Ping(ctx)
}
