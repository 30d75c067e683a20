// Package auth resolves host-issued session tokens to principals. The host
// owns login and token minting; this service only validates tokens against a
// session store it shares with the host.
package auth

import (
	"context"
	"errors"
	"time"
)

// Principal is the resolved identity behind a session token.
type Principal struct {
	UserID   string
	UserName string
}

// SessionRecord captures a session row retrieved from the backing store.
type SessionRecord struct {
	TokenDigest string
	Principal   Principal
	ExpiresAt   time.Time
}

// SessionStore defines the persistence contract for session lookups. Tokens
// are stored as sha256 digests so a leaked store never yields usable tokens.
type SessionStore interface {
	Save(ctx context.Context, tokenDigest string, principal Principal, expiresAt time.Time) error
	Get(ctx context.Context, tokenDigest string) (SessionRecord, bool, error)
	Delete(ctx context.Context, tokenDigest string) error
	PurgeExpired(ctx context.Context, now time.Time) error
}

// ErrInvalidPrincipal is returned when registering a session without a user ID.
var ErrInvalidPrincipal = errors.New("principal user ID is required")

// Manager coordinates session resolution against a backing store.
type Manager struct {
	store SessionStore
	ttl   time.Duration
	now   func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore injects a custom SessionStore implementation.
func WithStore(store SessionStore) Option {
	return func(m *Manager) {
		if store != nil {
			m.store = store
		}
	}
}

// WithClock injects a clock for expiry tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager constructs a Manager. ttl bounds sessions registered through
// this service; host-written rows carry their own expiry. The manager
// defaults to a 7-day TTL and an in-memory store for local development.
func NewManager(ttl time.Duration, opts ...Option) *Manager {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	m := &Manager{ttl: ttl, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.store == nil {
		m.store = NewMemorySessionStore()
	}
	return m
}

// Resolve validates the provided bearer token and returns its principal.
// Unknown and expired tokens report ok=false without error; expired rows are
// deleted on the way out.
func (m *Manager) Resolve(ctx context.Context, token string) (Principal, bool, error) {
	if token == "" {
		return Principal{}, false, nil
	}
	digest, err := hashSessionToken(token)
	if err != nil {
		return Principal{}, false, nil
	}
	record, ok, err := m.store.Get(ctx, digest)
	if err != nil {
		return Principal{}, false, err
	}
	if !ok {
		return Principal{}, false, nil
	}
	if m.now().After(record.ExpiresAt) {
		_ = m.store.Delete(ctx, digest)
		return Principal{}, false, nil
	}
	return record.Principal, true, nil
}

// Register stores a host-issued token for later resolution. Deployments
// sharing a Postgres or Redis store with the host never call this; it exists
// for the memory store and tests.
func (m *Manager) Register(ctx context.Context, token string, principal Principal) (time.Time, error) {
	if principal.UserID == "" {
		return time.Time{}, ErrInvalidPrincipal
	}
	digest, err := hashSessionToken(token)
	if err != nil {
		return time.Time{}, err
	}
	expiresAt := m.now().Add(m.ttl).UTC()
	if err := m.store.Save(ctx, digest, principal, expiresAt); err != nil {
		return time.Time{}, err
	}
	return expiresAt, nil
}

// Revoke deletes the session token from the backing store.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	digest, err := hashSessionToken(token)
	if err != nil {
		return nil
	}
	return m.store.Delete(ctx, digest)
}

// PurgeExpired removes expired sessions from the backing store.
func (m *Manager) PurgeExpired(ctx context.Context) error {
	return m.store.PurgeExpired(ctx, m.now())
}

// Ping verifies the underlying store is reachable when it exposes a ping.
func (m *Manager) Ping(ctx context.Context) error {
	if m == nil || m.store == nil {
		return nil
	}
	if pinger, ok := m.store.(interface{ Ping(context.Context) error }); ok {
		return pinger.Ping(ctx)
	}
	return nil
}
