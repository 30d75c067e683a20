package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisSessionKeyPrefix = "mediadrop:session:"

// RedisSessionStore keeps sessions in Redis with a TTL matching their expiry,
// so stale entries age out without an explicit purge pass.
type RedisSessionStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisSessionStore connects to Redis using the provided address and
// optional password.
func NewRedisSessionStore(addr, password string, db int) (*RedisSessionStore, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis session address required")
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		Password: password,
		DB:       db,
	})
	return &RedisSessionStore{client: client, now: time.Now}, nil
}

// Close releases the Redis client.
func (s *RedisSessionStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

type redisSessionRecord struct {
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Save stores the session keyed by digest with a TTL bound to its expiry.
func (s *RedisSessionStore) Save(ctx context.Context, tokenDigest string, principal Principal, expiresAt time.Time) error {
	if s.client == nil {
		return fmt.Errorf("redis session client not configured")
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return s.Delete(ctx, tokenDigest)
	}
	payload, err := json.Marshal(redisSessionRecord{
		UserID:    principal.UserID,
		UserName:  principal.UserName,
		ExpiresAt: expiresAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	return s.client.Set(ctx, redisSessionKeyPrefix+tokenDigest, payload, ttl).Err()
}

// Get fetches the session for the provided token digest.
func (s *RedisSessionStore) Get(ctx context.Context, tokenDigest string) (SessionRecord, bool, error) {
	if s.client == nil {
		return SessionRecord{}, false, fmt.Errorf("redis session client not configured")
	}
	payload, err := s.client.Get(ctx, redisSessionKeyPrefix+tokenDigest).Bytes()
	if err == redis.Nil {
		return SessionRecord{}, false, nil
	}
	if err != nil {
		return SessionRecord{}, false, err
	}
	var decoded redisSessionRecord
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return SessionRecord{}, false, fmt.Errorf("decode session record: %w", err)
	}
	return SessionRecord{
		TokenDigest: tokenDigest,
		Principal:   Principal{UserID: decoded.UserID, UserName: decoded.UserName},
		ExpiresAt:   decoded.ExpiresAt,
	}, true, nil
}

// Delete removes the session entry.
func (s *RedisSessionStore) Delete(ctx context.Context, tokenDigest string) error {
	if s.client == nil {
		return fmt.Errorf("redis session client not configured")
	}
	return s.client.Del(ctx, redisSessionKeyPrefix+tokenDigest).Err()
}

// PurgeExpired is a no-op for Redis because keys expire via TTL.
func (s *RedisSessionStore) PurgeExpired(ctx context.Context, now time.Time) error {
	return nil
}

// Ping verifies Redis connectivity.
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("redis session client not configured")
	}
	return s.client.Ping(ctx).Err()
}
