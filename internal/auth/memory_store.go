package auth

import (
	"context"
	"sync"
	"time"
)

// MemorySessionStore keeps session state in-memory. It is safe for
// concurrent use and intended for development or single-instance
// deployments where the host pushes sessions through Register.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]SessionRecord
}

// NewMemorySessionStore constructs an in-memory store implementation.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]SessionRecord)}
}

// Save records the session details for the provided token digest.
func (s *MemorySessionStore) Save(_ context.Context, tokenDigest string, principal Principal, expiresAt time.Time) error {
	s.mu.Lock()
	s.sessions[tokenDigest] = SessionRecord{TokenDigest: tokenDigest, Principal: principal, ExpiresAt: expiresAt}
	s.mu.Unlock()
	return nil
}

// Get retrieves the session record for the provided token digest.
func (s *MemorySessionStore) Get(_ context.Context, tokenDigest string) (SessionRecord, bool, error) {
	s.mu.RLock()
	record, ok := s.sessions[tokenDigest]
	s.mu.RUnlock()
	return record, ok, nil
}

// Delete removes the session from the store.
func (s *MemorySessionStore) Delete(_ context.Context, tokenDigest string) error {
	s.mu.Lock()
	delete(s.sessions, tokenDigest)
	s.mu.Unlock()
	return nil
}

// PurgeExpired removes any expired sessions from the store.
func (s *MemorySessionStore) PurgeExpired(_ context.Context, now time.Time) error {
	s.mu.Lock()
	for digest, record := range s.sessions {
		if now.After(record.ExpiresAt) {
			delete(s.sessions, digest)
		}
	}
	s.mu.Unlock()
	return nil
}

// Ping always reports success for the in-memory session store.
func (s *MemorySessionStore) Ping(context.Context) error {
	return nil
}
