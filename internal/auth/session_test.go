package auth

import (
	"context"
	"testing"
	"time"
)

func TestManagerRegisterAndResolve(t *testing.T) {
	manager := NewManager(time.Hour)
	principal := Principal{UserID: "user-1", UserName: "casey"}

	expiresAt, err := manager.Register(context.Background(), "token-abc", principal)
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expected future expiry, got %s", expiresAt)
	}

	resolved, ok, err := manager.Resolve(context.Background(), "token-abc")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if !ok {
		t.Fatal("expected session to resolve")
	}
	if resolved != principal {
		t.Fatalf("resolved principal = %+v, want %+v", resolved, principal)
	}
}

func TestManagerResolveUnknownToken(t *testing.T) {
	manager := NewManager(time.Hour)

	_, ok, err := manager.Resolve(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if ok {
		t.Fatal("expected unknown token to miss")
	}
}

func TestManagerResolveEmptyToken(t *testing.T) {
	manager := NewManager(time.Hour)

	_, ok, err := manager.Resolve(context.Background(), "")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if ok {
		t.Fatal("expected empty token to miss")
	}
}

func TestManagerRegisterRequiresUserID(t *testing.T) {
	manager := NewManager(time.Hour)

	if _, err := manager.Register(context.Background(), "token", Principal{}); err != ErrInvalidPrincipal {
		t.Fatalf("expected ErrInvalidPrincipal, got %v", err)
	}
}

func TestManagerExpiredSessionRemoved(t *testing.T) {
	current := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemorySessionStore()
	manager := NewManager(time.Hour, WithStore(store), WithClock(func() time.Time { return current }))

	if _, err := manager.Register(context.Background(), "token-xyz", Principal{UserID: "user-2"}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	current = current.Add(2 * time.Hour)

	_, ok, err := manager.Resolve(context.Background(), "token-xyz")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if ok {
		t.Fatal("expected expired session to miss")
	}

	digest, err := hashSessionToken("token-xyz")
	if err != nil {
		t.Fatalf("hashSessionToken returned error: %v", err)
	}
	if _, found, _ := store.Get(context.Background(), digest); found {
		t.Fatal("expected expired session to be deleted from the store")
	}
}

func TestManagerRevoke(t *testing.T) {
	manager := NewManager(time.Hour)
	if _, err := manager.Register(context.Background(), "token-rev", Principal{UserID: "user-3"}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if err := manager.Revoke(context.Background(), "token-rev"); err != nil {
		t.Fatalf("Revoke returned error: %v", err)
	}
	if _, ok, _ := manager.Resolve(context.Background(), "token-rev"); ok {
		t.Fatal("expected revoked token to miss")
	}
}

func TestManagerPurgeExpired(t *testing.T) {
	current := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemorySessionStore()
	manager := NewManager(time.Minute, WithStore(store), WithClock(func() time.Time { return current }))

	if _, err := manager.Register(context.Background(), "short", Principal{UserID: "user-4"}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	current = current.Add(time.Hour)
	if _, err := manager.Register(context.Background(), "fresh", Principal{UserID: "user-5"}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	if err := manager.PurgeExpired(context.Background()); err != nil {
		t.Fatalf("PurgeExpired returned error: %v", err)
	}

	if _, ok, _ := manager.Resolve(context.Background(), "short"); ok {
		t.Fatal("expected stale session to be purged")
	}
	if _, ok, _ := manager.Resolve(context.Background(), "fresh"); !ok {
		t.Fatal("expected fresh session to survive purge")
	}
}

func TestHashSessionTokenStable(t *testing.T) {
	first, err := hashSessionToken("token")
	if err != nil {
		t.Fatalf("hashSessionToken returned error: %v", err)
	}
	second, err := hashSessionToken("token")
	if err != nil {
		t.Fatalf("hashSessionToken returned error: %v", err)
	}
	if first != second {
		t.Fatal("expected identical tokens to share a digest")
	}
	other, err := hashSessionToken("another")
	if err != nil {
		t.Fatalf("hashSessionToken returned error: %v", err)
	}
	if first == other {
		t.Fatal("expected distinct tokens to produce distinct digests")
	}
	if _, err := hashSessionToken(""); err == nil {
		t.Fatal("expected empty token to be rejected")
	}
}
