package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RevocationStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRevocationStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create revocation store: %v", err)
	}
	return store, s
}

func TestNewRevocationStore(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	store, err := NewRevocationStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("NewRevocationStore failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestRevokeAndCheck(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()

	if err := store.Revoke(ctx, "jti-1", time.Hour); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	revoked, err := store.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if !revoked {
		t.Error("expected jti-1 to be revoked")
	}

	revoked, err = store.IsRevoked(ctx, "jti-2")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if revoked {
		t.Error("expected jti-2 to not be revoked")
	}
}

func TestRevocationExpiresWithToken(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()

	if err := store.Revoke(ctx, "jti-short", 50*time.Millisecond); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	// Fast-forward past the token's natural expiry in miniredis
	s.FastForward(100 * time.Millisecond)

	revoked, err := store.IsRevoked(ctx, "jti-short")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if revoked {
		t.Error("expected revocation entry to expire with the token")
	}
}

func TestRevokeExpiredTokenIsNoop(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()

	if err := store.Revoke(ctx, "jti-expired", -time.Minute); err != nil {
		t.Fatalf("Revoke of expired token failed: %v", err)
	}

	revoked, err := store.IsRevoked(ctx, "jti-expired")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if revoked {
		t.Error("expected no revocation entry for already-expired token")
	}
}
