package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*miniredis.Miniredis, *Store) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, NewStore(client, time.Hour)
}

func TestRevokeSingleSession(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()

	revoked, err := store.IsRevoked(ctx, "sess-1")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if revoked {
		t.Fatal("fresh session reported revoked")
	}

	if err := store.Revoke(ctx, "sess-1", 30*time.Minute); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	revoked, err = store.IsRevoked(ctx, "sess-1")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if !revoked {
		t.Fatal("revoked session not reported")
	}

	// Other sessions are untouched.
	revoked, err = store.IsRevoked(ctx, "sess-2")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if revoked {
		t.Fatal("unrelated session reported revoked")
	}
}

func TestTombstoneExpiresWithToken(t *testing.T) {
	mr, store := newTestStore(t)
	ctx := context.Background()

	if err := store.Revoke(ctx, "sess-1", 10*time.Minute); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	mr.FastForward(11 * time.Minute)

	revoked, err := store.IsRevoked(ctx, "sess-1")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if revoked {
		t.Fatal("tombstone outlived the token")
	}
}

func TestRevokeClampsTTL(t *testing.T) {
	mr, store := newTestStore(t)
	ctx := context.Background()

	// Negative remaining still produces a live tombstone for at least the
	// floor duration.
	if err := store.Revoke(ctx, "sess-1", -time.Minute); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	revoked, err := store.IsRevoked(ctx, "sess-1")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if !revoked {
		t.Fatal("tombstone missing after negative remaining")
	}

	// Far-future remaining is clamped to the store's max life.
	if err := store.Revoke(ctx, "sess-2", 100*time.Hour); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	ttl := mr.TTL("prs:sess-2")
	if ttl > time.Hour {
		t.Fatalf("tombstone TTL = %v, want <= 1h", ttl)
	}
}

func TestRevokeAccount(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()

	for _, sid := range []string{"sess-1", "sess-2", "sess-3"} {
		if err := store.Track(ctx, "acct-1", sid); err != nil {
			t.Fatalf("Track(%s) failed: %v", sid, err)
		}
	}
	if err := store.Track(ctx, "acct-2", "sess-other"); err != nil {
		t.Fatalf("Track failed: %v", err)
	}

	if err := store.RevokeAccount(ctx, "acct-1"); err != nil {
		t.Fatalf("RevokeAccount failed: %v", err)
	}

	for _, sid := range []string{"sess-1", "sess-2", "sess-3"} {
		revoked, err := store.IsRevoked(ctx, sid)
		if err != nil {
			t.Fatalf("IsRevoked failed: %v", err)
		}
		if !revoked {
			t.Errorf("session %s survived account revocation", sid)
		}
	}

	revoked, err := store.IsRevoked(ctx, "sess-other")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if revoked {
		t.Fatal("other account's session was revoked")
	}

	// The index is cleared; a second revocation is a no-op.
	if err := store.RevokeAccount(ctx, "acct-1"); err != nil {
		t.Fatalf("second RevokeAccount failed: %v", err)
	}
}

func TestRevokeAccountWithNoSessions(t *testing.T) {
	_, store := newTestStore(t)

	if err := store.RevokeAccount(context.Background(), "acct-empty"); err != nil {
		t.Fatalf("RevokeAccount failed: %v", err)
	}
}
