package session

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewStore(rdb, "rg:s"), mr
}

func hashOf(secret string) [32]byte {
	return sha256.Sum256([]byte(secret))
}

func liveSession(sessionID string, now time.Time) *Session {
	s := &Session{
		SessionID:      sessionID,
		AccountID:      "acct-1",
		Role:           "user",
		RiskScore:      10,
		MFAVerified:    true,
		Generation:     0,
		RefreshHash:    hashOf("secret-0"),
		CreatedAt:      now.Unix(),
		LastActivityAt: now.Unix(),
		ExpiresAt:      now.Add(12 * time.Hour).Unix(),
	}
	for i := range s.Fingerprint {
		s.Fingerprint[i] = 0xab
	}
	return s
}

func mustSave(t *testing.T, store *Store, sess *Session, ttl time.Duration) {
	t.Helper()
	if err := store.Save(context.Background(), sess, ttl); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
}

func TestSaveAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Now()
	in := liveSession("sid-1", now)
	mustSave(t, store, in, time.Hour)

	out, err := store.Get(context.Background(), "sid-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if out.AccountID != "acct-1" || out.Generation != 0 || !out.MFAVerified {
		t.Fatalf("unexpected session: %+v", out)
	}
	if out.RefreshHash != hashOf("secret-0") {
		t.Fatal("refresh hash mismatch")
	}
}

func TestGetUnknownSession(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetAbsoluteExpiredDropsRecord(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Now()

	sess := liveSession("sid-1", now)
	sess.ExpiresAt = now.Add(-time.Minute).Unix()
	mustSave(t, store, sess, time.Hour)

	if _, err := store.Get(context.Background(), "sid-1"); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	// The record is gone and the index no longer lists it.
	if _, err := store.Get(context.Background(), "sid-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after drop, got %v", err)
	}
	ids, err := store.ActiveSessionIDs(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("ActiveSessionIDs failed: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty index, got %v", ids)
	}
}

func TestRotateSuccess(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Now()
	sess := liveSession("sid-1", now)
	mustSave(t, store, sess, time.Hour)

	later := now.Add(5 * time.Minute)
	updated, err := store.Rotate(
		context.Background(), "sid-1",
		0, hashOf("secret-0"), hashOf("secret-1"), sess.Fingerprint,
		later, 30*time.Minute,
	)
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	if updated.Generation != 1 {
		t.Fatalf("expected generation 1, got %d", updated.Generation)
	}
	if updated.RefreshHash != hashOf("secret-1") {
		t.Fatal("expected refresh hash swapped")
	}
	if updated.LastActivityAt != later.Unix() {
		t.Fatalf("expected last activity %d, got %d", later.Unix(), updated.LastActivityAt)
	}
	if updated.CreatedAt != sess.CreatedAt || updated.ExpiresAt != sess.ExpiresAt {
		t.Fatal("expected created/expires untouched")
	}
	if updated.AccountID != "acct-1" || updated.Role != "user" {
		t.Fatalf("expected identity fields preserved, got %+v", updated)
	}
}

func TestRotateStaleGenerationRevokesSession(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Now()
	sess := liveSession("sid-1", now)
	mustSave(t, store, sess, time.Hour)

	// Legitimate rotation spends generation 0.
	if _, err := store.Rotate(
		context.Background(), "sid-1",
		0, hashOf("secret-0"), hashOf("secret-1"), sess.Fingerprint,
		now, 0,
	); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	// Replaying the spent token kills the whole session.
	_, err := store.Rotate(
		context.Background(), "sid-1",
		0, hashOf("secret-0"), hashOf("secret-2"), sess.Fingerprint,
		now, 0,
	)
	if !errors.Is(err, ErrReplay) {
		t.Fatalf("expected ErrReplay, got %v", err)
	}

	got, err := store.Get(context.Background(), "sid-1")
	if err != nil {
		t.Fatalf("Get after replay failed: %v", err)
	}
	if !got.Revoked {
		t.Fatal("expected session revoked after replay")
	}

	// The current-generation holder is now locked out too.
	if _, err := store.Rotate(
		context.Background(), "sid-1",
		1, hashOf("secret-1"), hashOf("secret-2"), sess.Fingerprint,
		now, 0,
	); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
}

func TestRotateWrongSecretRevokesSession(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Now()
	sess := liveSession("sid-1", now)
	mustSave(t, store, sess, time.Hour)

	_, err := store.Rotate(
		context.Background(), "sid-1",
		0, hashOf("forged"), hashOf("secret-1"), sess.Fingerprint,
		now, 0,
	)
	if !errors.Is(err, ErrReplay) {
		t.Fatalf("expected ErrReplay, got %v", err)
	}
	got, err := store.Get(context.Background(), "sid-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Revoked {
		t.Fatal("expected session revoked after forged secret")
	}
}

func TestRotateFingerprintMismatchRevokesSession(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Now()
	sess := liveSession("sid-1", now)
	mustSave(t, store, sess, time.Hour)

	var otherDevice [32]byte
	for i := range otherDevice {
		otherDevice[i] = 0xcd
	}

	_, err := store.Rotate(
		context.Background(), "sid-1",
		0, hashOf("secret-0"), hashOf("secret-1"), otherDevice,
		now, 0,
	)
	if !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected ErrFingerprintMismatch, got %v", err)
	}
	got, err := store.Get(context.Background(), "sid-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Revoked {
		t.Fatal("expected session revoked after fingerprint mismatch")
	}
}

func TestRotateUnknownSession(t *testing.T) {
	store, _ := newTestStore(t)

	var fp [32]byte
	_, err := store.Rotate(
		context.Background(), "missing",
		0, hashOf("a"), hashOf("b"), fp,
		time.Now(), 0,
	)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRotateInactivityTimeout(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Now()
	sess := liveSession("sid-1", now)
	sess.LastActivityAt = now.Add(-time.Hour).Unix()
	mustSave(t, store, sess, 2*time.Hour)

	_, err := store.Rotate(
		context.Background(), "sid-1",
		0, hashOf("secret-0"), hashOf("secret-1"), sess.Fingerprint,
		now, 30*time.Minute,
	)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	// Timed-out records are dropped, not revoked.
	if _, err := store.Get(context.Background(), "sid-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after inactivity drop, got %v", err)
	}
}

func TestRotateAbsoluteExpiry(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Now()
	sess := liveSession("sid-1", now)
	sess.ExpiresAt = now.Add(-time.Minute).Unix()
	mustSave(t, store, sess, time.Hour)

	_, err := store.Rotate(
		context.Background(), "sid-1",
		0, hashOf("secret-0"), hashOf("secret-1"), sess.Fingerprint,
		now, 0,
	)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	store, mr := newTestStore(t)
	now := time.Now()
	sess := liveSession("sid-1", now)
	mustSave(t, store, sess, time.Hour)

	ctx := context.Background()
	if err := store.Revoke(ctx, "sid-1"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if err := store.Revoke(ctx, "sid-1"); err != nil {
		t.Fatalf("second Revoke failed: %v", err)
	}
	if err := store.Revoke(ctx, "never-existed"); err != nil {
		t.Fatalf("Revoke of unknown session failed: %v", err)
	}

	got, err := store.Get(ctx, "sid-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Revoked {
		t.Fatal("expected revoked flag set")
	}

	// Revocation preserves the TTL so the tombstone still ages out.
	if mr.TTL("rg:s:sid-1") <= 0 {
		t.Fatal("expected revoked record to keep its TTL")
	}
}

func TestRevokeAllForAccount(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Now()
	ctx := context.Background()

	for _, sid := range []string{"sid-1", "sid-2", "sid-3"} {
		mustSave(t, store, liveSession(sid, now), time.Hour)
	}
	if err := store.Revoke(ctx, "sid-2"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	revoked, err := store.RevokeAllForAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("RevokeAllForAccount failed: %v", err)
	}
	if revoked != 2 {
		t.Fatalf("expected 2 newly revoked sessions, got %d", revoked)
	}

	for _, sid := range []string{"sid-1", "sid-2", "sid-3"} {
		got, err := store.Get(ctx, sid)
		if err != nil {
			t.Fatalf("Get(%s) failed: %v", sid, err)
		}
		if !got.Revoked {
			t.Fatalf("expected %s revoked", sid)
		}
	}
}

func TestDeleteRemovesRecordAndIndex(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Now()
	ctx := context.Background()
	mustSave(t, store, liveSession("sid-1", now), time.Hour)

	if err := store.Delete(ctx, "sid-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "sid-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Delete(ctx, "sid-1"); err != nil {
		t.Fatalf("repeat Delete failed: %v", err)
	}
}
