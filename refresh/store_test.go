package refresh

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/MrEthical07/authcore/storage"
	"github.com/MrEthical07/authcore/storage/sqlstore"
)

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

func newTestRefreshStore(t *testing.T, cfg Config) (*Store, *sqlstore.Store, fakeClock) {
	t.Helper()
	db, err := sqlstore.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "refresh.db"), nil)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	var clock fakeClock = clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	for _, id := range []string{"u1", "u2"} {
		err := db.CreateUser(context.Background(), &storage.User{
			ID:        id,
			Email:     id + "@example.com",
			Username:  id,
			IsActive:  true,
			CreatedAt: clock.Now(),
			UpdatedAt: clock.Now(),
		})
		if err != nil {
			t.Fatalf("CreateUser failed: %v", err)
		}
	}

	s, err := NewStore(db, clock, cfg)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return s, db, clock
}

func TestIssueStoresOnlyHash(t *testing.T) {
	s, db, clock := newTestRefreshStore(t, DefaultConfig())
	ctx := context.Background()

	raw, rec, err := s.Issue(ctx, "u1", Metadata{DeviceInfo: "cli", IPAddress: "10.0.0.1"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if rec.TokenHash == raw || rec.TokenHash == "" {
		t.Fatalf("expected stored hash to differ from raw token")
	}
	if rec.FamilyID != rec.ID {
		t.Fatalf("expected first token to start its own family")
	}
	if !rec.ExpiresAt.Equal(clock.Now().Add(DefaultTTL)) {
		t.Fatalf("unexpected expiry %v", rec.ExpiresAt)
	}

	stored, err := db.GetRefreshTokenByHash(ctx, rec.TokenHash)
	if err != nil {
		t.Fatalf("GetRefreshTokenByHash failed: %v", err)
	}
	if stored.DeviceInfo != "cli" || stored.IPAddress != "10.0.0.1" {
		t.Fatalf("metadata not persisted: %+v", stored)
	}
	if _, err := db.GetRefreshTokenByHash(ctx, raw); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("raw token must not be a stored key, got %v", err)
	}
}

func TestRotateReplacesToken(t *testing.T) {
	s, _, _ := newTestRefreshStore(t, DefaultConfig())
	ctx := context.Background()

	raw, first, err := s.Issue(ctx, "u1", Metadata{DeviceInfo: "phone"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	next, successor, err := s.Rotate(ctx, raw)
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if next == raw {
		t.Fatalf("expected a new secret")
	}
	if successor.FamilyID != first.FamilyID || successor.ParentID != first.ID {
		t.Fatalf("successor lineage wrong: %+v", successor)
	}
	if successor.UserID != "u1" || successor.DeviceInfo != "phone" {
		t.Fatalf("successor lost user or device: %+v", successor)
	}

	if _, _, err := s.Rotate(ctx, raw); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked on replay, got %v", err)
	}
}

func TestRotateReuseRevokesLineage(t *testing.T) {
	s, _, _ := newTestRefreshStore(t, DefaultConfig())
	ctx := context.Background()

	raw, _, err := s.Issue(ctx, "u1", Metadata{})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	next, _, err := s.Rotate(ctx, raw)
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if _, _, err := s.Rotate(ctx, raw); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
	if _, _, err := s.Rotate(ctx, next); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected successor revoked after reuse, got %v", err)
	}
}

func TestRotateReuseKeepsLineageWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RevokeLineageOnReuse = false
	s, _, _ := newTestRefreshStore(t, cfg)
	ctx := context.Background()

	raw, _, _ := s.Issue(ctx, "u1", Metadata{})
	next, _, err := s.Rotate(ctx, raw)
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if _, _, err := s.Rotate(ctx, raw); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
	if _, _, err := s.Rotate(ctx, next); err != nil {
		t.Fatalf("expected successor to stay live, got %v", err)
	}
}

func TestRotateErrors(t *testing.T) {
	s, _, clock := newTestRefreshStore(t, Config{TTL: time.Hour})
	ctx := context.Background()

	if _, _, err := s.Rotate(ctx, ""); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for empty token, got %v", err)
	}
	if _, _, err := s.Rotate(ctx, "ak_abc"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for foreign prefix, got %v", err)
	}
	if _, _, err := s.Rotate(ctx, "rt_AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown token, got %v", err)
	}

	raw, _, err := s.Issue(ctx, "u1", Metadata{})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	clock.Advance(time.Hour)
	if _, _, err := s.Rotate(ctx, raw); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired at expires_at, got %v", err)
	}
}

func TestRotateConcurrentExactlyOneWins(t *testing.T) {
	s, _, _ := newTestRefreshStore(t, DefaultConfig())
	ctx := context.Background()

	raw, _, err := s.Issue(ctx, "u1", Metadata{})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		revoked int
		other   []error
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _, err := s.Rotate(ctx, raw)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, ErrRevoked):
				revoked++
			default:
				other = append(other, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(other) > 0 {
		t.Fatalf("unexpected errors: %v", other)
	}
	if success != 1 || revoked != workers-1 {
		t.Fatalf("expected 1 success and %d revoked, got %d and %d", workers-1, success, revoked)
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	s, _, _ := newTestRefreshStore(t, DefaultConfig())
	ctx := context.Background()

	raw, _, _ := s.Issue(ctx, "u1", Metadata{})
	if err := s.Revoke(ctx, raw); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if err := s.Revoke(ctx, raw); err != nil {
		t.Fatalf("second Revoke failed: %v", err)
	}
	if err := s.Revoke(ctx, "rt_AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"); err != nil {
		t.Fatalf("Revoke of unknown token failed: %v", err)
	}
	if _, _, err := s.Rotate(ctx, raw); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked after Revoke, got %v", err)
	}
}

func TestRevokeAllAndListActive(t *testing.T) {
	s, _, clock := newTestRefreshStore(t, Config{TTL: time.Hour})
	ctx := context.Background()

	a, _, _ := s.Issue(ctx, "u1", Metadata{DeviceInfo: "a"})
	b, _, _ := s.Issue(ctx, "u1", Metadata{DeviceInfo: "b"})
	other, _, _ := s.Issue(ctx, "u2", Metadata{})

	clock.Advance(time.Minute)
	sessions, err := s.ListActive(ctx, "u1")
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}

	n, err := s.RevokeAll(ctx, "u1")
	if err != nil {
		t.Fatalf("RevokeAll failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 revoked, got %d", n)
	}
	for _, raw := range []string{a, b} {
		if _, _, err := s.Rotate(ctx, raw); !errors.Is(err, ErrRevoked) {
			t.Fatalf("expected ErrRevoked, got %v", err)
		}
	}
	if _, _, err := s.Rotate(ctx, other); err != nil {
		t.Fatalf("other user's token must survive, got %v", err)
	}

	sessions, err = s.ListActive(ctx, "u1")
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no sessions, got %d", len(sessions))
	}
}

func TestLookup(t *testing.T) {
	s, _, _ := newTestRefreshStore(t, DefaultConfig())
	ctx := context.Background()

	raw, rec, _ := s.Issue(ctx, "u1", Metadata{})
	got, err := s.Lookup(ctx, raw)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got.ID != rec.ID {
		t.Fatalf("Lookup returned %s, want %s", got.ID, rec.ID)
	}
	if _, err := s.Lookup(ctx, "bogus"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestNewStoreValidation(t *testing.T) {
	if _, err := NewStore(nil, nil, DefaultConfig()); err == nil {
		t.Fatalf("expected error for nil store")
	}
	_, db, _ := newTestRefreshStore(t, DefaultConfig())
	if _, err := NewStore(db, nil, Config{SecretBytes: 8}); err == nil {
		t.Fatalf("expected error for short secrets")
	}
	if _, err := NewStore(db, nil, Config{TTL: -time.Second}); err == nil {
		t.Fatalf("expected error for negative TTL")
	}
}
