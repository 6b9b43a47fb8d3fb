package apikey

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
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

type collidingStore struct {
	*sqlstore.Store
	collisions int
	inserts    int
}

func (c *collidingStore) InsertAPIKey(ctx context.Context, k *storage.APIKey) error {
	c.inserts++
	if c.collisions > 0 {
		c.collisions--
		return storage.ErrConflict
	}
	return c.Store.InsertAPIKey(ctx, k)
}

func openTestDB(t *testing.T, clock clockwork.Clock) *sqlstore.Store {
	t.Helper()
	db, err := sqlstore.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "keys.db"), nil)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	for _, id := range []string{"owner-1", "owner-2"} {
		err := db.CreateUser(context.Background(), &storage.User{
			ID: id, Email: id + "@example.com", Username: id, IsActive: true,
			CreatedAt: clock.Now(), UpdatedAt: clock.Now(),
		})
		if err != nil {
			t.Fatalf("CreateUser failed: %v", err)
		}
	}
	return db
}

func newTestManager(t *testing.T) (*Manager, *sqlstore.Store, fakeClock) {
	t.Helper()
	var clock fakeClock = clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	db := openTestDB(t, clock)
	m, err := NewManager(db, clock, Config{})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m, db, clock
}

func TestCreateAndAuthenticate(t *testing.T) {
	m, db, clock := newTestManager(t)
	ctx := context.Background()

	raw, key, err := m.Create(ctx, CreateParams{
		OwnerID: "owner-1",
		Label:   "ci",
		Scopes:  []string{"write", " read ", "read", ""},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !strings.HasPrefix(raw, KeyPrefix) {
		t.Fatalf("raw key missing prefix: %q", raw)
	}
	if !reflect.DeepEqual(key.Scopes, []string{"read", "write"}) {
		t.Fatalf("scopes not normalized: %v", key.Scopes)
	}
	if !strings.HasPrefix(raw, key.KeyPrefix) || len(key.KeyPrefix) != DisplayPrefixLength {
		t.Fatalf("unexpected display prefix %q", key.KeyPrefix)
	}

	stored, err := db.GetAPIKeyByID(ctx, key.ID)
	if err != nil {
		t.Fatalf("GetAPIKeyByID failed: %v", err)
	}
	if stored.KeyHash == raw || strings.Contains(stored.KeyHash, raw) {
		t.Fatalf("raw key must not be stored")
	}

	clock.Advance(time.Minute)
	got, err := m.Authenticate(ctx, raw)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if got.ID != key.ID {
		t.Fatalf("Authenticate returned %s, want %s", got.ID, key.ID)
	}

	stored, _ = db.GetAPIKeyByID(ctx, key.ID)
	if stored.LastUsedAt == nil || !stored.LastUsedAt.Equal(clock.Now()) {
		t.Fatalf("last_used_at not stamped: %v", stored.LastUsedAt)
	}
}

func TestCreateValidation(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	if _, _, err := m.Create(ctx, CreateParams{Label: ""}); !errors.Is(err, ErrInvalidLabel) {
		t.Fatalf("expected ErrInvalidLabel, got %v", err)
	}
	if _, _, err := m.Create(ctx, CreateParams{Label: strings.Repeat("x", MaxLabelLength+1)}); !errors.Is(err, ErrInvalidLabel) {
		t.Fatalf("expected ErrInvalidLabel for long label, got %v", err)
	}
	if _, _, err := m.Create(ctx, CreateParams{Label: "x", Scopes: []string{"a b"}}); !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("expected ErrInvalidScope, got %v", err)
	}
	past := clock.Now().Add(-time.Second)
	if _, _, err := m.Create(ctx, CreateParams{Label: "x", ExpiresAt: &past}); !errors.Is(err, ErrInvalidExpiry) {
		t.Fatalf("expected ErrInvalidExpiry, got %v", err)
	}
}

func TestCreateRetriesOnCollision(t *testing.T) {
	var clock fakeClock = clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	st := &collidingStore{Store: openTestDB(t, clock), collisions: 2}
	m, err := NewManager(st, clock, Config{MaxAttempts: 3})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	if _, _, err := m.Create(context.Background(), CreateParams{Label: "svc"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if st.inserts != 3 {
		t.Fatalf("expected 3 insert attempts, got %d", st.inserts)
	}

	st.collisions = 3
	st.inserts = 0
	if _, _, err := m.Create(context.Background(), CreateParams{Label: "svc"}); !errors.Is(err, ErrCollision) {
		t.Fatalf("expected ErrCollision, got %v", err)
	}
	if st.inserts != 3 {
		t.Fatalf("expected retries to stop at MaxAttempts, got %d", st.inserts)
	}
}

func TestAuthenticateFailures(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Authenticate(ctx, "garbage"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for malformed key, got %v", err)
	}
	if _, err := m.Authenticate(ctx, "ak_AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for unknown key, got %v", err)
	}

	raw, key, err := m.Create(ctx, CreateParams{OwnerID: "owner-1", Label: "a"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := m.SetActive(ctx, key.ID, false); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}
	if _, err := m.Authenticate(ctx, raw); !errors.Is(err, ErrInactive) {
		t.Fatalf("expected ErrInactive, got %v", err)
	}
	if err := m.SetActive(ctx, key.ID, true); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}

	expiry := clock.Now().Add(time.Hour)
	expiring, _, err := m.Create(ctx, CreateParams{OwnerID: "owner-1", Label: "b", ExpiresAt: &expiry})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	clock.Advance(time.Hour)
	if _, err := m.Authenticate(ctx, expiring); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired at expires_at, got %v", err)
	}

	if err := m.Revoke(ctx, key.ID, "user:owner-1", "leaked"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if _, err := m.Authenticate(ctx, raw); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid after revoke, got %v", err)
	}
	if err := m.SetActive(ctx, key.ID, true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound re-activating deleted key, got %v", err)
	}
}

func TestAuthorizeScopes(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	readOnly, _, err := m.Create(ctx, CreateParams{Label: "reader", Scopes: []string{"read"}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	admin, _, err := m.Create(ctx, CreateParams{Label: "admin", Scopes: []string{WildcardScope}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := m.Authorize(ctx, readOnly, "read"); err != nil {
		t.Fatalf("expected read allowed, got %v", err)
	}
	if _, err := m.Authorize(ctx, readOnly, "write"); !errors.Is(err, ErrScopeDenied) {
		t.Fatalf("expected ErrScopeDenied, got %v", err)
	}
	if _, err := m.Authorize(ctx, readOnly, "rea"); !errors.Is(err, ErrScopeDenied) {
		t.Fatalf("expected prefix match to be denied, got %v", err)
	}
	if _, err := m.Authorize(ctx, admin, "anything"); err != nil {
		t.Fatalf("expected wildcard to grant every scope, got %v", err)
	}
}

func TestRotatePreservesIdentity(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	oldRaw, key, err := m.Create(ctx, CreateParams{OwnerID: "owner-1", Label: "deploy", Scopes: []string{"deploy"}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	clock.Advance(time.Hour)

	newRaw, rotated, err := m.Rotate(ctx, key.ID)
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if newRaw == oldRaw {
		t.Fatalf("expected new secret")
	}
	if rotated.ID != key.ID || rotated.Label != key.Label || !reflect.DeepEqual(rotated.Scopes, key.Scopes) {
		t.Fatalf("rotation changed identity: %+v", rotated)
	}
	if rotated.RotatedAt == nil || !rotated.RotatedAt.Equal(clock.Now()) {
		t.Fatalf("rotated_at not stamped")
	}

	if _, err := m.Authenticate(ctx, oldRaw); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected old key invalid, got %v", err)
	}
	if got, err := m.Authenticate(ctx, newRaw); err != nil || got.ID != key.ID {
		t.Fatalf("expected new key to authenticate as same id, got %v", err)
	}

	if _, _, err := m.Rotate(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := m.Revoke(ctx, key.ID, "admin", "rotate test"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if _, _, err := m.Rotate(ctx, key.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound rotating deleted key, got %v", err)
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	_, key, err := m.Create(ctx, CreateParams{OwnerID: "owner-1", Label: "k"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := m.Revoke(ctx, key.ID, "user:owner-1", "first"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	firstAt := clock.Now()
	clock.Advance(time.Hour)
	if err := m.Revoke(ctx, key.ID, "admin", "second"); err != nil {
		t.Fatalf("second Revoke failed: %v", err)
	}

	got, err := m.Get(ctx, key.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.IsDeleted || got.DeletedBy != "user:owner-1" || got.DeletionReason != "first" {
		t.Fatalf("second revoke must keep the original audit fields: %+v", got)
	}
	if got.DeletedAt == nil || !got.DeletedAt.Equal(firstAt) {
		t.Fatalf("deleted_at changed: %v", got.DeletedAt)
	}

	if err := m.Revoke(ctx, "never-existed", "admin", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListOrderingAndFilters(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	var ids []string
	for _, label := range []string{"first", "second", "third"} {
		_, key, err := m.Create(ctx, CreateParams{OwnerID: "owner-1", Label: label})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		ids = append(ids, key.ID)
		clock.Advance(time.Second)
	}
	if _, _, err := m.Create(ctx, CreateParams{OwnerID: "owner-2", Label: "other"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, _, err := m.Create(ctx, CreateParams{Label: "system"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := m.Revoke(ctx, ids[1], "admin", ""); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	keys, err := m.List(ctx, "owner-1", false)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 2 || keys[0].ID != ids[2] || keys[1].ID != ids[0] {
		t.Fatalf("unexpected listing: %+v", keys)
	}

	keys, err = m.List(ctx, "owner-1", true)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 3 || keys[1].ID != ids[1] || !keys[1].IsDeleted {
		t.Fatalf("expected deleted key in full listing: %+v", keys)
	}

	system, err := m.List(ctx, "", false)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(system) != 1 || system[0].Label != "system" {
		t.Fatalf("unexpected system keys: %+v", system)
	}
}

func TestRevokeAllForOwner(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	a, _, _ := m.Create(ctx, CreateParams{OwnerID: "owner-1", Label: "a"})
	b, _, _ := m.Create(ctx, CreateParams{OwnerID: "owner-1", Label: "b"})
	other, _, _ := m.Create(ctx, CreateParams{OwnerID: "owner-2", Label: "c"})

	n, err := m.RevokeAllForOwner(ctx, "owner-1", "system:account-deletion", "account deleted")
	if err != nil {
		t.Fatalf("RevokeAllForOwner failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 keys revoked, got %d", n)
	}
	for _, raw := range []string{a, b} {
		if _, err := m.Authenticate(ctx, raw); !errors.Is(err, ErrInvalid) {
			t.Fatalf("expected ErrInvalid, got %v", err)
		}
	}
	if _, err := m.Authenticate(ctx, other); err != nil {
		t.Fatalf("other owner's key must survive, got %v", err)
	}
}
