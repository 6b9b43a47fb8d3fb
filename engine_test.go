package authcore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/storage/sqlstore"
)

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const testPassword = "correct horse battery"

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

type testEngine struct {
	*Engine
	store *sqlstore.Store
	clock fakeClock
}

func newTestEngine(t testing.TB, mutate func(*Config)) *testEngine {
	t.Helper()
	return newTestEngineWith(t, mutate, nil)
}

func newTestEngineWith(t testing.TB, mutate func(*Config), extra func(*Builder)) *testEngine {
	t.Helper()

	st, err := sqlstore.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "auth.db"), nil)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	var clock fakeClock = clockwork.NewFakeClockAt(testStart)

	b := New().WithConfig(cfg).WithStore(st).WithClock(clock)
	if extra != nil {
		extra(b)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return &testEngine{Engine: engine, store: st, clock: clock}
}

func mustHasher(t *testing.T, timeCost uint32) *password.Argon2 {
	t.Helper()
	cfg := testConfig().Password
	cfg.Time = timeCost
	h, err := password.NewArgon2(password.Config{
		Memory:      cfg.Memory,
		Time:        cfg.Time,
		Parallelism: cfg.Parallelism,
		SaltLength:  cfg.SaltLength,
		KeyLength:   cfg.KeyLength,
	})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	return h
}

func (te *testEngine) register(t testing.TB, email, username string) *Account {
	t.Helper()
	acct, err := te.Register(context.Background(), RegisterRequest{Email: email, Username: username, Password: testPassword})
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", email, err)
	}
	return acct
}

func TestEndToEndAliceSessionLifecycle(t *testing.T) {
	te := newTestEngine(t, func(c *Config) {
		c.Refresh.RevokeLineageOnReuse = false
	})
	ctx := context.Background()

	acct := te.register(t, "alice@example.com", "alice")

	pair, err := te.Login(ctx, "alice@example.com", testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected access and refresh tokens, got %+v", pair)
	}
	principal, err := te.ValidateAccess(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess failed: %v", err)
	}
	if principal.UserID != acct.ID || principal.Email != "alice@example.com" {
		t.Fatalf("unexpected principal %+v", principal)
	}

	rotated, err := te.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if rotated.RefreshToken == pair.RefreshToken {
		t.Fatal("expected a new refresh token")
	}
	if rotated.SessionID != pair.SessionID {
		t.Fatalf("expected rotation to keep session %s, got %s", pair.SessionID, rotated.SessionID)
	}

	if _, err := te.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked for the original secret, got %v", err)
	}

	if err := te.Logout(ctx, rotated.RefreshToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	for _, token := range []string{pair.RefreshToken, rotated.RefreshToken} {
		_, err := te.Refresh(ctx, token)
		if !errors.Is(err, ErrRevoked) && !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrRevoked or ErrNotFound after logout, got %v", err)
		}
	}

	sessions, err := te.ListSessions(ctx, acct.ID)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no live sessions after logout, got %d", len(sessions))
	}
}

func TestRefreshReuseRevokesLineage(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	te.register(t, "bob@example.com", "bob")

	pair, err := te.Login(ctx, "bob", testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	rotated, err := te.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if _, err := te.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked on reuse, got %v", err)
	}
	if _, err := te.Refresh(ctx, rotated.RefreshToken); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected successor revoked with its lineage, got %v", err)
	}
	if got := te.metrics.Value(MetricRefreshReuseDetected); got != 2 {
		t.Fatalf("expected 2 reuse detections, got %d", got)
	}
}

func TestRefreshConcurrentExactlyOneWinner(t *testing.T) {
	te := newTestEngine(t, func(c *Config) {
		c.Refresh.RevokeLineageOnReuse = false
	})
	ctx := context.Background()
	te.register(t, "carol@example.com", "carol")
	pair, err := te.Login(ctx, "carol", testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		revokeds int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := te.Refresh(ctx, pair.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrRevoked):
				revokeds++
			default:
				t.Errorf("unexpected refresh error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || revokeds != workers-1 {
		t.Fatalf("expected 1 winner and %d revoked, got %d and %d", workers-1, wins, revokeds)
	}
}

func TestRefreshErrors(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	te.register(t, "dave@example.com", "dave")

	if _, err := te.Refresh(ctx, ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}
	if _, err := te.Refresh(ctx, "rt_AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown token, got %v", err)
	}

	pair, err := te.Login(ctx, "dave", testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	te.clock.Advance(te.config.Refresh.TTL)
	if _, err := te.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired at TTL, got %v", err)
	}
}

func TestRefreshRejectsDisabledAccount(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	acct := te.register(t, "erin@example.com", "erin")
	pair, err := te.Login(ctx, "erin", testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	u, err := te.store.GetUserByID(ctx, acct.ID)
	if err != nil {
		t.Fatalf("GetUserByID failed: %v", err)
	}
	u.IsActive = false
	if err := te.store.UpdateUser(ctx, u); err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}

	if _, err := te.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  RegisterRequest
	}{
		{"empty email", RegisterRequest{Email: "", Username: "frank", Password: testPassword}},
		{"bad email", RegisterRequest{Email: "not-an-email", Username: "frank", Password: testPassword}},
		{"display name email", RegisterRequest{Email: "Frank <frank@example.com>", Username: "frank", Password: testPassword}},
		{"short username", RegisterRequest{Email: "frank@example.com", Username: "fr", Password: testPassword}},
		{"username with space", RegisterRequest{Email: "frank@example.com", Username: "frank smith", Password: testPassword}},
		{"short password", RegisterRequest{Email: "frank@example.com", Username: "frank", Password: "short"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := te.Register(ctx, tc.req); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	acct := te.register(t, "Grace@Example.com", "grace")
	if acct.Email != "grace@example.com" {
		t.Fatalf("expected lower-cased email, got %q", acct.Email)
	}

	dupes := []RegisterRequest{
		{Email: "grace@example.com", Username: "grace2", Password: testPassword},
		{Email: "GRACE@example.com", Username: "grace3", Password: testPassword},
		{Email: "other@example.com", Username: "grace", Password: testPassword},
	}
	for _, req := range dupes {
		if _, err := te.Register(ctx, req); !errors.Is(err, ErrAccountExists) {
			t.Fatalf("Register(%+v): expected ErrAccountExists, got %v", req, err)
		}
	}
	if got := te.metrics.Value(MetricRegisterDuplicate); got != uint64(len(dupes)) {
		t.Fatalf("expected %d duplicate registrations counted, got %d", len(dupes), got)
	}
}

func TestLoginFailuresAreUniform(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	te.register(t, "heidi@example.com", "heidi")

	if _, err := te.Login(ctx, "heidi", "wrong password!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := te.Login(ctx, "nobody", testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
	if _, err := te.Login(ctx, "HEIDI", testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected usernames to match exactly, got %v", err)
	}
	if _, err := te.Login(ctx, "HEIDI@example.com", testPassword); err != nil {
		t.Fatalf("expected email login to ignore case, got %v", err)
	}
}

func TestLoginDisabledOnlyAfterPasswordMatch(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	acct := te.register(t, "ivan@example.com", "ivan")

	u, err := te.store.GetUserByID(ctx, acct.ID)
	if err != nil {
		t.Fatalf("GetUserByID failed: %v", err)
	}
	u.IsActive = false
	if err := te.store.UpdateUser(ctx, u); err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}

	if _, err := te.Login(ctx, "ivan", "wrong password!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := te.Login(ctx, "ivan", testPassword); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
}

func TestLoginUpgradesWeakPasswordHash(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	acct := te.register(t, "judy@example.com", "judy")
	before, err := te.store.GetUserByID(ctx, acct.ID)
	if err != nil {
		t.Fatalf("GetUserByID failed: %v", err)
	}

	te.passwordHash = mustHasher(t, 2)
	if _, err := te.Login(ctx, "judy", testPassword); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	after, err := te.store.GetUserByID(ctx, acct.ID)
	if err != nil {
		t.Fatalf("GetUserByID failed: %v", err)
	}
	if after.PasswordHash == before.PasswordHash {
		t.Fatal("expected the stored hash to be upgraded")
	}
	if got := te.metrics.Value(MetricPasswordHashUpgraded); got != 1 {
		t.Fatalf("expected 1 upgrade, got %d", got)
	}
}

func TestValidateAccessErrors(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	te.register(t, "ken@example.com", "ken")
	pair, err := te.Login(ctx, "ken", testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if _, err := te.ValidateAccess(ctx, "garbage"); !errors.Is(err, ErrUnauthorized) || !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected malformed unauthorized error, got %v", err)
	}

	tampered := pair.AccessToken[:len(pair.AccessToken)-2] + "xx"
	if _, err := te.ValidateAccess(ctx, tampered); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for tampered token, got %v", err)
	}

	te.clock.Advance(te.config.JWT.AccessTTL + te.config.JWT.Leeway + time.Second)
	if _, err := te.ValidateAccess(ctx, pair.AccessToken); !errors.Is(err, ErrUnauthorized) || !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected expired unauthorized error, got %v", err)
	}
	if snap := te.MetricsSnapshot(); snap.Counters[MetricAccessRejected] != 3 {
		t.Fatalf("expected 3 rejected validations, got %d", snap.Counters[MetricAccessRejected])
	}
}

func TestValidateAccessUsesUserCache(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	te.register(t, "liam@example.com", "liam")
	pair, err := te.Login(ctx, "liam", testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := te.ValidateAccess(ctx, pair.AccessToken); err != nil {
			t.Fatalf("ValidateAccess failed: %v", err)
		}
	}
	if hits, misses := te.metrics.Value(MetricUserCacheHit), te.metrics.Value(MetricUserCacheMiss); hits != 2 || misses != 1 {
		t.Fatalf("expected 2 hits and 1 miss, got %d and %d", hits, misses)
	}
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	acct := te.register(t, "mia@example.com", "mia")

	first, err := te.Login(ctx, "mia", testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if _, err := te.Login(ctx, "mia", testPassword); err != nil {
		t.Fatalf("second Login failed: %v", err)
	}
	sessions, err := te.ListSessions(ctx, acct.ID)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}

	if err := te.ChangePassword(ctx, acct.ID, "wrong password!", "a brand new secret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := te.ChangePassword(ctx, acct.ID, testPassword, testPassword); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unchanged password, got %v", err)
	}
	if err := te.ChangePassword(ctx, acct.ID, testPassword, "a brand new secret"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	if _, err := te.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked after password change, got %v", err)
	}
	if _, err := te.Login(ctx, "mia", testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old password to fail, got %v", err)
	}
	if _, err := te.Login(ctx, "mia", "a brand new secret"); err != nil {
		t.Fatalf("Login with new password failed: %v", err)
	}
}

func TestLogoutAllAndSessionMetadata(t *testing.T) {
	te := newTestEngine(t, nil)
	acct := te.register(t, "noah@example.com", "noah")

	ctx := WithUserAgent(WithClientIP(context.Background(), "203.0.113.7"), "test-agent/1.0")
	if _, err := te.Login(ctx, "noah", testPassword); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	sessions, err := te.ListSessions(ctx, acct.ID)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].IPAddress != "203.0.113.7" || sessions[0].DeviceInfo != "test-agent/1.0" {
		t.Fatalf("unexpected sessions %+v", sessions)
	}

	n, err := te.LogoutAll(ctx, acct.ID)
	if err != nil {
		t.Fatalf("LogoutAll failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 revoked token, got %d", n)
	}
	if err := te.Logout(ctx, "rt_AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"); err != nil {
		t.Fatalf("expected Logout of unknown token to succeed, got %v", err)
	}
}

func TestBuildRequiresStore(t *testing.T) {
	if _, err := New().WithConfig(testConfig()).Build(); err == nil {
		t.Fatal("expected Build without store to fail")
	}

	b := New().WithConfig(testConfig()).WithStore(newTestEngine(t, nil).store)
	if _, err := b.Build(); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestNilEngineMethods(t *testing.T) {
	var e *Engine
	if _, err := e.Login(context.Background(), "a", "b"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if got := e.AuditDropped(); got != 0 {
		t.Fatalf("expected 0 dropped, got %d", got)
	}
	e.Close()
}
