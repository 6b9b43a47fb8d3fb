package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/ratelimit"
	"github.com/MrEthical07/authcore/storage/sqlstore"
)

const testPassword = "correct horse battery"

func newTestServer(t *testing.T, mutate func(*authcore.Config)) *echo.Echo {
	t.Helper()

	st, err := sqlstore.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "auth.db"), nil)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := authcore.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := authcore.New().WithConfig(cfg).WithStore(st).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return NewServer(engine, Config{
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("authcore_login_success_total 0\n"))
		}),
	})
}

type call struct {
	method string
	path   string
	body   any
	token  string
	header map[string]string
}

func do(t *testing.T, e *echo.Echo, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if c.body != nil {
		if err := json.NewEncoder(&body).Encode(c.body); err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
	}
	req := httptest.NewRequest(c.method, c.path, &body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range c.header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("Unmarshal failed: %v (body %s)", err, rec.Body.String())
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func registerAndLogin(t *testing.T, e *echo.Echo, email, username string) authcore.TokenPair {
	t.Helper()
	expectStatus(t, do(t, e, call{method: http.MethodPost, path: "/v1/auth/register",
		body: map[string]string{"email": email, "username": username, "password": testPassword}}), http.StatusCreated)
	rec := do(t, e, call{method: http.MethodPost, path: "/v1/auth/login",
		body: map[string]string{"identifier": email, "password": testPassword}})
	expectStatus(t, rec, http.StatusOK)
	return decode[authcore.TokenPair](t, rec)
}

func TestSessionFlowOverHTTP(t *testing.T) {
	e := newTestServer(t, nil)
	pair := registerAndLogin(t, e, "alice@example.com", "alice")
	if pair.TokenType != "Bearer" || pair.AccessToken == "" {
		t.Fatalf("unexpected pair %+v", pair)
	}

	rec := do(t, e, call{method: http.MethodPost, path: "/v1/auth/register",
		body: map[string]string{"email": "alice@example.com", "username": "alice2", "password": testPassword}})
	expectStatus(t, rec, http.StatusConflict)
	if got := decode[errorResponse](t, rec); got.Code != "account_exists" {
		t.Fatalf("unexpected error body %+v", got)
	}

	rec = do(t, e, call{method: http.MethodPost, path: "/v1/auth/login",
		body: map[string]string{"identifier": "alice", "password": "wrong password!"}})
	expectStatus(t, rec, http.StatusUnauthorized)

	rec = do(t, e, call{method: http.MethodGet, path: "/v1/auth/sessions", token: pair.AccessToken})
	expectStatus(t, rec, http.StatusOK)
	sessions := decode[struct {
		Sessions []authcore.Session `json:"sessions"`
	}](t, rec)
	if len(sessions.Sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions.Sessions))
	}

	rec = do(t, e, call{method: http.MethodPost, path: "/v1/auth/refresh",
		body: map[string]string{"refresh_token": pair.RefreshToken}})
	expectStatus(t, rec, http.StatusOK)
	rotated := decode[authcore.TokenPair](t, rec)

	rec = do(t, e, call{method: http.MethodPost, path: "/v1/auth/refresh",
		body: map[string]string{"refresh_token": pair.RefreshToken}})
	expectStatus(t, rec, http.StatusUnauthorized)
	if got := decode[errorResponse](t, rec); got.Code != "revoked" {
		t.Fatalf("expected revoked code, got %+v", got)
	}

	rec = do(t, e, call{method: http.MethodPost, path: "/v1/auth/refresh",
		body: map[string]string{"refresh_token": "rt_unknownunknownunknownunknownunknownunkno"}})
	expectStatus(t, rec, http.StatusUnauthorized)

	expectStatus(t, do(t, e, call{method: http.MethodPost, path: "/v1/auth/logout",
		body: map[string]string{"refresh_token": rotated.RefreshToken}}), http.StatusNoContent)

	expectStatus(t, do(t, e, call{method: http.MethodGet, path: "/v1/auth/sessions"}), http.StatusUnauthorized)
}

func TestChangePasswordOverHTTP(t *testing.T) {
	e := newTestServer(t, nil)
	pair := registerAndLogin(t, e, "bob@example.com", "bob")

	rec := do(t, e, call{method: http.MethodPost, path: "/v1/auth/password", token: pair.AccessToken,
		body: map[string]string{"old_password": "not the password", "new_password": "a brand new secret"}})
	expectStatus(t, rec, http.StatusUnauthorized)

	rec = do(t, e, call{method: http.MethodPost, path: "/v1/auth/password", token: pair.AccessToken,
		body: map[string]string{"old_password": testPassword, "new_password": "short"}})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = do(t, e, call{method: http.MethodPost, path: "/v1/auth/password", token: pair.AccessToken,
		body: map[string]string{"old_password": testPassword, "new_password": "a brand new secret"}})
	expectStatus(t, rec, http.StatusNoContent)

	rec = do(t, e, call{method: http.MethodPost, path: "/v1/auth/refresh",
		body: map[string]string{"refresh_token": pair.RefreshToken}})
	expectStatus(t, rec, http.StatusUnauthorized)
}

func TestAPIKeysOverHTTP(t *testing.T) {
	e := newTestServer(t, nil)
	pair := registerAndLogin(t, e, "carol@example.com", "carol")

	rec := do(t, e, call{method: http.MethodPost, path: "/v1/api-keys", token: pair.AccessToken,
		body: map[string]any{"label": "ci", "scopes": []string{"deploy"}}})
	expectStatus(t, rec, http.StatusCreated)
	issued := decode[authcore.IssuedAPIKey](t, rec)

	rec = do(t, e, call{method: http.MethodGet, path: "/v1/whoami/key", header: map[string]string{"X-API-Key": issued.Key}})
	expectStatus(t, rec, http.StatusOK)
	if got := decode[authcore.APIKey](t, rec); got.ID != issued.APIKey.ID {
		t.Fatalf("unexpected key %+v", got)
	}

	rec = do(t, e, call{method: http.MethodPost, path: "/v1/api-keys/" + issued.APIKey.ID + "/rotate", token: pair.AccessToken})
	expectStatus(t, rec, http.StatusOK)
	rotated := decode[authcore.IssuedAPIKey](t, rec)

	expectStatus(t, do(t, e, call{method: http.MethodGet, path: "/v1/whoami/key",
		header: map[string]string{"X-API-Key": issued.Key}}), http.StatusUnauthorized)

	other := registerAndLogin(t, e, "dave@example.com", "dave")
	expectStatus(t, do(t, e, call{method: http.MethodDelete, path: "/v1/api-keys/" + issued.APIKey.ID,
		token: other.AccessToken}), http.StatusNotFound)

	expectStatus(t, do(t, e, call{method: http.MethodDelete, path: "/v1/api-keys/" + issued.APIKey.ID,
		token: pair.AccessToken, body: map[string]string{"reason": "rotated out"}}), http.StatusNoContent)
	expectStatus(t, do(t, e, call{method: http.MethodGet, path: "/v1/whoami/key",
		header: map[string]string{"Authorization": "ApiKey " + rotated.Key}}), http.StatusUnauthorized)

	rec = do(t, e, call{method: http.MethodGet, path: "/v1/api-keys?include_deleted=true", token: pair.AccessToken})
	expectStatus(t, rec, http.StatusOK)
	list := decode[struct {
		APIKeys []authcore.APIKey `json:"api_keys"`
	}](t, rec)
	if len(list.APIKeys) != 1 || list.APIKeys[0].DeletionReason != "rotated out" {
		t.Fatalf("unexpected listing %+v", list.APIKeys)
	}
}

func TestAccountDeletionOverHTTP(t *testing.T) {
	e := newTestServer(t, nil)
	pair := registerAndLogin(t, e, "erin@example.com", "erin")

	rec := do(t, e, call{method: http.MethodPost, path: "/v1/account/deletion", token: pair.AccessToken})
	expectStatus(t, rec, http.StatusAccepted)
	ticket := decode[authcore.DeletionTicket](t, rec)

	expectStatus(t, do(t, e, call{method: http.MethodPost, path: "/v1/account/deletion/confirm",
		body: map[string]string{"token": "del_bogus"}}), http.StatusBadRequest)

	rec = do(t, e, call{method: http.MethodPost, path: "/v1/account/deletion/confirm",
		body: map[string]string{"token": ticket.Token}})
	expectStatus(t, rec, http.StatusOK)
	status := decode[authcore.DeletionStatus](t, rec)
	if status.ScheduledFor == nil {
		t.Fatalf("expected a scheduled time, got %+v", status)
	}

	expectStatus(t, do(t, e, call{method: http.MethodDelete, path: "/v1/account/deletion", token: pair.AccessToken}),
		http.StatusNoContent)
	expectStatus(t, do(t, e, call{method: http.MethodDelete, path: "/v1/account/deletion", token: pair.AccessToken}),
		http.StatusConflict)
}

func TestRateLimitOverHTTP(t *testing.T) {
	e := newTestServer(t, func(c *authcore.Config) {
		c.RateLimit.Enabled = true
		c.RateLimit.FailureMode = ratelimit.FailClosed
		c.RateLimit.Routes = map[string]ratelimit.Budget{RouteLogin: {Limit: 2, Window: time.Hour}}
	})

	login := call{method: http.MethodPost, path: "/v1/auth/login",
		body: map[string]string{"identifier": "nobody", "password": testPassword}}
	expectStatus(t, do(t, e, login), http.StatusUnauthorized)
	expectStatus(t, do(t, e, login), http.StatusUnauthorized)

	rec := do(t, e, login)
	expectStatus(t, rec, http.StatusTooManyRequests)
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("expected remaining 0, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimitChargesRejectedBearerTokens(t *testing.T) {
	e := newTestServer(t, func(c *authcore.Config) {
		c.RateLimit.Enabled = true
		c.RateLimit.FailureMode = ratelimit.FailClosed
		c.RateLimit.Routes = map[string]ratelimit.Budget{RouteSessions: {Limit: 2, Window: time.Hour}}
	})

	bad := call{method: http.MethodGet, path: "/v1/auth/sessions", token: "garbage"}
	expectStatus(t, do(t, e, bad), http.StatusUnauthorized)
	expectStatus(t, do(t, e, bad), http.StatusUnauthorized)
	for i := 0; i < 10; i++ {
		expectStatus(t, do(t, e, bad), http.StatusTooManyRequests)
	}

	// A verifiable token is charged to its subject, not to the spent IP budget.
	pair := registerAndLogin(t, e, "alice@example.com", "alice")
	good := call{method: http.MethodGet, path: "/v1/auth/sessions", token: pair.AccessToken}
	expectStatus(t, do(t, e, good), http.StatusOK)
	expectStatus(t, do(t, e, good), http.StatusOK)
	expectStatus(t, do(t, e, good), http.StatusTooManyRequests)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newTestServer(t, nil)
	expectStatus(t, do(t, e, call{method: http.MethodGet, path: "/healthz"}), http.StatusOK)

	rec := do(t, e, call{method: http.MethodGet, path: "/metrics"})
	expectStatus(t, rec, http.StatusOK)
	if !bytes.Contains(rec.Body.Bytes(), []byte("authcore_login_success_total")) {
		t.Fatalf("unexpected metrics body %q", rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}
}

func TestRenderErrorHidesInternalErrors(t *testing.T) {
	status, body := renderError(context.DeadlineExceeded)
	if status != http.StatusInternalServerError || body.Error != "internal error" {
		t.Fatalf("unexpected rendering %d %+v", status, body)
	}
	status, body = renderError(&authcore.RateLimitError{Route: RouteLogin, RetryAfter: time.Second})
	if status != http.StatusTooManyRequests || body.Code != "rate_limited" {
		t.Fatalf("unexpected rendering %d %+v", status, body)
	}
}
