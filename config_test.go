package authcore

import (
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/ratelimit"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{"test defaults", func(*Config) {}, true},
		{"zero access ttl", func(c *Config) { c.JWT.AccessTTL = 0 }, false},
		{"short hs256 secret", func(c *Config) { c.JWT.PrivateKey = []byte("short") }, false},
		{"unknown signing method", func(c *Config) { c.JWT.SigningMethod = "rs256" }, false},
		{"ed25519 without key", func(c *Config) {
			c.JWT.SigningMethod = "ed25519"
			c.JWT.PrivateKey = nil
		}, false},
		{"negative leeway", func(c *Config) { c.JWT.Leeway = -time.Second }, false},
		{"weak argon memory", func(c *Config) { c.Password.Memory = 1024 }, false},
		{"zero argon time", func(c *Config) { c.Password.Time = 0 }, false},
		{"short salt", func(c *Config) { c.Password.SaltLength = 8 }, false},
		{"min above max", func(c *Config) {
			c.Password.MinPasswordBytes = 100
			c.Password.MaxPasswordBytes = 50
		}, false},
		{"refresh shorter than access", func(c *Config) { c.Refresh.TTL = c.JWT.AccessTTL }, false},
		{"zero api key attempts", func(c *Config) { c.APIKey.MaxAttempts = 0 }, false},
		{"zero deletion token ttl", func(c *Config) { c.Deletion.TokenTTL = 0 }, false},
		{"negative grace period", func(c *Config) { c.Deletion.GracePeriod = -time.Hour }, false},
		{"zero grace period", func(c *Config) { c.Deletion.GracePeriod = 0 }, true},
		{"zero batch size", func(c *Config) { c.Deletion.BatchSize = 0 }, false},
		{"rate limit without failure mode", func(c *Config) { c.RateLimit.Enabled = true }, false},
		{"rate limit fail open", func(c *Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.FailureMode = ratelimit.FailOpen
		}, true},
		{"rate limit bad route budget", func(c *Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.FailureMode = ratelimit.FailClosed
			c.RateLimit.Routes = map[string]ratelimit.Budget{"auth.login": {Limit: 0, Window: time.Minute}}
		}, false},
		{"negative cache ttl", func(c *Config) { c.Cache.UserTTL = -time.Second }, false},
		{"cache disabled", func(c *Config) { c.Cache.UserTTL = 0 }, true},
		{"audit without buffer", func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.BufferSize = 0
		}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected invalid config")
			}
		})
	}
}

func TestDefaultConfigNeedsSigningKey(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected default config without a signing key to be rejected")
	}
	cfg.JWT.PrivateKey = []byte(strings.Repeat("k", 32))
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestBuilderCopiesConfig(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Routes = map[string]ratelimit.Budget{"auth.login": {Limit: 5, Window: time.Minute}}
	b := New().WithConfig(cfg)

	cfg.JWT.PrivateKey[0] = 'X'
	cfg.RateLimit.Routes["auth.login"] = ratelimit.Budget{Limit: 1, Window: time.Second}

	if b.config.JWT.PrivateKey[0] == 'X' {
		t.Fatal("expected builder to own its copy of the signing key")
	}
	if got := b.config.RateLimit.Routes["auth.login"].Limit; got != 5 {
		t.Fatalf("expected builder to own its copy of the routes, got limit %d", got)
	}
}

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AUTHCORE_JWT_SECRET", strings.Repeat("s", 32))
	t.Setenv("AUTHCORE_RATE_LIMIT_FAILURE_MODE", "closed")
}

func TestEngineConfigFromEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AUTHCORE_ACCESS_TTL", "5m")
	t.Setenv("AUTHCORE_DELETION_GRACE_PERIOD", "48h")
	t.Setenv("AUTHCORE_RATE_LIMIT_ROUTES", "auth.login=2/30s")
	t.Setenv("AUTHCORE_CACHE_BACKEND", "none")

	ec, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv failed: %v", err)
	}
	if ec.HTTPAddr != ":8080" || ec.DBDriver != "sqlite" {
		t.Fatalf("unexpected defaults %+v", ec)
	}

	cfg, err := ec.EngineConfig()
	if err != nil {
		t.Fatalf("EngineConfig failed: %v", err)
	}
	if cfg.JWT.AccessTTL != 5*time.Minute {
		t.Fatalf("expected 5m access ttl, got %s", cfg.JWT.AccessTTL)
	}
	if cfg.Deletion.GracePeriod != 48*time.Hour {
		t.Fatalf("expected 48h grace period, got %s", cfg.Deletion.GracePeriod)
	}
	if cfg.RateLimit.FailureMode != ratelimit.FailClosed {
		t.Fatalf("expected fail closed, got %s", cfg.RateLimit.FailureMode)
	}
	if b := cfg.RateLimit.Routes["auth.login"]; b.Limit != 2 || b.Window != 30*time.Second {
		t.Fatalf("unexpected login budget %s", b)
	}
	if cfg.Cache.UserTTL != 0 {
		t.Fatalf("expected cache disabled, got %s", cfg.Cache.UserTTL)
	}
}

func TestEngineConfigFromEnvErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing secret", map[string]string{"AUTHCORE_JWT_SECRET": ""}},
		{"missing failure mode", map[string]string{"AUTHCORE_RATE_LIMIT_FAILURE_MODE": ""}},
		{"bad failure mode", map[string]string{"AUTHCORE_RATE_LIMIT_FAILURE_MODE": "sometimes"}},
		{"bad route budget", map[string]string{"AUTHCORE_RATE_LIMIT_ROUTES": "auth.login=lots"}},
		{"missing ed25519 key file", map[string]string{"AUTHCORE_JWT_SIGNING_METHOD": "ed25519"}},
		{"memory cache without sweep", map[string]string{"AUTHCORE_CACHE_BACKEND": "memory"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			ec, err := LoadConfigFromEnv()
			if err != nil {
				t.Fatalf("LoadConfigFromEnv failed: %v", err)
			}
			if _, err := ec.EngineConfig(); err == nil {
				t.Fatal("expected EngineConfig to fail")
			}
		})
	}
}

func TestEngineConfigFromEnvCacheBackends(t *testing.T) {
	setRequiredEnv(t)
	ec, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv failed: %v", err)
	}
	cfg, err := ec.EngineConfig()
	if err != nil {
		t.Fatalf("EngineConfig failed: %v", err)
	}
	if cfg.Cache.UserTTL != 0 {
		t.Fatalf("expected the default backend to disable caching, got %s", cfg.Cache.UserTTL)
	}

	t.Setenv("AUTHCORE_CACHE_BACKEND", "memory")
	t.Setenv("AUTHCORE_DELETION_SWEEP_INTERVAL", "1m")
	ec, err = LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv failed: %v", err)
	}
	cfg, err = ec.EngineConfig()
	if err != nil {
		t.Fatalf("EngineConfig with in-process sweep failed: %v", err)
	}
	if cfg.Cache.UserTTL != ec.CacheTTL || cfg.Cache.UserTTL <= 0 {
		t.Fatalf("expected memory cache ttl %s, got %s", ec.CacheTTL, cfg.Cache.UserTTL)
	}

	t.Setenv("AUTHCORE_CACHE_BACKEND", "redis")
	t.Setenv("AUTHCORE_DELETION_SWEEP_INTERVAL", "0")
	ec, err = LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv failed: %v", err)
	}
	if _, err := ec.EngineConfig(); err != nil {
		t.Fatalf("EngineConfig with redis cache failed: %v", err)
	}
}

func TestEngineConfigFromEnvEd25519(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	keyFile := filepath.Join(t.TempDir(), "signing.key")
	if err := os.WriteFile(keyFile, priv, 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	t.Setenv("AUTHCORE_RATE_LIMIT_ENABLED", "false")
	t.Setenv("AUTHCORE_JWT_SIGNING_METHOD", "ed25519")
	t.Setenv("AUTHCORE_JWT_PRIVATE_KEY_FILE", keyFile)

	ec, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv failed: %v", err)
	}
	cfg, err := ec.EngineConfig()
	if err != nil {
		t.Fatalf("EngineConfig failed: %v", err)
	}
	if cfg.RateLimit.Enabled {
		t.Fatal("expected rate limiting disabled")
	}
	if len(cfg.JWT.PrivateKey) != ed25519.PrivateKeySize {
		t.Fatalf("expected raw ed25519 key, got %d bytes", len(cfg.JWT.PrivateKey))
	}
}
