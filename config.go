package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/ratelimit"
)

// Config holds every tunable of the Engine. Build validates a copy, so later
// changes to the caller's value have no effect.
type Config struct {
	JWT       JWTConfig
	Password  PasswordConfig
	Refresh   RefreshConfig
	APIKey    APIKeyConfig
	Deletion  DeletionConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures access token signing.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig carries the argon2id cost and the password byte policy.
type PasswordConfig struct {
	Memory           uint32 // in KB
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MinPasswordBytes int
	MaxPasswordBytes int
	UpgradeOnLogin   bool
}

/*
====================================
CREDENTIAL CONFIG
====================================
*/

// RefreshConfig configures refresh token lifetime and reuse handling.
type RefreshConfig struct {
	TTL                  time.Duration
	RevokeLineageOnReuse bool
}

// APIKeyConfig configures key generation.
type APIKeyConfig struct {
	MaxAttempts int
}

// DeletionConfig configures the account deletion workflow.
type DeletionConfig struct {
	TokenTTL    time.Duration
	GracePeriod time.Duration
	BatchSize   int
}

/*
====================================
RATE LIMIT / CACHE CONFIG
====================================
*/

// RateLimitConfig configures CheckRateLimit. FailureMode has no default and
// must be chosen when Enabled is set.
type RateLimitConfig struct {
	Enabled     bool
	Default     ratelimit.Budget
	Routes      map[string]ratelimit.Budget
	FailureMode ratelimit.FailureMode
	Prefix      string
}

// CacheConfig controls the user-status cache consulted by ValidateAccess.
// A zero UserTTL disables caching.
type CacheConfig struct {
	UserTTL time.Duration
	Prefix  string
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters read by the exporters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the production defaults. JWT keys are left empty and
// must be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	pw := password.DefaultConfig()
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: string(jwt.MethodHS256),
			Issuer:        "authcore",
			Leeway:        30 * time.Second,
		},
		Password: PasswordConfig{
			Memory:           pw.Memory,
			Time:             pw.Time,
			Parallelism:      pw.Parallelism,
			SaltLength:       pw.SaltLength,
			KeyLength:        pw.KeyLength,
			MinPasswordBytes: pw.MinPasswordBytes,
			MaxPasswordBytes: pw.MaxPasswordBytes,
			UpgradeOnLogin:   true,
		},
		Refresh: RefreshConfig{
			TTL:                  30 * 24 * time.Hour,
			RevokeLineageOnReuse: true,
		},
		APIKey: APIKeyConfig{
			MaxAttempts: 3,
		},
		Deletion: DeletionConfig{
			TokenTTL:    24 * time.Hour,
			GracePeriod: 7 * 24 * time.Hour,
			BatchSize:   100,
		},
		RateLimit: RateLimitConfig{
			Enabled: false,
			Default: ratelimit.DefaultBudget,
			Prefix:  "rl",
		},
		Cache: CacheConfig{
			UserTTL: 30 * time.Second,
			Prefix:  "user:",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	if cfg.RateLimit.Routes != nil {
		out.RateLimit.Routes = make(map[string]ratelimit.Budget, len(cfg.RateLimit.Routes))
		for route, budget := range cfg.RateLimit.Routes {
			out.RateLimit.Routes[route] = budget
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration invariant that does not hold.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	switch jwt.SigningMethod(c.JWT.SigningMethod) {
	case jwt.MethodHS256:
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case jwt.MethodEd25519:
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 {
		return errors.New("JWT Leeway must be >= 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MaxPasswordBytes > 0 && c.Password.MinPasswordBytes > c.Password.MaxPasswordBytes {
		return errors.New("Password MinPasswordBytes must be <= MaxPasswordBytes")
	}

	// Credentials
	if c.Refresh.TTL <= 0 {
		return errors.New("Refresh TTL must be > 0")
	}
	if c.Refresh.TTL <= c.JWT.AccessTTL {
		return errors.New("Refresh TTL must be longer than JWT AccessTTL")
	}
	if c.APIKey.MaxAttempts <= 0 {
		return errors.New("APIKey MaxAttempts must be > 0")
	}
	if c.Deletion.TokenTTL <= 0 {
		return errors.New("Deletion TokenTTL must be > 0")
	}
	if c.Deletion.GracePeriod < 0 {
		return errors.New("Deletion GracePeriod must be >= 0")
	}
	if c.Deletion.BatchSize <= 0 {
		return errors.New("Deletion BatchSize must be > 0")
	}

	// Rate limit
	if c.RateLimit.Enabled {
		if c.RateLimit.FailureMode == ratelimit.FailureModeUnset {
			return errors.New("RateLimit FailureMode must be set when rate limiting is enabled")
		}
		if err := c.RateLimit.Default.Validate(); err != nil {
			return fmt.Errorf("RateLimit Default: %w", err)
		}
		for route, budget := range c.RateLimit.Routes {
			if err := budget.Validate(); err != nil {
				return fmt.Errorf("RateLimit route %q: %w", route, err)
			}
		}
	}

	if c.Cache.UserTTL < 0 {
		return errors.New("Cache UserTTL must be >= 0")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	return nil
}
