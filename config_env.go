package authcore

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/ratelimit"
)

// EnvPrefix is prepended to every variable read by LoadConfigFromEnv.
const EnvPrefix = "AUTHCORE_"

// EnvConfig is the process configuration read from the environment. Fields
// that only the commands use (listen address, database, redis, logging,
// audit broker) live here next to the Engine settings.
type EnvConfig struct {
	HTTPAddr        string        `env:"HTTP_ADDR"        envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT"  envDefault:"15s"`
	TrustProxy      bool          `env:"TRUST_PROXY"      envDefault:"false"`

	LogLevel       string `env:"LOG_LEVEL"       envDefault:"info"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`
	LogFile        string `env:"LOG_FILE"`

	DBDriver     string        `env:"DB_DRIVER"     envDefault:"sqlite"`
	DBDSN        string        `env:"DB_DSN"        envDefault:"authcore.db"`
	DBMaxConns   int           `env:"DB_MAX_CONNS"  envDefault:"10"`
	QueryTimeout time.Duration `env:"QUERY_TIMEOUT" envDefault:"3s"`
	SlowQuery    time.Duration `env:"SLOW_QUERY"    envDefault:"250ms"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	JWTSigningMethod  string        `env:"JWT_SIGNING_METHOD"   envDefault:"hs256"`
	JWTSecret         string        `env:"JWT_SECRET"`
	JWTPrivateKeyFile string        `env:"JWT_PRIVATE_KEY_FILE"`
	JWTIssuer         string        `env:"JWT_ISSUER"           envDefault:"authcore"`
	JWTAudience       string        `env:"JWT_AUDIENCE"`
	JWTKeyID          string        `env:"JWT_KEY_ID"`
	AccessTTL         time.Duration `env:"ACCESS_TTL"           envDefault:"15m"`
	RefreshTTL        time.Duration `env:"REFRESH_TTL"          envDefault:"720h"`
	RevokeLineage     bool          `env:"REFRESH_REVOKE_LINEAGE" envDefault:"true"`

	DeletionTokenTTL    time.Duration `env:"DELETION_TOKEN_TTL"    envDefault:"24h"`
	DeletionGracePeriod time.Duration `env:"DELETION_GRACE_PERIOD" envDefault:"168h"`
	DeletionBatchSize   int           `env:"DELETION_BATCH_SIZE"   envDefault:"100"`
	// DeletionSweepInterval makes the server run the deletion sweep itself.
	// Zero leaves it to authcore-maintenance.
	DeletionSweepInterval time.Duration `env:"DELETION_SWEEP_INTERVAL" envDefault:"0"`

	RateLimitEnabled     bool   `env:"RATE_LIMIT_ENABLED"      envDefault:"true"`
	RateLimitBackend     string `env:"RATE_LIMIT_BACKEND"      envDefault:"memory"`
	RateLimitFailureMode string `env:"RATE_LIMIT_FAILURE_MODE"`
	RateLimitDefault     string `env:"RATE_LIMIT_DEFAULT"      envDefault:"100/minute"`
	RateLimitRoutes      string `env:"RATE_LIMIT_ROUTES"       envDefault:"auth.login=5/minute;auth.register=3/minute;auth.refresh=30/minute"`

	CacheBackend string        `env:"CACHE_BACKEND" envDefault:"none"`
	CacheTTL     time.Duration `env:"CACHE_TTL"     envDefault:"30s"`

	AuditEnabled  bool   `env:"AUDIT_ENABLED"  envDefault:"false"`
	AuditAMQPURL  string `env:"AUDIT_AMQP_URL"`
	AuditExchange string `env:"AUDIT_EXCHANGE" envDefault:"authcore.audit"`

	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`
}

// LoadConfigFromEnv reads AUTHCORE_* variables into an EnvConfig.
func LoadConfigFromEnv() (EnvConfig, error) {
	var cfg EnvConfig
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return EnvConfig{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// EngineConfig converts the environment settings into a validated Engine
// Config. Key material is read from JWTPrivateKeyFile for ed25519.
func (ec EnvConfig) EngineConfig() (Config, error) {
	cfg := defaultConfig()

	cfg.JWT.SigningMethod = strings.ToLower(strings.TrimSpace(ec.JWTSigningMethod))
	cfg.JWT.Issuer = ec.JWTIssuer
	cfg.JWT.Audience = ec.JWTAudience
	cfg.JWT.KeyID = ec.JWTKeyID
	cfg.JWT.AccessTTL = ec.AccessTTL
	switch jwt.SigningMethod(cfg.JWT.SigningMethod) {
	case jwt.MethodHS256:
		if ec.JWTSecret == "" {
			return Config{}, errors.New(EnvPrefix + "JWT_SECRET is required for hs256")
		}
		cfg.JWT.PrivateKey = []byte(ec.JWTSecret)
	case jwt.MethodEd25519:
		if ec.JWTPrivateKeyFile == "" {
			return Config{}, errors.New(EnvPrefix + "JWT_PRIVATE_KEY_FILE is required for ed25519")
		}
		key, err := os.ReadFile(ec.JWTPrivateKeyFile)
		if err != nil {
			return Config{}, fmt.Errorf("read jwt private key: %w", err)
		}
		cfg.JWT.PrivateKey = key
	}

	cfg.Refresh.TTL = ec.RefreshTTL
	cfg.Refresh.RevokeLineageOnReuse = ec.RevokeLineage
	cfg.Deletion.TokenTTL = ec.DeletionTokenTTL
	cfg.Deletion.GracePeriod = ec.DeletionGracePeriod
	cfg.Deletion.BatchSize = ec.DeletionBatchSize

	cfg.RateLimit.Enabled = ec.RateLimitEnabled
	if ec.RateLimitEnabled {
		mode, err := ratelimit.ParseFailureMode(ec.RateLimitFailureMode)
		if err != nil {
			return Config{}, fmt.Errorf("%sRATE_LIMIT_FAILURE_MODE: %w", EnvPrefix, err)
		}
		cfg.RateLimit.FailureMode = mode
		def, err := ratelimit.ParseBudget(ec.RateLimitDefault)
		if err != nil {
			return Config{}, fmt.Errorf("%sRATE_LIMIT_DEFAULT: %w", EnvPrefix, err)
		}
		cfg.RateLimit.Default = def
		routes, err := ratelimit.ParseRoutes(ec.RateLimitRoutes)
		if err != nil {
			return Config{}, fmt.Errorf("%sRATE_LIMIT_ROUTES: %w", EnvPrefix, err)
		}
		cfg.RateLimit.Routes = routes
	}

	switch strings.ToLower(strings.TrimSpace(ec.CacheBackend)) {
	case "none", "":
		cfg.Cache.UserTTL = 0
	case "memory":
		// A process-local cache only sees deletions swept by the same process.
		if ec.CacheTTL > 0 && ec.DeletionSweepInterval <= 0 {
			return Config{}, errors.New(EnvPrefix + "CACHE_BACKEND=memory requires " +
				EnvPrefix + "DELETION_SWEEP_INTERVAL so deletions reach the cache; use redis or none otherwise")
		}
		cfg.Cache.UserTTL = ec.CacheTTL
	default:
		cfg.Cache.UserTTL = ec.CacheTTL
	}

	cfg.Audit.Enabled = ec.AuditEnabled
	cfg.Metrics.Enabled = ec.MetricsEnabled
	cfg.Metrics.EnableLatencyHistograms = ec.MetricsEnabled

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
