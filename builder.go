package authcore

import (
	"errors"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/apikey"
	"github.com/MrEthical07/authcore/cache"
	"github.com/MrEthical07/authcore/deletion"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/ratelimit"
	"github.com/MrEthical07/authcore/refresh"
	"github.com/MrEthical07/authcore/storage"
)

// Builder assembles an Engine. A Builder can be built once.
type Builder struct {
	config Config
	store  storage.Store
	clock  clockwork.Clock
	logger *zap.Logger

	cache       cache.Cache
	rateCounter ratelimit.Counter
	auditSink   AuditSink

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the persistence backend. It is required.
func (b *Builder) WithStore(st storage.Store) *Builder {
	b.store = st
	return b
}

// WithClock injects the time source used by every component.
func (b *Builder) WithClock(clock clockwork.Clock) *Builder {
	b.clock = clock
	return b
}

// WithLogger sets the structured logger. The default discards output.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithCache sets the user-status cache. Without one an in-process cache is
// used when Config.Cache.UserTTL is positive.
func (b *Builder) WithCache(c cache.Cache) *Builder {
	b.cache = c
	return b
}

// WithRateCounter sets the rate-limit counter backend. Without one an
// in-process counter is used.
func (b *Builder) WithRateCounter(counter ratelimit.Counter) *Builder {
	b.rateCounter = counter
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the components.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.store == nil {
		return nil, errors.New("store required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clock := b.clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := &Engine{
		config: cfg,
		store:  b.store,
		clock:  clock,
		logger: logger,
	}

	// -------- CACHE --------
	switch {
	case cfg.Cache.UserTTL <= 0:
		engine.cache = cache.Nop{}
	case b.cache != nil:
		engine.cache = b.cache
	default:
		engine.cache = cache.NewMemory(clock, cache.DefaultMaxEntries)
	}

	// -------- CREDENTIALS --------
	ph, err := password.NewArgon2(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MinPasswordBytes: cfg.Password.MinPasswordBytes,
		MaxPasswordBytes: cfg.Password.MaxPasswordBytes,
	})
	if err != nil {
		return nil, err
	}
	engine.passwordHash = ph

	jm, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
		Clock:         clock,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	rs, err := refresh.NewStore(b.store, clock, refresh.Config{
		TTL:                  cfg.Refresh.TTL,
		RevokeLineageOnReuse: cfg.Refresh.RevokeLineageOnReuse,
	})
	if err != nil {
		return nil, err
	}
	engine.refreshStore = rs

	km, err := apikey.NewManager(b.store, clock, apikey.Config{
		MaxAttempts: cfg.APIKey.MaxAttempts,
		Logger:      logger.Named("apikey"),
	})
	if err != nil {
		return nil, err
	}
	engine.apiKeys = km

	wf, err := deletion.NewWorkflow(b.store, clock, deletion.Config{
		TokenTTL:    cfg.Deletion.TokenTTL,
		GracePeriod: cfg.Deletion.GracePeriod,
		BatchSize:   cfg.Deletion.BatchSize,
		Logger:      logger.Named("deletion"),
	})
	if err != nil {
		return nil, err
	}
	engine.deletion = wf

	// -------- RATE LIMIT --------
	if cfg.RateLimit.Enabled {
		counter := b.rateCounter
		if counter == nil {
			counter = ratelimit.NewMemoryCounter(clock)
		}
		limiter, err := ratelimit.New(counter, clock, ratelimit.Config{
			Default:     cfg.RateLimit.Default,
			Routes:      cfg.RateLimit.Routes,
			FailureMode: cfg.RateLimit.FailureMode,
			Prefix:      cfg.RateLimit.Prefix,
			Logger:      logger.Named("ratelimit"),
		})
		if err != nil {
			return nil, err
		}
		engine.limiter = limiter
	}

	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink, logger.Named("audit"))
	engine.metrics = NewMetrics(cfg.Metrics)

	b.built = true

	return engine, nil
}
