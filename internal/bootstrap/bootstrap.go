// Package bootstrap assembles an Engine and its backends from an
// EnvConfig. Both commands share it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/audit/amqpsink"
	"github.com/MrEthical07/authcore/cache"
	"github.com/MrEthical07/authcore/ratelimit"
	"github.com/MrEthical07/authcore/storage/sqlstore"
	"github.com/MrEthical07/authcore/telemetry"
)

// Backend names accepted by RATE_LIMIT_BACKEND and CACHE_BACKEND.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

// App owns the Engine and every connection opened for it.
type App struct {
	Engine *authcore.Engine
	Store  *sqlstore.Store
	Redis  redis.UniversalClient

	logger  *zap.Logger
	closers []func() error
}

// Open connects the store, the optional redis client and the audit broker,
// then builds the Engine. On error everything opened so far is closed.
func Open(ctx context.Context, ec authcore.EnvConfig, cfg authcore.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{logger: logger}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	clock := clockwork.NewRealClock()
	observer := telemetry.Observers{
		telemetry.NewTraceObserver(otel.GetTracerProvider()),
		telemetry.NewLogObserver(logger.Named("store"), clock, ec.SlowQuery),
	}

	dsn := ec.DBDSN
	if ec.DBDriver == sqlstore.DriverSQLite && !strings.HasPrefix(dsn, "file:") {
		dsn = sqlstore.SQLiteDSN(dsn)
	}
	store, err := sqlstore.Open(ctx, sqlstore.Config{
		Driver:       ec.DBDriver,
		DSN:          dsn,
		MaxOpenConns: ec.DBMaxConns,
		QueryTimeout: ec.QueryTimeout,
		Observer:     observer,
	})
	if err != nil {
		return nil, err
	}
	app.Store = store
	app.closers = append(app.closers, store.Close)

	builder := authcore.New().
		WithConfig(cfg).
		WithStore(store).
		WithClock(clock).
		WithLogger(logger)

	rateBackend := strings.ToLower(strings.TrimSpace(ec.RateLimitBackend))
	cacheBackend := strings.ToLower(strings.TrimSpace(ec.CacheBackend))
	if rateBackend == BackendRedis || cacheBackend == BackendRedis {
		if ec.RedisAddr == "" {
			return nil, errors.New(authcore.EnvPrefix + "REDIS_ADDR is required for the redis backend")
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{ec.RedisAddr},
			Password: ec.RedisPassword,
			DB:       ec.RedisDB,
		})
		app.Redis = client
		app.closers = append(app.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
	}

	switch rateBackend {
	case BackendRedis:
		builder.WithRateCounter(ratelimit.NewRedisCounter(app.Redis))
	case BackendMemory, "":
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", ec.RateLimitBackend)
	}

	switch cacheBackend {
	case BackendRedis:
		builder.WithCache(cache.NewRedis(app.Redis, "authcore:"))
	case BackendMemory, BackendNone, "":
	default:
		return nil, fmt.Errorf("unknown cache backend %q", ec.CacheBackend)
	}

	if ec.AuditEnabled {
		if ec.AuditAMQPURL != "" {
			sink, dialErr := amqpsink.Dial(ec.AuditAMQPURL, ec.AuditExchange, logger.Named("audit"))
			if dialErr != nil {
				return nil, dialErr
			}
			// Engine.Close owns the sink once Build succeeds.
			defer func() {
				if err != nil {
					_ = sink.Close()
				}
			}()
			builder.WithAuditSink(sink)
		} else {
			builder.WithAuditSink(authcore.NewZapSink(logger.Named("audit")))
		}
	}

	engine, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	app.Engine = engine
	return app, nil
}

// Close flushes the Engine and releases the backends in reverse order.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	if a.Engine != nil {
		a.Engine.Close()
		a.Engine = nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
