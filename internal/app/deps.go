package app

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/backoffice/internal/analytics"
	"github.com/xenking/backoffice/internal/analytics/filesink"
	analyticspg "github.com/xenking/backoffice/internal/analytics/postgres"
	"github.com/xenking/backoffice/internal/domain/auth"
	"github.com/xenking/backoffice/internal/domain/order"
	"github.com/xenking/backoffice/internal/domain/promocode"
	"github.com/xenking/backoffice/internal/domain/user"
	"github.com/xenking/backoffice/internal/eventbus"
	"github.com/xenking/backoffice/internal/eventbus/memory"
	"github.com/xenking/backoffice/internal/eventbus/redisbus"
	memstore "github.com/xenking/backoffice/internal/storage/memory"
	"github.com/xenking/backoffice/internal/storage/mongostore"
	"github.com/xenking/backoffice/internal/storage/postgres"
	"github.com/xenking/backoffice/pkg/health"
)

// redisConnectTimeout bounds how long openBus keeps retrying the first ping.
const redisConnectTimeout = 30 * time.Second

// closer releases one resource on shutdown.
type closer func(ctx context.Context) error

// resources collects closers in opening order and releases them in reverse.
type resources struct {
	closers []closer
}

func (r *resources) add(c closer) {
	r.closers = append(r.closers, c)
}

// Close runs every closer and logs failures.
func (r *resources) Close(ctx context.Context) {
	lg := zctx.From(ctx)
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			lg.Warn("Close failed", zap.Error(err))
		}
	}
}

// repositories is the storage selected by StorageConfig.
type repositories struct {
	users      user.Repository
	orders     order.Repository
	promoCodes promocode.Repository
	apiKeys    auth.Repository
}

// openStorage connects the configured document store and registers its
// readiness check.
func openStorage(ctx context.Context, cfg StorageConfig, res *resources, hc *health.Health) (*repositories, error) {
	if cfg.Driver == DriverMemory {
		zctx.From(ctx).Warn("Using in-memory storage, data is lost on restart")
		s := memstore.New()
		return &repositories{
			users:      s.Users(),
			orders:     s.Orders(),
			promoCodes: s.PromoCodes(),
			apiKeys:    s.APIKeys(),
		}, nil
	}

	s, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return nil, errors.Wrap(err, "connect mongo")
	}
	res.add(s.Close)
	if err := s.EnsureIndexes(ctx); err != nil {
		return nil, errors.Wrap(err, "ensure indexes")
	}
	if hc != nil {
		hc.AddReadinessCheck("mongo", 5*time.Second, health.PingCheck("mongo", s))
	}
	return &repositories{
		users:      s.Users(),
		orders:     s.Orders(),
		promoCodes: s.PromoCodes(),
		apiKeys:    s.APIKeys(),
	}, nil
}

// bus couples the queue with its inspection API.
type bus interface {
	eventbus.Bus
	eventbus.Inspector
}

// redisOptions accepts either a redis:// URL or a host:port address.
func redisOptions(cfg BusConfig) (*redis.Options, error) {
	if strings.Contains(cfg.RedisAddr, "://") {
		opts, err := redis.ParseURL(cfg.RedisAddr)
		if err != nil {
			return nil, errors.Wrap(err, "parse redis URL")
		}
		return opts, nil
	}
	return &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, nil
}

// openBus creates the configured event bus and registers its readiness
// check.
func openBus(ctx context.Context, cfg BusConfig, m *app.Telemetry, res *resources, hc *health.Health) (bus, error) {
	opts := eventbus.Options{
		Policy:         cfg.Policy,
		Concurrency:    cfg.Concurrency,
		MeterProvider:  m.MeterProvider(),
		TracerProvider: m.TracerProvider(),
	}
	if cfg.Driver == DriverMemory {
		zctx.From(ctx).Warn("Using in-memory event bus, pending events are lost on restart")
		b, err := memory.New(opts)
		if err != nil {
			return nil, errors.Wrap(err, "create memory bus")
		}
		return b, nil
	}

	ropts, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(ropts)
	res.add(func(context.Context) error { return rdb.Close() })

	lg := zctx.From(ctx)
	if _, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, rdb.Ping(ctx).Err()
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(redisConnectTimeout),
		backoff.WithNotify(func(err error, d time.Duration) {
			lg.Warn("Redis not ready, retrying", zap.Error(err), zap.Duration("delay", d))
		}),
	); err != nil {
		return nil, errors.Wrap(err, "ping redis")
	}
	if hc != nil {
		hc.AddReadinessCheck("redis", 5*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}

	b, err := redisbus.New(rdb, cfg.Queue, opts)
	if err != nil {
		return nil, errors.Wrap(err, "create redis bus")
	}
	return b, nil
}

// openSink creates the configured analytics sink and registers its
// readiness check.
func openSink(ctx context.Context, cfg AnalyticsConfig, res *resources, hc *health.Health) (analytics.Sink, error) {
	if cfg.Driver == DriverFile {
		s, err := filesink.New(cfg.Dir, time.Now())
		if err != nil {
			return nil, errors.Wrap(err, "create file sink")
		}
		res.add(func(context.Context) error { return s.Close() })
		return s, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	res.add(func(context.Context) error {
		pool.Close()
		return nil
	})
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return nil, errors.Wrap(err, "run migrations")
	}
	if hc != nil {
		hc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck("postgres", pool))
	}
	return analyticspg.NewSink(pool), nil
}
