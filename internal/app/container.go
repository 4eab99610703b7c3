package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"

	"marketplace-dispatch/internal/config"
	"marketplace-dispatch/internal/http/handlers"
	"marketplace-dispatch/internal/http/router"
	"marketplace-dispatch/internal/logx"
	"marketplace-dispatch/internal/metrics"
	"marketplace-dispatch/internal/repository"
	"marketplace-dispatch/internal/service/dispatch"
	"marketplace-dispatch/internal/session"
	"marketplace-dispatch/internal/state"
)

type dbConnectFunc func(context.Context, logx.Logger, string, int, time.Duration) (*pgxpool.Pool, error)

// ContainerBuilder is a dig container builder.
type ContainerBuilder struct {
	dbConnect dbConnectFunc
	logFatalf func(string, ...interface{})
}

// NewContainerBuilder returns a new dig container builder
func NewContainerBuilder() *ContainerBuilder {
	return &ContainerBuilder{
		dbConnect: connectDbWithRetry,
		logFatalf: log.Fatalf,
	}
}

// WithDBConnect sets the database connection function
func (b *ContainerBuilder) WithDBConnect(fn dbConnectFunc) *ContainerBuilder {
	if fn != nil {
		b.dbConnect = fn
	}
	return b
}

// WithLogFatalf sets the log.Fatalf function
func (b *ContainerBuilder) WithLogFatalf(fn func(string, ...interface{})) *ContainerBuilder {
	if fn != nil {
		b.logFatalf = fn
	}
	return b
}

// MustBuild builds and returns a new dig container
func (b *ContainerBuilder) MustBuild(ctx context.Context) *dig.Container {
	container, err := b.build(ctx)
	if err != nil {
		b.logFatalf("failed to build container: %v", err)
	}
	return container
}

func (b *ContainerBuilder) build(ctx context.Context) (*dig.Container, error) {
	container := dig.New()

	steps := []struct {
		name string
		fn   func(*dig.Container) error
	}{
		{"core", func(c *dig.Container) error { return registerCore(c, ctx) }},
		{"DB", func(c *dig.Container) error { return registerDb(c, b.dbConnect) }},
		{"metrics", registerMetrics},
		{"state", registerState},
		{"sessions", registerSessions},
		{"service", registerDomainServices},
		{"kafka", registerKafka},
		{"http", registerHTTP},
	}
	for _, s := range steps {
		if err := s.fn(container); err != nil {
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return container, nil
}

// MustBuildContainer builds and returns a new dig container
func MustBuildContainer(ctx context.Context) *dig.Container {
	return NewContainerBuilder().MustBuild(ctx)
}

func provideAll(container *dig.Container, providers ...any) error {
	for _, provider := range providers {
		if err := container.Provide(provider); err != nil {
			return fmt.Errorf("provide %T: %w", provider, err)
		}
	}
	return nil
}

func registerCore(container *dig.Container, ctx context.Context) error {
	return provideAll(container,
		func() context.Context { return ctx },
		NewLogger,
		config.Load,
		func() prometheus.Registerer { return prometheus.DefaultRegisterer },
	)
}

func registerDb(container *dig.Container, dbConnect dbConnectFunc) error {
	providerDB := func(ctx context.Context, logger logx.Logger, cfg *config.Config) (*pgxpool.Pool, error) {
		pool, err := dbConnect(ctx, logger, cfg.DB.DSN(), 10, time.Second)
		if err != nil {
			return nil, err
		}
		if err := repository.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return pool, nil
	}
	return provideAll(container,
		providerDB,
		repository.NewOrderRepo,
		repository.NewCourierRepo,
		repository.NewSellerRepo,
	)
}

type metricsOut struct {
	dig.Out

	Dispatch       *metrics.Dispatch
	RateLimitTotal prometheus.Counter `name:"rate_limit_exceeded_total"`
	RetriesTotal   prometheus.Counter `name:"dispatch_retries_total"`
}

func newMetrics(reg prometheus.Registerer) (metricsOut, error) {
	out := metricsOut{
		Dispatch:       metrics.NewDispatch(),
		RateLimitTotal: metrics.NewRateLimitExceededTotal(),
		RetriesTotal:   metrics.NewDispatchRetriesTotal(),
	}
	collectors := append(out.Dispatch.Collectors(), out.RateLimitTotal, out.RetriesTotal)
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return metricsOut{}, fmt.Errorf("register collector: %w", err)
		}
	}
	return out, nil
}

func registerMetrics(container *dig.Container) error {
	return provideAll(container, newMetrics)
}

// newRedisClient returns nil when Redis is not configured.
func newRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if !cfg.Redis.Enabled() {
		return nil, nil
	}
	return state.NewRedisClient(ctx, cfg.Redis)
}

func newStateStore(cfg *config.Config, client *redis.Client) dispatch.StateStore {
	if client == nil {
		return state.NewMemoryStore()
	}
	return state.NewRedisStore(client, cfg.Dispatch.StateTTL)
}

func newLocker(cfg *config.Config, client *redis.Client, logger logx.Logger) dispatch.Locker {
	if client == nil {
		return state.NewMemoryLocker()
	}
	return state.NewRedisLocker(client, cfg.Dispatch.LockTTL, logger)
}

func registerState(container *dig.Container) error {
	return provideAll(container,
		newRedisClient,
		newStateStore,
		newLocker,
	)
}

func newPresence(cfg *config.Config, hub *session.Hub, client *redis.Client) session.Presence {
	if client == nil {
		return hub
	}
	return session.NewRedisPresence(client, uuid.NewString(), cfg.Redis.PresenceTTL)
}

// newSessionBus returns nil when Redis is not configured; the hub then delivers locally.
func newSessionBus(client *redis.Client, hub *session.Hub, logger logx.Logger) *session.RedisBus {
	if client == nil {
		return nil
	}
	return session.NewRedisBus(client, hub, logger)
}

func registerSessions(container *dig.Container) error {
	return provideAll(container,
		session.NewHub,
		newPresence,
		newSessionBus,
		func(p session.Presence) dispatch.SessionRegistry { return p },
	)
}

func registerHTTP(container *dig.Container) error {
	serverProvider := func(cfg *config.Config, mux http.Handler) *http.Server {
		return &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
	}
	sessionHandlerProvider := func(logger logx.Logger, hub *session.Hub, svc *dispatch.Service, presence session.Presence) *handlers.SessionHandler {
		return handlers.NewSessionHandler(logger, hub, svc, presence)
	}
	return provideAll(container,
		handlers.New,
		handlers.NewDispatchUsecase,
		handlers.NewDispatchHandler,
		sessionHandlerProvider,
		newRateLimitClock,
		newRateLimiter,
		newRateLimitMiddleware,
		router.New,
		serverProvider,
	)
}
