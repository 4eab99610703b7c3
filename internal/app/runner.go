package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"
	"golang.org/x/sync/errgroup"

	"marketplace-dispatch/internal/config"
	"marketplace-dispatch/internal/logx"
	"marketplace-dispatch/internal/session"
	"marketplace-dispatch/internal/transport/kafka"
)

const shutdownTimeout = 15 * time.Second

// Runner runs the dispatch service out of a built container.
type Runner struct {
	runFn func(*dig.Container) error
	exit  func(int)
}

// NewRunner returns a new Runner
func NewRunner() *Runner {
	return &Runner{runFn: run, exit: os.Exit}
}

// MustRun runs the service and exits the process on failure.
func (r *Runner) MustRun(container *dig.Container) {
	err := r.runFn(container)
	if err == nil {
		return
	}

	logger := logx.Nop()
	_ = container.Invoke(func(l logx.Logger) { logger = l })

	switch {
	case errors.Is(err, context.Canceled):
		logger.Info("shutdown requested, exiting")
	case errors.Is(err, context.DeadlineExceeded):
		logger.Info("startup aborted: startup timeout exceeded")
	default:
		logger.Error("run error", logx.Err(err))
		if r.exit != nil {
			r.exit(1)
		}
	}
}

type runIn struct {
	dig.In

	Ctx      context.Context
	Logger   logx.Logger
	Config   *config.Config
	Server   *http.Server
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Bus      *session.RedisBus
	Consumer *kafka.Consumer
	Producer *kafka.Producer
	Sweeper  offerExpirer
}

func run(container *dig.Container) error {
	return container.Invoke(appRun)
}

func appRun(in runIn) error {
	defer closeResources(in)

	g, gctx := errgroup.WithContext(in.Ctx)

	g.Go(func() error {
		in.Logger.Info("service-dispatch listening", logx.String("addr", in.Server.Addr))
		if err := in.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		in.Logger.Info("shutting down service-dispatch")
		gracefulShutdown(in.Server, in.Logger, shutdownTimeout)
		return nil
	})
	if in.Consumer != nil {
		g.Go(func() error { return untilCanceled(gctx, in.Consumer.Run(gctx)) })
	}
	if in.Bus != nil {
		g.Go(func() error { return untilCanceled(gctx, in.Bus.Run(gctx)) })
	}
	if ttl := in.Config.Dispatch.OfferTTL; ttl > 0 {
		g.Go(func() error {
			runOfferSweeper(gctx, in.Logger, in.Sweeper, ttl, in.Config.Dispatch.SweepInterval)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return in.Ctx.Err()
}

// untilCanceled drops the cancellation error a component returns once the group is stopping.
func untilCanceled(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runOfferSweeper exhausts offer rounds older than ttl every interval until ctx is done.
func runOfferSweeper(ctx context.Context, logger logx.Logger, sweeper offerExpirer, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sweeper.ExpireOffers(ctx, ttl)
			if err != nil && ctx.Err() == nil {
				logger.Error("offer sweep failed", logx.Int("expired", n), logx.Err(err))
				continue
			}
			if n > 0 {
				logger.Info("expired offer rounds", logx.Int("expired", n), logx.Duration("ttl", ttl))
			}
		}
	}
}

func gracefulShutdown(srv *http.Server, logger logx.Logger, timeout time.Duration) {
	shCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		logger.Error("graceful shutdown error", logx.Err(err))
	}
}

func closeResources(in runIn) {
	if in.Consumer != nil {
		if err := in.Consumer.Close(); err != nil {
			in.Logger.Error("kafka consumer close error", logx.Err(err))
		}
	}
	if in.Producer != nil {
		if err := in.Producer.Close(); err != nil {
			in.Logger.Error("kafka producer close error", logx.Err(err))
		}
	}
	if in.Redis != nil {
		if err := in.Redis.Close(); err != nil {
			in.Logger.Error("redis close error", logx.Err(err))
		}
	}
	if in.Pool != nil {
		in.Pool.Close()
	}
}
