package app

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/dig"

	"marketplace-dispatch/internal/config"
	"marketplace-dispatch/internal/logx"
	"marketplace-dispatch/internal/metrics"
	"marketplace-dispatch/internal/repository"
	"marketplace-dispatch/internal/service/dispatch"
	"marketplace-dispatch/internal/session"
	"marketplace-dispatch/internal/transport/kafka"
)

// offerExpirer is the part of the dispatch service the sweeper drives.
type offerExpirer interface {
	ExpireOffers(ctx context.Context, ttl time.Duration) (int, error)
}

type publisherIn struct {
	dig.In

	Logger   logx.Logger
	Hub      *session.Hub
	Bus      *session.RedisBus
	Producer *kafka.Producer
}

// newPublisher sends events over the Redis bus when it exists, otherwise straight to local sessions.
// Kafka, when configured, mirrors the order and ops topics.
func newPublisher(in publisherIn) dispatch.Publisher {
	var primary session.Publisher = in.Hub
	if in.Bus != nil {
		primary = in.Bus
	}
	var mirrors []session.Publisher
	if in.Producer != nil {
		mirrors = append(mirrors, in.Producer)
	}
	return session.NewFanout(primary, in.Logger, mirrors...)
}

type coordinatorIn struct {
	dig.In

	Store       dispatch.StateStore
	Locker      dispatch.Locker
	Orders      *repository.OrderRepo
	Couriers    *repository.CourierRepo
	Broadcaster *dispatch.Broadcaster
	Resolver    *dispatch.Resolver
	Cascade     *dispatch.Cascade
	Metrics     *metrics.Dispatch
	Logger      logx.Logger
}

func newCoordinator(in coordinatorIn) *dispatch.Coordinator {
	return dispatch.NewCoordinator(dispatch.CoordinatorDeps{
		Store:       in.Store,
		Locker:      in.Locker,
		Orders:      in.Orders,
		Couriers:    in.Couriers,
		Broadcaster: in.Broadcaster,
		Resolver:    in.Resolver,
		Cascade:     in.Cascade,
		Metrics:     in.Metrics,
		Logger:      in.Logger,
	})
}

type serviceIn struct {
	dig.In

	Config      *config.Config
	Logger      logx.Logger
	Orders      *repository.OrderRepo
	Eligibility *dispatch.Eligibility
	Matcher     *dispatch.Matcher
	Coordinator *dispatch.Coordinator
}

func newService(in serviceIn) *dispatch.Service {
	return dispatch.NewService(
		in.Orders,
		in.Orders,
		in.Eligibility,
		in.Matcher,
		in.Coordinator,
		in.Config.Dispatch.OperationTimeout,
		in.Logger,
	)
}

type retryingIn struct {
	dig.In

	Config  *config.Config
	Logger  logx.Logger
	Service *dispatch.Service
	Retries prometheus.Counter `name:"dispatch_retries_total"`
}

func newRetryingDispatcher(in retryingIn) *dispatch.RetryingDispatcher {
	return dispatch.NewRetryingDispatcher(dispatch.DispatchFunc(in.Service.DispatchIfIdle), in.Logger, in.Retries, dispatch.RetryConfig{
		MaxAttempts: in.Config.Retry.MaxAttempts,
		BaseDelay:   in.Config.Retry.BaseDelay,
		MaxDelay:    in.Config.Retry.MaxDelay,
	})
}

func registerDomainServices(container *dig.Container) error {
	return provideAll(container,
		func(c *repository.CourierRepo) *dispatch.Eligibility { return dispatch.NewEligibility(c) },
		func(s *repository.SellerRepo) *dispatch.Matcher { return dispatch.NewMatcher(s) },
		newPublisher,
		func(reg dispatch.SessionRegistry, pub dispatch.Publisher, m *metrics.Dispatch, cfg *config.Config, logger logx.Logger) *dispatch.Broadcaster {
			return dispatch.NewBroadcaster(reg, pub, m, cfg.Dispatch.NotifyTimeout, logger)
		},
		func(orders *repository.OrderRepo, b *dispatch.Broadcaster, m *metrics.Dispatch, logger logx.Logger) *dispatch.Resolver {
			return dispatch.NewResolver(orders, b, m, logger)
		},
		func(orders *repository.OrderRepo, b *dispatch.Broadcaster, m *metrics.Dispatch, logger logx.Logger) *dispatch.Cascade {
			return dispatch.NewCascade(orders, b, m, logger)
		},
		newCoordinator,
		newService,
		newRetryingDispatcher,
		func(svc *dispatch.Service) offerExpirer { return svc },
	)
}
