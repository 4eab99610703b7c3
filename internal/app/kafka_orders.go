package app

import (
	"context"

	"go.uber.org/dig"

	"marketplace-dispatch/internal/config"
	"marketplace-dispatch/internal/domain"
	"marketplace-dispatch/internal/logx"
	"marketplace-dispatch/internal/service/dispatch"
	"marketplace-dispatch/internal/service/orders"
	"marketplace-dispatch/internal/transport/kafka"
)

type ordersDispatcher interface {
	Dispatch(ctx context.Context, orderID string) (domain.DispatchResult, error)
}

type ordersAbandoner interface {
	Abandon(ctx context.Context, orderID string) error
}

// ordersPort dispatches through the retrying wrapper and abandons through the service directly.
type ordersPort struct {
	dispatcher ordersDispatcher
	abandoner  ordersAbandoner
}

func (p ordersPort) Dispatch(ctx context.Context, orderID string) (domain.DispatchResult, error) {
	return p.dispatcher.Dispatch(ctx, orderID)
}

func (p ordersPort) Abandon(ctx context.Context, orderID string) error {
	return p.abandoner.Abandon(ctx, orderID)
}

func newOrdersProcessor(retrying *dispatch.RetryingDispatcher, svc *dispatch.Service, logger logx.Logger) *orders.Processor {
	return orders.NewProcessor(ordersPort{dispatcher: retrying, abandoner: svc}, logger)
}

// newOrdersConsumer returns nil when Kafka is not configured.
func newOrdersConsumer(cfg *config.Config, logger logx.Logger, p *orders.Processor) (*kafka.Consumer, error) {
	return kafka.NewConsumer(logger, cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.OrdersTopic, p.Handle)
}

// newEventsProducer returns nil when Kafka is not configured.
func newEventsProducer(cfg *config.Config) (*kafka.Producer, error) {
	return kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic)
}

func registerKafka(container *dig.Container) error {
	return provideAll(container,
		newOrdersProcessor,
		newOrdersConsumer,
		newEventsProducer,
	)
}
