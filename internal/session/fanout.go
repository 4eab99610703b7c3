package session

import (
	"context"

	"marketplace-dispatch/internal/domain"
	"marketplace-dispatch/internal/logx"
)

// Publisher delivers an event to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, ev domain.Event) error
}

// Fanout publishes to a primary transport and mirrors the event to secondary sinks.
// Only primary failures are returned; mirror failures are logged.
type Fanout struct {
	primary Publisher
	mirrors []Publisher
	logger  logx.Logger
}

// NewFanout creates a Fanout.
func NewFanout(primary Publisher, logger logx.Logger, mirrors ...Publisher) *Fanout {
	if logger == nil {
		logger = logx.Nop()
	}
	return &Fanout{primary: primary, mirrors: mirrors, logger: logger}
}

// Publish sends ev to the primary transport, then to every mirror.
func (f *Fanout) Publish(ctx context.Context, topic string, ev domain.Event) error {
	if err := f.primary.Publish(ctx, topic, ev); err != nil {
		return err
	}
	for _, m := range f.mirrors {
		if err := m.Publish(ctx, topic, ev); err != nil {
			f.logger.Warn("mirror publish failed",
				logx.String("topic", topic),
				logx.String("event", string(ev.Type)),
				logx.Err(err),
			)
		}
	}
	return nil
}
