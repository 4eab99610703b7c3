package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"marketplace-dispatch/internal/apperr"
	"marketplace-dispatch/internal/domain"
	"marketplace-dispatch/internal/logx"
)

const (
	presenceKeyPrefix = "session:courier:"
	topicPrefix       = "dispatch:topic:"
)

var clearScript = redis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
end
return 0
`)

// RedisPresence records courier sessions in Redis so every instance can see them.
// The value is the id of the node that holds the session.
type RedisPresence struct {
	client redis.UniversalClient
	nodeID string
	ttl    time.Duration
}

// NewRedisPresence creates a RedisPresence. Keys expire unless refreshed within ttl.
func NewRedisPresence(client redis.UniversalClient, nodeID string, ttl time.Duration) *RedisPresence {
	return &RedisPresence{client: client, nodeID: nodeID, ttl: ttl}
}

func presenceKey(courierID int64) string {
	return presenceKeyPrefix + strconv.FormatInt(courierID, 10)
}

// Touch marks the courier online on this node.
func (p *RedisPresence) Touch(ctx context.Context, courierID int64) error {
	if err := p.client.Set(ctx, presenceKey(courierID), p.nodeID, p.ttl).Err(); err != nil {
		return fmt.Errorf("touch presence %d: %w: %w", courierID, apperr.ErrUnavailable, err)
	}
	return nil
}

// Clear removes the courier's presence if this node still owns it.
func (p *RedisPresence) Clear(ctx context.Context, courierID int64) error {
	if err := clearScript.Run(ctx, p.client, []string{presenceKey(courierID)}, p.nodeID).Err(); err != nil {
		return fmt.Errorf("clear presence %d: %w: %w", courierID, apperr.ErrUnavailable, err)
	}
	return nil
}

// IsOnline reports whether any node holds a session for the courier.
func (p *RedisPresence) IsOnline(ctx context.Context, courierID int64) (bool, error) {
	n, err := p.client.Exists(ctx, presenceKey(courierID)).Result()
	if err != nil {
		return false, fmt.Errorf("check presence %d: %w: %w", courierID, apperr.ErrUnavailable, err)
	}
	return n > 0, nil
}

// RedisBus fans events out to the sessions of every instance through Redis Pub/Sub.
type RedisBus struct {
	client redis.UniversalClient
	hub    *Hub
	logger logx.Logger
}

// NewRedisBus creates a RedisBus delivering received events into hub.
func NewRedisBus(client redis.UniversalClient, hub *Hub, logger logx.Logger) *RedisBus {
	if logger == nil {
		logger = logx.Nop()
	}
	return &RedisBus{client: client, hub: hub, logger: logger}
}

// Publish sends the event to every instance subscribed to the topic.
func (b *RedisBus) Publish(ctx context.Context, topic string, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.Type, err)
	}
	if err := b.client.Publish(ctx, topicPrefix+topic, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w: %w", topic, apperr.ErrUnavailable, err)
	}
	return nil
}

// Run relays published events to local sessions until ctx is done.
func (b *RedisBus) Run(ctx context.Context) error {
	sub := b.client.PSubscribe(ctx, topicPrefix+"*")
	defer func() {
		if err := sub.Close(); err != nil {
			b.logger.Warn("close redis subscription", logx.Err(err))
		}
	}()

	if _, err := sub.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("subscribe %s*: %w", topicPrefix, err)
	}
	b.logger.Info("session bus subscribed", logx.String("pattern", topicPrefix+"*"))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			topic := strings.TrimPrefix(msg.Channel, topicPrefix)
			b.hub.Deliver(topic, []byte(msg.Payload))
		}
	}
}
