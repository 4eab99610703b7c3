package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"marketplace-dispatch/internal/apperr"
	"marketplace-dispatch/internal/config"
	"marketplace-dispatch/internal/domain"
	"marketplace-dispatch/internal/logx"
)

const (
	stateKeyPrefix = "dispatch:state:"
	offeredIndex   = "dispatch:state:offered"
	lockKeyPrefix  = "dispatch:lock:"
	lockRetryDelay = 25 * time.Millisecond
)

// NewRedisClient connects to Redis and pings it.
func NewRedisClient(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, apperr.ErrUnavailable, err)
}

// RedisStore shares notification states between instances.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore. Each state key expires after ttl.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Get returns the stored state, or (nil, nil) when there is none.
func (s *RedisStore) Get(ctx context.Context, orderID string) (*domain.NotificationState, error) {
	raw, err := s.client.Get(ctx, stateKeyPrefix+orderID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, unavailable("get dispatch state "+orderID, err)
	}

	var st domain.NotificationState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode dispatch state %s: %w", orderID, err)
	}
	return &st, nil
}

// Save writes the state and indexes it by offer time.
func (s *RedisStore) Save(ctx context.Context, st *domain.NotificationState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode dispatch state %s: %w", st.OrderID, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, stateKeyPrefix+st.OrderID, raw, s.ttl)
		pipe.ZAdd(ctx, offeredIndex, redis.Z{Score: float64(st.OfferedAt.UnixMilli()), Member: st.OrderID})
		return nil
	})
	if err != nil {
		return unavailable("save dispatch state "+st.OrderID, err)
	}
	return nil
}

// Delete removes the state and its index entry.
func (s *RedisStore) Delete(ctx context.Context, orderID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, stateKeyPrefix+orderID)
		pipe.ZRem(ctx, offeredIndex, orderID)
		return nil
	})
	if err != nil {
		return unavailable("delete dispatch state "+orderID, err)
	}
	return nil
}

// Expired returns the orders whose round was offered before the given time, oldest first.
func (s *RedisStore) Expired(ctx context.Context, before time.Time) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, offeredIndex, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, unavailable("list expired dispatch states", err)
	}
	return ids, nil
}

var unlockScript = redis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
end
return 0
`)

// RedisLocker is a per-key lock shared by every instance using the same Redis.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger logx.Logger
}

// NewRedisLocker creates a RedisLocker. A lock not released within ttl expires on its own.
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration, logger logx.Logger) *RedisLocker {
	if logger == nil {
		logger = logx.Nop()
	}
	return &RedisLocker{client: client, ttl: ttl, logger: logger}
}

// Lock polls SET NX until it owns the key or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	redisKey := lockKeyPrefix + key

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, unavailable("acquire lock "+key, err)
		}
		if ok {
			break
		}

		t := time.NewTimer(lockRetryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := unlockScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
			l.logger.Warn("release lock failed", logx.String("key", key), logx.Err(err))
		}
	}, nil
}
