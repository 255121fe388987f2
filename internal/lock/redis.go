package lock

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisKeyPrefix = "integration-hub:lock:"
	defaultMaxWait        = 10 * time.Second
	maxBackoff            = 500 * time.Millisecond
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Redis is a Locker shared by every instance using the same Redis.
type Redis struct {
	client    redis.UniversalClient
	keyPrefix string
	// MaxWait bounds how long Acquire retries before ErrNotAcquired.
	MaxWait time.Duration
	Logger  *slog.Logger
}

func NewRedis(client redis.UniversalClient, keyPrefix string) *Redis {
	if keyPrefix == "" {
		keyPrefix = defaultRedisKeyPrefix
	}
	return &Redis{client: client, keyPrefix: keyPrefix, MaxWait: defaultMaxWait}
}

// TryAcquire makes a single SET NX attempt.
func (r *Redis) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	lockKey := r.keyPrefix + key
	value := uuid.NewString()
	ok, err := r.client.SetNX(ctx, lockKey, value, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	r.logger().Debug("acquired lock", "key", lockKey)
	return &redisLock{owner: r, key: lockKey, value: value}, nil
}

// Acquire retries TryAcquire with capped exponential backoff.
func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	wait := r.MaxWait
	if wait <= 0 {
		wait = defaultMaxWait
	}
	deadline := time.Now().Add(wait)
	backoff := 10 * time.Millisecond

	for {
		lk, err := r.TryAcquire(ctx, key, ttl)
		if err == nil {
			return lk, nil
		}
		if !errors.Is(err, ErrNotAcquired) {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, ErrNotAcquired
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (r *Redis) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

type redisLock struct {
	owner *Redis
	key   string
	value string
}

// Release deletes the key only while it still holds this lock's token.
func (l *redisLock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, l.owner.client, []string{l.key}, l.value).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrNotHeld
	}
	l.owner.logger().Debug("released lock", "key", l.key)
	return nil
}
