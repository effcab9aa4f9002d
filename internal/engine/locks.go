package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes concurrent writers to the same subject. Writers to
// different subjects proceed independently.
type Locker interface {
	// Acquire returns a release function, or an error when the lock cannot
	// be obtained within the acquisition window.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// RedisLocker implements Locker with SET NX and a TTL so a crashed holder
// cannot wedge the subject forever.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker constructs a locker. ttl bounds how long a dead holder can
// block a subject.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl}
}

func lockKey(key string) string {
	return "sync:lock:" + key
}

// Acquire polls SET NX with a short backoff until the context expires.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	redisKey := lockKey(key)

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("engine: acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("engine: acquire lock %s: %w", key, ctx.Err())
		case <-time.After(50 * time.Millisecond):
		}
	}

	return func() {
		// Only delete our own token; an expired lock may have been re-taken.
		const script = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
		_ = l.client.Eval(context.Background(), script, []string{redisKey}, token).Err()
	}, nil
}

// NopLocker disables serialization. Used in tests.
type NopLocker struct{}

// Acquire always succeeds.
func (NopLocker) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}
