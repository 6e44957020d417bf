// Package lock provides the cross-instance lock that keeps evaluator ticks
// from running on more than one replica at a time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Unlock when the key expired or belongs to another owner
var ErrNotHeld = errors.New("lock not held")

// unlockScript deletes the key only if it still carries our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock implements TryLock/Unlock with SET NX and an owner token
type RedisLock struct {
	client redis.UniversalClient
	prefix string
	owner  string
}

// Options configures the redis connection
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisLock connects to redis and verifies the connection
func NewRedisLock(ctx context.Context, opts Options) (*RedisLock, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return NewWithClient(client, opts.Prefix), nil
}

// NewWithClient wraps an existing client
func NewWithClient(client redis.UniversalClient, prefix string) *RedisLock {
	return &RedisLock{client: client, prefix: prefix, owner: uuid.NewString()}
}

// TryLock acquires key for ttl without blocking
func (l *RedisLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, l.wrapKey(key), l.owner, ttl).Result()
}

// Unlock releases key if this instance still owns it
func (l *RedisLock) Unlock(ctx context.Context, key string) error {
	n, err := unlockScript.Run(ctx, l.client, []string{l.wrapKey(key)}, l.owner).Int()
	if err != nil {
		return fmt.Errorf("redis unlock: %w", err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Close closes the underlying client
func (l *RedisLock) Close() error {
	return l.client.Close()
}

func (l *RedisLock) wrapKey(key string) string {
	if l.prefix == "" {
		return key
	}
	return fmt.Sprintf("%s:%s", l.prefix, key)
}
