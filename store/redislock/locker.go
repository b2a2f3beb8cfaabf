// Package redislock implements billing.Locker on Redis so several ledger
// processes can share the per-tenant write lock.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/warp/tenant-ledger/ledger"
)

// release deletes the key only if it still holds our token, so a lock that
// expired and was taken by someone else is never released by us.
var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Config holds Redis connection configuration
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// TTL bounds how long a crashed holder can keep a tenant locked.
	TTL time.Duration
	// RetryInterval is the wait between SET NX attempts.
	RetryInterval time.Duration
}

// Locker is a distributed billing.Locker.
type Locker struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	retry     time.Duration
}

// New connects to Redis and verifies the connection.
func New(cfg Config) (*Locker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client. Zero config fields get defaults.
func NewWithClient(client *redis.Client, cfg Config) *Locker {
	l := &Locker{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.TTL,
		retry:     cfg.RetryInterval,
	}
	if l.keyPrefix == "" {
		l.keyPrefix = "ledger:lock:"
	}
	if l.ttl <= 0 {
		l.ttl = 30 * time.Second
	}
	if l.retry <= 0 {
		l.retry = 25 * time.Millisecond
	}
	return l
}

// Lock blocks until key is acquired or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.keyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return l.unlocker(redisKey, token), nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ledger.ErrLockTimeout, key, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *Locker) unlocker(redisKey, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// Released on a fresh context: the caller's may already be done.
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = release.Run(ctx, l.client, []string{redisKey}, token).Err()
		})
	}
}

// Ping reports whether Redis is reachable.
func (l *Locker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (l *Locker) Close() error {
	return l.client.Close()
}
