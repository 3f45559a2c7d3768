// Package cache is the read-through cache binding: go-redis/v9 against
// Redis. It owns the tracked-key bookkeeping the CDC consumer uses to
// invalidate every cache entry a changed row could have populated,
// without the keystore knowing what those entries actually look like.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/forgo/writeway/internal/config"
)

// ErrConnection indicates a failure to reach or communicate with Redis.
var ErrConnection = errors.New("cache: connection error")

// trackedSetPrefix namespaces the per-namespace tracking sets from the
// cached entries themselves.
const trackedSetPrefix = "tracked:"

// Keystore wraps a *redis.Client with tracked-key writes and
// namespace-wide invalidation.
type Keystore struct {
	client   *redis.Client
	entryTTL time.Duration
	setTTL   time.Duration
}

// New connects to cfg.Addr and verifies connectivity.
func New(ctx context.Context, cfg config.CacheConfig) (*Keystore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	return &Keystore{
		client:   client,
		entryTTL: cfg.EntryTTL,
		setTTL:   cfg.EntryTTL * time.Duration(cfg.SetTTLFactor),
	}, nil
}

// Close releases the underlying connection.
func (k *Keystore) Close() error {
	return k.client.Close()
}

// Get returns the cached value for key, or redis.Nil itself as the error
// if no entry exists. Callers distinguish a miss with errors.Is(err,
// redis.Nil).
func (k *Keystore) Get(ctx context.Context, key string) (string, error) {
	val, err := k.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", err
		}
		return "", fmt.Errorf("cache get %s: %w", key, err)
	}
	return val, nil
}

// PutTracked writes key/value with entry TTL T_entry and records key in
// the tracked:<namespace> set with TTL T_set = k*T_entry, so the set
// outlives every entry it could still need to invalidate. namespace is
// the table the read that produced value depended on (e.g. "users"),
// matching the granularity the write processor and CDC consumer
// invalidate at.
func (k *Keystore) PutTracked(ctx context.Context, namespace, key, value string) error {
	trackedSet := trackedSetPrefix + namespace

	pipe := k.client.TxPipeline()
	pipe.Set(ctx, key, value, k.entryTTL)
	pipe.SAdd(ctx, trackedSet, key)
	pipe.Expire(ctx, trackedSet, k.setTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put tracked %s in %s: %w", key, namespace, err)
	}
	return nil
}

// InvalidateNamespace removes every key tracked under namespace along
// with the tracking set itself, called by the CDC consumer on receipt
// of a change event for the table the namespace names. Unlink frees the
// keys asynchronously on the Redis server side so invalidation never
// blocks the consumer's ack on eviction I/O. Returns the number of data
// keys deleted (the tracking set itself is not counted); an empty or
// absent tracking set returns 0 without error.
func (k *Keystore) InvalidateNamespace(ctx context.Context, namespace string) (int64, error) {
	trackedSet := trackedSetPrefix + namespace

	members, err := k.client.SMembers(ctx, trackedSet).Result()
	if err != nil {
		return 0, fmt.Errorf("list tracked members for %s: %w", namespace, err)
	}

	if len(members) == 0 {
		if err := k.client.Unlink(ctx, trackedSet).Err(); err != nil {
			return 0, fmt.Errorf("invalidate namespace %s: %w", namespace, err)
		}
		return 0, nil
	}

	keys := append(members, trackedSet)
	if err := k.client.Unlink(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("invalidate namespace %s: %w", namespace, err)
	}
	return int64(len(members)), nil
}
