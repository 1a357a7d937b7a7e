// Package lock provides the distributed per-network pass lock of §5:
// "exactly one reconciler pass per network in flight". It is backed by
// Redis SetNX and is deliberately separate from the database-backed
// throttle gate (§4.6), which reads the Actions table directly rather
// than a cache.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NetworkPassLock enforces that at most one reconciler pass runs per
// network at a time, across however many agent processes are deployed.
type NetworkPassLock struct {
	client *redis.Client
}

// New connects to the Redis/Valkey instance used for the pass lock.
func New(url string) (*NetworkPassLock, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &NetworkPassLock{client: client}, nil
}

func lockKey(network string) string { return "reconciler-pass-lock:" + network }

// Acquire attempts to take the pass lock for network, valid for at most
// ttl (normally a small multiple of the expected pass duration, so a
// crashed holder does not wedge the network forever). Reports false,
// nil when another pass already holds the lock.
func (l *NetworkPassLock) Acquire(ctx context.Context, network string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockKey(network), time.Now().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire pass lock for %s: %w", network, err)
	}
	return ok, nil
}

// Release drops the pass lock for network. Safe to call even if Acquire
// was never successful, or the lock already expired.
func (l *NetworkPassLock) Release(ctx context.Context, network string) error {
	if err := l.client.Del(ctx, lockKey(network)).Err(); err != nil {
		return fmt.Errorf("release pass lock for %s: %w", network, err)
	}
	return nil
}

// Held reports whether a pass is currently in flight for network.
func (l *NetworkPassLock) Held(ctx context.Context, network string) (bool, error) {
	exists, err := l.client.Exists(ctx, lockKey(network)).Result()
	if err != nil {
		return false, fmt.Errorf("check pass lock for %s: %w", network, err)
	}
	return exists > 0, nil
}

// Close releases the underlying Redis connection.
func (l *NetworkPassLock) Close() error {
	return l.client.Close()
}
