package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RunLocker serializes exclusive batch runs. The candidate generator takes
// one lock per entity kind so concurrent scheduler instances never
// double-run the same batch.
type RunLocker interface {
	// TryAcquire attempts to take the named lock. When acquired, the
	// returned release function must be called; ttl bounds how long a
	// crashed holder can block the next run.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

// ============================================================================
// Redis-backed lock
// ============================================================================

type redisRunLocker struct {
	client *redis.Client
}

// NewRedisRunLocker creates a RunLocker backed by Redis SET NX, for
// deployments running more than one engine instance.
func NewRedisRunLocker(client *redis.Client) RunLocker {
	return &redisRunLocker{client: client}
}

var _ RunLocker = (*redisRunLocker)(nil)

// releaseScript deletes the lock only when it still holds our token, so an
// expired-and-retaken lock is never released by the previous holder.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

func (l *redisRunLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire run lock %s: %w", key, err)
	}
	if !acquired {
		return nil, false, nil
	}

	release := func() {
		// Best effort; the TTL covers a failed release.
		_ = l.client.Eval(context.Background(), releaseScript, []string{key}, token).Err()
	}
	return release, true, nil
}

// ============================================================================
// In-process fallback
// ============================================================================

type localRunLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalRunLocker creates an in-process RunLocker for single-instance
// deployments without Redis.
func NewLocalRunLocker() RunLocker {
	return &localRunLocker{held: make(map[string]struct{})}
}

var _ RunLocker = (*localRunLocker)(nil)

func (l *localRunLocker) TryAcquire(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, false, nil
	}
	l.held[key] = struct{}{}

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}
	return release, true, nil
}
