package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld indicates another holder owns the mutex.
var ErrLockHeld = errors.New("platform/cache: lock held")

// unlockScript releases only when the caller still owns the token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Mutex is a redis-backed lock for cross-instance critical sections.
type Mutex struct {
	client *redis.Client
	ttl    time.Duration
}

// NewMutex constructs a Mutex with the given lease TTL.
func NewMutex(client *redis.Client, ttl time.Duration) *Mutex {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Mutex{client: client, ttl: ttl}
}

// Acquire takes the lock for key, retrying until ctx is done.
// It returns a release function on success.
func (m *Mutex) Acquire(ctx context.Context, key string) (func(), error) {
	if m == nil || m.client == nil {
		return func() {}, nil
	}
	token := uuid.NewString()
	for {
		ok, err := m.client.SetNX(ctx, key, token, m.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("platform/cache: acquire %s: %w", key, err)
		}
		if ok {
			release := func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = unlockScript.Run(releaseCtx, m.client, []string{key}, token).Err()
			}
			return release, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("platform/cache: acquire %s: %w", key, ErrLockHeld)
		case <-time.After(25 * time.Millisecond):
		}
	}
}

// TryAcquire takes the lock without waiting.
func (m *Mutex) TryAcquire(ctx context.Context, key string) (func(), error) {
	if m == nil || m.client == nil {
		return func() {}, nil
	}
	token := uuid.NewString()
	ok, err := m.client.SetNX(ctx, key, token, m.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("platform/cache: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = unlockScript.Run(releaseCtx, m.client, []string{key}, token).Err()
	}, nil
}

// StockLockKey builds redis keys for per-product stock critical sections.
func StockLockKey(productID int64) string {
	return fmt.Sprintf("stock:product:%d:lock", productID)
}
