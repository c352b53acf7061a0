package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestMutex(t *testing.T) *Mutex {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewMutex(client, time.Second)
}

func TestMutexExcludesSecondHolder(t *testing.T) {
	m := newTestMutex(t)
	ctx := context.Background()

	release, err := m.TryAcquire(ctx, StockLockKey(7))
	require.NoError(t, err)

	_, err = m.TryAcquire(ctx, StockLockKey(7))
	require.ErrorIs(t, err, ErrLockHeld)

	release()

	release2, err := m.TryAcquire(ctx, StockLockKey(7))
	require.NoError(t, err)
	release2()
}

func TestMutexKeysAreIndependent(t *testing.T) {
	m := newTestMutex(t)
	ctx := context.Background()

	release, err := m.TryAcquire(ctx, StockLockKey(1))
	require.NoError(t, err)
	defer release()

	release2, err := m.TryAcquire(ctx, StockLockKey(2))
	require.NoError(t, err)
	release2()
}

func TestMutexAcquireWaitsForRelease(t *testing.T) {
	m := newTestMutex(t)
	ctx := context.Background()

	release, err := m.TryAcquire(ctx, StockLockKey(3))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		r, err := m.Acquire(waitCtx, StockLockKey(3))
		if err == nil {
			r()
		}
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	release()

	require.NoError(t, <-done)
}

func TestMutexAcquireHonoursContext(t *testing.T) {
	m := newTestMutex(t)
	ctx := context.Background()

	release, err := m.TryAcquire(ctx, StockLockKey(4))
	require.NoError(t, err)
	defer release()

	waitCtx, cancel := context.WithTimeout(ctx, 80*time.Millisecond)
	defer cancel()
	_, err = m.Acquire(waitCtx, StockLockKey(4))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrLockHeld))
}
