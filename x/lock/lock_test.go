package lock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func exerciseLocker(t *testing.T, l Locker, key string) {
	t.Helper()
	ctx := context.Background()

	release, err := l.Acquire(ctx, key)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, key)
	require.ErrorIs(t, err, ErrHeld)

	other, err := l.Acquire(ctx, key+"-other")
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, release(ctx))
	require.NoError(t, release(ctx))

	again, err := l.Acquire(ctx, key)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestLocal(t *testing.T) {
	exerciseLocker(t, NewLocal(), "42")
}

func TestLocalSingleWinner(t *testing.T) {
	l := NewLocal()
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Acquire(context.Background(), "42"); err == nil {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), winners.Load())
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l, err := NewRedis(ctx, RedisConfig{Addr: addr, Prefix: "fdc-validator-test:", TTL: time.Minute})
	require.NoError(t, err)
	defer l.Close()

	exerciseLocker(t, l, uuid.NewString())
}
