package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerSerializesSameKey(t *testing.T) {
	locker := NewLocalLocker()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := With(context.Background(), locker, "tx-1", func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					cur := atomic.LoadInt32(&maxInside)
					if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), maxInside)
	require.Empty(t, locker.slots)
}

func TestLocalLockerHonoursContext(t *testing.T) {
	locker := NewLocalLocker()
	release, err := locker.Acquire(context.Background(), "k")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, "k")
	require.True(t, errors.Is(err, ErrNotObtained))

	other, err := locker.Acquire(context.Background(), "other")
	require.NoError(t, err)
	other()
}

func TestRedisLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	locker := NewRedisLocker(rdb, time.Second)
	release, err := locker.Acquire(context.Background(), "ledger:tx")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, "ledger:tx")
	require.True(t, errors.Is(err, ErrNotObtained), "got %v", err)

	release()
	again, err := locker.Acquire(context.Background(), "ledger:tx")
	require.NoError(t, err)
	again()
}
