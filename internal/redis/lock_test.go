package redisclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T, wait time.Duration) (Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, 5*time.Second, wait), mr
}

func TestWithLockRunsAndReleases(t *testing.T) {
	locker, mr := newTestLocker(t, 0)
	key := ScheduleKey(uuid.New(), "2026-03-02")

	ran := false
	err := locker.WithLock(context.Background(), key, func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists(key))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists(key))
}

func TestWithLockPropagatesError(t *testing.T) {
	locker, mr := newTestLocker(t, 0)
	boom := errors.New("boom")

	err := locker.WithLock(context.Background(), "k", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("k"))
}

func TestWithLockHeldKeyTimesOut(t *testing.T) {
	locker, mr := newTestLocker(t, 60*time.Millisecond)
	require.NoError(t, mr.Set("busy", "someone-else"))

	err := locker.WithLock(context.Background(), "busy", func(ctx context.Context) error {
		t.Fatal("critical section must not run")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	// foreign token is left alone
	got, _ := mr.Get("busy")
	assert.Equal(t, "someone-else", got)
}

func TestWithLockSerializesSameKey(t *testing.T) {
	locker, _ := newTestLocker(t, 2*time.Second)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(context.Background(), "same", func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestScheduleKey(t *testing.T) {
	id := uuid.MustParse("9f6c1f1e-6c55-4e57-9a43-2a4b3b2f0d10")
	assert.Equal(t, "lock:schedule:9f6c1f1e-6c55-4e57-9a43-2a4b3b2f0d10:2026-03-02", ScheduleKey(id, "2026-03-02"))
}
