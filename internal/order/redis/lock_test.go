package redis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ms-conference-ticketing/internal/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestRedis connects a client to an in-memory miniredis server.
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	require.NoError(t, client.Ping(context.Background()).Err())

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestAcquireRelease(t *testing.T) {
	client, mr := setupTestRedis(t)
	lock := NewRedis(client, 30*time.Second, 100*time.Millisecond, logger.NewDiscard())
	ctx := context.Background()
	key := OrderLockKey("order-1")

	ok, err := lock.Acquire(ctx, key, "owner-a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists(key))
	assert.Equal(t, 30*time.Second, mr.TTL(key))

	ok, err = lock.Acquire(ctx, key, "owner-b")
	require.NoError(t, err)
	assert.False(t, ok)

	// A non-owner cannot release.
	require.NoError(t, lock.Release(ctx, key, "owner-b"))
	assert.True(t, mr.Exists(key))

	require.NoError(t, lock.Release(ctx, key, "owner-a"))
	assert.False(t, mr.Exists(key))
}

func TestLockExpires(t *testing.T) {
	client, mr := setupTestRedis(t)
	lock := NewRedis(client, time.Second, 0, logger.NewDiscard())
	ctx := context.Background()
	key := CheckoutLockKey("user-1")

	ok, err := lock.Acquire(ctx, key, "a")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = lock.Acquire(ctx, key, "b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWithLockSerialises(t *testing.T) {
	client, _ := setupTestRedis(t)
	lock := NewRedis(client, 5*time.Second, 5*time.Second, logger.NewDiscard())
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := lock.WithLock(ctx, OrderLockKey("o"), func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
}

func TestWithLockProceedsWhenHeld(t *testing.T) {
	client, mr := setupTestRedis(t)
	lock := NewRedis(client, 5*time.Second, 50*time.Millisecond, logger.NewDiscard())
	ctx := context.Background()
	key := OrderLockKey("o")

	require.NoError(t, mr.Set(key, "someone-else"))

	ran := false
	err := lock.WithLock(ctx, key, func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	got, _ := mr.Get(key)
	assert.Equal(t, "someone-else", got, "foreign lock must not be released")
}

func TestWithLockReturnsFnError(t *testing.T) {
	client, mr := setupTestRedis(t)
	lock := NewRedis(client, 5*time.Second, time.Second, logger.NewDiscard())
	boom := errors.New("boom")

	err := lock.WithLock(context.Background(), OrderLockKey("o"), func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(OrderLockKey("o")))
}

func TestNopLocker(t *testing.T) {
	called := false
	err := NopLocker{}.WithLock(context.Background(), "k", func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

// TestRedisIntegration runs the lock against a real Redis container.
func TestRedisIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Redis integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer redisContainer.Terminate(ctx)

	host, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	port, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	defer client.Close()

	lock := NewRedis(client, 10*time.Second, time.Second, logger.NewDiscard())
	key := OrderLockKey("integration")

	ok, err := lock.Acquire(ctx, key, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = lock.Acquire(ctx, key, "b")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lock.Release(ctx, key, "a"))

	ok, err = lock.Acquire(ctx, key, "b")
	require.NoError(t, err)
	assert.True(t, ok)
}
