package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-conference-ticketing/internal/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	orderLockPrefix    = "order_lock:"
	checkoutLockPrefix = "checkout_lock:"
)

// ErrNotAcquired is returned by Acquire callers that give up waiting.
var ErrNotAcquired = errors.New("lock not acquired")

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// OrderLockKey serialises payment confirmation and cancellation of one order.
func OrderLockKey(orderID string) string { return orderLockPrefix + orderID }

// CheckoutLockKey serialises checkouts of one purchaser.
func CheckoutLockKey(userID string) string { return checkoutLockPrefix + userID }

// Redis hands out short-lived processing locks. They are advisory: the
// storage layer's conditional updates stay the source of truth, the locks
// only keep racing requests from doing the same work twice.
type Redis struct {
	Client *redis.Client
	Logger *logger.Logger
	ttl    time.Duration
	wait   time.Duration
}

func NewRedis(client *redis.Client, ttl, wait time.Duration, log *logger.Logger) *Redis {
	return &Redis{Client: client, Logger: log, ttl: ttl, wait: wait}
}

// Acquire takes key for owner if nobody holds it.
func (r *Redis) Acquire(ctx context.Context, key, owner string) (bool, error) {
	return r.Client.SetNX(ctx, key, owner, r.ttl).Result()
}

// Release deletes key only if owner still holds it.
func (r *Redis) Release(ctx context.Context, key, owner string) error {
	return unlockScript.Run(ctx, r.Client, []string{key}, owner).Err()
}

// acquireWait polls until the lock is taken or the wait budget runs out.
func (r *Redis) acquireWait(ctx context.Context, key, owner string) error {
	deadline := time.Now().Add(r.wait)
	backoff := 25 * time.Millisecond
	for {
		ok, err := r.Acquire(ctx, key, owner)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().Add(backoff).After(deadline) {
			return ErrNotAcquired
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 400*time.Millisecond)
	}
}

// WithLock runs fn while holding key. If the lock cannot be taken, because
// Redis is down or another holder outlives the wait budget, fn still runs and
// a warning is logged.
func (r *Redis) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	owner := uuid.NewString()
	if err := r.acquireWait(ctx, key, owner); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.Logger.Warn("REDIS", fmt.Sprintf("Proceeding without lock %s: %v", key, err))
		return fn(ctx)
	}

	defer func() {
		// The caller's context may already be done; release on a fresh one.
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := r.Release(releaseCtx, key, owner); err != nil {
			r.Logger.Warn("REDIS", fmt.Sprintf("Failed to release lock %s: %v", key, err))
		}
	}()
	return fn(ctx)
}

// NopLocker runs fn directly. It stands in when Redis is disabled.
type NopLocker struct{}

func (NopLocker) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
