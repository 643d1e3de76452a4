package tokens

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/sharelist/internal/shared"
	"github.com/redis/go-redis/v9"
)

const lockPrefix = "sharelist:refresh:"

// Locker provides a cross-process mutual exclusion window for refreshing one share.
//
// Acquire returns acquired=false without error when the wait elapsed while another holder kept the lock.
// release is always safe to call.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), acquired bool, err error)
}

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker implements [Locker] with SET NX PX.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
}

// NewRedisLocker creates a [RedisLocker]. ttl bounds how long a crashed holder blocks others;
// wait bounds how long Acquire polls for a held lock.
func NewRedisLocker(client redis.UniversalClient, ttl, wait time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if wait < 0 {
		wait = 0
	}
	return &RedisLocker{client: client, ttl: ttl, wait: wait, poll: 25 * time.Millisecond}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), bool, error) {
	noop := func() {}
	owner := shared.GenerateID()
	key = lockPrefix + key
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, owner, l.ttl).Result()
		if err != nil {
			return noop, false, fmt.Errorf("failed to acquire refresh lock: %w", err)
		}
		if ok {
			release := func() {
				rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
				defer cancel()
				releaseScript.Run(rctx, l.client, []string{key}, owner)
			}
			return release, true, nil
		}

		if !time.Now().Before(deadline) {
			return noop, false, nil
		}

		select {
		case <-ctx.Done():
			return noop, false, ctx.Err()
		case <-time.After(l.poll):
		}
	}
}

// NewRedisClient connects to the configured Redis and verifies it with a ping.
func NewRedisClient(ctx context.Context, cfg shared.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: redis ping failed: %v", shared.ErrServiceUnavailable, err)
	}
	return client, nil
}
