package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript resets the key's TTL only if it still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLock is a Locker backed by SET NX with a TTL, so it also excludes
// other instances sharing the same Redis. The TTL is refreshed every ttl/3
// while fn runs, so it only has to outlast a crashed holder, not the
// longest critical section.
type RedisLock struct {
	client  redis.UniversalClient
	prefix  string
	ttl     time.Duration
	retry   time.Duration
	refresh time.Duration
	maxWait time.Duration
}

// NewRedisLock creates a RedisLock. ttl bounds how long a crashed holder
// can block others; maxWait bounds how long WithLock waits.
func NewRedisLock(client redis.UniversalClient, ttl, maxWait time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if maxWait <= 0 {
		maxWait = ttl
	}
	return &RedisLock{
		client:  client,
		prefix:  "travelpoints:lock:",
		ttl:     ttl,
		retry:   50 * time.Millisecond,
		refresh: max(ttl/3, time.Millisecond),
		maxWait: maxWait,
	}
}

// WithLock executes fn while holding the Redis lock for key.
func (r *RedisLock) WithLock(ctx context.Context, key string, fn func() error) error {
	token := uuid.NewString()
	redisKey := r.prefix + key

	waitCtx, cancel := context.WithTimeout(ctx, r.maxWait)
	defer cancel()

	for {
		ok, err := r.client.SetNX(waitCtx, redisKey, token, r.ttl).Result()
		if err != nil {
			if waitCtx.Err() == context.DeadlineExceeded {
				return ErrLockTimeout
			}
			return fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrLockTimeout
		case <-time.After(r.retry):
		}
	}

	defer func() {
		// release must run even if the caller's context is already done
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, r.client, []string{redisKey}, token).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to release redis lock")
		}
	}()

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(ctx, key, redisKey, token, stop, done)
	defer func() {
		close(stop)
		<-done
	}()

	return fn()
}

// keepAlive extends the lock's TTL until stop is closed. A failed or
// refused extension is logged; fn keeps running either way.
func (r *RedisLock) keepAlive(ctx context.Context, key, redisKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			extendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.refresh)
			n, err := extendScript.Run(extendCtx, r.client, []string{redisKey}, token, r.ttl.Milliseconds()).Int()
			cancel()
			switch {
			case err != nil:
				log.Warn().Err(err).Str("key", key).Msg("Failed to extend redis lock")
			case n == 0:
				log.Warn().Str("key", key).Msg("Redis lock lost before release")
				return
			}
		}
	}
}
