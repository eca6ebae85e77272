// Package xlock provides a per-key distributed lock on top of redis.
// The lock is TTL-bounded so a crashed holder cannot block other
// processes for longer than the lock TTL.
package xlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/openconf/authhub/internal/log"
)

// ErrAcquireTimeout is returned when the lock could not be acquired
// within the configured acquire timeout.
var ErrAcquireTimeout = errors.New("xlock: acquire timeout")

// releaseScript deletes the lock key only when it still holds our token,
// so an expired lock re-acquired by another holder is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type Config struct {
	// TTL bounds how long a crashed holder can keep the lock.
	TTL time.Duration `conf:"ttl" yaml:"ttl" json:"ttl"`
	// AcquireTimeout bounds how long Acquire polls for a contended lock.
	AcquireTimeout time.Duration `conf:"acquire_timeout" yaml:"acquire_timeout" json:"acquire_timeout"`
	// RetryInterval is the poll interval while the lock is contended.
	RetryInterval time.Duration `conf:"retry_interval" yaml:"retry_interval" json:"retry_interval"`
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = 10 * time.Second
	}

	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 5 * time.Second
	}

	if c.RetryInterval <= 0 {
		c.RetryInterval = 20 * time.Millisecond
	}

	return c
}

type Locker struct {
	client redis.UniversalClient
	config Config
}

func NewLocker(client redis.UniversalClient, cfg Config) *Locker {
	return &Locker{
		client: client,
		config: cfg.withDefaults(),
	}
}

// Acquire takes the lock for the given key, polling until the acquire
// timeout elapses. The returned release function is safe to call exactly
// once and must be called on every exit path.
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	lockKey := "lock:" + key

	deadline := time.Now().Add(l.config.AcquireTimeout)

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, l.config.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("xlock: set %s: %w", lockKey, err)
		}

		if ok {
			break
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrAcquireTimeout, lockKey)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("xlock: acquire %s: %w", lockKey, ctx.Err())
		case <-time.After(l.config.RetryInterval):
		}
	}

	release := func() {
		// Release with a fresh context: the request context may already be
		// cancelled, but the lock must still be freed.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := releaseScript.Run(releaseCtx, l.client, []string{lockKey}, token).Err(); err != nil {
			log.Warn(releaseCtx, "failed to release lock, waiting for ttl expiry",
				log.String("key", lockKey),
				log.Cause(err),
			)
		}
	}

	return release, nil
}

// WithLock runs fn while holding the lock for key. The lock is released
// on every exit path, including a panic inside fn.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	release, err := l.Acquire(ctx, key)
	if err != nil {
		return err
	}

	defer release()

	return fn(ctx)
}
