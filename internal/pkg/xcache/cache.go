// Package xcache provides the read-through entity caches backing the
// authorization resolver. Values live in redis so all process instances
// share one cache; population is guarded by a per-key distributed lock
// so at most one fetch per key is in flight across the fleet.
package xcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openconf/authhub/internal/log"
	"github.com/openconf/authhub/internal/pkg/xlock"
)

// FetchFunc loads an entity from the source of truth.
// Returning (nil, nil) means the entity legitimately does not exist and
// is cached as a negative entry; an error is an infrastructure failure
// and is never cached.
type FetchFunc[T any] func(ctx context.Context, key string) (*T, error)

// envelope is the stored form of a cache entry. NotFound entries share
// the key space with real values but never the value channel.
type envelope[T any] struct {
	Data      *T        `json:"data,omitempty"`
	NotFound  bool      `json:"notFound,omitempty"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Cache is a read-through cache for one entity type.
//
// Freshness is enforced through redis expiry: positive entries live for
// the configured TTL, negative entries for the not-found retry window.
// A present entry is therefore always fresh, and a repeated miss within
// the retry window returns the cached negative result without touching
// the source of truth.
type Cache[T any] struct {
	name   string
	client redis.UniversalClient
	locker *xlock.Locker
	fetch  FetchFunc[T]
	config Config
}

func New[T any](name string, client redis.UniversalClient, locker *xlock.Locker, fetch FetchFunc[T], cfg Config) *Cache[T] {
	return &Cache[T]{
		name:   name,
		client: client,
		locker: locker,
		fetch:  fetch,
		config: cfg.withDefaults(),
	}
}

func (c *Cache[T]) redisKey(key string) string {
	return c.name + ":" + key
}

// Get returns the cached entity, fetching from the source of truth on a
// miss. (nil, nil) means the entity does not exist; errors are
// infrastructure failures and are never folded into absence.
func (c *Cache[T]) Get(ctx context.Context, key string, opts ...GetOption) (*T, error) {
	o := applyGetOptions(opts)

	if !o.refetch {
		env, err := c.read(ctx, key)
		if err != nil {
			return nil, err
		}

		if env != nil {
			return env.Data, nil
		}

		if !o.fetchIfMissing {
			return nil, nil
		}
	}

	if !o.acquireLock {
		return c.populate(ctx, key, o.refetch)
	}

	var result *T

	err := c.locker.WithLock(ctx, c.redisKey(key), func(ctx context.Context) error {
		var err error

		result, err = c.populate(ctx, key, o.refetch)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// populate re-checks for a value written by a concurrent lock holder,
// then fetches and stores.
func (c *Cache[T]) populate(ctx context.Context, key string, refetch bool) (*T, error) {
	if !refetch {
		env, err := c.read(ctx, key)
		if err != nil {
			return nil, err
		}

		if env != nil {
			return env.Data, nil
		}
	}

	value, err := c.fetch(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%s cache: fetch %q: %w", c.name, key, err)
	}

	if err := c.write(ctx, key, value); err != nil {
		return nil, err
	}

	if value == nil {
		log.Debug(ctx, "cached negative entry",
			log.String("cache", c.name),
			log.String("key", key),
		)
	}

	return value, nil
}

// Set writes the value unconditionally with a fresh timestamp.
func (c *Cache[T]) Set(ctx context.Context, key string, value *T, opts ...GetOption) error {
	o := applyGetOptions(opts)

	if !o.acquireLock {
		return c.write(ctx, key, value)
	}

	return c.locker.WithLock(ctx, c.redisKey(key), func(ctx context.Context) error {
		return c.write(ctx, key, value)
	})
}

// Delete removes the entry; the next Get triggers a fresh fetch.
func (c *Cache[T]) Delete(ctx context.Context, key string, opts ...GetOption) error {
	o := applyGetOptions(opts)

	del := func(ctx context.Context) error {
		if err := c.client.Del(ctx, c.redisKey(key)).Err(); err != nil {
			return fmt.Errorf("%s cache: delete %q: %w", c.name, key, err)
		}

		return nil
	}

	if !o.acquireLock {
		return del(ctx)
	}

	return c.locker.WithLock(ctx, c.redisKey(key), del)
}

// Update performs a lock-guarded read-modify-write. When fetchIfNotFound
// is false and no entry exists (or only a negative entry exists), Update
// is a no-op; this gives invalidation handlers cheap "patch if cached"
// semantics. The update function receives the current value and returns
// the value to store; returning nil stores a negative entry.
func (c *Cache[T]) Update(ctx context.Context, key string, fn func(*T) (*T, error), fetchIfNotFound bool) error {
	return c.locker.WithLock(ctx, c.redisKey(key), func(ctx context.Context) error {
		env, err := c.read(ctx, key)
		if err != nil {
			return err
		}

		var current *T

		switch {
		case env != nil && !env.NotFound:
			current = env.Data
		case fetchIfNotFound:
			current, err = c.fetch(ctx, key)
			if err != nil {
				return fmt.Errorf("%s cache: fetch %q: %w", c.name, key, err)
			}
		default:
			return nil
		}

		updated, err := fn(current)
		if err != nil {
			return fmt.Errorf("%s cache: update %q: %w", c.name, key, err)
		}

		return c.write(ctx, key, updated)
	})
}

func (c *Cache[T]) read(ctx context.Context, key string) (*envelope[T], error) {
	raw, err := c.client.Get(ctx, c.redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("%s cache: read %q: %w", c.name, key, err)
	}

	var env envelope[T]
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("%s cache: decode %q: %w", c.name, key, err)
	}

	return &env, nil
}

func (c *Cache[T]) write(ctx context.Context, key string, value *T) error {
	env := envelope[T]{
		Data:      value,
		NotFound:  value == nil,
		FetchedAt: time.Now().UTC(),
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%s cache: encode %q: %w", c.name, key, err)
	}

	expiry := c.config.TTL
	if env.NotFound {
		expiry = c.config.NotFoundRetryAfter
	}

	if err := c.client.Set(ctx, c.redisKey(key), raw, expiry).Err(); err != nil {
		return fmt.Errorf("%s cache: write %q: %w", c.name, key, err)
	}

	return nil
}
