package xcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openconf/authhub/internal/pkg/xlock"
)

// metaField marks a hash as fully populated and records the fetch time.
// Without it an empty hash is indistinguishable from a cache miss.
const metaField = "__fetched_at"

// FieldFetchFunc loads the complete field map for a parent key from the
// source of truth. An existing parent with no entries returns an empty
// map, not nil.
type FieldFetchFunc[T any] func(ctx context.Context, key string) (map[string]T, error)

// FieldCache caches a map of sub-keys per parent key in a redis hash,
// so invalidation handlers can mutate a single field without discarding
// the whole map. Population is all-or-nothing under the parent key's
// lock; point mutations only apply while the map is cached.
type FieldCache[T any] struct {
	name   string
	client redis.UniversalClient
	locker *xlock.Locker
	fetch  FieldFetchFunc[T]
	config Config
}

func NewField[T any](name string, client redis.UniversalClient, locker *xlock.Locker, fetch FieldFetchFunc[T], cfg Config) *FieldCache[T] {
	return &FieldCache[T]{
		name:   name,
		client: client,
		locker: locker,
		fetch:  fetch,
		config: cfg.withDefaults(),
	}
}

func (c *FieldCache[T]) redisKey(key string) string {
	return c.name + ":" + key
}

// GetAll returns the full field map for the parent key, populating it
// from the source of truth on a miss.
func (c *FieldCache[T]) GetAll(ctx context.Context, key string, opts ...GetOption) (map[string]T, error) {
	o := applyGetOptions(opts)

	if !o.refetch {
		fields, populated, err := c.read(ctx, key)
		if err != nil {
			return nil, err
		}

		if populated {
			return fields, nil
		}

		if !o.fetchIfMissing {
			return nil, nil
		}
	}

	if !o.acquireLock {
		return c.populate(ctx, key, o.refetch)
	}

	var result map[string]T

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

// GetField returns one field of the parent map, populating the whole map
// on a miss. (nil, nil) means the field is not present.
func (c *FieldCache[T]) GetField(ctx context.Context, key, field string, opts ...GetOption) (*T, error) {
	o := applyGetOptions(opts)

	if !o.refetch {
		raw, err := c.client.HMGet(ctx, c.redisKey(key), metaField, field).Result()
		if err != nil {
			return nil, fmt.Errorf("%s cache: read %q: %w", c.name, key, err)
		}

		if raw[0] != nil {
			if raw[1] == nil {
				return nil, nil
			}

			//nolint:forcetypeassert // Hash values are always strings.
			return c.decode(key, field, raw[1].(string))
		}
	}

	fields, err := c.GetAll(ctx, key, opts...)
	if err != nil {
		return nil, err
	}

	value, ok := fields[field]
	if !ok {
		return nil, nil
	}

	return &value, nil
}

func (c *FieldCache[T]) populate(ctx context.Context, key string, refetch bool) (map[string]T, error) {
	if !refetch {
		fields, populated, err := c.read(ctx, key)
		if err != nil {
			return nil, err
		}

		if populated {
			return fields, nil
		}
	}

	fields, err := c.fetch(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%s cache: fetch %q: %w", c.name, key, err)
	}

	if err := c.write(ctx, key, fields); err != nil {
		return nil, err
	}

	return fields, nil
}

// SetField sets one field if the parent map is cached; otherwise it is a
// no-op and the next GetAll fetches a complete fresh map.
func (c *FieldCache[T]) SetField(ctx context.Context, key, field string, value T) error {
	return c.locker.WithLock(ctx, c.redisKey(key), func(ctx context.Context) error {
		populated, err := c.client.HExists(ctx, c.redisKey(key), metaField).Result()
		if err != nil {
			return fmt.Errorf("%s cache: read %q: %w", c.name, key, err)
		}

		if !populated {
			return nil
		}

		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("%s cache: encode %q/%q: %w", c.name, key, field, err)
		}

		if err := c.client.HSet(ctx, c.redisKey(key), field, string(raw)).Err(); err != nil {
			return fmt.Errorf("%s cache: write %q/%q: %w", c.name, key, field, err)
		}

		return nil
	})
}

// InvalidateField removes one field from a cached parent map.
func (c *FieldCache[T]) InvalidateField(ctx context.Context, key, field string) error {
	return c.locker.WithLock(ctx, c.redisKey(key), func(ctx context.Context) error {
		if err := c.client.HDel(ctx, c.redisKey(key), field).Err(); err != nil {
			return fmt.Errorf("%s cache: delete %q/%q: %w", c.name, key, field, err)
		}

		return nil
	})
}

// Invalidate drops the whole parent map.
func (c *FieldCache[T]) Invalidate(ctx context.Context, key string) error {
	return c.locker.WithLock(ctx, c.redisKey(key), func(ctx context.Context) error {
		if err := c.client.Del(ctx, c.redisKey(key)).Err(); err != nil {
			return fmt.Errorf("%s cache: delete %q: %w", c.name, key, err)
		}

		return nil
	})
}

func (c *FieldCache[T]) read(ctx context.Context, key string) (map[string]T, bool, error) {
	raw, err := c.client.HGetAll(ctx, c.redisKey(key)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("%s cache: read %q: %w", c.name, key, err)
	}

	if _, ok := raw[metaField]; !ok {
		return nil, false, nil
	}

	fields := make(map[string]T, len(raw)-1)

	for field, value := range raw {
		if field == metaField {
			continue
		}

		decoded, err := c.decode(key, field, value)
		if err != nil {
			return nil, false, err
		}

		fields[field] = *decoded
	}

	return fields, true, nil
}

func (c *FieldCache[T]) write(ctx context.Context, key string, fields map[string]T) error {
	values := make([]any, 0, 2*(len(fields)+1))
	values = append(values, metaField, time.Now().UTC().Format(time.RFC3339Nano))

	for field, value := range fields {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("%s cache: encode %q/%q: %w", c.name, key, field, err)
		}

		values = append(values, field, string(raw))
	}

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, c.redisKey(key))
	pipe.HSet(ctx, c.redisKey(key), values...)
	pipe.Expire(ctx, c.redisKey(key), c.config.TTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%s cache: write %q: %w", c.name, key, err)
	}

	return nil
}

func (c *FieldCache[T]) decode(key, field, raw string) (*T, error) {
	var value T
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("%s cache: decode %q/%q: %w", c.name, key, field, err)
	}

	return &value, nil
}
