package xcache

import (
	"time"

	cachelib "github.com/eko/gocache/lib/v4/cache"
	gocache_store "github.com/eko/gocache/store/go_cache/v4"
	gocache "github.com/patrickmn/go-cache"
)

// Memory is a typed in-process cache for values that must not live in
// redis, such as parsed signature keys.
type Memory[T any] = cachelib.CacheInterface[T]

// NewMemory creates a pure in-memory cache using patrickmn/go-cache as
// the backend. Pass an existing *gocache.Cache so you control default
// expiration and cleanup interval.
func NewMemory[T any](client *gocache.Cache) Memory[T] {
	store := gocache_store.NewGoCache(client)
	return cachelib.New[T](store)
}

// NewMemoryWithOptions builds the go-cache client for you using the
// provided default expiration and cleanup interval.
func NewMemoryWithOptions[T any](defaultExpiration, cleanupInterval time.Duration) Memory[T] {
	client := gocache.New(defaultExpiration, cleanupInterval)
	return NewMemory[T](client)
}
