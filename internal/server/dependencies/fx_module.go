// Package dependencies wires the infrastructure shared by the handler
// layers: redis, the relational store, the entity caches, token
// verification and the resolver.
package dependencies

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/openconf/authhub/internal/authz"
	"github.com/openconf/authhub/internal/caches"
	"github.com/openconf/authhub/internal/jwks"
	"github.com/openconf/authhub/internal/pkg/xcache"
	"github.com/openconf/authhub/internal/pkg/xredis"
	"github.com/openconf/authhub/internal/store"
)

var Module = fx.Module("dependencies",
	fx.Provide(NewRedis),
	fx.Provide(NewPool),
	fx.Provide(store.New),
	fx.Provide(func(s *store.Store) store.Source { return s }),
	fx.Provide(NewCaches),
	fx.Provide(jwks.NewVerifier),
	fx.Provide(authz.NewResolver),
)

func NewRedis(lc fx.Lifecycle, cfg xredis.Config) (redis.UniversalClient, error) {
	client, err := xredis.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	return client, nil
}

func NewPool(lc fx.Lifecycle, cfg store.Config) (*pgxpool.Pool, error) {
	pool, err := store.Connect(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func NewCaches(client redis.UniversalClient, source store.Source, cfg xcache.Config) *caches.Set {
	return caches.NewSet(client, source, cfg)
}
