// Package storage assembles the store.Store selected by configuration:
// the persistence backend plus the optional entitlement cache in front of it.
package storage

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	awsplatform "github.com/fatflowers/cashier-receipts/internal/platform/aws"
	"github.com/fatflowers/cashier-receipts/internal/platform/db"
	"github.com/fatflowers/cashier-receipts/internal/platform/redis"
	"github.com/fatflowers/cashier-receipts/internal/store"
	"github.com/fatflowers/cashier-receipts/internal/store/cache"
	"github.com/fatflowers/cashier-receipts/internal/store/dynamo"
	"github.com/fatflowers/cashier-receipts/internal/store/memory"
	"github.com/fatflowers/cashier-receipts/internal/store/postgres"
	cfgpkg "github.com/fatflowers/cashier-receipts/pkg/config"
)

func newBackend(lc fx.Lifecycle, l *zap.SugaredLogger, cfg *cfgpkg.Config) (store.Store, error) {
	switch cfg.Storage.Driver {
	case cfgpkg.StorageDriverPostgres:
		gdb, err := db.NewDB(l, cfg)
		if err != nil {
			return nil, err
		}
		if err := db.AutoMigrate(l, gdb); err != nil {
			return nil, err
		}
		db.RegisterDBClose(lc, l, gdb)
		return postgres.New(gdb), nil
	case cfgpkg.StorageDriverDynamoDB:
		awsCfg, err := awsplatform.LoadAWSConfig(context.Background(), cfg)
		if err != nil {
			return nil, err
		}
		return dynamo.New(awsplatform.NewDynamoDB(awsCfg, cfg, l), cfg.DynamoDB.Table), nil
	case cfgpkg.StorageDriverMemory:
		l.Warnw("using in-memory storage, state is lost on restart")
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

// NewStore builds the backend and wraps it with the configured cache.
func NewStore(lc fx.Lifecycle, l *zap.SugaredLogger, cfg *cfgpkg.Config) (store.Store, error) {
	backend, err := newBackend(lc, l, cfg)
	if err != nil {
		return nil, err
	}
	l.Infow("storage configured", "driver", cfg.Storage.Driver, "cache", cfg.Cache.Driver)

	switch cfg.Cache.Driver {
	case cfgpkg.CacheDriverNone, "":
		return backend, nil
	case cfgpkg.CacheDriverMemory:
		mem := cache.NewMemoryBackend(cfg.Cache.TTL)
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				l.Infow("closing entitlement cache")
				return mem.Close()
			},
		})
		return cache.New(backend, mem), nil
	case cfgpkg.CacheDriverRedis:
		rdb := redis.NewClient(lc, l, cfg)
		return cache.New(backend, cache.NewRedisBackend(rdb, cfg.Cache.TTL, l)), nil
	}
	return nil, fmt.Errorf("unknown cache driver %q", cfg.Cache.Driver)
}

var Module = fx.Options(
	fx.Provide(NewStore),
)
