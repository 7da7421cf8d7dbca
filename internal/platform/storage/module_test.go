package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fatflowers/cashier-receipts/internal/store/cache"
	"github.com/fatflowers/cashier-receipts/internal/store/memory"
	cfgpkg "github.com/fatflowers/cashier-receipts/pkg/config"
)

func TestNewStore(t *testing.T) {
	log := zap.NewNop().Sugar()

	tests := []struct {
		name    string
		storage cfgpkg.StorageDriver
		cache   cfgpkg.CacheDriver
		check   func(t *testing.T, got interface{})
		wantErr string
	}{
		{
			name:    "memory without cache",
			storage: cfgpkg.StorageDriverMemory,
			cache:   cfgpkg.CacheDriverNone,
			check: func(t *testing.T, got interface{}) {
				require.IsType(t, &memory.Store{}, got)
			},
		},
		{
			name:    "memory with ttl cache",
			storage: cfgpkg.StorageDriverMemory,
			cache:   cfgpkg.CacheDriverMemory,
			check: func(t *testing.T, got interface{}) {
				require.IsType(t, &cache.Cache{}, got)
			},
		},
		{name: "unknown storage", storage: "mysql", cache: cfgpkg.CacheDriverNone, wantErr: `unknown storage driver "mysql"`},
		{name: "unknown cache", storage: cfgpkg.StorageDriverMemory, cache: "memcached", wantErr: `unknown cache driver "memcached"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &cfgpkg.Config{
				Storage: cfgpkg.StorageConfig{Driver: tt.storage},
				Cache:   cfgpkg.CacheConfig{Driver: tt.cache, TTL: time.Minute},
			}
			got, err := NewStore(fxtest.NewLifecycle(t), log, cfg)
			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, got)
		})
	}
}

func TestNewStore_PostgresRequiresDSN(t *testing.T) {
	cfg := &cfgpkg.Config{Storage: cfgpkg.StorageConfig{Driver: cfgpkg.StorageDriverPostgres}}
	_, err := NewStore(fxtest.NewLifecycle(t), zap.NewNop().Sugar(), cfg)
	require.Error(t, err)
}

func TestNewStore_MemoryCacheClosedOnStop(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	cfg := &cfgpkg.Config{
		Storage: cfgpkg.StorageConfig{Driver: cfgpkg.StorageDriverMemory},
		Cache:   cfgpkg.CacheConfig{Driver: cfgpkg.CacheDriverMemory, TTL: time.Minute},
	}
	lc := fxtest.NewLifecycle(t)
	_, err := NewStore(lc, zap.New(core).Sugar(), cfg)
	require.NoError(t, err)

	lc.RequireStart()
	require.Zero(t, logs.FilterMessage("closing entitlement cache").Len())
	lc.RequireStop()
	require.Equal(t, 1, logs.FilterMessage("closing entitlement cache").Len())
}
