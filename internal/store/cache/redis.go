package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fatflowers/cashier-receipts/internal/models"
	"github.com/fatflowers/cashier-receipts/pkg/logctx"
)

// entries are hashes: val and rev hold the cached version, floor the revision
// of the last eviction
const redisKeyPrefix = "cashier:entitlement:v2:"

// setScript fills an entry unless it holds or was evicted at a later revision.
var setScript = redis.NewScript(`
local floor = tonumber(redis.call('HGET', KEYS[1], 'floor') or '0')
local rev = tonumber(ARGV[2])
if rev < floor then return 0 end
local cur = redis.call('HGET', KEYS[1], 'rev')
if cur and rev < tonumber(cur) then return 0 end
redis.call('HSET', KEYS[1], 'val', ARGV[1], 'rev', ARGV[2])
if tonumber(ARGV[3]) > 0 then redis.call('PEXPIRE', KEYS[1], ARGV[3]) end
return 1
`)

// evictScript drops the cached version and raises the floor.
var evictScript = redis.NewScript(`
local floor = tonumber(redis.call('HGET', KEYS[1], 'floor') or '0')
local rev = tonumber(ARGV[1])
if rev > floor then floor = rev end
redis.call('HDEL', KEYS[1], 'val', 'rev')
redis.call('HSET', KEYS[1], 'floor', floor)
if tonumber(ARGV[2]) > 0 then redis.call('PEXPIRE', KEYS[1], ARGV[2]) end
return 1
`)

// redisBackend shares the cache between replicas. Redis errors degrade to
// cache misses.
type redisBackend struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.SugaredLogger
}

func NewRedisBackend(rdb *redis.Client, ttl time.Duration, log *zap.SugaredLogger) Backend {
	return &redisBackend{rdb: rdb, ttl: ttl, log: log}
}

func redisKey(key string) string {
	return redisKeyPrefix + key
}

func (r *redisBackend) Get(ctx context.Context, key string) (*models.EntitlementState, bool) {
	raw, err := r.rdb.HGet(ctx, redisKey(key), "val").Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logctx.FromCtx(ctx, r.log).Warnw("entitlement cache read failed", "key", key, "err", err)
		}
		return nil, false
	}
	var e models.EntitlementState
	if err := json.Unmarshal(raw, &e); err != nil {
		logctx.FromCtx(ctx, r.log).Warnw("entitlement cache entry is corrupt", "key", key, "err", err)
		return nil, false
	}
	return &e, true
}

func (r *redisBackend) Set(ctx context.Context, key string, e *models.EntitlementState) {
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := setScript.Run(ctx, r.rdb, []string{redisKey(key)}, raw, e.Revision, r.ttl.Milliseconds()).Err(); err != nil {
		logctx.FromCtx(ctx, r.log).Warnw("entitlement cache write failed", "key", key, "err", err)
	}
}

func (r *redisBackend) Evict(ctx context.Context, key string, revision int64) {
	if err := evictScript.Run(ctx, r.rdb, []string{redisKey(key)}, revision, r.ttl.Milliseconds()).Err(); err != nil {
		logctx.FromCtx(ctx, r.log).Errorw("entitlement cache eviction failed", "key", key, "err", err)
	}
}
