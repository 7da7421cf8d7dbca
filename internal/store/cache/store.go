// Package cache decorates a store.Store with a read-through cache of the
// current entitlement. Units of work that supersede an entitlement evict it
// once they finish, and a read that started before the commit cannot put the
// older version back.
package cache

import (
	"context"

	"github.com/fatflowers/cashier-receipts/internal/models"
	"github.com/fatflowers/cashier-receipts/internal/store"
)

// Backend holds current entitlements by store.EntitlementKey.
type Backend interface {
	Get(ctx context.Context, key string) (*models.EntitlementState, bool)
	// Set fills key unless the entry holds, or was evicted at, a later revision.
	Set(ctx context.Context, key string, e *models.EntitlementState)
	// Evict drops key and refuses later fills older than revision.
	Evict(ctx context.Context, key string, revision int64)
}

type Cache struct {
	store.Store
	backend Backend
}

func New(db store.Store, backend Backend) store.Store {
	return &Cache{Store: db, backend: backend}
}

func (c *Cache) CurrentEntitlement(ctx context.Context, userID, productID string) (*models.EntitlementState, error) {
	key := store.EntitlementKey(userID, productID)
	if cached, ok := c.backend.Get(ctx, key); ok {
		return cached.Clone(), nil
	}

	e, err := c.Store.CurrentEntitlement(ctx, userID, productID)
	if err != nil {
		return nil, err
	}
	c.backend.Set(ctx, key, e.Clone())
	return e, nil
}

// InTx evicts every entitlement the unit superseded, whether or not the
// commit succeeded: a failed commit may still have been applied.
func (c *Cache) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	touched := map[string]int64{}
	err := c.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, &trackingTx{Tx: tx, touched: touched})
	})
	evictCtx := context.WithoutCancel(ctx)
	for key, revision := range touched {
		c.backend.Evict(evictCtx, key, revision)
	}
	return err
}

// trackingTx records the highest revision written per entitlement key.
type trackingTx struct {
	store.Tx
	touched map[string]int64
}

func (t *trackingTx) SupersedeEntitlement(ctx context.Context, prev, next *models.EntitlementState) error {
	key := store.EntitlementKey(next.UserID, next.ProductID)
	t.touched[key] = max(t.touched[key], next.Revision)
	return t.Tx.SupersedeEntitlement(ctx, prev, next)
}
