// Package catalog holds the product definitions the reconciler needs, such
// as the access window of non-renewing purchases. It is reloaded when the
// config file changes.
package catalog

import (
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"

	cfgpkg "github.com/fatflowers/cashier-receipts/pkg/config"
	"github.com/fatflowers/cashier-receipts/pkg/types"
)

type Catalog struct {
	mu       sync.RWMutex
	products map[string]*types.Product
}

func New(products []*types.Product) *Catalog {
	c := &Catalog{}
	c.Replace(products)
	return c
}

// Replace swaps the whole product set. Readers see either the old or the new set.
func (c *Catalog) Replace(products []*types.Product) {
	next := make(map[string]*types.Product, len(products))
	for _, p := range products {
		if p == nil || p.ID == "" {
			continue
		}
		cp := *p
		next[p.ID] = &cp
	}
	c.mu.Lock()
	c.products = next
	c.mu.Unlock()
}

// Lookup returns a copy of the product, or nil when it is not configured.
func (c *Catalog) Lookup(productID string) *types.Product {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	p, ok := c.products[productID]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.products)
}

func NewFromConfig(loader *cfgpkg.Loader, cfg *cfgpkg.Config, l *zap.SugaredLogger) *Catalog {
	c := New(cfg.Products)
	loader.OnChange(func(next *cfgpkg.Config) {
		c.Replace(next.Products)
		l.Infow("product catalog reloaded", "products", c.Len())
	})
	return c
}

var Module = fx.Options(
	fx.Provide(NewFromConfig),
)
