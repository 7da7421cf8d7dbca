package reconciler

import (
	"time"

	"github.com/fatflowers/cashier-receipts/internal/models"
	"github.com/fatflowers/cashier-receipts/pkg/types"
)

// Computed is the entitlement derived from a user's transactions for one product.
type Computed struct {
	Status types.EntitlementStatus
	// ExpiresAt nil means the entitlement never expires.
	ExpiresAt         *time.Time
	LastTransactionID string
	IsTrial           bool
}

// ComputeEntitlement derives the entitlement of one (user, product) from all
// of its transactions at now. Revoked transactions grant nothing. Among the
// rest the latest expiration wins, ties broken by the latest purchase. When
// every transaction is revoked the entitlement expired at the latest
// revocation. product may be nil for products missing from the catalog.
func ComputeEntitlement(txns []*models.Transaction, product *types.Product, now time.Time) Computed {
	if len(txns) == 0 {
		return Computed{Status: types.EntitlementStatusNone}
	}

	var (
		best       *models.Transaction
		bestExpiry *time.Time
		lastRevoke *models.Transaction
	)
	for _, t := range txns {
		if t.Revoked() {
			if lastRevoke == nil || t.RevokedAt.After(*lastRevoke.RevokedAt) {
				lastRevoke = t
			}
			continue
		}
		expiry := effectiveExpiry(t, product)
		if best == nil || betterCandidate(t, expiry, best, bestExpiry) {
			best, bestExpiry = t, expiry
		}
	}

	if best == nil {
		at := *lastRevoke.RevokedAt
		return Computed{
			Status:            types.EntitlementStatusExpired,
			ExpiresAt:         &at,
			LastTransactionID: lastRevoke.TransactionID,
		}
	}
	return Computed{
		Status:            statusAt(bestExpiry, now),
		ExpiresAt:         cloneTime(bestExpiry),
		LastTransactionID: best.TransactionID,
		IsTrial:           best.IsTrial,
	}
}

func effectiveExpiry(t *models.Transaction, product *types.Product) *time.Time {
	if t.ExpiresAt != nil {
		return t.ExpiresAt
	}
	if d, ok := product.Duration(); ok {
		at := t.PurchaseAt.Add(d)
		return &at
	}
	return nil
}

func betterCandidate(t *models.Transaction, expiry *time.Time, best *models.Transaction, bestExpiry *time.Time) bool {
	if c := compareExpiry(expiry, bestExpiry); c != 0 {
		return c > 0
	}
	if c := t.PurchaseAt.Compare(best.PurchaseAt); c != 0 {
		return c > 0
	}
	return t.TransactionID > best.TransactionID
}

// compareExpiry orders expirations with nil as +infinity.
func compareExpiry(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Compare(*b)
}

// laterExpiry returns the later of a and b, nil being the latest.
func laterExpiry(a, b *time.Time) *time.Time {
	if compareExpiry(a, b) >= 0 {
		return a
	}
	return b
}

func statusAt(expiresAt *time.Time, now time.Time) types.EntitlementStatus {
	if expiresAt == nil || expiresAt.After(now) {
		return types.EntitlementStatusActive
	}
	return types.EntitlementStatusExpired
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
