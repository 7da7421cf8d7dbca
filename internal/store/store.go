// Package store defines persistence for the idempotency ledger, the
// processed transactions and the versioned entitlement states.
package store

import (
	"context"

	"github.com/fatflowers/cashier-receipts/internal/models"
)

// Ledger is the idempotency ledger keyed by transaction id.
type Ledger interface {
	// TryInsert atomically records entry unless its key is already present.
	// It reports false, without error, when the key exists.
	TryInsert(ctx context.Context, entry *models.LedgerEntry) (bool, error)
	Contains(ctx context.Context, transactionID string) (bool, error)
}

// Tx is one unit of work. Its writes become visible together when InTx
// returns nil and are discarded otherwise.
type Tx interface {
	Ledger

	// SaveTransaction inserts t or refreshes the store-reported fields of an
	// existing row. The owning user of an existing row never changes.
	SaveTransaction(ctx context.Context, t *models.Transaction) error
	// GetTransaction returns ErrNotFound if transactionID was never saved.
	GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error)
	// ListTransactions returns the user's transactions for product in purchase order.
	ListTransactions(ctx context.Context, userID, productID string) ([]*models.Transaction, error)

	// LockCurrentEntitlement returns the current entitlement version, or nil if
	// there is none. A concurrent unit superseding the same version fails.
	LockCurrentEntitlement(ctx context.Context, userID, productID string) (*models.EntitlementState, error)
	// SupersedeEntitlement makes next the current version and marks prev
	// superseded by it. prev is nil for the first version. It returns
	// ErrConflict if prev is no longer current.
	SupersedeEntitlement(ctx context.Context, prev, next *models.EntitlementState) error
}

type Store interface {
	Ledger

	// InTx runs fn in a unit of work. Errors returned by fn are passed through.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// CurrentEntitlement returns ErrNotFound if the user never had the product.
	CurrentEntitlement(ctx context.Context, userID, productID string) (*models.EntitlementState, error)
	// EntitlementHistory returns every version in revision order.
	EntitlementHistory(ctx context.Context, userID, productID string) ([]*models.EntitlementState, error)
	GetLedgerEntry(ctx context.Context, transactionID string) (*models.LedgerEntry, error)

	SaveSubmissionLog(ctx context.Context, log *models.SubmissionLog) error

	Ping(ctx context.Context) error
}
