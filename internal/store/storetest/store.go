// Package storetest is the behavioral suite every store backend must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fatflowers/cashier-receipts/internal/models"
	"github.com/fatflowers/cashier-receipts/internal/store"
	"github.com/fatflowers/cashier-receipts/pkg/types"
)

func RunStoreTests(t *testing.T, s store.Store, teardown func()) {
	for _, tf := range []func(t *testing.T, s store.Store){
		testLedger,
		testConcurrentLedgerInsert,
		testRollback,
		testTransactions,
		testEntitlementVersions,
		testConcurrentSupersede,
		testSubmissionLog,
	} {
		tf(t, s)
		teardown()
	}
}

var base = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func ledgerEntry(id, userID string) *models.LedgerEntry {
	return &models.LedgerEntry{
		TransactionID:          id,
		Kind:                   types.LedgerEntryKindGrant,
		UserID:                 userID,
		ProductID:              "pro",
		Environment:            "production",
		ResultingEntitlementID: uuid.NewString(),
		ProcessedAt:            base,
	}
}

func entitlement(userID string, revision int64, expires time.Time) *models.EntitlementState {
	return &models.EntitlementState{
		ID:                uuid.NewString(),
		UserID:            userID,
		ProductID:         "pro",
		Status:            types.EntitlementStatusActive,
		ExpiresAt:         &expires,
		LastTransactionID: fmt.Sprintf("t%d", revision),
		Environment:       "production",
		Reason:            types.EntitlementChangeReasonPurchase,
		Revision:          revision,
	}
}

func testLedger(t *testing.T, s store.Store) {
	ctx := context.Background()

	ok, err := s.Contains(ctx, "1000")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = s.GetLedgerEntry(ctx, "1000")
	require.ErrorIs(t, err, store.ErrNotFound)

	inserted, err := s.TryInsert(ctx, ledgerEntry("1000", "u1"))
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = s.TryInsert(ctx, ledgerEntry("1000", "u2"))
	require.NoError(t, err)
	require.False(t, inserted)

	ok, err = s.Contains(ctx, "1000")
	require.NoError(t, err)
	require.True(t, ok)

	entry, err := s.GetLedgerEntry(ctx, "1000")
	require.NoError(t, err)
	require.Equal(t, "u1", entry.UserID)
	require.Equal(t, types.LedgerEntryKindGrant, entry.Kind)

	// the revocation key is independent of the grant key
	rev := ledgerEntry(models.LedgerKey("1000", types.LedgerEntryKindRevocation), "u1")
	rev.Kind = types.LedgerEntryKindRevocation
	inserted, err = s.TryInsert(ctx, rev)
	require.NoError(t, err)
	require.True(t, inserted)
}

func testConcurrentLedgerInsert(t *testing.T, s store.Store) {
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.TryInsert(ctx, ledgerEntry("2000", fmt.Sprintf("u%d", i)))
			if err != nil {
				// losing a race may surface as a conflict but never as a second insert
				require.True(t, errors.Is(err, store.ErrConflict), "unexpected error: %v", err)
				return
			}
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 1, inserted)
}

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ok, err := tx.TryInsert(ctx, ledgerEntry("3000", "u1"))
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = tx.Contains(ctx, "3000")
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, tx.SaveTransaction(ctx, &models.Transaction{
			ID: uuid.NewString(), TransactionID: "3000", OriginalTransactionID: "3000",
			UserID: "u1", ProductID: "pro", Environment: "production", PurchaseAt: base,
		}))
		require.NoError(t, tx.SupersedeEntitlement(ctx, nil, entitlement("u1", 1, base.Add(time.Hour))))
		return boom
	})
	require.ErrorIs(t, err, boom)

	ok, err := s.Contains(ctx, "3000")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = s.CurrentEntitlement(ctx, "u1", "pro")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.GetTransaction(ctx, "3000")
		require.ErrorIs(t, err, store.ErrNotFound)
		return nil
	}))
}

func testTransactions(t *testing.T, s store.Store) {
	ctx := context.Background()
	later := base.Add(30 * 24 * time.Hour)

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, id := range []string{"4001", "4000"} {
			ok, err := tx.TryInsert(ctx, ledgerEntry(id, "u1"))
			require.NoError(t, err)
			require.True(t, ok)
		}
		require.NoError(t, tx.SaveTransaction(ctx, &models.Transaction{
			ID: uuid.NewString(), TransactionID: "4001", OriginalTransactionID: "4000",
			UserID: "u1", ProductID: "pro", Environment: "production", PurchaseAt: later, IsRenewal: true,
		}))
		return tx.SaveTransaction(ctx, &models.Transaction{
			ID: uuid.NewString(), TransactionID: "4000", OriginalTransactionID: "4000",
			UserID: "u1", ProductID: "pro", Environment: "production", PurchaseAt: base, IsTrial: true,
		})
	}))

	revokedAt := later.Add(time.Hour)
	reason := "1"
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		list, err := tx.ListTransactions(ctx, "u1", "pro")
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.Equal(t, "4000", list[0].TransactionID)
		require.True(t, list[0].IsTrial)
		require.Equal(t, "4001", list[1].TransactionID)
		require.True(t, list[1].PurchaseAt.Equal(later))

		none, err := tx.ListTransactions(ctx, "u2", "pro")
		require.NoError(t, err)
		require.Empty(t, none)

		// a second save refreshes store fields but keeps the owner
		return tx.SaveTransaction(ctx, &models.Transaction{
			ID: uuid.NewString(), TransactionID: "4001", OriginalTransactionID: "4000",
			UserID: "u2", ProductID: "pro", Environment: "production", PurchaseAt: later,
			RevokedAt: &revokedAt, RevocationReason: &reason,
		})
	}))

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		got, err := tx.GetTransaction(ctx, "4001")
		require.NoError(t, err)
		require.Equal(t, "u1", got.UserID)
		require.True(t, got.Revoked())
		require.True(t, got.RevokedAt.Equal(revokedAt))
		require.Equal(t, "1", *got.RevocationReason)
		return nil
	}))
}

func testEntitlementVersions(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.CurrentEntitlement(ctx, "u1", "pro")
	require.ErrorIs(t, err, store.ErrNotFound)

	first := entitlement("u1", 1, base.Add(time.Hour))
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		cur, err := tx.LockCurrentEntitlement(ctx, "u1", "pro")
		require.NoError(t, err)
		require.Nil(t, cur)
		return tx.SupersedeEntitlement(ctx, nil, first)
	}))

	cur, err := s.CurrentEntitlement(ctx, "u1", "pro")
	require.NoError(t, err)
	require.Equal(t, first.ID, cur.ID)
	require.True(t, cur.ExpiresAt.Equal(*first.ExpiresAt))
	require.Nil(t, cur.SupersededAt)

	second := entitlement("u1", 2, base.Add(2*time.Hour))
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		prev, err := tx.LockCurrentEntitlement(ctx, "u1", "pro")
		require.NoError(t, err)
		require.Equal(t, first.ID, prev.ID)
		return tx.SupersedeEntitlement(ctx, prev, second)
	}))

	cur, err = s.CurrentEntitlement(ctx, "u1", "pro")
	require.NoError(t, err)
	require.Equal(t, second.ID, cur.ID)
	require.EqualValues(t, 2, cur.Revision)

	history, err := s.EntitlementHistory(ctx, "u1", "pro")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, first.ID, history[0].ID)
	require.NotNil(t, history[0].SupersededAt)
	require.Equal(t, second.ID, *history[0].SupersededBy)
	require.Equal(t, second.ID, history[1].ID)
	require.Nil(t, history[1].SupersededAt)

	// superseding a stale version or creating a second first version conflicts
	err = s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SupersedeEntitlement(ctx, first, entitlement("u1", 2, base))
	})
	require.ErrorIs(t, err, store.ErrConflict)

	err = s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SupersedeEntitlement(ctx, nil, entitlement("u1", 1, base))
	})
	require.ErrorIs(t, err, store.ErrConflict)

	cur, err = s.CurrentEntitlement(ctx, "u1", "pro")
	require.NoError(t, err)
	require.Equal(t, second.ID, cur.ID)

	// other users are unaffected
	_, err = s.CurrentEntitlement(ctx, "u2", "pro")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testConcurrentSupersede(t *testing.T, s store.Store) {
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
				prev, err := tx.LockCurrentEntitlement(ctx, "u9", "pro")
				if err != nil {
					return err
				}
				var rev int64 = 1
				if prev != nil {
					rev = prev.Revision + 1
				}
				return tx.SupersedeEntitlement(ctx, prev, entitlement("u9", rev, base.Add(time.Duration(rev)*time.Hour)))
			})
			if err != nil {
				require.True(t, errors.Is(err, store.ErrConflict), "unexpected error: %v", err)
				return
			}
			mu.Lock()
			succeeded++
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.GreaterOrEqual(t, succeeded, 1)

	history, err := s.EntitlementHistory(ctx, "u9", "pro")
	require.NoError(t, err)
	require.Len(t, history, succeeded)
	currents := 0
	for i, v := range history {
		require.EqualValues(t, i+1, v.Revision)
		if v.Current() {
			currents++
		}
	}
	require.Equal(t, 1, currents)
}

func testSubmissionLog(t *testing.T, s store.Store) {
	ctx := context.Background()
	log := &models.SubmissionLog{
		ID:            uuid.NewString(),
		TraceID:       "trace",
		UserID:        "u1",
		Environment:   "production",
		ReceiptSHA256: "abc",
		Status:        types.SubmissionLogStatusReceived,
	}
	require.NoError(t, s.SaveSubmissionLog(ctx, log))

	log.Status = types.SubmissionLogStatusCompleted
	require.NoError(t, s.SaveSubmissionLog(ctx, log))
	require.NoError(t, s.Ping(ctx))
}
