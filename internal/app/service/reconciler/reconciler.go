package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/fatflowers/cashier-receipts/internal/catalog"
	"github.com/fatflowers/cashier-receipts/internal/events"
	"github.com/fatflowers/cashier-receipts/internal/models"
	"github.com/fatflowers/cashier-receipts/internal/receipt"
	"github.com/fatflowers/cashier-receipts/internal/store"
	"github.com/fatflowers/cashier-receipts/pkg/config"
	"github.com/fatflowers/cashier-receipts/pkg/logctx"
	"github.com/fatflowers/cashier-receipts/pkg/metrics"
	"github.com/fatflowers/cashier-receipts/pkg/tool"
	"github.com/fatflowers/cashier-receipts/pkg/types"
)

const defaultMaxConflictRetries = 3

// Result is the outcome of reconciling one receipt.
type Result struct {
	// NewlyProcessed lists the transaction ids whose grant or revocation was
	// applied by this call, in processing order.
	NewlyProcessed []string
	// Entitlement is the current entitlement for the product of the most
	// recent purchase in the receipt.
	Entitlement *models.EntitlementState
	// Entitlements holds the current entitlement of every product in the
	// receipt, ordered by product id.
	Entitlements []*models.EntitlementState
}

type Service struct {
	store      store.Store
	catalog    *catalog.Catalog
	dispatcher *events.Dispatcher
	recorder   *metrics.Recorder
	log        *zap.SugaredLogger

	maxConflictRetries int
	now                func() time.Time
}

func NewService(cfg *config.Config, s store.Store, c *catalog.Catalog, d *events.Dispatcher, r *metrics.Recorder, log *zap.SugaredLogger) *Service {
	retries := cfg.Reconcile.MaxConflictRetries
	if retries <= 0 {
		retries = defaultMaxConflictRetries
	}
	return &Service{
		store:              s,
		catalog:            c,
		dispatcher:         d,
		recorder:           r,
		log:                log,
		maxConflictRetries: retries,
		now:                time.Now,
	}
}

// unit is one ledger key applied in its own store transaction.
type unit struct {
	userID      string
	environment receipt.Environment
	record      receipt.TransactionRecord
	kind        types.LedgerEntryKind
}

func (u unit) key() string {
	return models.LedgerKey(u.record.TransactionID, u.kind)
}

// Reconcile applies every record not yet in the ledger to the user's
// entitlements. Each grant, and each revocation, commits atomically with its
// ledger entry, so a retried or concurrent submission of the same receipt
// applies nothing twice.
func (s *Service) Reconcile(ctx context.Context, userID string, env receipt.Environment, records []receipt.TransactionRecord) (*Result, error) {
	start := time.Now()
	defer s.recorder.ObserveProcess("reconcile", string(env), start)

	lg := logctx.FromCtx(ctx, s.log)
	var newly []string
	// committed holds the latest version this call wrote per product
	committed := map[string]*models.EntitlementState{}
	for _, rec := range records {
		next, err := s.applyWithRetry(ctx, unit{userID: userID, environment: env, record: rec, kind: types.LedgerEntryKindGrant})
		if err != nil {
			return nil, err
		}
		if next != nil {
			newly = append(newly, rec.TransactionID)
			committed[rec.ProductID] = next
		}
		if !rec.Revoked() {
			continue
		}
		next, err = s.applyWithRetry(ctx, unit{userID: userID, environment: env, record: rec, kind: types.LedgerEntryKindRevocation})
		if err != nil {
			return nil, err
		}
		if next != nil {
			committed[rec.ProductID] = next
			if !lo.Contains(newly, rec.TransactionID) {
				newly = append(newly, rec.TransactionID)
			}
		}
	}
	lg.Infow("receipt reconciled", "records", len(records), "newly_processed", newly)

	result := &Result{NewlyProcessed: newly}
	if len(records) == 0 {
		return result, nil
	}
	products := lo.Uniq(lo.Map(records, func(r receipt.TransactionRecord, _ int) string { return r.ProductID }))
	sort.Strings(products)
	byProduct := make(map[string]*models.EntitlementState, len(products))
	for _, productID := range products {
		e, err := s.currentOrNone(ctx, userID, productID)
		if err != nil {
			return nil, err
		}
		// a cached read can trail what this call committed
		if c := committed[productID]; c != nil && c.Revision > e.Revision {
			e = c.Clone()
		}
		byProduct[productID] = e
		result.Entitlements = append(result.Entitlements, e)
	}
	// records are in purchase order
	result.Entitlement = byProduct[records[len(records)-1].ProductID]
	return result, nil
}

func (s *Service) currentOrNone(ctx context.Context, userID, productID string) (*models.EntitlementState, error) {
	e, err := s.store.CurrentEntitlement(ctx, userID, productID)
	if errors.Is(err, store.ErrNotFound) {
		return &models.EntitlementState{UserID: userID, ProductID: productID, Status: types.EntitlementStatusNone}, nil
	}
	if err != nil {
		return nil, storageErr(err)
	}
	return e, nil
}

// applyWithRetry re-runs a unit that lost a race on the current entitlement.
// The rerun repeats the ledger check, so a key is still applied at most once.
// It returns the committed entitlement, or nil when the key was already applied.
func (s *Service) applyWithRetry(ctx context.Context, u unit) (*models.EntitlementState, error) {
	lg := logctx.FromCtx(ctx, s.log)
	for attempt := 0; ; attempt++ {
		applied, next, err := s.apply(ctx, u)
		if err == nil {
			s.recorder.LedgerInsert(string(u.kind), applied)
			if !applied {
				return nil, nil
			}
			s.publish(ctx, u, next)
			return next, nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt >= s.maxConflictRetries {
			lg.Errorw("reconcile unit failed", "ledger_key", u.key(), "attempt", attempt+1, "err", err)
			return nil, storageErr(err)
		}
		lg.Warnw("reconcile unit conflicted, retrying", "ledger_key", u.key(), "attempt", attempt+1)
	}
}

func (s *Service) apply(ctx context.Context, u unit) (applied bool, next *models.EntitlementState, err error) {
	err = s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var e error
		if u.kind == types.LedgerEntryKindRevocation {
			applied, next, e = s.applyRevocation(ctx, tx, u)
		} else {
			applied, next, e = s.applyGrant(ctx, tx, u)
		}
		return e
	})
	if err != nil {
		return false, nil, err
	}
	if !applied && u.kind == types.LedgerEntryKindGrant {
		s.warnIfForeign(ctx, u)
	}
	return applied, next, nil
}

func (s *Service) applyGrant(ctx context.Context, tx store.Tx, u unit) (bool, *models.EntitlementState, error) {
	entitlementID := tool.GenerateUUIDV7()
	inserted, err := tx.TryInsert(ctx, s.ledgerEntry(u, entitlementID))
	if err != nil || !inserted {
		return false, nil, err
	}

	// the purchase is granted here, its revocation by the revocation unit
	txn := s.transaction(ctx, u)
	txn.RevokedAt, txn.RevocationReason = nil, nil
	if err := tx.SaveTransaction(ctx, txn); err != nil {
		return false, nil, fmt.Errorf("save transaction: %w", err)
	}

	reason := types.EntitlementChangeReasonPurchase
	if u.record.IsRenewal {
		reason = types.EntitlementChangeReasonRenewal
	}
	next, err := s.supersede(ctx, tx, u, entitlementID, reason, false)
	return err == nil, next, err
}

func (s *Service) applyRevocation(ctx context.Context, tx store.Tx, u unit) (bool, *models.EntitlementState, error) {
	existing, err := tx.GetTransaction(ctx, u.record.TransactionID)
	if errors.Is(err, store.ErrNotFound) {
		logctx.FromCtx(ctx, s.log).Warnw("revocation skipped, transaction was never granted",
			"transaction_id", u.record.TransactionID)
		return false, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("load revoked transaction: %w", err)
	}
	if existing.UserID != u.userID {
		logctx.FromCtx(ctx, s.log).Warnw("revocation skipped, transaction belongs to another user",
			"transaction_id", u.record.TransactionID, "owner_user_id", existing.UserID)
		return false, nil, nil
	}

	entitlementID := tool.GenerateUUIDV7()
	inserted, err := tx.TryInsert(ctx, s.ledgerEntry(u, entitlementID))
	if err != nil || !inserted {
		return false, nil, err
	}

	existing.RevokedAt = cloneTime(u.record.RevokedAt)
	existing.RevocationReason = lo.ToPtr(u.record.RevocationReason)
	if err := tx.SaveTransaction(ctx, existing); err != nil {
		return false, nil, fmt.Errorf("save revoked transaction: %w", err)
	}

	next, err := s.supersede(ctx, tx, u, entitlementID, types.EntitlementChangeReasonRevocation, true)
	return err == nil, next, err
}

// supersede recomputes the entitlement of the unit's product and commits it
// as the next version. Only revocations may move the expiration backwards.
func (s *Service) supersede(ctx context.Context, tx store.Tx, u unit, entitlementID string, reason types.EntitlementChangeReason, revocation bool) (*models.EntitlementState, error) {
	productID := u.record.ProductID
	prev, err := tx.LockCurrentEntitlement(ctx, u.userID, productID)
	if err != nil {
		return nil, fmt.Errorf("lock entitlement: %w", err)
	}
	txns, err := tx.ListTransactions(ctx, u.userID, productID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	now := s.now()
	computed := ComputeEntitlement(txns, s.catalog.Lookup(productID), now)
	expiresAt := computed.ExpiresAt
	if !revocation && prev != nil {
		expiresAt = laterExpiry(expiresAt, prev.ExpiresAt)
	}

	next := &models.EntitlementState{
		ID:                entitlementID,
		UserID:            u.userID,
		ProductID:         productID,
		Status:            statusAt(expiresAt, now),
		ExpiresAt:         cloneTime(expiresAt),
		LastTransactionID: computed.LastTransactionID,
		Environment:       string(u.environment),
		IsTrial:           computed.IsTrial,
		Reason:            reason,
		Revision:          1,
		CreatedAt:         now,
	}
	if prev != nil {
		next.Revision = prev.Revision + 1
	}
	if err := tx.SupersedeEntitlement(ctx, prev, next); err != nil {
		return nil, err
	}

	logctx.FromCtx(ctx, s.log).Infow("entitlement superseded",
		"product_id", productID, "ledger_key", u.key(), "revision", next.Revision,
		"status", next.Status, "expires_at", next.ExpiresAt, "reason", reason)
	return next, nil
}

func (s *Service) ledgerEntry(u unit, entitlementID string) *models.LedgerEntry {
	return &models.LedgerEntry{
		TransactionID:          u.key(),
		Kind:                   u.kind,
		UserID:                 u.userID,
		ProductID:              u.record.ProductID,
		Environment:            string(u.environment),
		ResultingEntitlementID: entitlementID,
		ProcessedAt:            s.now(),
	}
}

func (s *Service) transaction(ctx context.Context, u unit) *models.Transaction {
	r := u.record
	t := &models.Transaction{
		ID:                    tool.GenerateUUIDV7(),
		TransactionID:         r.TransactionID,
		OriginalTransactionID: r.OriginalTransactionID,
		UserID:                u.userID,
		ProductID:             r.ProductID,
		Environment:           string(u.environment),
		PurchaseAt:            r.PurchaseDate,
		ExpiresAt:             cloneTime(r.ExpirationDate),
		IsTrial:               r.IsTrial,
		IsIntroOffer:          r.IsIntroOffer,
		IsRenewal:             r.IsRenewal,
		Extra:                 datatypes.JSONMap{},
	}
	if traceID := logctx.TraceID(ctx); traceID != "" {
		t.Extra["trace_id"] = traceID
	}
	return t
}

// warnIfForeign logs when a skipped grant is owned by a different user. A
// transaction id is never reassigned.
func (s *Service) warnIfForeign(ctx context.Context, u unit) {
	entry, err := s.store.GetLedgerEntry(ctx, u.key())
	if err != nil || entry.UserID == u.userID {
		return
	}
	logctx.FromCtx(ctx, s.log).Warnw("transaction already granted to another user",
		"transaction_id", u.record.TransactionID, "owner_user_id", entry.UserID)
}

func (s *Service) publish(ctx context.Context, u unit, next *models.EntitlementState) {
	if next == nil {
		return
	}
	s.dispatcher.Dispatch(ctx, &events.EntitlementChanged{
		Type:          events.TypeEntitlementChanged,
		EventID:       tool.GenerateUUIDV7(),
		TraceID:       logctx.TraceID(ctx),
		UserID:        next.UserID,
		ProductID:     next.ProductID,
		EntitlementID: next.ID,
		Revision:      next.Revision,
		Status:        next.Status,
		ExpiresAt:     cloneTime(next.ExpiresAt),
		Reason:        next.Reason,
		TransactionID: u.record.TransactionID,
		Environment:   string(u.environment),
		OccurredAt:    next.CreatedAt,
	})
}

// storageErr keeps store sentinels and classifies anything else as a storage outage.
func storageErr(err error) error {
	if errors.Is(err, store.ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
}
