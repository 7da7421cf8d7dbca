// Package postgres stores the ledger and entitlements with gorm. The ledger
// primary key and the partial unique index on the current entitlement row
// arbitrate concurrent submissions.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/cashier-receipts/internal/models"
	"github.com/fatflowers/cashier-receipts/internal/store"
)

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// New expects db to be opened with TranslateError enabled.
func New(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Models lists the tables owned by the store, for AutoMigrate.
func Models() []interface{} {
	return []interface{}{
		&models.LedgerEntry{},
		&models.Transaction{},
		&models.EntitlementState{},
		&models.SubmissionLog{},
	}
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrStorageUnavailable):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected) {
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		fnErr = fn(ctx, &tx{db: gtx, now: s.now})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	return translate(err)
}

func (s *Store) TryInsert(ctx context.Context, entry *models.LedgerEntry) (bool, error) {
	return (&tx{db: s.db, now: s.now}).TryInsert(ctx, entry)
}

func (s *Store) Contains(ctx context.Context, transactionID string) (bool, error) {
	return (&tx{db: s.db, now: s.now}).Contains(ctx, transactionID)
}

func (s *Store) CurrentEntitlement(ctx context.Context, userID, productID string) (*models.EntitlementState, error) {
	var e models.EntitlementState
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND product_id = ? AND superseded_at IS NULL", userID, productID).
		Take(&e).Error
	if err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

func (s *Store) EntitlementHistory(ctx context.Context, userID, productID string) ([]*models.EntitlementState, error) {
	var out []*models.EntitlementState
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND product_id = ?", userID, productID).
		Order("revision ASC").
		Find(&out).Error
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (s *Store) GetLedgerEntry(ctx context.Context, transactionID string) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	if err := s.db.WithContext(ctx).Where("transaction_id = ?", transactionID).Take(&e).Error; err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

func (s *Store) SaveSubmissionLog(ctx context.Context, log *models.SubmissionLog) error {
	return translate(s.db.WithContext(ctx).Save(log).Error)
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return translate(err)
	}
	return translate(sqlDB.PingContext(ctx))
}

// Reset truncates every table, for tests.
func (s *Store) Reset() error {
	return s.db.Exec("TRUNCATE ledger_entry, \"transaction\", entitlement_state, submission_log").Error
}

type tx struct {
	db  *gorm.DB
	now func() time.Time
}

func (t *tx) TryInsert(ctx context.Context, entry *models.LedgerEntry) (bool, error) {
	if entry.ProcessedAt.IsZero() {
		entry.ProcessedAt = t.now()
	}
	res := t.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "transaction_id"}}, DoNothing: true}).
		Create(entry)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (t *tx) Contains(ctx context.Context, transactionID string) (bool, error) {
	var n int64
	err := t.db.WithContext(ctx).Model(&models.LedgerEntry{}).Where("transaction_id = ?", transactionID).Count(&n).Error
	if err != nil {
		return false, translate(err)
	}
	return n > 0, nil
}

func (t *tx) SaveTransaction(ctx context.Context, in *models.Transaction) error {
	err := t.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"expires_at", "revoked_at", "revocation_reason", "updated_at"}),
		}).
		Create(in).Error
	return translate(err)
}

func (t *tx) GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error) {
	var out models.Transaction
	if err := t.db.WithContext(ctx).Where("transaction_id = ?", transactionID).Take(&out).Error; err != nil {
		return nil, translate(err)
	}
	return &out, nil
}

func (t *tx) ListTransactions(ctx context.Context, userID, productID string) ([]*models.Transaction, error) {
	var out []*models.Transaction
	err := t.db.WithContext(ctx).
		Where("user_id = ? AND product_id = ?", userID, productID).
		Order("purchase_at ASC, transaction_id ASC").
		Find(&out).Error
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (t *tx) LockCurrentEntitlement(ctx context.Context, userID, productID string) (*models.EntitlementState, error) {
	var e models.EntitlementState
	err := t.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND product_id = ? AND superseded_at IS NULL", userID, productID).
		Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

func (t *tx) SupersedeEntitlement(ctx context.Context, prev, next *models.EntitlementState) error {
	db := t.db.WithContext(ctx)
	if prev != nil {
		res := db.Model(&models.EntitlementState{}).
			Where("id = ? AND superseded_at IS NULL", prev.ID).
			Updates(map[string]interface{}{"superseded_at": t.now(), "superseded_by": next.ID})
		if res.Error != nil {
			return translate(res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: entitlement %s was superseded", store.ErrConflict, prev.ID)
		}
	}
	row := next.Clone()
	row.SupersededAt, row.SupersededBy = nil, nil
	return translate(db.Create(row).Error)
}
