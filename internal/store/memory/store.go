// Package memory is an in-process store for tests and single-instance
// development. Units of work are serialized.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/fatflowers/cashier-receipts/internal/models"
	"github.com/fatflowers/cashier-receipts/internal/store"
)

type state struct {
	ledger       map[string]*models.LedgerEntry
	transactions map[string]*models.Transaction
	// entitlements holds every version per entitlement key in revision order
	entitlements map[string][]*models.EntitlementState
	logs         map[string]*models.SubmissionLog
}

func newState() *state {
	return &state{
		ledger:       map[string]*models.LedgerEntry{},
		transactions: map[string]*models.Transaction{},
		entitlements: map[string][]*models.EntitlementState{},
		logs:         map[string]*models.SubmissionLog{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.ledger {
		e := *v
		c.ledger[k] = &e
	}
	for k, v := range s.transactions {
		c.transactions[k] = cloneTransaction(v)
	}
	for k, versions := range s.entitlements {
		cp := make([]*models.EntitlementState, len(versions))
		for i, v := range versions {
			cp[i] = v.Clone()
		}
		c.entitlements[k] = cp
	}
	for k, v := range s.logs {
		l := *v
		c.logs[k] = &l
	}
	return c
}

func cloneTransaction(t *models.Transaction) *models.Transaction {
	c := *t
	c.Extra = maps.Clone(t.Extra)
	return &c
}

type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

func New() *Store {
	return &Store{state: newState(), now: time.Now}
}

// Reset drops all data.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = newState()
}

// Snapshot is a deep copy of the whole store, comparable with require.Equal.
type Snapshot struct {
	Ledger       map[string]*models.LedgerEntry
	Transactions map[string]*models.Transaction
	Entitlements map[string][]*models.EntitlementState
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.state.clone()
	return Snapshot{Ledger: c.ledger, Transactions: c.transactions, Entitlements: c.entitlements}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{state: s.state.clone(), now: s.now}
	if err := fn(ctx, t); err != nil {
		return err
	}
	// a caller that gave up before commit sees nothing written
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}
	s.state = t.state
	return nil
}

func (s *Store) TryInsert(ctx context.Context, entry *models.LedgerEntry) (bool, error) {
	var inserted bool
	err := s.InTx(ctx, func(ctx context.Context, t store.Tx) error {
		var err error
		inserted, err = t.TryInsert(ctx, entry)
		return err
	})
	return inserted, err
}

func (s *Store) Contains(_ context.Context, transactionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.state.ledger[transactionID]
	return ok, nil
}

func (s *Store) CurrentEntitlement(_ context.Context, userID, productID string) (*models.EntitlementState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur := current(s.state, userID, productID); cur != nil {
		return cur.Clone(), nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) EntitlementHistory(_ context.Context, userID, productID string) ([]*models.EntitlementState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.state.entitlements[store.EntitlementKey(userID, productID)]
	out := make([]*models.EntitlementState, 0, len(versions))
	for _, v := range versions {
		out = append(out, v.Clone())
	}
	return out, nil
}

func (s *Store) GetLedgerEntry(_ context.Context, transactionID string) (*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.state.ledger[transactionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *e
	return &c, nil
}

func (s *Store) SaveSubmissionLog(_ context.Context, log *models.SubmissionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *log
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	c.UpdatedAt = s.now()
	s.state.logs[c.ID] = &c
	return nil
}

// SubmissionLogs returns every saved submission log, for tests.
func (s *Store) SubmissionLogs() []*models.SubmissionLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.SubmissionLog, 0, len(s.state.logs))
	for _, l := range s.state.logs {
		c := *l
		out = append(out, &c)
	}
	return out
}

func (s *Store) Ping(context.Context) error { return nil }

func current(st *state, userID, productID string) *models.EntitlementState {
	versions := st.entitlements[store.EntitlementKey(userID, productID)]
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].Current() {
			return versions[i]
		}
	}
	return nil
}

type tx struct {
	state *state
	now   func() time.Time
}

func (t *tx) TryInsert(_ context.Context, entry *models.LedgerEntry) (bool, error) {
	if _, ok := t.state.ledger[entry.TransactionID]; ok {
		return false, nil
	}
	e := *entry
	if e.ProcessedAt.IsZero() {
		e.ProcessedAt = t.now()
	}
	t.state.ledger[e.TransactionID] = &e
	return true, nil
}

func (t *tx) Contains(_ context.Context, transactionID string) (bool, error) {
	_, ok := t.state.ledger[transactionID]
	return ok, nil
}

func (t *tx) SaveTransaction(_ context.Context, in *models.Transaction) error {
	now := t.now()
	if existing, ok := t.state.transactions[in.TransactionID]; ok {
		existing.ExpiresAt = in.ExpiresAt
		existing.RevokedAt = in.RevokedAt
		existing.RevocationReason = in.RevocationReason
		existing.UpdatedAt = now
		return nil
	}
	c := cloneTransaction(in)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	t.state.transactions[c.TransactionID] = c
	return nil
}

func (t *tx) GetTransaction(_ context.Context, transactionID string) (*models.Transaction, error) {
	existing, ok := t.state.transactions[transactionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(existing), nil
}

func (t *tx) ListTransactions(_ context.Context, userID, productID string) ([]*models.Transaction, error) {
	var out []*models.Transaction
	for _, v := range t.state.transactions {
		if v.UserID == userID && v.ProductID == productID {
			out = append(out, cloneTransaction(v))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PurchaseAt.Equal(out[j].PurchaseAt) {
			return out[i].PurchaseAt.Before(out[j].PurchaseAt)
		}
		return out[i].TransactionID < out[j].TransactionID
	})
	return out, nil
}

func (t *tx) LockCurrentEntitlement(_ context.Context, userID, productID string) (*models.EntitlementState, error) {
	return current(t.state, userID, productID).Clone(), nil
}

func (t *tx) SupersedeEntitlement(_ context.Context, prev, next *models.EntitlementState) error {
	key := store.EntitlementKey(next.UserID, next.ProductID)
	cur := current(t.state, next.UserID, next.ProductID)
	switch {
	case prev == nil && cur != nil:
		return fmt.Errorf("%w: entitlement %s already exists", store.ErrConflict, key)
	case prev != nil && (cur == nil || cur.ID != prev.ID):
		return fmt.Errorf("%w: entitlement %s was superseded", store.ErrConflict, key)
	}

	now := t.now()
	if cur != nil {
		cur.SupersededAt = &now
		id := next.ID
		cur.SupersededBy = &id
	}
	n := next.Clone()
	n.SupersededAt, n.SupersededBy = nil, nil
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	t.state.entitlements[key] = append(t.state.entitlements[key], n)
	return nil
}
