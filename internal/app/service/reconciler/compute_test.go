package reconciler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fatflowers/cashier-receipts/internal/models"
	"github.com/fatflowers/cashier-receipts/pkg/types"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

func txn(id string, purchase time.Duration, expires *time.Time) *models.Transaction {
	return &models.Transaction{
		TransactionID: id,
		UserID:        "u1",
		ProductID:     "pro",
		PurchaseAt:    now.Add(purchase),
		ExpiresAt:     expires,
	}
}

func revoked(t *models.Transaction, d time.Duration) *models.Transaction {
	t.RevokedAt = at(d)
	return t
}

func TestComputeEntitlement(t *testing.T) {
	day := 24 * time.Hour
	hours := int64(48)
	pass := &types.Product{ID: "pass", Type: types.ProductTypeNonRenewableSubscription, DurationHour: &hours}

	tests := []struct {
		name    string
		txns    []*models.Transaction
		product *types.Product
		want    Computed
	}{
		{
			name: "no transactions",
			want: Computed{Status: types.EntitlementStatusNone},
		},
		{
			name: "latest expiration wins regardless of order",
			txns: []*models.Transaction{txn("2", -day, at(30*day)), txn("1", -40*day, at(-10*day))},
			want: Computed{Status: types.EntitlementStatusActive, ExpiresAt: at(30 * day), LastTransactionID: "2"},
		},
		{
			name: "expired receipt",
			txns: []*models.Transaction{txn("1", -40*day, at(-10*day))},
			want: Computed{Status: types.EntitlementStatusExpired, ExpiresAt: at(-10 * day), LastTransactionID: "1"},
		},
		{
			name: "nil expiration never expires",
			txns: []*models.Transaction{txn("1", -40*day, at(30*day)), txn("2", -50*day, nil)},
			want: Computed{Status: types.EntitlementStatusActive, LastTransactionID: "2"},
		},
		{
			name: "equal expiration prefers later purchase",
			txns: []*models.Transaction{txn("1", -2*day, at(day)), txn("2", -day, at(day))},
			want: Computed{Status: types.EntitlementStatusActive, ExpiresAt: at(day), LastTransactionID: "2"},
		},
		{
			name: "revoked transactions grant nothing",
			txns: []*models.Transaction{txn("1", -40*day, at(-10*day)), revoked(txn("2", -day, at(30*day)), -time.Hour)},
			want: Computed{Status: types.EntitlementStatusExpired, ExpiresAt: at(-10 * day), LastTransactionID: "1"},
		},
		{
			name: "all revoked expires at the latest revocation",
			txns: []*models.Transaction{revoked(txn("1", -40*day, at(-10*day)), -20*day), revoked(txn("2", -day, at(30*day)), -time.Hour)},
			want: Computed{Status: types.EntitlementStatusExpired, ExpiresAt: at(-time.Hour), LastTransactionID: "2"},
		},
		{
			name:    "non renewing product uses catalog duration",
			txns:    []*models.Transaction{txn("1", -time.Hour, nil)},
			product: pass,
			want:    Computed{Status: types.EntitlementStatusActive, ExpiresAt: at(47 * time.Hour), LastTransactionID: "1"},
		},
		{
			name: "trial flag follows the winning transaction",
			txns: []*models.Transaction{func() *models.Transaction {
				t := txn("1", -time.Hour, at(day))
				t.IsTrial = true
				return t
			}()},
			want: Computed{Status: types.EntitlementStatusActive, ExpiresAt: at(day), LastTransactionID: "1", IsTrial: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ComputeEntitlement(tt.txns, tt.product, now))
		})
	}
}

func TestLaterExpiry(t *testing.T) {
	require.Nil(t, laterExpiry(nil, at(time.Hour)))
	require.Nil(t, laterExpiry(at(time.Hour), nil))
	require.Equal(t, at(2*time.Hour), laterExpiry(at(time.Hour), at(2*time.Hour)))
	require.Equal(t, at(2*time.Hour), laterExpiry(at(2*time.Hour), at(time.Hour)))
}
