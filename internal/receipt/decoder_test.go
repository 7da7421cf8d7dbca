package receipt_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fatflowers/cashier-receipts/internal/receipt"
	"github.com/fatflowers/cashier-receipts/internal/receipt/receipttest"
)

func verified(t *testing.T, format receipt.Format, payload any) *receipt.Verified {
	raw, ok := payload.(string)
	if !ok {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		raw = string(b)
	}
	return receipt.MarkVerified(format, receipt.EnvironmentProduction, []byte(raw), time.Now())
}

func TestDecode_SignedPayload(t *testing.T) {
	base := receipttest.At(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	payload := receipttest.Payload(receipt.EnvironmentProduction,
		receipttest.Txn{ID: "t2", OriginalID: "t1", ProductID: "pro", PurchaseDate: base.Add(30 * 24 * time.Hour), ExpiresDate: receipttest.Ptr(base.Add(60 * 24 * time.Hour))},
		receipttest.Txn{ID: "t1", ProductID: "pro", PurchaseDate: base, ExpiresDate: receipttest.Ptr(base.Add(30 * 24 * time.Hour)), Trial: true},
		receipttest.Txn{ID: "life", ProductID: "lifetime", PurchaseDate: base.Add(time.Hour)},
	)

	records, err := receipt.Decode(verified(t, receipt.FormatSignedPayload, payload))
	require.NoError(t, err)
	require.Len(t, records, 3)

	require.Equal(t, "t1", records[0].TransactionID)
	require.Equal(t, "t1", records[0].OriginalTransactionID)
	require.True(t, records[0].IsTrial)
	require.False(t, records[0].IsRenewal)
	require.Equal(t, base, records[0].PurchaseDate)

	require.Equal(t, "life", records[1].TransactionID)
	require.Nil(t, records[1].ExpirationDate)

	require.Equal(t, "t2", records[2].TransactionID)
	require.True(t, records[2].IsRenewal)
	require.Equal(t, base.Add(60*24*time.Hour), *records[2].ExpirationDate)
}

func TestDecode_ToleratesUnknownFields(t *testing.T) {
	doc := `{"version":1,"futureField":{"a":[1,2]},"transactions":[
		{"transactionId":"t1","productId":"pro","purchaseDate":1735689600000,"storefront":"USA","offerDiscountType":"FREE_TRIAL"}]}`

	records, err := receipt.Decode(verified(t, receipt.FormatSignedPayload, doc))
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.True(t, records[0].IsTrial)
}

func TestDecode_CollapsesDuplicateIDs(t *testing.T) {
	doc := `{"version":1,"transactions":[
		{"transactionId":"t1","productId":"pro","purchaseDate":1735689600000},
		{"transactionId":"t1","productId":"pro","purchaseDate":1735689600000,"revocationDate":1735776000000,"revocationReason":1}]}`

	records, err := receipt.Decode(verified(t, receipt.FormatSignedPayload, doc))
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.True(t, records[0].Revoked())
	require.Equal(t, "1", records[0].RevocationReason)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name   string
		format receipt.Format
		doc    string
		want   error
	}{
		{name: "not json", format: receipt.FormatSignedPayload, doc: `{`, want: receipt.ErrMalformedReceipt},
		{name: "missing version", format: receipt.FormatSignedPayload, doc: `{"transactions":[]}`, want: receipt.ErrUnsupportedFormat},
		{name: "future version", format: receipt.FormatSignedPayload, doc: `{"version":2,"transactions":[]}`, want: receipt.ErrUnsupportedFormat},
		{name: "missing transaction id", format: receipt.FormatSignedPayload, doc: `{"version":1,"transactions":[{"productId":"p","purchaseDate":1}]}`, want: receipt.ErrMalformedReceipt},
		{name: "wrong field type", format: receipt.FormatSignedPayload, doc: `{"version":1,"transactions":[{"transactionId":"t","productId":"p","purchaseDate":"soon"}]}`, want: receipt.ErrMalformedReceipt},
		{name: "app store without receipt", format: receipt.FormatAppStoreReceipt, doc: `{"status":0}`, want: receipt.ErrUnsupportedFormat},
		{name: "app store bad millis", format: receipt.FormatAppStoreReceipt, doc: `{"status":0,"receipt":{"in_app":[{"transaction_id":"t","product_id":"p","purchase_date_ms":"x"}]}}`, want: receipt.ErrMalformedReceipt},
		{name: "unknown format", format: receipt.Format("zip"), doc: `{}`, want: receipt.ErrUnsupportedFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := receipt.Decode(verified(t, tt.format, tt.doc))
			require.ErrorIs(t, err, tt.want)
		})
	}

	_, err := receipt.Decode(nil)
	require.ErrorIs(t, err, receipt.ErrMalformedReceipt)
}

func TestDecode_AppStoreResponse(t *testing.T) {
	doc := `{"status":0,"environment":"Production",
		"receipt":{"bundle_id":"com.example.cashier","in_app":[
			{"transaction_id":"t1","original_transaction_id":"t1","product_id":"pro","purchase_date_ms":"1735689600000","expires_date_ms":"1738368000000","is_trial_period":"true"}]},
		"latest_receipt_info":[
			{"transaction_id":"t2","original_transaction_id":"t1","product_id":"pro","purchase_date_ms":"1738368000000","expires_date_ms":"1740787200000","is_trial_period":"false"},
			{"transaction_id":"t1","original_transaction_id":"t1","product_id":"pro","purchase_date_ms":"1735689600000","expires_date_ms":"1738368000000","is_trial_period":"true","cancellation_date_ms":"1736000000000","cancellation_reason":"0"}],
		"pending_renewal_info":[{"auto_renew_status":"1"}]}`

	records, err := receipt.Decode(verified(t, receipt.FormatAppStoreReceipt, doc))
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "t1", records[0].TransactionID)
	require.True(t, records[0].IsTrial)
	require.True(t, records[0].Revoked())
	require.Equal(t, "t2", records[1].TransactionID)
	require.True(t, records[1].IsRenewal)
	require.Equal(t, time.UnixMilli(1740787200000).UTC(), *records[1].ExpirationDate)
}

func TestParseEnvironment(t *testing.T) {
	env, err := receipt.ParseEnvironment("Sandbox")
	require.NoError(t, err)
	require.Equal(t, receipt.EnvironmentSandbox, env)
	require.Equal(t, receipt.EnvironmentProduction, env.Other())

	_, err = receipt.ParseEnvironment("staging")
	require.Error(t, err)
}
