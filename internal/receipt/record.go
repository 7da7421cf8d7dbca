package receipt

import "time"

// TransactionRecord is one purchase decoded from a verified receipt.
type TransactionRecord struct {
	TransactionID         string     `json:"transaction_id"`
	OriginalTransactionID string     `json:"original_transaction_id"`
	ProductID             string     `json:"product_id"`
	PurchaseDate          time.Time  `json:"purchase_date"`
	ExpirationDate        *time.Time `json:"expiration_date"`
	IsTrial               bool       `json:"is_trial"`
	IsIntroOffer          bool       `json:"is_intro_offer"`
	IsRenewal             bool       `json:"is_renewal"`
	RevokedAt             *time.Time `json:"revoked_at,omitempty"`
	RevocationReason      string     `json:"revocation_reason,omitempty"`
}

func (r *TransactionRecord) Revoked() bool {
	return r != nil && r.RevokedAt != nil
}

// AppStoreResponse is the subset of the verifyReceipt response body the
// service relies on. Unknown fields are ignored.
type AppStoreResponse struct {
	Status            int              `json:"status"`
	Environment       string           `json:"environment"`
	IsRetryable       bool             `json:"is-retryable,omitempty"`
	Receipt           *AppStoreReceipt `json:"receipt,omitempty"`
	LatestReceiptInfo []AppStoreInApp  `json:"latest_receipt_info,omitempty"`
}

type AppStoreReceipt struct {
	BundleID string          `json:"bundle_id"`
	InApp    []AppStoreInApp `json:"in_app"`
}

type AppStoreInApp struct {
	TransactionID         string `json:"transaction_id"`
	OriginalTransactionID string `json:"original_transaction_id"`
	ProductID             string `json:"product_id"`
	PurchaseDateMS        string `json:"purchase_date_ms"`
	ExpiresDateMS         string `json:"expires_date_ms,omitempty"`
	IsTrialPeriod         string `json:"is_trial_period,omitempty"`
	IsInIntroOfferPeriod  string `json:"is_in_intro_offer_period,omitempty"`
	CancellationDateMS    string `json:"cancellation_date_ms,omitempty"`
	CancellationReason    string `json:"cancellation_reason,omitempty"`
}
