package receipt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/samber/lo"
)

// SignedPayloadVersion is the only signed receipt schema version understood.
const SignedPayloadVersion = 1

const freeTrialOffer = "FREE_TRIAL"

// SignedPayload is the JSON document carried inside a signed receipt.
type SignedPayload struct {
	Version             *int                `json:"version"`
	BundleID            string              `json:"bundleId"`
	Environment         string              `json:"environment"`
	ReceiptCreationDate int64               `json:"receiptCreationDate"`
	Transactions        []SignedTransaction `json:"transactions"`
}

type SignedTransaction struct {
	TransactionID         string `json:"transactionId"`
	OriginalTransactionID string `json:"originalTransactionId"`
	ProductID             string `json:"productId"`
	PurchaseDate          int64  `json:"purchaseDate"`
	ExpiresDate           *int64 `json:"expiresDate,omitempty"`
	IsTrialPeriod         bool   `json:"isTrialPeriod,omitempty"`
	IsInIntroOfferPeriod  bool   `json:"isInIntroOfferPeriod,omitempty"`
	OfferDiscountType     string `json:"offerDiscountType,omitempty"`
	RevocationDate        *int64 `json:"revocationDate,omitempty"`
	RevocationReason      *int   `json:"revocationReason,omitempty"`
}

// Decode extracts the transaction records of a verified receipt, ordered by
// purchase date then transaction id. It has no side effects.
func Decode(v *Verified) ([]TransactionRecord, error) {
	if v == nil || len(v.payload) == 0 {
		return nil, fmt.Errorf("%w: no verified payload", ErrMalformedReceipt)
	}

	var (
		records []TransactionRecord
		err     error
	)
	switch v.format {
	case FormatSignedPayload:
		records, err = decodeSignedPayload(v.payload)
	case FormatAppStoreReceipt:
		records, err = decodeAppStoreResponse(v.payload)
	default:
		return nil, fmt.Errorf("%w: format %q", ErrUnsupportedFormat, v.format)
	}
	if err != nil {
		return nil, err
	}
	return normalize(records), nil
}

func decodeSignedPayload(payload []byte) ([]TransactionRecord, error) {
	var doc SignedPayload
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReceipt, err)
	}
	if doc.Version == nil {
		return nil, fmt.Errorf("%w: missing version", ErrUnsupportedFormat)
	}
	if *doc.Version != SignedPayloadVersion {
		return nil, fmt.Errorf("%w: version %d", ErrUnsupportedFormat, *doc.Version)
	}

	records := make([]TransactionRecord, 0, len(doc.Transactions))
	for i, t := range doc.Transactions {
		rec, err := RecordFromSigned(t)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// RecordFromSigned converts one signed transaction. The caller must have
// verified the document it came from.
func RecordFromSigned(t SignedTransaction) (TransactionRecord, error) {
	if t.TransactionID == "" || t.ProductID == "" || t.PurchaseDate <= 0 {
		return TransactionRecord{}, fmt.Errorf("%w: transaction is missing required fields", ErrMalformedReceipt)
	}
	rec := TransactionRecord{
		TransactionID:         t.TransactionID,
		OriginalTransactionID: lo.Ternary(t.OriginalTransactionID == "", t.TransactionID, t.OriginalTransactionID),
		ProductID:             t.ProductID,
		PurchaseDate:          time.UnixMilli(t.PurchaseDate).UTC(),
		ExpirationDate:        millisPtr(t.ExpiresDate),
		IsTrial:               t.IsTrialPeriod || t.OfferDiscountType == freeTrialOffer,
		IsIntroOffer:          t.IsInIntroOfferPeriod,
		RevokedAt:             millisPtr(t.RevocationDate),
	}
	if t.RevocationReason != nil {
		rec.RevocationReason = strconv.Itoa(*t.RevocationReason)
	}
	rec.IsRenewal = rec.OriginalTransactionID != rec.TransactionID
	return rec, nil
}

func decodeAppStoreResponse(payload []byte) ([]TransactionRecord, error) {
	var resp AppStoreResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReceipt, err)
	}
	if resp.Receipt == nil && len(resp.LatestReceiptInfo) == 0 {
		return nil, fmt.Errorf("%w: response has no receipt section", ErrUnsupportedFormat)
	}

	var items []AppStoreInApp
	if resp.Receipt != nil {
		items = append(items, resp.Receipt.InApp...)
	}
	// latest_receipt_info carries the freshest state of renewals and cancellations
	items = append(items, resp.LatestReceiptInfo...)

	records := make([]TransactionRecord, 0, len(items))
	for i, it := range items {
		purchase, err := parseMillis(it.PurchaseDateMS)
		if err != nil || purchase == nil || it.TransactionID == "" || it.ProductID == "" {
			return nil, fmt.Errorf("%w: in_app item %d is missing required fields", ErrMalformedReceipt, i)
		}
		expires, err := parseMillis(it.ExpiresDateMS)
		if err != nil {
			return nil, fmt.Errorf("%w: in_app item %d: %v", ErrMalformedReceipt, i, err)
		}
		cancelled, err := parseMillis(it.CancellationDateMS)
		if err != nil {
			return nil, fmt.Errorf("%w: in_app item %d: %v", ErrMalformedReceipt, i, err)
		}
		records = append(records, TransactionRecord{
			TransactionID:         it.TransactionID,
			OriginalTransactionID: lo.Ternary(it.OriginalTransactionID == "", it.TransactionID, it.OriginalTransactionID),
			ProductID:             it.ProductID,
			PurchaseDate:          *purchase,
			ExpirationDate:        expires,
			IsTrial:               it.IsTrialPeriod == "true",
			IsIntroOffer:          it.IsInIntroOfferPeriod == "true",
			RevokedAt:             cancelled,
			RevocationReason:      it.CancellationReason,
		})
	}
	return records, nil
}

// normalize collapses duplicate transaction ids (last occurrence wins), marks
// renewals and orders the records by purchase date.
func normalize(records []TransactionRecord) []TransactionRecord {
	byID := make(map[string]TransactionRecord, len(records))
	for _, r := range records {
		r.IsRenewal = r.OriginalTransactionID != r.TransactionID
		byID[r.TransactionID] = r
	}
	out := lo.Values(byID)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PurchaseDate.Equal(out[j].PurchaseDate) {
			return out[i].PurchaseDate.Before(out[j].PurchaseDate)
		}
		return out[i].TransactionID < out[j].TransactionID
	})
	return out
}

func millisPtr(ms *int64) *time.Time {
	if ms == nil || *ms <= 0 {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}

func parseMillis(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid millisecond timestamp %q", s)
	}
	return millisPtr(&ms), nil
}
