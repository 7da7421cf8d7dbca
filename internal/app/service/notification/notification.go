// Package notification applies App Store Server Notifications (version 2)
// to entitlements. Apple pushes these for renewals, refunds and revocations
// that happen while the app is not running, so a refunded purchase loses its
// entitlement without waiting for the next receipt upload.
package notification

import (
	"encoding/json"
	"fmt"

	"github.com/fatflowers/cashier-receipts/internal/receipt"
)

// Type is the notificationType of a server notification.
type Type string

const (
	TypeTest   Type = "TEST"
	TypeRefund Type = "REFUND"
	TypeRevoke Type = "REVOKE"
)

// Request is the body Apple posts to the notification URL.
type Request struct {
	SignedPayload string `json:"signedPayload" binding:"required"`
}

type payload struct {
	NotificationType Type   `json:"notificationType"`
	Subtype          string `json:"subtype"`
	NotificationUUID string `json:"notificationUUID"`
	Version          string `json:"version"`
	SignedDate       int64  `json:"signedDate"`
	Data             *data  `json:"data"`
}

type data struct {
	BundleID              string `json:"bundleId"`
	Environment           string `json:"environment"`
	SignedTransactionInfo string `json:"signedTransactionInfo"`
	SignedRenewalInfo     string `json:"signedRenewalInfo"`
}

// transactionInfo is the decoded signedTransactionInfo. Its field names match
// the transactions of a signed receipt.
type transactionInfo struct {
	receipt.SignedTransaction
	BundleID    string `json:"bundleId"`
	Environment string `json:"environment"`
}

// parseSigned splits a compact JWS and decodes its (still untrusted) payload.
func parseSigned(token string, into any) (*receipt.Envelope, error) {
	env, err := receipt.Parse([]byte(token))
	if err != nil {
		return nil, err
	}
	if env.Format != receipt.FormatSignedPayload {
		return nil, fmt.Errorf("%w: expected a signed payload", receipt.ErrUnsupportedFormat)
	}
	if err := json.Unmarshal(env.Payload, into); err != nil {
		return nil, fmt.Errorf("%w: %v", receipt.ErrMalformedReceipt, err)
	}
	return env, nil
}
