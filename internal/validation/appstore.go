package validation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fatflowers/cashier-receipts/internal/platform/apple/apple_iap"
	"github.com/fatflowers/cashier-receipts/internal/receipt"
)

// verifyReceipt status codes
const (
	statusOK                   = 0
	statusMalformedData        = 21002
	statusAuthFailed           = 21003
	statusSharedSecretMismatch = 21004
	statusSubscriptionExpired  = 21006
	statusSandboxReceipt       = 21007
	statusProductionReceipt    = 21008
	statusAccountNotFound      = 21010
)

type receiptClient interface {
	VerifyReceipt(ctx context.Context, receiptData string, sandbox bool) (*apple_iap.StatusResponse, json.RawMessage, error)
}

// AppStoreVerifier validates legacy receipts remotely through verifyReceipt.
// Any answer it cannot classify is treated as unavailable, never as valid.
type AppStoreVerifier struct {
	client   receiptClient
	bundleID string
	now      func() time.Time
}

func NewAppStoreVerifier(client receiptClient, bundleID string) *AppStoreVerifier {
	return &AppStoreVerifier{client: client, bundleID: bundleID, now: time.Now}
}

func (v *AppStoreVerifier) Validate(ctx context.Context, env *receipt.Envelope, claimed receipt.Environment) (*receipt.Verified, error) {
	if env == nil || env.Format != receipt.FormatAppStoreReceipt {
		return nil, fmt.Errorf("%w: not an app store receipt", receipt.ErrUnsupportedFormat)
	}
	if !claimed.Valid() {
		return nil, fmt.Errorf("%w: unknown claimed environment %q", receipt.ErrEnvironmentMismatch, claimed)
	}

	status, body, err := v.client.VerifyReceipt(ctx, base64.StdEncoding.EncodeToString(env.Raw), claimed == receipt.EnvironmentSandbox)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", receipt.ErrValidationUnavailable, err)
	}

	switch status.Status {
	case statusOK, statusSubscriptionExpired:
	case statusMalformedData:
		return nil, fmt.Errorf("%w: app store status %d", receipt.ErrMalformedReceipt, status.Status)
	case statusAuthFailed, statusSharedSecretMismatch, statusAccountNotFound:
		return nil, fmt.Errorf("%w: app store status %d", receipt.ErrSignatureInvalid, status.Status)
	case statusSandboxReceipt, statusProductionReceipt:
		return nil, fmt.Errorf("%w: app store status %d", receipt.ErrEnvironmentMismatch, status.Status)
	default:
		return nil, fmt.Errorf("%w: app store status %d", receipt.ErrValidationUnavailable, status.Status)
	}

	responseEnv, err := receipt.ParseEnvironment(status.Environment)
	if err != nil {
		return nil, fmt.Errorf("%w: response environment %q", receipt.ErrValidationUnavailable, status.Environment)
	}
	if responseEnv != claimed {
		return nil, fmt.Errorf("%w: receipt issued for %s", receipt.ErrEnvironmentMismatch, responseEnv)
	}

	if v.bundleID != "" {
		var doc receipt.AppStoreResponse
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", receipt.ErrValidationUnavailable, err)
		}
		if doc.Receipt != nil && doc.Receipt.BundleID != v.bundleID {
			return nil, fmt.Errorf("%w: bundle id %q", receipt.ErrSignatureInvalid, doc.Receipt.BundleID)
		}
	}

	return receipt.MarkVerified(receipt.FormatAppStoreReceipt, claimed, body, v.now()), nil
}
