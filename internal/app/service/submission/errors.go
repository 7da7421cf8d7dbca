package submission

import (
	"errors"
	"fmt"

	"github.com/fatflowers/cashier-receipts/internal/receipt"
	"github.com/fatflowers/cashier-receipts/internal/store"
)

// ErrInvalidRequest is returned for requests that never reach the pipeline,
// such as an unknown environment.
var ErrInvalidRequest = errors.New("invalid request")

type Reason string

const (
	ReasonMalformedReceipt      Reason = "MalformedReceipt"
	ReasonUnsupportedFormat     Reason = "UnsupportedFormat"
	ReasonSignatureInvalid      Reason = "SignatureInvalid"
	ReasonEnvironmentMismatch   Reason = "EnvironmentMismatch"
	ReasonValidationUnavailable Reason = "ValidationUnavailable"
	ReasonStorageUnavailable    Reason = "StorageUnavailable"
)

// Error is the failure of one submission: the state it failed in and why.
type Error struct {
	State     State
	Reason    Reason
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("submission failed in %s: %s: %v", e.State, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classify maps a pipeline error onto its reason. Anything unknown is
// treated as a storage outage, which the client may retry.
func classify(state State, err error) *Error {
	var reason Reason
	switch {
	case errors.Is(err, receipt.ErrMalformedReceipt):
		reason = ReasonMalformedReceipt
	case errors.Is(err, receipt.ErrUnsupportedFormat):
		reason = ReasonUnsupportedFormat
	case errors.Is(err, receipt.ErrSignatureInvalid):
		reason = ReasonSignatureInvalid
	case errors.Is(err, receipt.ErrEnvironmentMismatch):
		reason = ReasonEnvironmentMismatch
	case errors.Is(err, receipt.ErrValidationUnavailable):
		reason = ReasonValidationUnavailable
	case errors.Is(err, store.ErrStorageUnavailable):
		reason = ReasonStorageUnavailable
	default:
		reason = ReasonStorageUnavailable
		err = fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}
	return &Error{
		State:     state,
		Reason:    reason,
		Retryable: reason == ReasonValidationUnavailable || reason == ReasonStorageUnavailable,
		Err:       err,
	}
}
