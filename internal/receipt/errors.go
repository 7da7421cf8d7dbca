package receipt

import "errors"

var (
	// ErrMalformedReceipt means the container or payload cannot be parsed.
	ErrMalformedReceipt = errors.New("malformed receipt")
	// ErrUnsupportedFormat means the receipt parsed but its version or schema is unknown.
	ErrUnsupportedFormat = errors.New("unsupported receipt format")
	// ErrSignatureInvalid means the signature or certificate chain did not verify.
	ErrSignatureInvalid = errors.New("receipt signature invalid")
	// ErrEnvironmentMismatch means the receipt belongs to a different environment than claimed.
	ErrEnvironmentMismatch = errors.New("receipt environment mismatch")
	// ErrValidationUnavailable means the validation authority could not give an answer.
	ErrValidationUnavailable = errors.New("receipt validation unavailable")
)

// IsTerminal reports whether err must not be retried by the caller.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrMalformedReceipt) ||
		errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrSignatureInvalid) ||
		errors.Is(err, ErrEnvironmentMismatch)
}
