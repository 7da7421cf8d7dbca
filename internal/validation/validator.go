// Package validation establishes that a receipt was issued by the App Store
// for the claimed environment. It is the only producer of receipt.Verified.
package validation

import (
	"context"

	"github.com/fatflowers/cashier-receipts/internal/receipt"
)

// Validator verifies an envelope for the environment the client claims.
// Errors wrap one of the receipt sentinel errors.
type Validator interface {
	Validate(ctx context.Context, env *receipt.Envelope, claimed receipt.Environment) (*receipt.Verified, error)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, env *receipt.Envelope, claimed receipt.Environment) (*receipt.Verified, error)

func (f ValidatorFunc) Validate(ctx context.Context, env *receipt.Envelope, claimed receipt.Environment) (*receipt.Verified, error) {
	return f(ctx, env, claimed)
}
