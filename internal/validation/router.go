package validation

import (
	"context"
	"fmt"

	"github.com/fatflowers/cashier-receipts/internal/receipt"
)

// Router dispatches an envelope to the validator registered for its format.
type Router struct {
	byFormat map[receipt.Format]Validator
}

func NewRouter() *Router {
	return &Router{byFormat: map[receipt.Format]Validator{}}
}

// Handle registers v for format f, replacing any previous registration.
func (r *Router) Handle(f receipt.Format, v Validator) *Router {
	r.byFormat[f] = v
	return r
}

func (r *Router) Validate(ctx context.Context, env *receipt.Envelope, claimed receipt.Environment) (*receipt.Verified, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: no envelope", receipt.ErrMalformedReceipt)
	}
	v, ok := r.byFormat[env.Format]
	if !ok || v == nil {
		return nil, fmt.Errorf("%w: no validator for %s receipts", receipt.ErrUnsupportedFormat, env.Format)
	}
	return v.Validate(ctx, env, claimed)
}
