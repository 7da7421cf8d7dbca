package validation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/fatflowers/cashier-receipts/internal/receipt"
	"github.com/fatflowers/cashier-receipts/pkg/logctx"
	"github.com/fatflowers/cashier-receipts/pkg/metrics"
)

type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// AttemptTimeout bounds each call to the wrapped validator; zero means no bound.
	AttemptTimeout time.Duration
}

// Retrying retries ErrValidationUnavailable with exponential backoff. Any
// other error is returned after the first attempt.
type Retrying struct {
	next     Validator
	policy   RetryPolicy
	log      *zap.SugaredLogger
	recorder *metrics.Recorder
}

func NewRetrying(next Validator, policy RetryPolicy, log *zap.SugaredLogger, recorder *metrics.Recorder) *Retrying {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Retrying{next: next, policy: policy, log: log, recorder: recorder}
}

func (r *Retrying) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if r.policy.InitialInterval > 0 {
		eb.InitialInterval = r.policy.InitialInterval
	}
	if r.policy.MaxInterval > 0 {
		eb.MaxInterval = r.policy.MaxInterval
	}
	eb.MaxElapsedTime = 0
	eb.Reset()
	// WithMaxRetries treats zero as unlimited
	if r.policy.MaxRetries <= 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.policy.MaxRetries)), ctx)
}

func (r *Retrying) Validate(ctx context.Context, env *receipt.Envelope, claimed receipt.Environment) (*receipt.Verified, error) {
	lg := logctx.FromCtx(ctx, r.log)
	var verified *receipt.Verified

	op := func() error {
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.policy.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.policy.AttemptTimeout)
		}
		defer cancel()

		v, err := r.next.Validate(attemptCtx, env, claimed)
		switch {
		case err == nil && v != nil:
			r.recorder.ValidationAttempt("verified")
			verified = v
			return nil
		case err == nil:
			r.recorder.ValidationAttempt("unavailable")
			return fmt.Errorf("%w: validator returned no result", receipt.ErrValidationUnavailable)
		case receipt.IsTerminal(err):
			r.recorder.ValidationAttempt("rejected")
			return backoff.Permanent(err)
		default:
			r.recorder.ValidationAttempt("unavailable")
			return err
		}
	}
	notify := func(err error, wait time.Duration) {
		lg.Warnw("receipt validation unavailable, retrying", "err", err, "wait_ms", wait.Milliseconds())
	}

	err := backoff.RetryNotify(op, r.newBackOff(ctx), notify)
	if err != nil {
		if receipt.IsTerminal(err) || errors.Is(err, receipt.ErrValidationUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", receipt.ErrValidationUnavailable, err)
	}
	if verified == nil {
		return nil, fmt.Errorf("%w: no verified payload", receipt.ErrValidationUnavailable)
	}
	return verified, nil
}
