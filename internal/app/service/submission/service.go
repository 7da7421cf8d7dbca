package submission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/fatflowers/cashier-receipts/internal/app/service/reconciler"
	"github.com/fatflowers/cashier-receipts/internal/models"
	"github.com/fatflowers/cashier-receipts/internal/receipt"
	"github.com/fatflowers/cashier-receipts/internal/store"
	"github.com/fatflowers/cashier-receipts/internal/validation"
	"github.com/fatflowers/cashier-receipts/pkg/logctx"
	"github.com/fatflowers/cashier-receipts/pkg/metrics"
	"github.com/fatflowers/cashier-receipts/pkg/tool"
	"github.com/fatflowers/cashier-receipts/pkg/types"
)

// State is the position of a submission in the pipeline.
type State string

const (
	StateReceived    State = "received"
	StateValidating  State = "validating"
	StateDecoding    State = "decoding"
	StateReconciling State = "reconciling"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

type Request struct {
	UserID      string
	ReceiptBlob string
	Environment string
}

type Response struct {
	Status         State
	Entitlement    *models.EntitlementState
	Entitlements   []*models.EntitlementState
	NewlyProcessed []string
}

// Reconciler applies decoded records to a user's entitlements.
type Reconciler interface {
	Reconcile(ctx context.Context, userID string, env receipt.Environment, records []receipt.TransactionRecord) (*reconciler.Result, error)
}

type Service struct {
	validator  validation.Validator
	reconciler Reconciler
	store      store.Store
	recorder   *metrics.Recorder
	log        *zap.SugaredLogger

	// pending tracks submission log writes still in flight
	pending sync.WaitGroup
}

func NewService(v validation.Validator, r Reconciler, s store.Store, recorder *metrics.Recorder, log *zap.SugaredLogger) *Service {
	return &Service{validator: v, reconciler: r, store: s, recorder: recorder, log: log}
}

// submission carries one request through the pipeline.
type submission struct {
	id      string
	userID  string
	env     receipt.Environment
	state   State
	started time.Time
	log     *models.SubmissionLog
}

func (sub *submission) advance(lg *zap.SugaredLogger, next State) {
	lg.Debugw("submission state changed", "submission_id", sub.id, "from", sub.state, "to", next)
	sub.state = next
}

// Submit runs a receipt through Received, Validating, Decoding and
// Reconciling. Failures are returned as *Error. Retrying a submission after
// any failure is safe: records already applied are skipped.
func (s *Service) Submit(ctx context.Context, req *Request) (*Response, error) {
	env, err := receipt.ParseEnvironment(req.Environment)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}

	sub := &submission{
		id:      tool.GenerateUUIDV7(),
		userID:  req.UserID,
		env:     env,
		state:   StateReceived,
		started: time.Now(),
		log: &models.SubmissionLog{
			TraceID:     logctx.TraceID(ctx),
			UserID:      req.UserID,
			Environment: string(env),
			Status:      types.SubmissionLogStatusReceived,
		},
	}
	sub.log.ID = sub.id
	ctx = logctx.WithUserID(ctx, req.UserID)
	lg := logctx.FromCtx(ctx, s.log).With("submission_id", sub.id)

	resp, err := s.run(ctx, lg, sub, req.ReceiptBlob)
	if err != nil {
		var subErr *Error
		if !errors.As(err, &subErr) {
			subErr = classify(sub.state, err)
		}
		sub.advance(lg, StateFailed)
		sub.log.Status = types.SubmissionLogStatusFailed
		sub.log.State = string(subErr.State)
		sub.log.FailureReason = string(subErr.Reason)
		s.recorder.Submission(string(StateFailed), string(subErr.Reason))
		if subErr.Retryable {
			lg.Warnw("submission failed", "state", subErr.State, "reason", subErr.Reason, "err", subErr.Err)
		} else {
			lg.Infow("submission rejected", "state", subErr.State, "reason", subErr.Reason, "err", subErr.Err)
		}
		s.saveLog(ctx, sub.log)
		return nil, subErr
	}

	sub.log.Status = types.SubmissionLogStatusCompleted
	sub.log.State = string(StateCompleted)
	sub.log.Result = datatypes.NewJSONType(models.SubmissionResult{
		NewlyProcessed: resp.NewlyProcessed,
		Products:       productIDs(resp.Entitlements),
	})
	s.recorder.Submission(string(StateCompleted), "")
	s.recorder.ObserveProcess("submission", string(env), sub.started)
	lg.Infow("submission completed", "newly_processed", resp.NewlyProcessed, "elapsed_ms", time.Since(sub.started).Milliseconds())
	s.saveLog(ctx, sub.log)
	return resp, nil
}

func (s *Service) run(ctx context.Context, lg *zap.SugaredLogger, sub *submission, blob string) (*Response, error) {
	raw, err := receipt.DecodeBlob(blob)
	if err != nil {
		return nil, classify(StateReceived, err)
	}
	sub.log.ReceiptSHA256 = tool.SHA256Hex(raw)

	sub.advance(lg, StateValidating)
	envelope, err := receipt.Parse(raw)
	if err != nil {
		return nil, classify(StateValidating, err)
	}
	sub.log.Format = string(envelope.Format)
	verified, err := s.validator.Validate(ctx, envelope, sub.env)
	if err != nil {
		return nil, classify(StateValidating, err)
	}
	if verified == nil {
		return nil, classify(StateValidating, fmt.Errorf("%w: no verified payload", receipt.ErrValidationUnavailable))
	}

	sub.advance(lg, StateDecoding)
	records, err := receipt.Decode(verified)
	if err != nil {
		return nil, classify(StateDecoding, err)
	}
	lg.Debugw("receipt decoded", "format", envelope.Format, "records", len(records))

	sub.advance(lg, StateReconciling)
	result, err := s.reconciler.Reconcile(ctx, sub.userID, sub.env, records)
	if err != nil {
		return nil, classify(StateReconciling, err)
	}

	sub.advance(lg, StateCompleted)
	return &Response{
		Status:         StateCompleted,
		Entitlement:    result.Entitlement,
		Entitlements:   result.Entitlements,
		NewlyProcessed: result.NewlyProcessed,
	}, nil
}

// saveLog writes the audit record in the background. The response never
// waits for it and a failed write is only logged.
func (s *Service) saveLog(ctx context.Context, log *models.SubmissionLog) {
	lg := logctx.FromCtx(ctx, s.log)
	ctx = context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.store.SaveSubmissionLog(ctx, log); err != nil {
			lg.Errorw("save submission log failed", "submission_id", log.ID, "err", err)
		}
	}()
}

// Wait blocks until background submission log writes finish or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueryEntitlement returns the current entitlement, or store.ErrNotFound if
// the user never had the product.
func (s *Service) QueryEntitlement(ctx context.Context, userID, productID string) (*models.EntitlementState, error) {
	e, err := s.store.CurrentEntitlement(ctx, userID, productID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, classify(StateCompleted, err)
	}
	return e, nil
}

func (s *Service) EntitlementHistory(ctx context.Context, userID, productID string) ([]*models.EntitlementState, error) {
	history, err := s.store.EntitlementHistory(ctx, userID, productID)
	if err != nil {
		return nil, classify(StateCompleted, err)
	}
	return history, nil
}

func (s *Service) LedgerEntry(ctx context.Context, transactionID string) (*models.LedgerEntry, error) {
	entry, err := s.store.GetLedgerEntry(ctx, transactionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, classify(StateCompleted, err)
	}
	return entry, nil
}

func productIDs(entitlements []*models.EntitlementState) []string {
	out := make([]string, 0, len(entitlements))
	for _, e := range entitlements {
		out = append(out, e.ProductID)
	}
	return out
}
