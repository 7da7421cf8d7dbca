package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/fatflowers/cashier-receipts/internal/app/service/reconciler"
	"github.com/fatflowers/cashier-receipts/internal/models"
	"github.com/fatflowers/cashier-receipts/internal/receipt"
	"github.com/fatflowers/cashier-receipts/internal/store"
	"github.com/fatflowers/cashier-receipts/pkg/logctx"
	"github.com/fatflowers/cashier-receipts/pkg/metrics"
	"github.com/fatflowers/cashier-receipts/pkg/tool"
	"github.com/fatflowers/cashier-receipts/pkg/types"
)

const logFormat = "app_store_notification"

type Outcome string

const (
	// OutcomeApplied means the transaction went through the reconciler,
	// which may have found nothing new.
	OutcomeApplied Outcome = "applied"
	// OutcomeIgnored means there was nothing to apply: a test notification,
	// one without a transaction, or a transaction no user has submitted yet.
	OutcomeIgnored Outcome = "ignored"
)

type Result struct {
	NotificationID string   `json:"notification_id"`
	Type           Type     `json:"notification_type"`
	Outcome        Outcome  `json:"outcome"`
	UserID         string   `json:"user_id,omitempty"`
	NewlyProcessed []string `json:"newly_processed_transaction_ids"`
}

// Verifier authenticates Apple signed payloads.
type Verifier interface {
	VerifySigned(env *receipt.Envelope, claimed receipt.Environment) error
	CheckBundleID(bundleID string) error
}

type Reconciler interface {
	Reconcile(ctx context.Context, userID string, env receipt.Environment, records []receipt.TransactionRecord) (*reconciler.Result, error)
}

type Service struct {
	verifier   Verifier
	reconciler Reconciler
	store      store.Store
	recorder   *metrics.Recorder
	log        *zap.SugaredLogger
}

func NewService(v Verifier, r Reconciler, s store.Store, recorder *metrics.Recorder, log *zap.SugaredLogger) *Service {
	return &Service{verifier: v, reconciler: r, store: s, recorder: recorder, log: log}
}

// Handle verifies a signed notification and reconciles the transaction it
// carries into the entitlements of the user who owns that transaction.
// Ownership comes from the ledger: a notification never creates an owner.
func (s *Service) Handle(ctx context.Context, signedPayload string) (*Result, error) {
	start := time.Now()
	lg := logctx.FromCtx(ctx, s.log)

	var p payload
	envelope, err := parseSigned(signedPayload, &p)
	if err != nil {
		return nil, err
	}
	if p.Data == nil {
		if err := s.verifier.VerifySigned(envelope, receipt.EnvironmentProduction); err != nil && !errors.Is(err, receipt.ErrEnvironmentMismatch) {
			return nil, err
		}
		lg.Infow("notification without data ignored", "notification_id", p.NotificationUUID, "type", p.NotificationType)
		return &Result{NotificationID: p.NotificationUUID, Type: p.NotificationType, Outcome: OutcomeIgnored}, nil
	}

	env, err := receipt.ParseEnvironment(p.Data.Environment)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", receipt.ErrMalformedReceipt, err)
	}
	if err := s.verifier.VerifySigned(envelope, env); err != nil {
		return nil, err
	}
	if err := s.verifier.CheckBundleID(p.Data.BundleID); err != nil {
		return nil, err
	}
	lg = lg.With("notification_id", p.NotificationUUID, "type", p.NotificationType, "subtype", p.Subtype, "environment", env)

	res := &Result{NotificationID: p.NotificationUUID, Type: p.NotificationType, Outcome: OutcomeIgnored}
	if p.NotificationType == TypeTest || p.Data.SignedTransactionInfo == "" {
		lg.Infow("notification has no transaction")
		return res, nil
	}

	record, err := s.transaction(p.Data.SignedTransactionInfo, env)
	if err != nil {
		return nil, err
	}
	owner, err := s.owner(ctx, record)
	if err != nil {
		return nil, err
	}
	if owner == "" {
		lg.Infow("notification for unknown transaction ignored", "transaction_id", record.TransactionID)
		return res, nil
	}

	ctx = logctx.WithUserID(ctx, owner)
	out, err := s.reconciler.Reconcile(ctx, owner, env, []receipt.TransactionRecord{record})
	if err != nil {
		s.audit(ctx, lg, owner, env, signedPayload, types.SubmissionLogStatusFailed, nil)
		return nil, err
	}
	res.Outcome, res.UserID, res.NewlyProcessed = OutcomeApplied, owner, out.NewlyProcessed
	if res.NewlyProcessed == nil {
		res.NewlyProcessed = []string{}
	}
	s.audit(ctx, lg, owner, env, signedPayload, types.SubmissionLogStatusCompleted, res.NewlyProcessed)
	s.recorder.ObserveProcess("notification", string(p.NotificationType), start)
	lg.Infow("notification applied", "user_id", owner, "transaction_id", record.TransactionID, "newly_processed", res.NewlyProcessed)
	return res, nil
}

func (s *Service) transaction(signed string, env receipt.Environment) (receipt.TransactionRecord, error) {
	var info transactionInfo
	envelope, err := parseSigned(signed, &info)
	if err != nil {
		return receipt.TransactionRecord{}, err
	}
	if err := s.verifier.VerifySigned(envelope, env); err != nil {
		return receipt.TransactionRecord{}, err
	}
	if info.Environment != "" {
		if txEnv, err := receipt.ParseEnvironment(info.Environment); err != nil || txEnv != env {
			return receipt.TransactionRecord{}, fmt.Errorf("%w: transaction issued for %q", receipt.ErrEnvironmentMismatch, info.Environment)
		}
	}
	if err := s.verifier.CheckBundleID(info.BundleID); err != nil {
		return receipt.TransactionRecord{}, err
	}
	return receipt.RecordFromSigned(info.SignedTransaction)
}

// owner finds the user a transaction was granted to, falling back to the
// original transaction for renewals the client has not uploaded yet.
func (s *Service) owner(ctx context.Context, record receipt.TransactionRecord) (string, error) {
	for _, id := range []string{record.TransactionID, record.OriginalTransactionID} {
		entry, err := s.store.GetLedgerEntry(ctx, models.LedgerKey(id, types.LedgerEntryKindGrant))
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		return entry.UserID, nil
	}
	return "", nil
}

func (s *Service) audit(ctx context.Context, lg *zap.SugaredLogger, userID string, env receipt.Environment, signedPayload string, status types.SubmissionLogStatus, newly []string) {
	log := &models.SubmissionLog{
		ID:            tool.GenerateUUIDV7(),
		TraceID:       logctx.TraceID(ctx),
		UserID:        userID,
		Environment:   string(env),
		Format:        logFormat,
		ReceiptSHA256: tool.SHA256Hex([]byte(signedPayload)),
		Status:        status,
		State:         string(status),
		Result:        datatypes.NewJSONType(models.SubmissionResult{NewlyProcessed: newly}),
	}
	if err := s.store.SaveSubmissionLog(context.WithoutCancel(ctx), log); err != nil {
		lg.Errorw("save notification log failed", "err", err)
	}
}
