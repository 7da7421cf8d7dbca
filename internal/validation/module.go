package validation

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/cashier-receipts/internal/platform/apple/apple_iap"
	"github.com/fatflowers/cashier-receipts/internal/receipt"
	"github.com/fatflowers/cashier-receipts/pkg/config"
	"github.com/fatflowers/cashier-receipts/pkg/metrics"
)

// NewValidator assembles the configured verifiers behind a router and the
// retry policy.
func NewValidator(cfg *config.Config, signed *SignedPayloadVerifier, log *zap.SugaredLogger, recorder *metrics.Recorder) Validator {
	vc := cfg.Validation
	router := NewRouter().Handle(receipt.FormatSignedPayload, signed)
	if vc.AppStore.Enabled {
		client := apple_iap.NewClient(apple_iap.ClientOptions{
			SharedSecret:  vc.AppStore.SharedSecret,
			ProductionURL: vc.AppStore.ProductionURL,
			SandboxURL:    vc.AppStore.SandboxURL,
		})
		router.Handle(receipt.FormatAppStoreReceipt, NewAppStoreVerifier(client, vc.BundleID))
	}
	log.Infow("receipt validation configured",
		"bundle_id", vc.BundleID,
		"app_store_enabled", vc.AppStore.Enabled,
		"max_retries", vc.Retry.MaxRetries)

	return NewRetrying(router, RetryPolicy{
		MaxRetries:      vc.Retry.MaxRetries,
		InitialInterval: vc.Retry.InitialInterval,
		MaxInterval:     vc.Retry.MaxInterval,
		AttemptTimeout:  vc.Timeout,
	}, log, recorder)
}

func newSignedPayloadVerifier(cfg *config.Config) (*SignedPayloadVerifier, error) {
	return NewSignedPayloadVerifier(SignedPayloadOptions{
		BundleID:           cfg.Validation.BundleID,
		ProductionRootsPEM: cfg.Validation.ProductionRootsPEM,
		SandboxRootsPEM:    cfg.Validation.SandboxRootsPEM,
	})
}

var Module = fx.Options(
	fx.Provide(newSignedPayloadVerifier),
	fx.Provide(NewValidator),
)
