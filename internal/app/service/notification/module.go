package notification

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/cashier-receipts/internal/app/service/reconciler"
	"github.com/fatflowers/cashier-receipts/internal/store"
	"github.com/fatflowers/cashier-receipts/internal/validation"
	"github.com/fatflowers/cashier-receipts/pkg/metrics"
)

func newService(v *validation.SignedPayloadVerifier, r *reconciler.Service, s store.Store, recorder *metrics.Recorder, log *zap.SugaredLogger) *Service {
	return NewService(v, r, s, recorder, log)
}

var Module = fx.Options(
	fx.Provide(newService),
)
