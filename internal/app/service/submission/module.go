package submission

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/cashier-receipts/internal/app/service/reconciler"
	"github.com/fatflowers/cashier-receipts/internal/store"
	"github.com/fatflowers/cashier-receipts/internal/validation"
	"github.com/fatflowers/cashier-receipts/pkg/metrics"
)

func newService(lc fx.Lifecycle, v validation.Validator, r *reconciler.Service, s store.Store, recorder *metrics.Recorder, log *zap.SugaredLogger) *Service {
	svc := NewService(v, r, s, recorder, log)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return svc.Wait(ctx)
		},
	})
	return svc
}

// Module exposes the submission service via Fx.
var Module = fx.Options(
	fx.Provide(newService),
)
