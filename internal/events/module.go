package events

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	awsplatform "github.com/fatflowers/cashier-receipts/internal/platform/aws"
	cfgpkg "github.com/fatflowers/cashier-receipts/pkg/config"
)

func NewPublisher(cfg *cfgpkg.Config, l *zap.SugaredLogger) (Publisher, error) {
	if cfg.Events.SQSQueueURL == "" {
		l.Infow("events.sqs_queue_url is empty, entitlement events are disabled")
		return NopPublisher{}, nil
	}
	awsCfg, err := awsplatform.LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	l.Infow("publishing entitlement events to SQS", "queue_url", cfg.Events.SQSQueueURL)
	return NewSQSPublisher(awsplatform.NewSQS(awsCfg), cfg.Events.SQSQueueURL), nil
}

func newDispatcher(lc fx.Lifecycle, pub Publisher, l *zap.SugaredLogger) *Dispatcher {
	d := NewDispatcher(pub, l)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return d.Wait(ctx)
		},
	})
	return d
}

var Module = fx.Options(
	fx.Provide(NewPublisher),
	fx.Provide(newDispatcher),
)
