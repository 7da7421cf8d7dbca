package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fatflowers/cashier-receipts/pkg/logctx"
)

const defaultPublishTimeout = 5 * time.Second

// Dispatcher publishes in the background so a slow or failing queue never
// delays a submission. Failures are logged and dropped.
type Dispatcher struct {
	pub     Publisher
	log     *zap.SugaredLogger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDispatcher(pub Publisher, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{pub: pub, log: log, timeout: defaultPublishTimeout}
}

func (d *Dispatcher) Dispatch(ctx context.Context, ev *EntitlementChanged) {
	if d == nil || ev == nil {
		return
	}
	lg := logctx.FromCtx(ctx, d.log)
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		if err := d.pub.Publish(ctx, ev); err != nil {
			lg.Errorw("publish entitlement event failed",
				"event_id", ev.EventID, "user_id", ev.UserID, "product_id", ev.ProductID, "err", err)
			return
		}
		lg.Debugw("entitlement event published", "event_id", ev.EventID, "revision", ev.Revision)
	}()
}

// Wait blocks until in-flight publishes finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
