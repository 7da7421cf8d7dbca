// Package events publishes entitlement changes to downstream consumers.
package events

import (
	"context"
	"time"

	"github.com/fatflowers/cashier-receipts/pkg/types"
)

const TypeEntitlementChanged = "EntitlementChanged"

// EntitlementChanged is emitted after a unit of work committed a new
// entitlement version.
type EntitlementChanged struct {
	Type          string                        `json:"type"`
	EventID       string                        `json:"event_id"`
	TraceID       string                        `json:"trace_id,omitempty"`
	UserID        string                        `json:"user_id"`
	ProductID     string                        `json:"product_id"`
	EntitlementID string                        `json:"entitlement_id"`
	Revision      int64                         `json:"revision"`
	Status        types.EntitlementStatus       `json:"status"`
	ExpiresAt     *time.Time                    `json:"expires_at"`
	Reason        types.EntitlementChangeReason `json:"reason"`
	TransactionID string                        `json:"transaction_id"`
	Environment   string                        `json:"environment"`
	OccurredAt    time.Time                     `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev *EntitlementChanged) error
}

// NopPublisher drops events. Used when no queue is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, *EntitlementChanged) error { return nil }
