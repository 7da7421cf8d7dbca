package models

import (
	"time"

	"github.com/fatflowers/cashier-receipts/pkg/types"
)

// EntitlementState is one version of a user's access to a product. The
// current version has SupersededAt == nil; older versions are kept as the
// audit history and are never modified except for the supersede marker.
type EntitlementState struct {
	ID        string                  `gorm:"column:id;type:uuid;primaryKey" json:"id" dynamodbav:"id"`
	UserID    string                  `gorm:"column:user_id;type:varchar(64);not null;index:idx_entitlement_user_product,priority:1;uniqueIndex:uniq_entitlement_current,priority:1,where:superseded_at IS NULL" json:"user_id" dynamodbav:"user_id"`
	ProductID string                  `gorm:"column:product_id;type:varchar(128);not null;index:idx_entitlement_user_product,priority:2;uniqueIndex:uniq_entitlement_current,priority:2,where:superseded_at IS NULL" json:"product_id" dynamodbav:"product_id"`
	Status    types.EntitlementStatus `gorm:"column:status;type:varchar(32);not null" json:"status" dynamodbav:"status"`
	// ExpiresAt nil means the entitlement never expires.
	ExpiresAt         *time.Time                    `gorm:"column:expires_at;default:null" json:"expires_at" dynamodbav:"expires_at,omitempty"`
	LastTransactionID string                        `gorm:"column:last_transaction_id;type:varchar(128);not null" json:"last_transaction_id" dynamodbav:"last_transaction_id"`
	Environment       string                        `gorm:"column:environment;type:varchar(16);not null" json:"environment" dynamodbav:"environment"`
	IsTrial           bool                          `gorm:"column:is_trial;not null;default:false" json:"is_trial" dynamodbav:"is_trial"`
	Reason            types.EntitlementChangeReason `gorm:"column:reason;type:varchar(32);not null" json:"reason" dynamodbav:"reason"`
	// Revision increases by one with every superseding version.
	Revision     int64      `gorm:"column:revision;not null;index:idx_entitlement_user_product,priority:3" json:"revision" dynamodbav:"revision"`
	SupersededAt *time.Time `gorm:"column:superseded_at;default:null" json:"superseded_at,omitempty" dynamodbav:"superseded_at,omitempty"`
	SupersededBy *string    `gorm:"column:superseded_by;type:uuid;default:null" json:"superseded_by,omitempty" dynamodbav:"superseded_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at" dynamodbav:"created_at"`
}

func (EntitlementState) TableName() string {
	return "entitlement_state"
}

// Active reports whether the entitlement grants access at now.
func (e *EntitlementState) Active(now time.Time) bool {
	return e != nil &&
		e.Status == types.EntitlementStatusActive &&
		(e.ExpiresAt == nil || e.ExpiresAt.After(now))
}

func (e *EntitlementState) Current() bool {
	return e != nil && e.SupersededAt == nil
}

func (e *EntitlementState) Clone() *EntitlementState {
	if e == nil {
		return nil
	}
	c := *e
	c.ExpiresAt = cloneTime(e.ExpiresAt)
	c.SupersededAt = cloneTime(e.SupersededAt)
	if e.SupersededBy != nil {
		id := *e.SupersededBy
		c.SupersededBy = &id
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
