package models

import (
	"time"

	"gorm.io/datatypes"
)

// Transaction is the persisted copy of a processed store transaction. A
// transaction id belongs to the first user that submitted it.
type Transaction struct {
	ID                    string `gorm:"column:id;primaryKey;type:uuid" json:"id" dynamodbav:"id"`
	TransactionID         string `gorm:"column:transaction_id;type:varchar(128);not null;uniqueIndex" json:"transaction_id" dynamodbav:"transaction_id"`
	OriginalTransactionID string `gorm:"column:original_transaction_id;type:varchar(128);not null" json:"original_transaction_id" dynamodbav:"original_transaction_id"`
	UserID                string `gorm:"column:user_id;type:varchar(64);not null;index:idx_transaction_user_product,priority:1" json:"user_id" dynamodbav:"user_id"`
	ProductID             string `gorm:"column:product_id;type:varchar(128);not null;index:idx_transaction_user_product,priority:2" json:"product_id" dynamodbav:"product_id"`
	Environment           string `gorm:"column:environment;type:varchar(16);not null" json:"environment" dynamodbav:"environment"`
	// PurchaseAt is the purchase time reported by the store
	PurchaseAt time.Time `gorm:"column:purchase_at;not null" json:"purchase_at" dynamodbav:"purchase_at"`
	// ExpiresAt is set by the store for auto-renewable subscriptions only
	ExpiresAt        *time.Time `gorm:"column:expires_at;default:null" json:"expires_at" dynamodbav:"expires_at,omitempty"`
	RevokedAt        *time.Time `gorm:"column:revoked_at;default:null" json:"revoked_at" dynamodbav:"revoked_at,omitempty"`
	RevocationReason *string    `gorm:"column:revocation_reason;type:varchar(64);default:null" json:"revocation_reason" dynamodbav:"revocation_reason,omitempty"`
	IsTrial          bool       `gorm:"column:is_trial;not null;default:false" json:"is_trial" dynamodbav:"is_trial"`
	IsIntroOffer     bool       `gorm:"column:is_intro_offer;not null;default:false" json:"is_intro_offer" dynamodbav:"is_intro_offer"`
	IsRenewal        bool       `gorm:"column:is_renewal;not null;default:false" json:"is_renewal" dynamodbav:"is_renewal"`
	// Extra carries context of the submission that recorded the transaction, such as its trace id.
	Extra     datatypes.JSONMap `gorm:"column:extra;type:jsonb;default:'{}'" json:"extra" dynamodbav:"extra,omitempty"`
	CreatedAt time.Time         `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt time.Time         `json:"updated_at" dynamodbav:"updated_at"`
}

func (Transaction) TableName() string {
	return "transaction"
}

func (t *Transaction) Revoked() bool {
	return t != nil && t.RevokedAt != nil
}
