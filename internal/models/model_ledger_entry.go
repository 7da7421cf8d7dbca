package models

import (
	"time"

	"github.com/fatflowers/cashier-receipts/pkg/types"
)

const revocationKeySuffix = ":revocation"

// LedgerEntry records that a transaction id was processed. The primary key
// makes the first insert win; entries are never updated or deleted.
type LedgerEntry struct {
	// TransactionID is the ledger key: the store transaction id for grants,
	// "<id>:revocation" for revocations.
	TransactionID          string                `gorm:"column:transaction_id;type:varchar(160);primaryKey" json:"transaction_id" dynamodbav:"transaction_id"`
	Kind                   types.LedgerEntryKind `gorm:"column:kind;type:varchar(32);not null" json:"kind" dynamodbav:"kind"`
	UserID                 string                `gorm:"column:user_id;type:varchar(64);not null;index" json:"user_id" dynamodbav:"user_id"`
	ProductID              string                `gorm:"column:product_id;type:varchar(128);not null" json:"product_id" dynamodbav:"product_id"`
	Environment            string                `gorm:"column:environment;type:varchar(16);not null" json:"environment" dynamodbav:"environment"`
	ResultingEntitlementID string                `gorm:"column:resulting_entitlement_id;type:uuid" json:"resulting_entitlement_id" dynamodbav:"resulting_entitlement_id"`
	ProcessedAt            time.Time             `gorm:"column:processed_at;not null" json:"processed_at" dynamodbav:"processed_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entry"
}

// LedgerKey returns the ledger key for processing kind of transactionID.
func LedgerKey(transactionID string, kind types.LedgerEntryKind) string {
	if kind == types.LedgerEntryKindRevocation {
		return transactionID + revocationKeySuffix
	}
	return transactionID
}
