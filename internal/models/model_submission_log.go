package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/fatflowers/cashier-receipts/pkg/types"
)

type SubmissionResult struct {
	NewlyProcessed []string `json:"newly_processed"`
	Products       []string `json:"products"`
}

// SubmissionLog is the audit record of one receipt submission. The receipt
// itself is not stored, only its fingerprint.
type SubmissionLog struct {
	ID            string                               `gorm:"column:id;type:uuid;primaryKey" json:"id" dynamodbav:"id"`
	TraceID       string                               `gorm:"column:trace_id;type:varchar(128)" json:"trace_id" dynamodbav:"trace_id"`
	UserID        string                               `gorm:"column:user_id;type:varchar(64);not null;index" json:"user_id" dynamodbav:"user_id"`
	Environment   string                               `gorm:"column:environment;type:varchar(16)" json:"environment" dynamodbav:"environment"`
	Format        string                               `gorm:"column:format;type:varchar(32)" json:"format" dynamodbav:"format"`
	ReceiptSHA256 string                               `gorm:"column:receipt_sha256;type:varchar(64);index" json:"receipt_sha256" dynamodbav:"receipt_sha256"`
	Status        types.SubmissionLogStatus            `gorm:"column:status;type:varchar(32);not null" json:"status" dynamodbav:"status"`
	State         string                               `gorm:"column:state;type:varchar(32)" json:"state" dynamodbav:"state"`
	FailureReason string                               `gorm:"column:failure_reason;type:varchar(64)" json:"failure_reason,omitempty" dynamodbav:"failure_reason,omitempty"`
	Result        datatypes.JSONType[SubmissionResult] `gorm:"column:result;type:jsonb;default:'{}'" json:"result" dynamodbav:"-"`
	CreatedAt     time.Time                            `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt     time.Time                            `json:"updated_at" dynamodbav:"updated_at"`
}

func (SubmissionLog) TableName() string {
	return "submission_log"
}
