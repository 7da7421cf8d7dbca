package types

type EntitlementStatus string

const (
	EntitlementStatusActive  EntitlementStatus = "active"
	EntitlementStatusExpired EntitlementStatus = "expired"
	EntitlementStatusNone    EntitlementStatus = "none"
)

type EntitlementChangeReason string

const (
	EntitlementChangeReasonPurchase   EntitlementChangeReason = "purchase"
	EntitlementChangeReasonRenewal    EntitlementChangeReason = "renewal"
	EntitlementChangeReasonRevocation EntitlementChangeReason = "revocation"
)

type LedgerEntryKind string

const (
	LedgerEntryKindGrant      LedgerEntryKind = "grant"
	LedgerEntryKindRevocation LedgerEntryKind = "revocation"
)

type SubmissionLogStatus string

const (
	SubmissionLogStatusReceived  SubmissionLogStatus = "received"
	SubmissionLogStatusCompleted SubmissionLogStatus = "completed"
	SubmissionLogStatusFailed    SubmissionLogStatus = "failed"
)
