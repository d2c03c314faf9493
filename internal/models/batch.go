package models

import "time"

// BatchStatus is the lifecycle state of an import batch.
type BatchStatus string

const (
	BatchStatusReceived            BatchStatus = "RECEIVED"
	BatchStatusParsing             BatchStatus = "PARSING"
	BatchStatusProposedOK          BatchStatus = "PROPOSED_OK"
	BatchStatusProposedNeedsReview BatchStatus = "PROPOSED_NEEDS_REVIEW"
	BatchStatusFailedValidation    BatchStatus = "FAILED_VALIDATION"
	BatchStatusReadyToApply        BatchStatus = "READY_TO_APPLY"
	BatchStatusApplying            BatchStatus = "APPLYING"
	BatchStatusApplied             BatchStatus = "APPLIED"
	BatchStatusRejected            BatchStatus = "REJECTED"
	BatchStatusFailedSystem        BatchStatus = "FAILED_SYSTEM"
)

// ReviewOutcome records the human decision on a batch.
type ReviewOutcome string

const (
	ReviewOutcomeConfirm ReviewOutcome = "CONFIRM"
	ReviewOutcomeDeny    ReviewOutcome = "DENY"
)

// Batch is the unit of work spanning one uploaded reconciliation file. Batches
// are never physically deleted; terminal states are the permanent audit record.
type Batch struct {
	ID            string         `db:"id" json:"id"`
	TenantID      string         `db:"tenant_id" json:"tenant_id"`
	FileName      string         `db:"file_name" json:"file_name"`
	FileSize      int64          `db:"file_size" json:"file_size"`
	Status        BatchStatus    `db:"status" json:"status"`
	TotalRows     int            `db:"total_rows" json:"total_rows"`
	ValidRows     int            `db:"valid_rows" json:"valid_rows"`
	InvalidRows   int            `db:"invalid_rows" json:"invalid_rows"`
	AmbiguousRows int            `db:"ambiguous_rows" json:"ambiguous_rows"`
	ExcludedRows  int            `db:"excluded_rows" json:"excluded_rows"`
	NewCount      int            `db:"new_count" json:"new_count"`
	UpdateCount   int            `db:"update_count" json:"update_count"`
	ReviewOutcome *ReviewOutcome `db:"review_outcome" json:"review_outcome,omitempty"`
	ReviewNote    *string        `db:"review_note" json:"review_note,omitempty"`
	ErrorText     *string        `db:"error_text" json:"error_text,omitempty"`
	UploadedBy    string         `db:"uploaded_by" json:"uploaded_by"`
	AppliedBy     *string        `db:"applied_by" json:"applied_by,omitempty"`
	AppliedAt     *time.Time     `db:"applied_at" json:"applied_at,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// Summary projects the fields the state machine gates on.
func (b *Batch) Summary() BatchSummary {
	return BatchSummary{
		Status:          b.Status,
		TotalRows:       b.TotalRows,
		ValidRows:       b.ValidRows,
		InvalidRows:     b.InvalidRows,
		AmbiguousRows:   b.AmbiguousRows,
		ProcessableRows: b.ValidRows,
		ReviewOutcome:   b.ReviewOutcome,
	}
}

// BatchSummary is the pure-value input to the state machine and apply gate.
type BatchSummary struct {
	Status          BatchStatus    `json:"status"`
	TotalRows       int            `json:"total_rows"`
	ValidRows       int            `json:"valid_rows"`
	InvalidRows     int            `json:"invalid_rows"`
	AmbiguousRows   int            `json:"ambiguous_rows"`
	ProcessableRows int            `json:"processable_rows"`
	ReviewOutcome   *ReviewOutcome `json:"review_outcome,omitempty"`
}

// ApplyGate is the explicit commit-gate verdict; a refusal always enumerates
// every unmet condition.
type ApplyGate struct {
	Allowed bool     `json:"allowed"`
	Reasons []string `json:"reasons,omitempty"`
}

// BatchFilter constrains batch listing queries.
type BatchFilter struct {
	Status   BatchStatus
	Page     int
	PageSize int
}

// BatchCounts carries the recomputed tallies after a human edit.
type BatchCounts struct {
	TotalRows     int `db:"total_rows"`
	ValidRows     int `db:"valid_rows"`
	InvalidRows   int `db:"invalid_rows"`
	AmbiguousRows int `db:"ambiguous_rows"`
	ExcludedRows  int `db:"excluded_rows"`
	NewCount      int `db:"new_count"`
	UpdateCount   int `db:"update_count"`
}

// RowError pairs a spreadsheet row number with an apply-time error message.
type RowError struct {
	RowNumber int    `json:"row_number"`
	Message   string `json:"message"`
}

// ApplyResult reports the outcome of one transactional apply attempt.
type ApplyResult struct {
	Success       bool       `json:"success"`
	AppliedCount  int        `json:"applied_count"`
	InsertedCount int        `json:"inserted_count"`
	UpdatedCount  int        `json:"updated_count"`
	SkippedCount  int        `json:"skipped_count"`
	Errors        []RowError `json:"errors,omitempty"`
	HasMoreErrors bool       `json:"has_more_errors,omitempty"`
	EnrollmentIDs []string   `json:"enrollment_ids,omitempty"`
	Reasons       []string   `json:"reasons,omitempty"`
}
