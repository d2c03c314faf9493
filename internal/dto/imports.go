package dto

import (
	"time"

	"github.com/rosterly/enrol-recon-api/internal/models"
)

// ListBatchesRequest captures query parameters for GET /imports.
type ListBatchesRequest struct {
	Status   string `form:"status"`
	Page     int    `form:"page"`
	PageSize int    `form:"pageSize"`
}

// ReviewRequest carries the reviewer's verdict on a batch.
type ReviewRequest struct {
	Outcome models.ReviewOutcome `json:"outcome" binding:"required,oneof=CONFIRM DENY"`
	Note    *string              `json:"note"`
}

// ResolveRowRequest links an ambiguous row to a chosen enrollment.
type ResolveRowRequest struct {
	EnrollmentID string `json:"enrollmentId" binding:"required,uuid"`
}

// ExcludeRowRequest toggles a row in or out of the apply set.
type ExcludeRowRequest struct {
	Excluded *bool `json:"excluded" binding:"required"`
}

// BatchResponse is the public projection of an import batch.
type BatchResponse struct {
	models.Batch
	Gate models.ApplyGate `json:"gate"`
}

// BatchListResponse wraps a page of batches.
type BatchListResponse struct {
	Items    []models.Batch `json:"items"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"pageSize"`
}

// RowResponse pairs a staged row with its proposed change.
type RowResponse struct {
	models.StagedRow
	Change *models.ProposedChange `json:"change,omitempty"`
}

// RowListResponse wraps the rows of one batch.
type RowListResponse struct {
	BatchID string        `json:"batchId"`
	Rows    []RowResponse `json:"rows"`
}

// FileURLResponse carries a signed download token and its expiry.
type FileURLResponse struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}
