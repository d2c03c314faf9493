package models

import (
	"encoding/json"
	"time"
)

// RowStatus classifies a staged row during review.
type RowStatus string

const (
	RowStatusValid     RowStatus = "VALID"
	RowStatusInvalid   RowStatus = "INVALID"
	RowStatusAmbiguous RowStatus = "AMBIGUOUS"
	RowStatusExcluded  RowStatus = "EXCLUDED"
)

// StagedRow is one parsed spreadsheet row held pending human review.
type StagedRow struct {
	ID                 string          `db:"id" json:"id"`
	BatchID            string          `db:"batch_id" json:"batch_id"`
	TenantID           string          `db:"tenant_id" json:"tenant_id"`
	RowNumber          int             `db:"row_number" json:"row_number"`
	RawFields          json.RawMessage `db:"raw_fields" json:"raw_fields,omitempty"`
	StudentName        *string         `db:"student_name" json:"student_name,omitempty"`
	ClassName          *string         `db:"class_name" json:"class_name,omitempty"`
	StartDate          *time.Time      `db:"start_date" json:"start_date,omitempty"`
	EndDate            *time.Time      `db:"end_date" json:"end_date,omitempty"`
	Flag               *bool           `db:"flag" json:"flag,omitempty"`
	RowStatus          RowStatus       `db:"row_status" json:"row_status"`
	ValidationErrors   json.RawMessage `db:"validation_errors" json:"validation_errors,omitempty"`
	LinkedEnrollmentID *string         `db:"linked_enrollment_id" json:"linked_enrollment_id,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
}

// ChangeAction is the mutation the matcher proposes for a staged row.
type ChangeAction string

const (
	ChangeActionInsert          ChangeAction = "INSERT"
	ChangeActionUpdate          ChangeAction = "UPDATE"
	ChangeActionNoop            ChangeAction = "NOOP"
	ChangeActionNeedsResolution ChangeAction = "NEEDS_RESOLUTION"
)

// FieldChange is one old/new pair inside an update diff.
type FieldChange struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// FieldDiff maps canonical field names to their proposed changes.
type FieldDiff map[string]FieldChange

// ProposedChange is the committed-pending mutation derived from a row outcome.
// Reviewers may exclude it from the apply set without re-running matching.
type ProposedChange struct {
	ID           string          `db:"id" json:"id"`
	BatchID      string          `db:"batch_id" json:"batch_id"`
	StagedRowID  string          `db:"staged_row_id" json:"staged_row_id"`
	TenantID     string          `db:"tenant_id" json:"tenant_id"`
	Action       ChangeAction    `db:"action" json:"action"`
	EnrollmentID *string         `db:"enrollment_id" json:"enrollment_id,omitempty"`
	Diff         json.RawMessage `db:"diff" json:"diff,omitempty"`
	Score        *int            `db:"score" json:"score,omitempty"`
	IsExcluded   bool            `db:"is_excluded" json:"is_excluded"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// DecodeDiff unmarshals the stored diff payload; empty payloads yield nil.
func (p *ProposedChange) DecodeDiff() (FieldDiff, error) {
	if len(p.Diff) == 0 {
		return nil, nil
	}
	var diff FieldDiff
	if err := json.Unmarshal(p.Diff, &diff); err != nil {
		return nil, err
	}
	if len(diff) == 0 {
		return nil, nil
	}
	return diff, nil
}
