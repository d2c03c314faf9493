package models

import "time"

// StudentStatus distinguishes confirmed identities from import placeholders.
type StudentStatus string

const (
	StudentStatusActive      StudentStatus = "ACTIVE"
	StudentStatusProvisional StudentStatus = "PROVISIONAL"
)

// Student represents a learner registered with a tenant. Provisional students
// are placeholder identities created for spreadsheet names that matched no
// existing record, pending later reconciliation.
type Student struct {
	ID           string        `db:"id" json:"id"`
	TenantID     string        `db:"tenant_id" json:"tenant_id"`
	FullName     string        `db:"full_name" json:"full_name"`
	Email        string        `db:"email" json:"email"`
	Status       StudentStatus `db:"status" json:"status"`
	ImportOrigin bool          `db:"import_origin" json:"import_origin"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at" json:"updated_at"`
}
