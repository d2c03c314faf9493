package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/rosterly/enrol-recon-api/internal/models"
	"github.com/rosterly/enrol-recon-api/pkg/database"
)

// ApplyStore is the mutation surface available inside one apply transaction.
// Every call runs on the same transaction; an error from the callback rolls
// the whole batch back.
type ApplyStore interface {
	ListApplicableChanges(ctx context.Context, tenantID, batchID string) ([]models.ProposedChange, error)
	GetStagedRow(ctx context.Context, tenantID, rowID string) (*models.StagedRow, error)
	FindClassByName(ctx context.Context, tenantID, name string) (*models.Class, error)
	InsertStudent(ctx context.Context, student *models.Student) error
	InsertEnrollment(ctx context.Context, enrollment *models.Enrollment) error
	UpdateEnrollmentDates(ctx context.Context, tenantID, enrollmentID string, startDate, endDate *time.Time) error
}

// ImportUnitOfWork runs apply work inside a single database transaction.
type ImportUnitOfWork struct {
	db *sqlx.DB
}

// NewImportUnitOfWork constructs the unit of work.
func NewImportUnitOfWork(db *sqlx.DB) *ImportUnitOfWork {
	return &ImportUnitOfWork{db: db}
}

// InTransaction opens a transaction, hands the callback a store bound to it,
// and commits only if the callback returns nil.
func (u *ImportUnitOfWork) InTransaction(ctx context.Context, fn func(store ApplyStore) error) error {
	return database.WithinTx(ctx, u.db, func(tx *sqlx.Tx) error {
		return fn(&txApplyStore{tx: tx})
	})
}

type txApplyStore struct {
	tx *sqlx.Tx
}

func (s *txApplyStore) ListApplicableChanges(ctx context.Context, tenantID, batchID string) ([]models.ProposedChange, error) {
	const query = `SELECT pc.id, pc.batch_id, pc.staged_row_id, pc.tenant_id, pc.action, pc.enrollment_id,
        COALESCE(pc.diff, 'null') AS diff, pc.score, pc.is_excluded, pc.created_at, pc.updated_at
        FROM proposed_changes pc
        JOIN staged_rows sr ON sr.id = pc.staged_row_id
        WHERE pc.tenant_id = $1 AND pc.batch_id = $2 AND pc.is_excluded = FALSE
        ORDER BY sr.row_number ASC`
	var changes []models.ProposedChange
	if err := s.tx.SelectContext(ctx, &changes, query, tenantID, batchID); err != nil {
		return nil, fmt.Errorf("list applicable changes: %w", err)
	}
	return changes, nil
}

func (s *txApplyStore) GetStagedRow(ctx context.Context, tenantID, rowID string) (*models.StagedRow, error) {
	query := fmt.Sprintf(`SELECT %s FROM staged_rows WHERE tenant_id = $1 AND id = $2`, stagedRowColumns)
	var row models.StagedRow
	if err := s.tx.GetContext(ctx, &row, query, tenantID, rowID); err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *txApplyStore) FindClassByName(ctx context.Context, tenantID, name string) (*models.Class, error) {
	const query = `SELECT id, tenant_id, name, created_at, updated_at FROM classes
        WHERE tenant_id = $1 AND LOWER(name) = $2`
	var class models.Class
	if err := s.tx.GetContext(ctx, &class, query, tenantID, strings.ToLower(strings.TrimSpace(name))); err != nil {
		return nil, err
	}
	return &class, nil
}

func (s *txApplyStore) InsertStudent(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	student.CreatedAt = now
	student.UpdatedAt = now
	const query = `INSERT INTO students (id, tenant_id, full_name, email, status, import_origin, created_at, updated_at)
        VALUES (:id, :tenant_id, :full_name, :email, :status, :import_origin, :created_at, :updated_at)`
	if _, err := s.tx.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("insert student: %w", err)
	}
	return nil
}

func (s *txApplyStore) InsertEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	enrollment.CreatedAt = now
	enrollment.UpdatedAt = now
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusActive
	}
	const query = `INSERT INTO enrollments (id, tenant_id, student_id, class_id, start_date, end_date, status, created_at, updated_at)
        VALUES (:id, :tenant_id, :student_id, :class_id, :start_date, :end_date, :status, :created_at, :updated_at)`
	if _, err := s.tx.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("insert enrollment: %w", err)
	}
	return nil
}

func (s *txApplyStore) UpdateEnrollmentDates(ctx context.Context, tenantID, enrollmentID string, startDate, endDate *time.Time) error {
	const query = `UPDATE enrollments SET
        start_date = COALESCE($3, start_date),
        end_date = CASE WHEN $4::timestamptz IS NULL THEN end_date ELSE $4 END,
        updated_at = $5
        WHERE tenant_id = $1 AND id = $2`
	if _, err := s.tx.ExecContext(ctx, query, tenantID, enrollmentID, startDate, endDate, time.Now().UTC()); err != nil {
		return fmt.Errorf("update enrollment dates: %w", err)
	}
	return nil
}
