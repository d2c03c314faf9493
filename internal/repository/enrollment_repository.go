package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/rosterly/enrol-recon-api/internal/models"
)

// EnrollmentRepository reads enrollment records joined with their student and
// class names for match-candidate retrieval.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentDetailColumns = `e.id, e.tenant_id, e.student_id, e.class_id, e.start_date, e.end_date,
        e.status, e.created_at, e.updated_at, s.full_name AS student_name, c.name AS class_name`

// SearchActiveByStudentToken returns active enrollments whose student name
// contains the token, capped to keep candidate scoring bounded.
func (r *EnrollmentRepository) SearchActiveByStudentToken(ctx context.Context, tenantID, token string, limit int) ([]models.EnrollmentDetail, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM enrollments e
        JOIN students s ON s.id = e.student_id
        JOIN classes c ON c.id = e.class_id
        WHERE e.tenant_id = $1 AND e.status = $2 AND LOWER(s.full_name) LIKE $3
        ORDER BY s.full_name ASC, e.id ASC
        LIMIT $4`, enrollmentDetailColumns)
	pattern := "%" + strings.ToLower(strings.TrimSpace(token)) + "%"
	var details []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &details, query, tenantID, models.EnrollmentStatusActive, pattern, limit); err != nil {
		return nil, fmt.Errorf("search enrollments: %w", err)
	}
	return details, nil
}

// FindDetailByID returns one enrollment with display names, regardless of status.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, tenantID, enrollmentID string) (*models.EnrollmentDetail, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments e
        JOIN students s ON s.id = e.student_id
        JOIN classes c ON c.id = e.class_id
        WHERE e.tenant_id = $1 AND e.id = $2`, enrollmentDetailColumns)
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, tenantID, enrollmentID); err != nil {
		return nil, err
	}
	return &detail, nil
}
