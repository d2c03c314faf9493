package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/rosterly/enrol-recon-api/internal/models"
)

// BatchRepository persists import batches, their staged rows and proposed
// changes. Every query is tenant scoped.
type BatchRepository struct {
	db *sqlx.DB
}

// NewBatchRepository constructs the repository.
func NewBatchRepository(db *sqlx.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

const batchColumns = `id, tenant_id, file_name, file_size, status, total_rows, valid_rows, invalid_rows,
        ambiguous_rows, excluded_rows, new_count, update_count, review_outcome, review_note, error_text,
        uploaded_by, applied_by, applied_at, created_at, updated_at`

// Create persists a new batch record.
func (r *BatchRepository) Create(ctx context.Context, batch *models.Batch) error {
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = now
	}
	batch.UpdatedAt = now
	if batch.Status == "" {
		batch.Status = models.BatchStatusReceived
	}
	const query = `INSERT INTO import_batches (id, tenant_id, file_name, file_size, status, total_rows, valid_rows,
        invalid_rows, ambiguous_rows, excluded_rows, new_count, update_count, review_outcome, review_note,
        error_text, uploaded_by, applied_by, applied_at, created_at, updated_at)
        VALUES (:id, :tenant_id, :file_name, :file_size, :status, :total_rows, :valid_rows, :invalid_rows,
        :ambiguous_rows, :excluded_rows, :new_count, :update_count, :review_outcome, :review_note, :error_text,
        :uploaded_by, :applied_by, :applied_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, batch); err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

// GetByID returns a batch owned by the tenant.
func (r *BatchRepository) GetByID(ctx context.Context, tenantID, id string) (*models.Batch, error) {
	query := fmt.Sprintf(`SELECT %s FROM import_batches WHERE tenant_id = $1 AND id = $2`, batchColumns)
	var batch models.Batch
	if err := r.db.GetContext(ctx, &batch, query, tenantID, id); err != nil {
		return nil, err
	}
	return &batch, nil
}

// List returns batches for a tenant, newest first.
func (r *BatchRepository) List(ctx context.Context, tenantID string, filter models.BatchFilter) ([]models.Batch, int, error) {
	conditions := "WHERE tenant_id = $1"
	args := []interface{}{tenantID}
	if filter.Status != "" {
		conditions += fmt.Sprintf(" AND status = $%d", len(args)+1)
		args = append(args, filter.Status)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM import_batches %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		batchColumns, conditions, size, offset)
	var batches []models.Batch
	if err := r.db.SelectContext(ctx, &batches, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list batches: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM import_batches " + conditions
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count batches: %w", err)
	}
	return batches, total, nil
}

// UpdateStatus moves a batch to the given status, optionally recording error text.
func (r *BatchRepository) UpdateStatus(ctx context.Context, tenantID, id string, status models.BatchStatus, errorText *string) error {
	const query = `UPDATE import_batches SET status = $3, error_text = $4, updated_at = $5 WHERE tenant_id = $1 AND id = $2`
	if _, err := r.db.ExecContext(ctx, query, tenantID, id, status, errorText, time.Now().UTC()); err != nil {
		return fmt.Errorf("update batch status: %w", err)
	}
	return nil
}

// TryMarkApplying flips READY_TO_APPLY to APPLYING with a status-conditioned
// update. Returning false means another apply attempt won the race.
func (r *BatchRepository) TryMarkApplying(ctx context.Context, tenantID, id string) (bool, error) {
	const query = `UPDATE import_batches SET status = $3, updated_at = $4
        WHERE tenant_id = $1 AND id = $2 AND status = $5`
	res, err := r.db.ExecContext(ctx, query, tenantID, id, models.BatchStatusApplying, time.Now().UTC(), models.BatchStatusReadyToApply)
	if err != nil {
		return false, fmt.Errorf("mark batch applying: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark batch applying: %w", err)
	}
	return affected == 1, nil
}

// MarkApplied stamps the terminal APPLIED state. Only an APPLYING batch may be
// stamped; a stray call can never overwrite another terminal state.
func (r *BatchRepository) MarkApplied(ctx context.Context, tenantID, id, appliedBy string, appliedAt time.Time) error {
	const query = `UPDATE import_batches SET status = $3, applied_by = $4, applied_at = $5, updated_at = $5
        WHERE tenant_id = $1 AND id = $2 AND status = $6`
	res, err := r.db.ExecContext(ctx, query, tenantID, id, models.BatchStatusApplied, appliedBy, appliedAt, models.BatchStatusApplying)
	if err != nil {
		return fmt.Errorf("mark batch applied: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkFailed stamps the terminal FAILED_SYSTEM state with the causal error.
// Conditioned on APPLYING for the same reason as MarkApplied.
func (r *BatchRepository) MarkFailed(ctx context.Context, tenantID, id, errorText string) error {
	const query = `UPDATE import_batches SET status = $3, error_text = $4, updated_at = $5
        WHERE tenant_id = $1 AND id = $2 AND status = $6`
	res, err := r.db.ExecContext(ctx, query, tenantID, id, models.BatchStatusFailedSystem, errorText, time.Now().UTC(), models.BatchStatusApplying)
	if err != nil {
		return fmt.Errorf("mark batch failed: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetReviewOutcome records the human review decision.
func (r *BatchRepository) SetReviewOutcome(ctx context.Context, tenantID, id string, outcome models.ReviewOutcome, note *string) error {
	const query = `UPDATE import_batches SET review_outcome = $3, review_note = $4, updated_at = $5
        WHERE tenant_id = $1 AND id = $2`
	if _, err := r.db.ExecContext(ctx, query, tenantID, id, outcome, note, time.Now().UTC()); err != nil {
		return fmt.Errorf("set review outcome: %w", err)
	}
	return nil
}

// UpdateCounts stores recomputed row tallies on the batch.
func (r *BatchRepository) UpdateCounts(ctx context.Context, tenantID, id string, counts models.BatchCounts) error {
	const query = `UPDATE import_batches SET total_rows = $3, valid_rows = $4, invalid_rows = $5,
        ambiguous_rows = $6, excluded_rows = $7, new_count = $8, update_count = $9, updated_at = $10
        WHERE tenant_id = $1 AND id = $2`
	if _, err := r.db.ExecContext(ctx, query, tenantID, id, counts.TotalRows, counts.ValidRows, counts.InvalidRows,
		counts.AmbiguousRows, counts.ExcludedRows, counts.NewCount, counts.UpdateCount, time.Now().UTC()); err != nil {
		return fmt.Errorf("update batch counts: %w", err)
	}
	return nil
}

// RecountBatch recomputes the tallies from current staged-row and
// proposed-change state so the state machine always sees fresh counts.
func (r *BatchRepository) RecountBatch(ctx context.Context, tenantID, batchID string) (models.BatchCounts, error) {
	const rowQuery = `SELECT
        COUNT(*) AS total_rows,
        COUNT(*) FILTER (WHERE row_status = 'VALID') AS valid_rows,
        COUNT(*) FILTER (WHERE row_status = 'INVALID') AS invalid_rows,
        COUNT(*) FILTER (WHERE row_status = 'AMBIGUOUS') AS ambiguous_rows,
        COUNT(*) FILTER (WHERE row_status = 'EXCLUDED') AS excluded_rows
        FROM staged_rows WHERE tenant_id = $1 AND batch_id = $2`
	var counts models.BatchCounts
	if err := r.db.GetContext(ctx, &counts, rowQuery, tenantID, batchID); err != nil {
		return models.BatchCounts{}, fmt.Errorf("recount staged rows: %w", err)
	}

	const changeQuery = `SELECT
        COUNT(*) FILTER (WHERE action = 'INSERT') AS new_count,
        COUNT(*) FILTER (WHERE action = 'UPDATE') AS update_count
        FROM proposed_changes WHERE tenant_id = $1 AND batch_id = $2 AND is_excluded = FALSE`
	var actions struct {
		NewCount    int `db:"new_count"`
		UpdateCount int `db:"update_count"`
	}
	if err := r.db.GetContext(ctx, &actions, changeQuery, tenantID, batchID); err != nil {
		return models.BatchCounts{}, fmt.Errorf("recount proposed changes: %w", err)
	}
	counts.NewCount = actions.NewCount
	counts.UpdateCount = actions.UpdateCount
	return counts, nil
}

// NULL jsonb cannot scan into json.RawMessage, so nullable payload columns
// read back as the literal null document.
const stagedRowColumns = `id, batch_id, tenant_id, row_number, raw_fields, student_name, class_name,
        start_date, end_date, flag, row_status, COALESCE(validation_errors, 'null') AS validation_errors,
        linked_enrollment_id, created_at`

// InsertStagedRows bulk-inserts the parsed rows of a batch.
func (r *BatchRepository) InsertStagedRows(ctx context.Context, rows []models.StagedRow) error {
	if len(rows) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range rows {
		if rows[i].ID == "" {
			rows[i].ID = uuid.NewString()
		}
		if rows[i].CreatedAt.IsZero() {
			rows[i].CreatedAt = now
		}
	}
	const query = `INSERT INTO staged_rows (id, batch_id, tenant_id, row_number, raw_fields, student_name,
        class_name, start_date, end_date, flag, row_status, validation_errors, linked_enrollment_id, created_at)
        VALUES (:id, :batch_id, :tenant_id, :row_number, :raw_fields, :student_name, :class_name, :start_date,
        :end_date, :flag, :row_status, :validation_errors, :linked_enrollment_id, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, rows); err != nil {
		return fmt.Errorf("insert staged rows: %w", err)
	}
	return nil
}

// ListStagedRows returns a batch's rows ordered by spreadsheet position,
// optionally filtered by row status.
func (r *BatchRepository) ListStagedRows(ctx context.Context, tenantID, batchID string, status models.RowStatus) ([]models.StagedRow, error) {
	query := fmt.Sprintf(`SELECT %s FROM staged_rows WHERE tenant_id = $1 AND batch_id = $2`, stagedRowColumns)
	args := []interface{}{tenantID, batchID}
	if status != "" {
		query += " AND row_status = $3"
		args = append(args, status)
	}
	query += " ORDER BY row_number ASC"
	var rows []models.StagedRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list staged rows: %w", err)
	}
	return rows, nil
}

// GetStagedRow returns one staged row of a batch.
func (r *BatchRepository) GetStagedRow(ctx context.Context, tenantID, batchID, rowID string) (*models.StagedRow, error) {
	query := fmt.Sprintf(`SELECT %s FROM staged_rows WHERE tenant_id = $1 AND batch_id = $2 AND id = $3`, stagedRowColumns)
	var row models.StagedRow
	if err := r.db.GetContext(ctx, &row, query, tenantID, batchID, rowID); err != nil {
		return nil, err
	}
	return &row, nil
}

// LinkStagedRow records human ambiguity resolution by pointing the row at an
// existing enrollment and marking it valid again.
func (r *BatchRepository) LinkStagedRow(ctx context.Context, tenantID, rowID, enrollmentID string) error {
	const query = `UPDATE staged_rows SET linked_enrollment_id = $3, row_status = $4 WHERE tenant_id = $1 AND id = $2`
	if _, err := r.db.ExecContext(ctx, query, tenantID, rowID, enrollmentID, models.RowStatusValid); err != nil {
		return fmt.Errorf("link staged row: %w", err)
	}
	return nil
}

// SetRowStatus updates a staged row's review status.
func (r *BatchRepository) SetRowStatus(ctx context.Context, tenantID, rowID string, status models.RowStatus) error {
	const query = `UPDATE staged_rows SET row_status = $3 WHERE tenant_id = $1 AND id = $2`
	if _, err := r.db.ExecContext(ctx, query, tenantID, rowID, status); err != nil {
		return fmt.Errorf("set staged row status: %w", err)
	}
	return nil
}

const changeColumns = `id, batch_id, staged_row_id, tenant_id, action, enrollment_id,
        COALESCE(diff, 'null') AS diff, score, is_excluded, created_at, updated_at`

// InsertProposedChanges bulk-inserts the matcher's proposals for a batch.
func (r *BatchRepository) InsertProposedChanges(ctx context.Context, changes []models.ProposedChange) error {
	if len(changes) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range changes {
		if changes[i].ID == "" {
			changes[i].ID = uuid.NewString()
		}
		if changes[i].CreatedAt.IsZero() {
			changes[i].CreatedAt = now
		}
		changes[i].UpdatedAt = now
	}
	const query = `INSERT INTO proposed_changes (id, batch_id, staged_row_id, tenant_id, action, enrollment_id,
        diff, score, is_excluded, created_at, updated_at)
        VALUES (:id, :batch_id, :staged_row_id, :tenant_id, :action, :enrollment_id, :diff, :score, :is_excluded,
        :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, changes); err != nil {
		return fmt.Errorf("insert proposed changes: %w", err)
	}
	return nil
}

// ListChanges returns all proposed changes of a batch keyed for review display.
func (r *BatchRepository) ListChanges(ctx context.Context, tenantID, batchID string) ([]models.ProposedChange, error) {
	query := fmt.Sprintf(`SELECT %s FROM proposed_changes WHERE tenant_id = $1 AND batch_id = $2`, changeColumns)
	var changes []models.ProposedChange
	if err := r.db.SelectContext(ctx, &changes, query, tenantID, batchID); err != nil {
		return nil, fmt.Errorf("list proposed changes: %w", err)
	}
	return changes, nil
}

// GetChangeByRow returns the proposed change belonging to a staged row.
func (r *BatchRepository) GetChangeByRow(ctx context.Context, tenantID, stagedRowID string) (*models.ProposedChange, error) {
	query := fmt.Sprintf(`SELECT %s FROM proposed_changes WHERE tenant_id = $1 AND staged_row_id = $2`, changeColumns)
	var change models.ProposedChange
	if err := r.db.GetContext(ctx, &change, query, tenantID, stagedRowID); err != nil {
		return nil, err
	}
	return &change, nil
}

// UpdateChange rewrites the action, target and diff of a proposed change
// after human resolution.
func (r *BatchRepository) UpdateChange(ctx context.Context, change *models.ProposedChange) error {
	const query = `UPDATE proposed_changes SET action = $3, enrollment_id = $4, diff = $5, score = $6, updated_at = $7
        WHERE tenant_id = $1 AND id = $2`
	if _, err := r.db.ExecContext(ctx, query, change.TenantID, change.ID, change.Action, change.EnrollmentID,
		change.Diff, change.Score, time.Now().UTC()); err != nil {
		return fmt.Errorf("update proposed change: %w", err)
	}
	return nil
}

// SetChangeExcluded toggles a proposed change in or out of the apply set.
func (r *BatchRepository) SetChangeExcluded(ctx context.Context, tenantID, stagedRowID string, excluded bool) error {
	const query = `UPDATE proposed_changes SET is_excluded = $3, updated_at = $4 WHERE tenant_id = $1 AND staged_row_id = $2`
	res, err := r.db.ExecContext(ctx, query, tenantID, stagedRowID, excluded, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set change excluded: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
