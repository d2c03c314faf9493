package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rosterly/enrol-recon-api/internal/models"
	"github.com/rosterly/enrol-recon-api/internal/repository"
	appErrors "github.com/rosterly/enrol-recon-api/pkg/errors"
	"github.com/rosterly/enrol-recon-api/pkg/spreadsheet"
)

// maxReportedRowErrors caps the per-row error list returned to callers so a
// pathological batch cannot flood the response.
const maxReportedRowErrors = 10

type applyBatchStore interface {
	GetByID(ctx context.Context, tenantID, id string) (*models.Batch, error)
	TryMarkApplying(ctx context.Context, tenantID, id string) (bool, error)
	MarkApplied(ctx context.Context, tenantID, id, appliedBy string, appliedAt time.Time) error
	MarkFailed(ctx context.Context, tenantID, id, errorText string) error
	RecountBatch(ctx context.Context, tenantID, batchID string) (models.BatchCounts, error)
	UpdateCounts(ctx context.Context, tenantID, id string, counts models.BatchCounts) error
}

type applyUnitOfWork interface {
	InTransaction(ctx context.Context, fn func(store repository.ApplyStore) error) error
}

// ApplyService executes confirmed batches against the live enrollment tables.
// The whole batch commits or rolls back as one transaction.
type ApplyService struct {
	batches applyBatchStore
	uow     applyUnitOfWork
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// NewApplyService constructs the apply service. metrics may be nil.
func NewApplyService(batches applyBatchStore, uow applyUnitOfWork, metrics *MetricsService, logger *zap.Logger) *ApplyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApplyService{
		batches: batches,
		uow:     uow,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// ApplyBatchChanges runs the commit gate and, if it passes, applies every
// non-excluded proposed change inside one transaction. A gate refusal is a
// normal outcome, reported through the result rather than an error.
func (s *ApplyService) ApplyBatchChanges(ctx context.Context, tenantID, batchID, appliedBy string) (*models.ApplyResult, error) {
	batch, err := s.batches.GetByID(ctx, tenantID, batchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("load batch: %w", err)
	}

	gate := CanApply(batch.Summary())
	if !gate.Allowed {
		return &models.ApplyResult{Success: false, Reasons: gate.Reasons}, nil
	}

	// Conditional flip to APPLYING closes the double-submit race: only one
	// caller observes the READY_TO_APPLY row.
	won, err := s.batches.TryMarkApplying(ctx, tenantID, batchID)
	if err != nil {
		return nil, fmt.Errorf("mark batch applying: %w", err)
	}
	if !won {
		return &models.ApplyResult{
			Success: false,
			Reasons: []string{"another apply attempt is already in progress for this batch"},
		}, nil
	}

	started := s.now()
	result := &models.ApplyResult{}
	txErr := s.uow.InTransaction(ctx, func(store repository.ApplyStore) error {
		changes, err := store.ListApplicableChanges(ctx, tenantID, batchID)
		if err != nil {
			return err
		}
		for i := range changes {
			if err := s.applyChange(ctx, store, tenantID, &changes[i], result); err != nil {
				return err
			}
		}
		return nil
	})

	if txErr != nil {
		s.logger.Error("apply transaction rolled back",
			zap.String("batch_id", batchID),
			zap.String("tenant_id", tenantID),
			zap.Error(txErr))
		if markErr := s.batches.MarkFailed(ctx, tenantID, batchID, txErr.Error()); markErr != nil {
			s.logger.Error("mark batch failed", zap.String("batch_id", batchID), zap.Error(markErr))
		}
		s.metrics.ObserveApply(string(models.BatchStatusFailedSystem), s.now().Sub(started))
		return nil, appErrors.Wrap(txErr, "APPLY_FAILED", appErrors.ErrInternal.Status, "applying batch changes failed, nothing was committed")
	}

	appliedAt := s.now()
	if err := s.batches.MarkApplied(ctx, tenantID, batchID, appliedBy, appliedAt); err != nil {
		return nil, fmt.Errorf("mark batch applied: %w", err)
	}
	result.Success = true
	s.metrics.ObserveApply(string(models.BatchStatusApplied), appliedAt.Sub(started))
	s.logger.Info("batch applied",
		zap.String("batch_id", batchID),
		zap.String("tenant_id", tenantID),
		zap.Int("inserted", result.InsertedCount),
		zap.Int("updated", result.UpdatedCount),
		zap.Int("skipped", result.SkippedCount))
	return result, nil
}

func (s *ApplyService) applyChange(ctx context.Context, store repository.ApplyStore, tenantID string, change *models.ProposedChange, result *models.ApplyResult) error {
	row, err := store.GetStagedRow(ctx, tenantID, change.StagedRowID)
	if err != nil {
		return fmt.Errorf("load staged row %s: %w", change.StagedRowID, err)
	}

	switch change.Action {
	case models.ChangeActionNoop:
		result.SkippedCount++
		if change.EnrollmentID != nil {
			result.EnrollmentIDs = append(result.EnrollmentIDs, *change.EnrollmentID)
		}
		return nil
	case models.ChangeActionInsert:
		return s.applyInsert(ctx, store, tenantID, row, result)
	case models.ChangeActionUpdate:
		return s.applyUpdate(ctx, store, tenantID, change, row, result)
	case models.ChangeActionNeedsResolution:
		return fmt.Errorf("row %d still needs resolution", row.RowNumber)
	default:
		return fmt.Errorf("row %d has unknown change action %q", row.RowNumber, change.Action)
	}
}

func (s *ApplyService) applyInsert(ctx context.Context, store repository.ApplyStore, tenantID string, row *models.StagedRow, result *models.ApplyResult) error {
	// A row linked to an existing enrollment after resolution needs no insert.
	if row.LinkedEnrollmentID != nil {
		result.SkippedCount++
		result.EnrollmentIDs = append(result.EnrollmentIDs, *row.LinkedEnrollmentID)
		return nil
	}
	if row.StudentName == nil || row.ClassName == nil || row.StartDate == nil {
		return fmt.Errorf("row %d is missing required fields for insert", row.RowNumber)
	}

	class, err := store.FindClassByName(ctx, tenantID, *row.ClassName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			recordRowError(result, row.RowNumber, fmt.Sprintf("class %q does not exist", *row.ClassName))
			result.SkippedCount++
			return nil
		}
		return fmt.Errorf("find class for row %d: %w", row.RowNumber, err)
	}

	student := &models.Student{
		TenantID:     tenantID,
		FullName:     *row.StudentName,
		Email:        ProvisionalEmail(*row.StudentName, s.now()),
		Status:       models.StudentStatusProvisional,
		ImportOrigin: true,
	}
	if err := store.InsertStudent(ctx, student); err != nil {
		return fmt.Errorf("insert student for row %d: %w", row.RowNumber, err)
	}

	enrollment := &models.Enrollment{
		TenantID:  tenantID,
		StudentID: student.ID,
		ClassID:   class.ID,
		StartDate: *row.StartDate,
		EndDate:   row.EndDate,
		Status:    models.EnrollmentStatusActive,
	}
	if err := store.InsertEnrollment(ctx, enrollment); err != nil {
		return fmt.Errorf("insert enrollment for row %d: %w", row.RowNumber, err)
	}

	result.InsertedCount++
	result.AppliedCount++
	result.EnrollmentIDs = append(result.EnrollmentIDs, enrollment.ID)
	return nil
}

func (s *ApplyService) applyUpdate(ctx context.Context, store repository.ApplyStore, tenantID string, change *models.ProposedChange, row *models.StagedRow, result *models.ApplyResult) error {
	if change.EnrollmentID == nil {
		return fmt.Errorf("row %d proposes an update without a target enrollment", row.RowNumber)
	}
	diff, err := change.DecodeDiff()
	if err != nil {
		return fmt.Errorf("decode diff for row %d: %w", row.RowNumber, err)
	}

	// Only date fields are written back; name and class differences are
	// surfaced for review but never auto-corrected.
	var startDate, endDate *time.Time
	if fc, ok := diff[spreadsheet.ColumnStartDate]; ok && fc.New != "" {
		t, err := time.Parse("2006-01-02", fc.New)
		if err != nil {
			return fmt.Errorf("row %d has malformed start date in diff: %w", row.RowNumber, err)
		}
		startDate = &t
	}
	if fc, ok := diff[spreadsheet.ColumnEndDate]; ok && fc.New != "" {
		t, err := time.Parse("2006-01-02", fc.New)
		if err != nil {
			return fmt.Errorf("row %d has malformed end date in diff: %w", row.RowNumber, err)
		}
		endDate = &t
	}
	if startDate == nil && endDate == nil {
		result.SkippedCount++
		result.EnrollmentIDs = append(result.EnrollmentIDs, *change.EnrollmentID)
		return nil
	}

	if err := store.UpdateEnrollmentDates(ctx, tenantID, *change.EnrollmentID, startDate, endDate); err != nil {
		return fmt.Errorf("update enrollment for row %d: %w", row.RowNumber, err)
	}
	result.UpdatedCount++
	result.AppliedCount++
	result.EnrollmentIDs = append(result.EnrollmentIDs, *change.EnrollmentID)
	return nil
}

// UpdateBatchCounts recomputes a batch's tallies from row state and persists
// them so the commit gate always evaluates fresh numbers.
func (s *ApplyService) UpdateBatchCounts(ctx context.Context, tenantID, batchID string) (models.BatchCounts, error) {
	counts, err := s.batches.RecountBatch(ctx, tenantID, batchID)
	if err != nil {
		return models.BatchCounts{}, err
	}
	if err := s.batches.UpdateCounts(ctx, tenantID, batchID, counts); err != nil {
		return models.BatchCounts{}, err
	}
	return counts, nil
}

func recordRowError(result *models.ApplyResult, rowNumber int, message string) {
	if len(result.Errors) >= maxReportedRowErrors {
		result.HasMoreErrors = true
		return
	}
	result.Errors = append(result.Errors, models.RowError{RowNumber: rowNumber, Message: message})
}
