package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rosterly/enrol-recon-api/internal/models"
	"github.com/rosterly/enrol-recon-api/pkg/config"
	appErrors "github.com/rosterly/enrol-recon-api/pkg/errors"
	"github.com/rosterly/enrol-recon-api/pkg/export"
	"github.com/rosterly/enrol-recon-api/pkg/spreadsheet"
	"github.com/rosterly/enrol-recon-api/pkg/storage"
)

type importBatchStore interface {
	Create(ctx context.Context, batch *models.Batch) error
	GetByID(ctx context.Context, tenantID, id string) (*models.Batch, error)
	List(ctx context.Context, tenantID string, filter models.BatchFilter) ([]models.Batch, int, error)
	UpdateStatus(ctx context.Context, tenantID, id string, status models.BatchStatus, errorText *string) error
	SetReviewOutcome(ctx context.Context, tenantID, id string, outcome models.ReviewOutcome, note *string) error
	UpdateCounts(ctx context.Context, tenantID, id string, counts models.BatchCounts) error
	RecountBatch(ctx context.Context, tenantID, batchID string) (models.BatchCounts, error)
	InsertStagedRows(ctx context.Context, rows []models.StagedRow) error
	ListStagedRows(ctx context.Context, tenantID, batchID string, status models.RowStatus) ([]models.StagedRow, error)
	GetStagedRow(ctx context.Context, tenantID, batchID, rowID string) (*models.StagedRow, error)
	LinkStagedRow(ctx context.Context, tenantID, rowID, enrollmentID string) error
	SetRowStatus(ctx context.Context, tenantID, rowID string, status models.RowStatus) error
	InsertProposedChanges(ctx context.Context, changes []models.ProposedChange) error
	ListChanges(ctx context.Context, tenantID, batchID string) ([]models.ProposedChange, error)
	GetChangeByRow(ctx context.Context, tenantID, stagedRowID string) (*models.ProposedChange, error)
	UpdateChange(ctx context.Context, change *models.ProposedChange) error
	SetChangeExcluded(ctx context.Context, tenantID, stagedRowID string, excluded bool) error
}

type rowMatcher interface {
	ProcessRowsForMatching(ctx context.Context, tenantID string, rows []spreadsheet.ParsedRow) ([]models.RowOutcome, models.MatchRunCounts, error)
	FindCandidateEnrollments(ctx context.Context, tenantID string, fields spreadsheet.ParsedFields) (models.MatchResult, error)
	CalculateDiff(ctx context.Context, tenantID string, fields spreadsheet.ParsedFields, enrollmentID string) (models.FieldDiff, error)
}

type summaryCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
	BatchSummaryKey(tenantID, batchID string) string
}

type fileStore interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
}

// ImportService owns the batch lifecycle: upload and parse, review edits,
// status recomputation, exports and original-file retrieval. The transactional
// apply itself lives in ApplyService.
type ImportService struct {
	batches  importBatchStore
	matcher  rowMatcher
	cache    summaryCache
	files    fileStore
	signer   *storage.SignedURLSigner
	validate *validator.Validate
	metrics  *MetricsService
	logger   *zap.Logger
	cfg      config.ImportConfig
}

// NewImportService constructs the service. cache, validate and metrics may be nil.
func NewImportService(batches importBatchStore, matcher rowMatcher, cache summaryCache, files fileStore,
	signer *storage.SignedURLSigner, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger,
	cfg config.ImportConfig) *ImportService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImportService{
		batches:  batches,
		matcher:  matcher,
		cache:    cache,
		files:    files,
		signer:   signer,
		validate: validate,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
	}
}

// Upload ingests one spreadsheet: validates the file, parses it, runs
// matching and persists the staged rows and proposed changes. A structurally
// broken file fails the batch, it never fails the request.
func (s *ImportService) Upload(ctx context.Context, tenantID, uploadedBy, fileName string, data []byte) (*models.Batch, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	if !s.extensionAllowed(ext) {
		return nil, appErrors.Clone(appErrors.ErrUnsupportedFile, fmt.Sprintf("file type %q is not supported", ext))
	}
	if int64(len(data)) > s.cfg.MaxFileSizeBytes {
		return nil, appErrors.Clone(appErrors.ErrFileTooLarge,
			fmt.Sprintf("file is %d bytes, maximum is %d", len(data), s.cfg.MaxFileSizeBytes))
	}

	batch := &models.Batch{
		TenantID:   tenantID,
		FileName:   fileName,
		FileSize:   int64(len(data)),
		Status:     models.BatchStatusReceived,
		UploadedBy: uploadedBy,
	}
	if err := s.batches.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}

	if _, err := s.files.Save(storedFileName(batch.ID, fileName), data); err != nil {
		return nil, fmt.Errorf("store uploaded file: %w", err)
	}

	if err := s.batches.UpdateStatus(ctx, tenantID, batch.ID, models.BatchStatusParsing, nil); err != nil {
		return nil, fmt.Errorf("update batch status: %w", err)
	}
	batch.Status = models.BatchStatusParsing

	parsed, err := spreadsheet.Parse(data)
	if err != nil {
		// Structural failure is a terminal batch outcome, not a request error.
		text := err.Error()
		if updErr := s.batches.UpdateStatus(ctx, tenantID, batch.ID, models.BatchStatusFailedValidation, &text); updErr != nil {
			return nil, fmt.Errorf("fail batch: %w", updErr)
		}
		batch.Status = models.BatchStatusFailedValidation
		batch.ErrorText = &text
		s.metrics.CountBatch(string(batch.Status))
		s.logger.Warn("spreadsheet rejected at parse",
			zap.String("batch_id", batch.ID),
			zap.String("tenant_id", tenantID),
			zap.String("reason", text))
		return batch, nil
	}

	outcomes, runCounts, err := s.matcher.ProcessRowsForMatching(ctx, tenantID, parsed.Rows)
	if err != nil {
		return nil, fmt.Errorf("match batch %s: %w", batch.ID, err)
	}

	rows, changes, err := buildStagedArtifacts(batch, tenantID, parsed.Rows, outcomes)
	if err != nil {
		return nil, err
	}
	if err := s.batches.InsertStagedRows(ctx, rows); err != nil {
		return nil, fmt.Errorf("persist staged rows: %w", err)
	}
	if err := s.batches.InsertProposedChanges(ctx, changes); err != nil {
		return nil, fmt.Errorf("persist proposed changes: %w", err)
	}

	counts := models.BatchCounts{
		TotalRows:     parsed.TotalRows,
		ValidRows:     runCounts.Valid - runCounts.Ambiguous,
		InvalidRows:   runCounts.Invalid,
		AmbiguousRows: runCounts.Ambiguous,
		NewCount:      runCounts.Inserts,
		UpdateCount:   runCounts.Updates,
	}
	if err := s.batches.UpdateCounts(ctx, tenantID, batch.ID, counts); err != nil {
		return nil, fmt.Errorf("update batch counts: %w", err)
	}

	status := models.BatchStatusProposedOK
	if counts.InvalidRows > 0 || counts.AmbiguousRows > 0 {
		status = models.BatchStatusProposedNeedsReview
	}
	if err := s.batches.UpdateStatus(ctx, tenantID, batch.ID, status, nil); err != nil {
		return nil, fmt.Errorf("update batch status: %w", err)
	}

	applyCounts(batch, counts)
	batch.Status = status
	s.metrics.CountBatch(string(status))
	s.metrics.CountRowsParsed(runCounts.Valid, runCounts.Invalid)
	s.logger.Info("batch staged",
		zap.String("batch_id", batch.ID),
		zap.String("tenant_id", tenantID),
		zap.String("status", string(status)),
		zap.Int("total_rows", counts.TotalRows),
		zap.Int("invalid_rows", counts.InvalidRows),
		zap.Int("ambiguous_rows", counts.AmbiguousRows))
	return batch, nil
}

// GetBatch returns one batch, served from cache when possible.
func (s *ImportService) GetBatch(ctx context.Context, tenantID, batchID string) (*models.Batch, error) {
	if s.cache != nil {
		var cached models.Batch
		key := s.cache.BatchSummaryKey(tenantID, batchID)
		if err := s.cache.GetJSON(ctx, key, &cached); err == nil {
			s.metrics.RecordCacheOperation(true)
			return &cached, nil
		}
		s.metrics.RecordCacheOperation(false)
	}

	batch, err := s.batches.GetByID(ctx, tenantID, batchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("load batch: %w", err)
	}

	if s.cache != nil {
		key := s.cache.BatchSummaryKey(tenantID, batchID)
		if err := s.cache.SetJSON(ctx, key, batch, s.cfg.SummaryCacheTTL); err != nil {
			s.logger.Warn("cache batch summary", zap.String("batch_id", batchID), zap.Error(err))
		}
	}
	return batch, nil
}

// ListBatches returns a page of batches for the tenant.
func (s *ImportService) ListBatches(ctx context.Context, tenantID string, filter models.BatchFilter) ([]models.Batch, int, error) {
	return s.batches.List(ctx, tenantID, filter)
}

// ListRows returns the staged rows of a batch with their proposed changes,
// keyed by staged-row ID.
func (s *ImportService) ListRows(ctx context.Context, tenantID, batchID string, status models.RowStatus) ([]models.StagedRow, map[string]models.ProposedChange, error) {
	if _, err := s.GetBatch(ctx, tenantID, batchID); err != nil {
		return nil, nil, err
	}
	rows, err := s.batches.ListStagedRows(ctx, tenantID, batchID, status)
	if err != nil {
		return nil, nil, err
	}
	changes, err := s.batches.ListChanges(ctx, tenantID, batchID)
	if err != nil {
		return nil, nil, err
	}
	byRow := make(map[string]models.ProposedChange, len(changes))
	for _, c := range changes {
		byRow[c.StagedRowID] = c
	}
	return rows, byRow, nil
}

type reviewInput struct {
	Outcome models.ReviewOutcome `validate:"required,oneof=CONFIRM DENY"`
}

// Review records the reviewer's decision. DENY rejects the batch outright;
// CONFIRM arms the gate and promotes a clean batch to READY_TO_APPLY.
func (s *ImportService) Review(ctx context.Context, tenantID, batchID string, outcome models.ReviewOutcome, note *string) (*models.Batch, error) {
	if err := s.validate.Struct(reviewInput{Outcome: outcome}); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown review outcome %q", outcome))
	}

	batch, err := s.batches.GetByID(ctx, tenantID, batchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("load batch: %w", err)
	}

	switch outcome {
	case models.ReviewOutcomeDeny:
		if !CanReject(batch.Status) {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed,
				fmt.Sprintf("batch in status %s cannot be rejected", batch.Status))
		}
		if err := s.batches.SetReviewOutcome(ctx, tenantID, batchID, outcome, note); err != nil {
			return nil, fmt.Errorf("record review: %w", err)
		}
		if err := s.batches.UpdateStatus(ctx, tenantID, batchID, models.BatchStatusRejected, nil); err != nil {
			return nil, fmt.Errorf("reject batch: %w", err)
		}
	case models.ReviewOutcomeConfirm:
		if !CanTriage(batch.Status) {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed,
				fmt.Sprintf("batch in status %s cannot be confirmed", batch.Status))
		}
		if err := s.batches.SetReviewOutcome(ctx, tenantID, batchID, outcome, note); err != nil {
			return nil, fmt.Errorf("record review: %w", err)
		}
		summary := batch.Summary()
		confirmed := outcome
		summary.ReviewOutcome = &confirmed
		if next := ComputeStatusAfterResolution(summary); next != batch.Status {
			if err := s.batches.UpdateStatus(ctx, tenantID, batchID, next, nil); err != nil {
				return nil, fmt.Errorf("promote batch: %w", err)
			}
		}
	}

	s.invalidateSummary(ctx, tenantID, batchID)
	return s.batches.GetByID(ctx, tenantID, batchID)
}

// RowCandidates re-runs candidate matching for one staged row so a reviewer
// can pick a resolution target. Matching never mutates, so this is safe to
// call repeatedly.
func (s *ImportService) RowCandidates(ctx context.Context, tenantID, batchID, rowID string) (models.MatchResult, error) {
	row, err := s.batches.GetStagedRow(ctx, tenantID, batchID, rowID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.MatchResult{}, appErrors.ErrNotFound
		}
		return models.MatchResult{}, fmt.Errorf("load staged row: %w", err)
	}
	fields := spreadsheet.ParsedFields{
		StudentName: row.StudentName,
		ClassName:   row.ClassName,
		StartDate:   row.StartDate,
		EndDate:     row.EndDate,
		Flag:        row.Flag,
	}
	return s.matcher.FindCandidateEnrollments(ctx, tenantID, fields)
}

// ResolveRow links an ambiguous row to the enrollment a human picked and
// recomputes its proposed change and the batch status.
func (s *ImportService) ResolveRow(ctx context.Context, tenantID, batchID, rowID, enrollmentID string) (*models.StagedRow, error) {
	batch, err := s.batches.GetByID(ctx, tenantID, batchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("load batch: %w", err)
	}
	if !CanTriage(batch.Status) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed,
			fmt.Sprintf("rows cannot be edited while the batch is %s", batch.Status))
	}

	row, err := s.batches.GetStagedRow(ctx, tenantID, batchID, rowID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("load staged row: %w", err)
	}
	if row.RowStatus != models.RowStatusAmbiguous {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed,
			fmt.Sprintf("row %d is %s, only ambiguous rows can be resolved", row.RowNumber, row.RowStatus))
	}

	fields := spreadsheet.ParsedFields{
		StudentName: row.StudentName,
		ClassName:   row.ClassName,
		StartDate:   row.StartDate,
		EndDate:     row.EndDate,
		Flag:        row.Flag,
	}
	diff, err := s.matcher.CalculateDiff(ctx, tenantID, fields, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, fmt.Errorf("diff resolved row: %w", err)
	}

	if err := s.batches.LinkStagedRow(ctx, tenantID, rowID, enrollmentID); err != nil {
		return nil, fmt.Errorf("link row: %w", err)
	}

	change, err := s.batches.GetChangeByRow(ctx, tenantID, rowID)
	if err != nil {
		return nil, fmt.Errorf("load proposed change: %w", err)
	}
	change.EnrollmentID = &enrollmentID
	if len(diff) == 0 {
		change.Action = models.ChangeActionNoop
		change.Diff = nil
	} else {
		change.Action = models.ChangeActionUpdate
		payload, err := json.Marshal(diff)
		if err != nil {
			return nil, fmt.Errorf("encode diff: %w", err)
		}
		change.Diff = payload
	}
	if err := s.batches.UpdateChange(ctx, change); err != nil {
		return nil, fmt.Errorf("update proposed change: %w", err)
	}

	if err := s.refreshBatchState(ctx, tenantID, batch); err != nil {
		return nil, err
	}
	return s.batches.GetStagedRow(ctx, tenantID, batchID, rowID)
}

// SetRowExclusion toggles a row in or out of the apply set. Re-including a
// row restores the status it earned during parsing and matching.
func (s *ImportService) SetRowExclusion(ctx context.Context, tenantID, batchID, rowID string, excluded bool) (*models.StagedRow, error) {
	batch, err := s.batches.GetByID(ctx, tenantID, batchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("load batch: %w", err)
	}
	if !CanTriage(batch.Status) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed,
			fmt.Sprintf("rows cannot be edited while the batch is %s", batch.Status))
	}

	row, err := s.batches.GetStagedRow(ctx, tenantID, batchID, rowID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("load staged row: %w", err)
	}

	if excluded {
		if err := s.batches.SetRowStatus(ctx, tenantID, rowID, models.RowStatusExcluded); err != nil {
			return nil, fmt.Errorf("exclude row: %w", err)
		}
	} else {
		restored, err := s.restoredRowStatus(ctx, tenantID, row)
		if err != nil {
			return nil, err
		}
		if err := s.batches.SetRowStatus(ctx, tenantID, rowID, restored); err != nil {
			return nil, fmt.Errorf("restore row: %w", err)
		}
	}
	if err := s.batches.SetChangeExcluded(ctx, tenantID, rowID, excluded); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("toggle change exclusion: %w", err)
	}

	if err := s.refreshBatchState(ctx, tenantID, batch); err != nil {
		return nil, err
	}
	return s.batches.GetStagedRow(ctx, tenantID, batchID, rowID)
}

// restoredRowStatus recomputes what a re-included row should be from its
// validation errors and its proposed change.
func (s *ImportService) restoredRowStatus(ctx context.Context, tenantID string, row *models.StagedRow) (models.RowStatus, error) {
	if len(row.ValidationErrors) > 0 && string(row.ValidationErrors) != "null" && string(row.ValidationErrors) != "[]" {
		return models.RowStatusInvalid, nil
	}
	change, err := s.batches.GetChangeByRow(ctx, tenantID, row.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.RowStatusValid, nil
		}
		return "", fmt.Errorf("load proposed change: %w", err)
	}
	if change.Action == models.ChangeActionNeedsResolution && row.LinkedEnrollmentID == nil {
		return models.RowStatusAmbiguous, nil
	}
	return models.RowStatusValid, nil
}

// refreshBatchState recounts the batch and moves its status if the edit
// changed what the state machine would conclude.
func (s *ImportService) refreshBatchState(ctx context.Context, tenantID string, batch *models.Batch) error {
	counts, err := s.batches.RecountBatch(ctx, tenantID, batch.ID)
	if err != nil {
		return fmt.Errorf("recount batch: %w", err)
	}
	if err := s.batches.UpdateCounts(ctx, tenantID, batch.ID, counts); err != nil {
		return fmt.Errorf("update batch counts: %w", err)
	}

	summary := models.BatchSummary{
		Status:          batch.Status,
		TotalRows:       counts.TotalRows,
		ValidRows:       counts.ValidRows,
		InvalidRows:     counts.InvalidRows,
		AmbiguousRows:   counts.AmbiguousRows,
		ProcessableRows: counts.ValidRows,
		ReviewOutcome:   batch.ReviewOutcome,
	}
	if next := ComputeStatusAfterResolution(summary); next != batch.Status {
		if err := s.batches.UpdateStatus(ctx, tenantID, batch.ID, next, nil); err != nil {
			return fmt.Errorf("update batch status: %w", err)
		}
		batch.Status = next
	}
	s.invalidateSummary(ctx, tenantID, batch.ID)
	return nil
}

// Export renders the batch's rows and proposed changes as CSV or PDF.
func (s *ImportService) Export(ctx context.Context, tenantID, batchID, format string) ([]byte, string, string, error) {
	batch, err := s.GetBatch(ctx, tenantID, batchID)
	if err != nil {
		return nil, "", "", err
	}
	rows, changesByRow, err := s.ListRows(ctx, tenantID, batchID, "")
	if err != nil {
		return nil, "", "", err
	}

	dataset := export.Dataset{
		Headers: []string{"Row", "Student", "Class", "Start Date", "End Date", "Status", "Action", "Score", "Errors"},
	}
	for _, row := range rows {
		record := map[string]string{
			"Row":        strconv.Itoa(row.RowNumber),
			"Student":    stringOrEmpty(row.StudentName),
			"Class":      stringOrEmpty(row.ClassName),
			"Start Date": formatDay(row.StartDate),
			"End Date":   formatDay(row.EndDate),
			"Status":     string(row.RowStatus),
			"Errors":     flattenValidationErrors(row.ValidationErrors),
		}
		if change, ok := changesByRow[row.ID]; ok {
			record["Action"] = string(change.Action)
			if change.Score != nil {
				record["Score"] = strconv.Itoa(*change.Score)
			}
		}
		dataset.Rows = append(dataset.Rows, record)
	}

	base := fmt.Sprintf("import-%s", batch.ID)
	switch strings.ToLower(format) {
	case "csv", "":
		payload, err := export.NewCSVExporter().Render(dataset)
		if err != nil {
			return nil, "", "", fmt.Errorf("render csv: %w", err)
		}
		return payload, "text/csv", base + ".csv", nil
	case "pdf":
		payload, err := export.NewPDFExporter().Render(dataset, fmt.Sprintf("Import %s (%s)", batch.FileName, batch.Status))
		if err != nil {
			return nil, "", "", fmt.Errorf("render pdf: %w", err)
		}
		return payload, "application/pdf", base + ".pdf", nil
	default:
		return nil, "", "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown export format %q", format))
	}
}

// SignedFileURL mints a time-limited token for downloading the original upload.
func (s *ImportService) SignedFileURL(ctx context.Context, tenantID, batchID string) (string, time.Time, error) {
	batch, err := s.GetBatch(ctx, tenantID, batchID)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.signer.Generate(batch.ID, storedFileName(batch.ID, batch.FileName))
}

// OpenSignedFile validates a download token and opens the stored file. The
// token is the authorization; no session is required.
func (s *ImportService) OpenSignedFile(token string) (*os.File, string, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "download link is invalid or expired")
	}
	f, err := s.files.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "stored file not found")
	}
	return f, filepath.Base(relPath), nil
}

func (s *ImportService) extensionAllowed(ext string) bool {
	for _, allowed := range s.cfg.AllowedExtensions {
		if strings.EqualFold(strings.TrimSpace(allowed), ext) {
			return true
		}
	}
	return false
}

func (s *ImportService) invalidateSummary(ctx context.Context, tenantID, batchID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, s.cache.BatchSummaryKey(tenantID, batchID)); err != nil {
		s.logger.Warn("invalidate batch summary", zap.String("batch_id", batchID), zap.Error(err))
	}
}

func storedFileName(batchID, originalName string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	if ext == "" {
		ext = ".xlsx"
	}
	return batchID + ext
}

func applyCounts(batch *models.Batch, counts models.BatchCounts) {
	batch.TotalRows = counts.TotalRows
	batch.ValidRows = counts.ValidRows
	batch.InvalidRows = counts.InvalidRows
	batch.AmbiguousRows = counts.AmbiguousRows
	batch.ExcludedRows = counts.ExcludedRows
	batch.NewCount = counts.NewCount
	batch.UpdateCount = counts.UpdateCount
}

// buildStagedArtifacts materialises rows and proposals from parser output and
// match outcomes, which arrive in the same order.
func buildStagedArtifacts(batch *models.Batch, tenantID string, parsedRows []spreadsheet.ParsedRow, outcomes []models.RowOutcome) ([]models.StagedRow, []models.ProposedChange, error) {
	if len(parsedRows) != len(outcomes) {
		return nil, nil, fmt.Errorf("matcher returned %d outcomes for %d rows", len(outcomes), len(parsedRows))
	}

	rows := make([]models.StagedRow, 0, len(parsedRows))
	changes := make([]models.ProposedChange, 0, len(parsedRows))
	for i, parsed := range parsedRows {
		outcome := outcomes[i]

		raw, err := json.Marshal(parsed.RawFields)
		if err != nil {
			return nil, nil, fmt.Errorf("encode raw fields for row %d: %w", parsed.RowNumber, err)
		}
		row := models.StagedRow{
			ID:          newStagedRowID(),
			BatchID:     batch.ID,
			TenantID:    tenantID,
			RowNumber:   parsed.RowNumber,
			RawFields:   raw,
			StudentName: parsed.Fields.StudentName,
			ClassName:   parsed.Fields.ClassName,
			StartDate:   parsed.Fields.StartDate,
			EndDate:     parsed.Fields.EndDate,
			Flag:        parsed.Fields.Flag,
			RowStatus:   models.RowStatusValid,
		}
		switch {
		case !parsed.IsValid():
			row.RowStatus = models.RowStatusInvalid
			errs, err := json.Marshal(parsed.Errors)
			if err != nil {
				return nil, nil, fmt.Errorf("encode validation errors for row %d: %w", parsed.RowNumber, err)
			}
			row.ValidationErrors = errs
		case outcome.Match.Decision == models.MatchDecisionAmbiguous:
			row.RowStatus = models.RowStatusAmbiguous
		}
		rows = append(rows, row)

		change := models.ProposedChange{
			BatchID:     batch.ID,
			StagedRowID: row.ID,
			TenantID:    tenantID,
			Action:      outcome.Action,
		}
		if outcome.Match.Best != nil {
			id := outcome.Match.Best.EnrollmentID
			change.EnrollmentID = &id
			score := outcome.Match.Best.Score
			change.Score = &score
		}
		if len(outcome.Diff) > 0 {
			payload, err := json.Marshal(outcome.Diff)
			if err != nil {
				return nil, nil, fmt.Errorf("encode diff for row %d: %w", parsed.RowNumber, err)
			}
			change.Diff = payload
		}
		changes = append(changes, change)
	}
	return rows, changes, nil
}

// newStagedRowID is assigned up front so proposed changes can reference their
// row before either is persisted.
func newStagedRowID() string {
	return uuid.NewString()
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func flattenValidationErrors(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var errs []spreadsheet.ValidationError
	if err := json.Unmarshal(raw, &errs); err != nil {
		return ""
	}
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return strings.Join(parts, "; ")
}
