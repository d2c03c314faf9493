package service

import (
	"context"
	"database/sql"
	"os"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/rosterly/enrol-recon-api/internal/models"
	"github.com/rosterly/enrol-recon-api/pkg/config"
	appErrors "github.com/rosterly/enrol-recon-api/pkg/errors"
	"github.com/rosterly/enrol-recon-api/pkg/storage"
)

type batchStoreStub struct {
	batches map[string]*models.Batch
	rows    map[string]*models.StagedRow
	changes map[string]*models.ProposedChange
}

func newBatchStoreStub() *batchStoreStub {
	return &batchStoreStub{
		batches: make(map[string]*models.Batch),
		rows:    make(map[string]*models.StagedRow),
		changes: make(map[string]*models.ProposedChange),
	}
}

func (s *batchStoreStub) Create(ctx context.Context, batch *models.Batch) error {
	if batch.ID == "" {
		batch.ID = "batch-" + strconv.Itoa(len(s.batches)+1)
	}
	copy := *batch
	s.batches[batch.ID] = &copy
	return nil
}

func (s *batchStoreStub) GetByID(ctx context.Context, tenantID, id string) (*models.Batch, error) {
	batch, ok := s.batches[id]
	if !ok || batch.TenantID != tenantID {
		return nil, sql.ErrNoRows
	}
	copy := *batch
	return &copy, nil
}

func (s *batchStoreStub) List(ctx context.Context, tenantID string, filter models.BatchFilter) ([]models.Batch, int, error) {
	var out []models.Batch
	for _, batch := range s.batches {
		if batch.TenantID != tenantID {
			continue
		}
		if filter.Status != "" && batch.Status != filter.Status {
			continue
		}
		out = append(out, *batch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (s *batchStoreStub) UpdateStatus(ctx context.Context, tenantID, id string, status models.BatchStatus, errorText *string) error {
	batch, ok := s.batches[id]
	if !ok {
		return sql.ErrNoRows
	}
	batch.Status = status
	if errorText != nil {
		batch.ErrorText = errorText
	}
	return nil
}

func (s *batchStoreStub) SetReviewOutcome(ctx context.Context, tenantID, id string, outcome models.ReviewOutcome, note *string) error {
	batch, ok := s.batches[id]
	if !ok {
		return sql.ErrNoRows
	}
	batch.ReviewOutcome = &outcome
	batch.ReviewNote = note
	return nil
}

func (s *batchStoreStub) UpdateCounts(ctx context.Context, tenantID, id string, counts models.BatchCounts) error {
	batch, ok := s.batches[id]
	if !ok {
		return sql.ErrNoRows
	}
	batch.TotalRows = counts.TotalRows
	batch.ValidRows = counts.ValidRows
	batch.InvalidRows = counts.InvalidRows
	batch.AmbiguousRows = counts.AmbiguousRows
	batch.ExcludedRows = counts.ExcludedRows
	batch.NewCount = counts.NewCount
	batch.UpdateCount = counts.UpdateCount
	return nil
}

func (s *batchStoreStub) RecountBatch(ctx context.Context, tenantID, batchID string) (models.BatchCounts, error) {
	var counts models.BatchCounts
	for _, row := range s.rows {
		if row.BatchID != batchID {
			continue
		}
		counts.TotalRows++
		switch row.RowStatus {
		case models.RowStatusValid:
			counts.ValidRows++
		case models.RowStatusInvalid:
			counts.InvalidRows++
		case models.RowStatusAmbiguous:
			counts.AmbiguousRows++
		case models.RowStatusExcluded:
			counts.ExcludedRows++
		}
	}
	for _, change := range s.changes {
		if change.BatchID != batchID || change.IsExcluded {
			continue
		}
		switch change.Action {
		case models.ChangeActionInsert:
			counts.NewCount++
		case models.ChangeActionUpdate:
			counts.UpdateCount++
		}
	}
	return counts, nil
}

func (s *batchStoreStub) InsertStagedRows(ctx context.Context, rows []models.StagedRow) error {
	for i := range rows {
		copy := rows[i]
		s.rows[copy.ID] = &copy
	}
	return nil
}

func (s *batchStoreStub) ListStagedRows(ctx context.Context, tenantID, batchID string, status models.RowStatus) ([]models.StagedRow, error) {
	var out []models.StagedRow
	for _, row := range s.rows {
		if row.BatchID != batchID {
			continue
		}
		if status != "" && row.RowStatus != status {
			continue
		}
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowNumber < out[j].RowNumber })
	return out, nil
}

func (s *batchStoreStub) GetStagedRow(ctx context.Context, tenantID, batchID, rowID string) (*models.StagedRow, error) {
	row, ok := s.rows[rowID]
	if !ok || row.BatchID != batchID {
		return nil, sql.ErrNoRows
	}
	copy := *row
	return &copy, nil
}

func (s *batchStoreStub) LinkStagedRow(ctx context.Context, tenantID, rowID, enrollmentID string) error {
	row, ok := s.rows[rowID]
	if !ok {
		return sql.ErrNoRows
	}
	id := enrollmentID
	row.LinkedEnrollmentID = &id
	row.RowStatus = models.RowStatusValid
	return nil
}

func (s *batchStoreStub) SetRowStatus(ctx context.Context, tenantID, rowID string, status models.RowStatus) error {
	row, ok := s.rows[rowID]
	if !ok {
		return sql.ErrNoRows
	}
	row.RowStatus = status
	return nil
}

func (s *batchStoreStub) InsertProposedChanges(ctx context.Context, changes []models.ProposedChange) error {
	for i := range changes {
		copy := changes[i]
		if copy.ID == "" {
			copy.ID = "change-" + copy.StagedRowID
		}
		s.changes[copy.StagedRowID] = &copy
	}
	return nil
}

func (s *batchStoreStub) ListChanges(ctx context.Context, tenantID, batchID string) ([]models.ProposedChange, error) {
	var out []models.ProposedChange
	for _, change := range s.changes {
		if change.BatchID == batchID {
			out = append(out, *change)
		}
	}
	return out, nil
}

func (s *batchStoreStub) GetChangeByRow(ctx context.Context, tenantID, stagedRowID string) (*models.ProposedChange, error) {
	change, ok := s.changes[stagedRowID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *change
	return &copy, nil
}

func (s *batchStoreStub) UpdateChange(ctx context.Context, change *models.ProposedChange) error {
	stored, ok := s.changes[change.StagedRowID]
	if !ok {
		return sql.ErrNoRows
	}
	*stored = *change
	return nil
}

func (s *batchStoreStub) SetChangeExcluded(ctx context.Context, tenantID, stagedRowID string, excluded bool) error {
	change, ok := s.changes[stagedRowID]
	if !ok {
		return sql.ErrNoRows
	}
	change.IsExcluded = excluded
	return nil
}

type fileStoreStub struct {
	saved map[string][]byte
}

func newFileStoreStub() *fileStoreStub {
	return &fileStoreStub{saved: make(map[string][]byte)}
}

func (f *fileStoreStub) Save(filename string, data []byte) (string, error) {
	f.saved[filename] = data
	return filename, nil
}

func (f *fileStoreStub) Open(filename string) (*os.File, error) {
	return nil, os.ErrNotExist
}

func workbookBytes(t *testing.T, rows [][]interface{}) []byte {
	t.Helper()
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	headers := []string{"Student Name", "Start Date", "Class Name", "End Date"}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		require.NoError(t, err)
		require.NoError(t, f.SetCellValue(sheet, cell, h))
	}
	for r, row := range rows {
		for c, value := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, cell, value))
		}
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func newTestImportService(store *batchStoreStub, search *enrollmentSearchStub) (*ImportService, *fileStoreStub) {
	cfg := config.ImportConfig{
		MaxFileSizeBytes:  1 << 20,
		AllowedExtensions: []string{".xlsx", ".xls"},
		SignedURLSecret:   "test-secret",
		SignedURLTTL:      time.Minute,
	}
	files := newFileStoreStub()
	signer := storage.NewSignedURLSigner(cfg.SignedURLSecret, cfg.SignedURLTTL)
	matcher := NewMatchService(search, nil, cfg)
	svc := NewImportService(store, matcher, nil, files, signer, nil, nil, nil, cfg)
	return svc, files
}

func TestUploadRejectsBadFiles(t *testing.T) {
	svc, _ := newTestImportService(newBatchStoreStub(), &enrollmentSearchStub{})

	_, err := svc.Upload(context.Background(), "t1", "user-1", "roster.csv", []byte("a,b,c"))
	require.ErrorIs(t, err, appErrors.ErrUnsupportedFile)

	big := make([]byte, (1<<20)+1)
	_, err = svc.Upload(context.Background(), "t1", "user-1", "roster.xlsx", big)
	require.ErrorIs(t, err, appErrors.ErrFileTooLarge)
}

func TestUploadStructurallyBrokenFileFailsBatch(t *testing.T) {
	store := newBatchStoreStub()
	svc, files := newTestImportService(store, &enrollmentSearchStub{})

	batch, err := svc.Upload(context.Background(), "t1", "user-1", "roster.xlsx", []byte("not a workbook"))
	require.NoError(t, err)
	require.Equal(t, models.BatchStatusFailedValidation, batch.Status)
	require.NotNil(t, batch.ErrorText)
	require.Len(t, files.saved, 1, "the broken file is still retained for audit")

	stored, err := store.GetByID(context.Background(), "t1", batch.ID)
	require.NoError(t, err)
	require.Equal(t, models.BatchStatusFailedValidation, stored.Status)
}

func TestUploadStagesRowsAndProposals(t *testing.T) {
	store := newBatchStoreStub()
	search := &enrollmentSearchStub{results: []models.EnrollmentDetail{
		detail("e1", "Jane Smith", "Math 101", "2024-01-15", nil),
	}}
	svc, files := newTestImportService(store, search)

	data := workbookBytes(t, [][]interface{}{
		{"Jane Smith", "2024-01-15", "Math 101", ""},
		{"Jane Smith", "2024-02-01", "Math 101", ""},
		{"Brand New Pupil", "2024-01-15", "Math 101", ""},
		{"Missing Date", "", "Math 101", ""},
	})
	batch, err := svc.Upload(context.Background(), "t1", "user-1", "roster.xlsx", data)
	require.NoError(t, err)

	require.Equal(t, models.BatchStatusProposedNeedsReview, batch.Status)
	require.Equal(t, 4, batch.TotalRows)
	require.Equal(t, 3, batch.ValidRows)
	require.Equal(t, 1, batch.InvalidRows)
	require.Zero(t, batch.AmbiguousRows)
	require.Equal(t, 1, batch.NewCount)
	require.Equal(t, 1, batch.UpdateCount)
	require.Len(t, files.saved, 1)

	rows, changesByRow, err := svc.ListRows(context.Background(), "t1", batch.ID, "")
	require.NoError(t, err)
	require.Len(t, rows, 4)

	actions := make([]models.ChangeAction, 0, 4)
	for _, row := range rows {
		actions = append(actions, changesByRow[row.ID].Action)
	}
	require.Equal(t, []models.ChangeAction{
		models.ChangeActionNoop,
		models.ChangeActionUpdate,
		models.ChangeActionInsert,
		models.ChangeActionNeedsResolution,
	}, actions)

	require.Equal(t, models.RowStatusInvalid, rows[3].RowStatus)
	require.NotEmpty(t, rows[3].ValidationErrors)
}

func TestUploadCleanBatchIsProposedOK(t *testing.T) {
	store := newBatchStoreStub()
	search := &enrollmentSearchStub{results: []models.EnrollmentDetail{
		detail("e1", "Jane Smith", "Math 101", "2024-01-15", nil),
	}}
	svc, _ := newTestImportService(store, search)

	data := workbookBytes(t, [][]interface{}{
		{"Jane Smith", "2024-01-15", "Math 101", ""},
	})
	batch, err := svc.Upload(context.Background(), "t1", "user-1", "roster.xlsx", data)
	require.NoError(t, err)
	require.Equal(t, models.BatchStatusProposedOK, batch.Status)
}

func TestReviewDenyRejectsBatch(t *testing.T) {
	store := newBatchStoreStub()
	svc, _ := newTestImportService(store, &enrollmentSearchStub{})
	require.NoError(t, store.Create(context.Background(), &models.Batch{
		ID: "batch-1", TenantID: "t1", Status: models.BatchStatusProposedNeedsReview,
	}))

	note := "wrong file"
	batch, err := svc.Review(context.Background(), "t1", "batch-1", models.ReviewOutcomeDeny, &note)
	require.NoError(t, err)
	require.Equal(t, models.BatchStatusRejected, batch.Status)
	require.Equal(t, models.ReviewOutcomeDeny, *batch.ReviewOutcome)
	require.Equal(t, "wrong file", *batch.ReviewNote)
}

func TestReviewConfirmPromotesCleanBatch(t *testing.T) {
	store := newBatchStoreStub()
	svc, _ := newTestImportService(store, &enrollmentSearchStub{})
	require.NoError(t, store.Create(context.Background(), &models.Batch{
		ID: "batch-1", TenantID: "t1", Status: models.BatchStatusProposedOK,
		TotalRows: 2, ValidRows: 2,
	}))

	batch, err := svc.Review(context.Background(), "t1", "batch-1", models.ReviewOutcomeConfirm, nil)
	require.NoError(t, err)
	require.Equal(t, models.BatchStatusReadyToApply, batch.Status)
}

func TestReviewConfirmOnDirtyBatchStaysPut(t *testing.T) {
	store := newBatchStoreStub()
	svc, _ := newTestImportService(store, &enrollmentSearchStub{})
	require.NoError(t, store.Create(context.Background(), &models.Batch{
		ID: "batch-1", TenantID: "t1", Status: models.BatchStatusProposedNeedsReview,
		TotalRows: 2, ValidRows: 1, AmbiguousRows: 1,
	}))

	batch, err := svc.Review(context.Background(), "t1", "batch-1", models.ReviewOutcomeConfirm, nil)
	require.NoError(t, err)
	require.Equal(t, models.BatchStatusProposedNeedsReview, batch.Status)
	require.Equal(t, models.ReviewOutcomeConfirm, *batch.ReviewOutcome)
}

func TestReviewRejectsUnknownOutcome(t *testing.T) {
	store := newBatchStoreStub()
	svc, _ := newTestImportService(store, &enrollmentSearchStub{})
	require.NoError(t, store.Create(context.Background(), &models.Batch{
		ID: "batch-1", TenantID: "t1", Status: models.BatchStatusProposedOK,
	}))

	_, err := svc.Review(context.Background(), "t1", "batch-1", "MAYBE", nil)
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestReviewTerminalBatchFails(t *testing.T) {
	store := newBatchStoreStub()
	svc, _ := newTestImportService(store, &enrollmentSearchStub{})
	require.NoError(t, store.Create(context.Background(), &models.Batch{
		ID: "batch-1", TenantID: "t1", Status: models.BatchStatusApplied,
	}))

	_, err := svc.Review(context.Background(), "t1", "batch-1", models.ReviewOutcomeDeny, nil)
	require.Error(t, err)
}

func TestResolveRowTurnsAmbiguousIntoUpdateOrNoop(t *testing.T) {
	store := newBatchStoreStub()
	search := &enrollmentSearchStub{results: []models.EnrollmentDetail{
		detail("e1", "Jane Smith", "Math 101", "2024-01-15", nil),
		detail("e2", "Jane Smith-Jones", "Math 101", "2024-01-15", nil),
	}}
	svc, _ := newTestImportService(store, search)

	data := workbookBytes(t, [][]interface{}{
		{"Jane Smith", "2024-02-01", "Math 101", ""},
	})
	batch, err := svc.Upload(context.Background(), "t1", "user-1", "roster.xlsx", data)
	require.NoError(t, err)
	require.Equal(t, models.BatchStatusProposedNeedsReview, batch.Status)
	require.Equal(t, 1, batch.AmbiguousRows)

	rows, _, err := svc.ListRows(context.Background(), "t1", batch.ID, "")
	require.NoError(t, err)
	require.Equal(t, models.RowStatusAmbiguous, rows[0].RowStatus)

	row, err := svc.ResolveRow(context.Background(), "t1", batch.ID, rows[0].ID, "e1")
	require.NoError(t, err)
	require.Equal(t, models.RowStatusValid, row.RowStatus)
	require.Equal(t, "e1", *row.LinkedEnrollmentID)

	change, err := store.GetChangeByRow(context.Background(), "t1", row.ID)
	require.NoError(t, err)
	require.Equal(t, models.ChangeActionUpdate, change.Action)
	require.Equal(t, "e1", *change.EnrollmentID)
	diff, err := change.DecodeDiff()
	require.NoError(t, err)
	require.Contains(t, diff, "startDate")

	updated, err := store.GetByID(context.Background(), "t1", batch.ID)
	require.NoError(t, err)
	require.Zero(t, updated.AmbiguousRows)
	require.Equal(t, models.BatchStatusProposedNeedsReview, updated.Status,
		"resolution alone does not promote an unconfirmed batch")
}

func TestRowCandidatesRerunsMatching(t *testing.T) {
	store := newBatchStoreStub()
	search := &enrollmentSearchStub{results: []models.EnrollmentDetail{
		detail("e1", "Jane Smith", "Math 101", "2024-01-15", nil),
		detail("e2", "Jane Smith-Jones", "Math 101", "2024-01-15", nil),
	}}
	svc, _ := newTestImportService(store, search)

	data := workbookBytes(t, [][]interface{}{
		{"Jane Smith", "2024-02-01", "Math 101", ""},
	})
	batch, err := svc.Upload(context.Background(), "t1", "user-1", "roster.xlsx", data)
	require.NoError(t, err)

	rows, _, err := svc.ListRows(context.Background(), "t1", batch.ID, "")
	require.NoError(t, err)
	require.Equal(t, models.RowStatusAmbiguous, rows[0].RowStatus)

	result, err := svc.RowCandidates(context.Background(), "t1", batch.ID, rows[0].ID)
	require.NoError(t, err)
	require.Equal(t, models.MatchDecisionAmbiguous, result.Decision)
	require.Len(t, result.Candidates, 2)
	require.Equal(t, "e1", result.Candidates[0].EnrollmentID)

	_, err = svc.RowCandidates(context.Background(), "t1", batch.ID, "missing-row")
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestResolveRowRequiresAmbiguousRow(t *testing.T) {
	store := newBatchStoreStub()
	search := &enrollmentSearchStub{results: []models.EnrollmentDetail{
		detail("e1", "Jane Smith", "Math 101", "2024-01-15", nil),
	}}
	svc, _ := newTestImportService(store, search)

	data := workbookBytes(t, [][]interface{}{
		{"Jane Smith", "2024-01-15", "Math 101", ""},
	})
	batch, err := svc.Upload(context.Background(), "t1", "user-1", "roster.xlsx", data)
	require.NoError(t, err)

	rows, _, err := svc.ListRows(context.Background(), "t1", batch.ID, "")
	require.NoError(t, err)

	_, err = svc.ResolveRow(context.Background(), "t1", batch.ID, rows[0].ID, "e1")
	require.Error(t, err)
}

func TestExcludeRowRemovesItFromTheGate(t *testing.T) {
	store := newBatchStoreStub()
	search := &enrollmentSearchStub{}
	svc, _ := newTestImportService(store, search)

	data := workbookBytes(t, [][]interface{}{
		{"Brand New Pupil", "2024-01-15", "Math 101", ""},
		{"Missing Date", "", "Math 101", ""},
	})
	batch, err := svc.Upload(context.Background(), "t1", "user-1", "roster.xlsx", data)
	require.NoError(t, err)
	require.Equal(t, 1, batch.InvalidRows)

	rows, _, err := svc.ListRows(context.Background(), "t1", batch.ID, "")
	require.NoError(t, err)
	invalidRow := rows[1]
	require.Equal(t, models.RowStatusInvalid, invalidRow.RowStatus)

	row, err := svc.SetRowExclusion(context.Background(), "t1", batch.ID, invalidRow.ID, true)
	require.NoError(t, err)
	require.Equal(t, models.RowStatusExcluded, row.RowStatus)

	updated, err := store.GetByID(context.Background(), "t1", batch.ID)
	require.NoError(t, err)
	require.Zero(t, updated.InvalidRows)
	require.Equal(t, 1, updated.ExcludedRows)

	// Re-including restores the status the row earned at parse time.
	row, err = svc.SetRowExclusion(context.Background(), "t1", batch.ID, invalidRow.ID, false)
	require.NoError(t, err)
	require.Equal(t, models.RowStatusInvalid, row.RowStatus)
}

// Full lifecycle: upload a mixed sheet, resolve the ambiguous row, confirm and
// apply, then check what landed in the enrollment tables.
func TestImportLifecycleEndToEnd(t *testing.T) {
	store := newBatchStoreStub()
	search := &enrollmentSearchStub{results: []models.EnrollmentDetail{
		detail("e-noop", "Pat Jones", "History 7", "2024-01-15", nil),
		detail("e-a", "Sam Lee", "Art 2", "2024-03-01", nil),
		detail("e-b", "Sam Lee", "Art 2", "2024-03-01", nil),
	}}
	svc, _ := newTestImportService(store, search)

	data := workbookBytes(t, [][]interface{}{
		{"New Student", "2024-02-01", "Science 5", ""},
		{"Pat Jones", "2024-01-15", "History 7", ""},
		{"Sam Lee", "2024-03-18", "Art 2", ""},
	})
	batch, err := svc.Upload(context.Background(), "t1", "user-1", "roster.xlsx", data)
	require.NoError(t, err)
	require.Equal(t, models.BatchStatusProposedNeedsReview, batch.Status)
	require.Equal(t, 3, batch.TotalRows)
	require.Equal(t, 1, batch.NewCount)
	require.Equal(t, 1, batch.AmbiguousRows)

	gate := CanApply(batch.Summary())
	require.False(t, gate.Allowed)
	require.Contains(t, strings.Join(gate.Reasons, "; "), "ambiguous rows")

	rows, changesByRow, err := svc.ListRows(context.Background(), "t1", batch.ID, "")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, models.ChangeActionInsert, changesByRow[rows[0].ID].Action)
	require.Equal(t, models.ChangeActionNoop, changesByRow[rows[1].ID].Action)
	require.Equal(t, models.ChangeActionNeedsResolution, changesByRow[rows[2].ID].Action)

	_, err = svc.ResolveRow(context.Background(), "t1", batch.ID, rows[2].ID, "e-a")
	require.NoError(t, err)

	batch, err = svc.Review(context.Background(), "t1", batch.ID, models.ReviewOutcomeConfirm, nil)
	require.NoError(t, err)
	require.Equal(t, models.BatchStatusReadyToApply, batch.Status)

	applyStore := &applyStoreStub{
		rows:    store.rows,
		classes: map[string]*models.Class{"science 5": {ID: "class-sci", Name: "Science 5"}},
	}
	applyRows, err := store.ListStagedRows(context.Background(), "t1", batch.ID, "")
	require.NoError(t, err)
	for _, row := range applyRows {
		change, err := store.GetChangeByRow(context.Background(), "t1", row.ID)
		require.NoError(t, err)
		applyStore.changes = append(applyStore.changes, *change)
	}

	batches := &applyBatchStub{batch: batch, applyingWon: true}
	applier := NewApplyService(batches, &uowStub{store: applyStore}, nil, nil)

	result, err := applier.ApplyBatchChanges(context.Background(), "t1", batch.ID, "admin-1")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.True(t, batches.markApplied)
	require.Equal(t, 2, result.AppliedCount)
	require.Equal(t, 1, result.InsertedCount)
	require.Equal(t, 1, result.UpdatedCount)
	require.Equal(t, 1, result.SkippedCount)
	require.Empty(t, result.Errors)

	require.Len(t, applyStore.students, 1)
	require.Equal(t, models.StudentStatusProvisional, applyStore.students[0].Status)
	require.Equal(t, "New Student", applyStore.students[0].FullName)
	require.Len(t, applyStore.enrollments, 1)
	require.Equal(t, "class-sci", applyStore.enrollments[0].ClassID)

	require.Len(t, applyStore.updates, 1)
	require.Equal(t, "e-a", applyStore.updates[0].enrollmentID)
	require.NotNil(t, applyStore.updates[0].startDate)
	require.Equal(t, day("2024-03-18"), *applyStore.updates[0].startDate)
}

func TestExportRendersCSV(t *testing.T) {
	store := newBatchStoreStub()
	search := &enrollmentSearchStub{}
	svc, _ := newTestImportService(store, search)

	data := workbookBytes(t, [][]interface{}{
		{"Brand New Pupil", "2024-01-15", "Math 101", ""},
	})
	batch, err := svc.Upload(context.Background(), "t1", "user-1", "roster.xlsx", data)
	require.NoError(t, err)

	payload, contentType, fileName, err := svc.Export(context.Background(), "t1", batch.ID, "csv")
	require.NoError(t, err)
	require.Equal(t, "text/csv", contentType)
	require.Equal(t, "import-"+batch.ID+".csv", fileName)

	lines := strings.Split(strings.TrimSpace(string(payload)), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, "Row,Student,Class,Start Date,End Date,Status,Action,Score,Errors", lines[0])
	require.Equal(t, "2,Brand New Pupil,Math 101,2024-01-15,,VALID,INSERT,,", lines[1])

	_, _, _, err = svc.Export(context.Background(), "t1", batch.ID, "bogus")
	require.Error(t, err)
}

func TestSignedFileURLRoundTrip(t *testing.T) {
	store := newBatchStoreStub()
	svc, _ := newTestImportService(store, &enrollmentSearchStub{})
	require.NoError(t, store.Create(context.Background(), &models.Batch{
		ID: "batch-1", TenantID: "t1", FileName: "roster.xlsx",
		Status: models.BatchStatusProposedOK,
	}))

	token, expiresAt, err := svc.SignedFileURL(context.Background(), "t1", "batch-1")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.True(t, expiresAt.After(time.Now()))

	// The stub store has no real file, but the token itself must validate.
	_, _, err = svc.OpenSignedFile(token)
	require.ErrorIs(t, err, appErrors.ErrNotFound)

	_, _, err = svc.OpenSignedFile("tampered-token")
	require.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestGetBatchUnknownIsNotFound(t *testing.T) {
	svc, _ := newTestImportService(newBatchStoreStub(), &enrollmentSearchStub{})
	_, err := svc.GetBatch(context.Background(), "t1", "missing")
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}
