package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rosterly/enrol-recon-api/internal/dto"
	"github.com/rosterly/enrol-recon-api/internal/models"
	"github.com/rosterly/enrol-recon-api/internal/service"
	appErrors "github.com/rosterly/enrol-recon-api/pkg/errors"
	"github.com/rosterly/enrol-recon-api/pkg/response"
)

type importService interface {
	Upload(ctx context.Context, tenantID, uploadedBy, fileName string, data []byte) (*models.Batch, error)
	GetBatch(ctx context.Context, tenantID, batchID string) (*models.Batch, error)
	ListBatches(ctx context.Context, tenantID string, filter models.BatchFilter) ([]models.Batch, int, error)
	ListRows(ctx context.Context, tenantID, batchID string, status models.RowStatus) ([]models.StagedRow, map[string]models.ProposedChange, error)
	RowCandidates(ctx context.Context, tenantID, batchID, rowID string) (models.MatchResult, error)
	Review(ctx context.Context, tenantID, batchID string, outcome models.ReviewOutcome, note *string) (*models.Batch, error)
	ResolveRow(ctx context.Context, tenantID, batchID, rowID, enrollmentID string) (*models.StagedRow, error)
	SetRowExclusion(ctx context.Context, tenantID, batchID, rowID string, excluded bool) (*models.StagedRow, error)
	Export(ctx context.Context, tenantID, batchID, format string) ([]byte, string, string, error)
	SignedFileURL(ctx context.Context, tenantID, batchID string) (string, time.Time, error)
	OpenSignedFile(token string) (*os.File, string, error)
}

type applyService interface {
	ApplyBatchChanges(ctx context.Context, tenantID, batchID, appliedBy string) (*models.ApplyResult, error)
}

// ImportHandler exposes the reconciliation batch endpoints.
type ImportHandler struct {
	imports importService
	applier applyService
}

// NewImportHandler constructs the handler.
func NewImportHandler(imports importService, applier applyService) *ImportHandler {
	return &ImportHandler{imports: imports, applier: applier}
}

// Upload godoc
// @Summary Upload an enrollment spreadsheet
// @Tags Imports
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Spreadsheet (.xlsx)"
// @Success 201 {object} response.Envelope
// @Router /imports [post]
func (h *ImportHandler) Upload(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
		return
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read file"))
		return
	}

	batch, err := h.imports.Upload(c.Request.Context(), claims.TenantID, claims.UserID, fileHeader.Filename, data)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, h.batchResponse(batch))
}

// List godoc
// @Summary List import batches
// @Tags Imports
// @Produce json
// @Param status query string false "Status filter"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /imports [get]
func (h *ImportHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ListBatchesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid query parameters"))
		return
	}
	filter := models.BatchFilter{
		Status:   models.BatchStatus(req.Status),
		Page:     req.Page,
		PageSize: req.PageSize,
	}
	batches, total, err := h.imports.ListBatches(c.Request.Context(), claims.TenantID, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	response.JSON(c, http.StatusOK, batches, &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	})
}

// Get godoc
// @Summary Get one import batch with its apply gate
// @Tags Imports
// @Produce json
// @Param id path string true "Batch ID"
// @Success 200 {object} response.Envelope
// @Router /imports/{id} [get]
func (h *ImportHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	batch, err := h.imports.GetBatch(c.Request.Context(), claims.TenantID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, h.batchResponse(batch), nil)
}

// Rows godoc
// @Summary List staged rows of a batch
// @Tags Imports
// @Produce json
// @Param id path string true "Batch ID"
// @Param status query string false "Row status filter"
// @Success 200 {object} response.Envelope
// @Router /imports/{id}/rows [get]
func (h *ImportHandler) Rows(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	batchID := c.Param("id")
	rows, changesByRow, err := h.imports.ListRows(c.Request.Context(), claims.TenantID, batchID,
		models.RowStatus(c.Query("status")))
	if err != nil {
		response.Error(c, err)
		return
	}
	payload := dto.RowListResponse{BatchID: batchID, Rows: make([]dto.RowResponse, 0, len(rows))}
	for _, row := range rows {
		item := dto.RowResponse{StagedRow: row}
		if change, ok := changesByRow[row.ID]; ok {
			item.Change = &change
		}
		payload.Rows = append(payload.Rows, item)
	}
	response.JSON(c, http.StatusOK, payload, nil)
}

// Review godoc
// @Summary Record the reviewer's verdict on a batch
// @Tags Imports
// @Accept json
// @Produce json
// @Param id path string true "Batch ID"
// @Param payload body dto.ReviewRequest true "Review outcome"
// @Success 200 {object} response.Envelope
// @Router /imports/{id}/review [post]
func (h *ImportHandler) Review(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "outcome must be CONFIRM or DENY"))
		return
	}
	batch, err := h.imports.Review(c.Request.Context(), claims.TenantID, c.Param("id"), req.Outcome, req.Note)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, h.batchResponse(batch), nil)
}

// RowCandidates godoc
// @Summary List candidate enrollments for one staged row
// @Tags Imports
// @Produce json
// @Param id path string true "Batch ID"
// @Param rowId path string true "Row ID"
// @Success 200 {object} response.Envelope
// @Router /imports/{id}/rows/{rowId}/candidates [get]
func (h *ImportHandler) RowCandidates(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.imports.RowCandidates(c.Request.Context(), claims.TenantID, c.Param("id"), c.Param("rowId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ResolveRow godoc
// @Summary Resolve an ambiguous row to a chosen enrollment
// @Tags Imports
// @Accept json
// @Produce json
// @Param id path string true "Batch ID"
// @Param rowId path string true "Row ID"
// @Param payload body dto.ResolveRowRequest true "Chosen enrollment"
// @Success 200 {object} response.Envelope
// @Router /imports/{id}/rows/{rowId}/resolve [post]
func (h *ImportHandler) ResolveRow(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ResolveRowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "enrollmentId is required"))
		return
	}
	row, err := h.imports.ResolveRow(c.Request.Context(), claims.TenantID, c.Param("id"), c.Param("rowId"), req.EnrollmentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, row, nil)
}

// ExcludeRow godoc
// @Summary Toggle a row in or out of the apply set
// @Tags Imports
// @Accept json
// @Produce json
// @Param id path string true "Batch ID"
// @Param rowId path string true "Row ID"
// @Param payload body dto.ExcludeRowRequest true "Exclusion flag"
// @Success 200 {object} response.Envelope
// @Router /imports/{id}/rows/{rowId}/exclude [post]
func (h *ImportHandler) ExcludeRow(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ExcludeRowRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Excluded == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "excluded flag is required"))
		return
	}
	row, err := h.imports.SetRowExclusion(c.Request.Context(), claims.TenantID, c.Param("id"), c.Param("rowId"), *req.Excluded)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, row, nil)
}

// Apply godoc
// @Summary Apply a confirmed batch atomically
// @Tags Imports
// @Produce json
// @Param id path string true "Batch ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /imports/{id}/apply [post]
func (h *ImportHandler) Apply(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.applier.ApplyBatchChanges(c.Request.Context(), claims.TenantID, c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !result.Success {
		response.JSON(c, http.StatusConflict, result, nil)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Export godoc
// @Summary Export a batch's rows as CSV or PDF
// @Tags Imports
// @Produce octet-stream
// @Param id path string true "Batch ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} byte
// @Router /imports/{id}/export [get]
func (h *ImportHandler) Export(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	payload, contentType, fileName, err := h.imports.Export(c.Request.Context(), claims.TenantID, c.Param("id"), c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	c.Data(http.StatusOK, contentType, payload)
}

// FileURL godoc
// @Summary Mint a signed URL for the original upload
// @Tags Imports
// @Produce json
// @Param id path string true "Batch ID"
// @Success 200 {object} response.Envelope
// @Router /imports/{id}/file [get]
func (h *ImportHandler) FileURL(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	token, expiresAt, err := h.imports.SignedFileURL(c.Request.Context(), claims.TenantID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.FileURLResponse{
		Token:     token,
		URL:       "/files?token=" + token,
		ExpiresAt: expiresAt,
	}, nil)
}

// DownloadFile streams a stored upload. The signed token is the authorization.
func (h *ImportHandler) DownloadFile(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	file, name, err := h.imports.OpenSignedFile(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat file"))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.DataFromReader(http.StatusOK, info.Size(), "application/octet-stream", file, nil)
}

func (h *ImportHandler) batchResponse(batch *models.Batch) dto.BatchResponse {
	return dto.BatchResponse{Batch: *batch, Gate: service.CanApply(batch.Summary())}
}
