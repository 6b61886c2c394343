package api

import (
	"errors"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"brightpath/internal/models"
	"brightpath/internal/repository"
)

// DocumentHandler manages document records and the jobs that process them.
type DocumentHandler struct {
	deps   *Deps
	logger *zap.Logger
}

func NewDocumentHandler(deps *Deps, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{deps: deps, logger: logger}
}

type createDocumentRequest struct {
	SubjectID  string `json:"subject_id"`
	FamilyID   string `json:"family_id"`
	FileName   string `json:"file_name"`
	FileRef    string `json:"file_ref"`
	FileType   string `json:"file_type"`
	FileSizeKB int64  `json:"file_size_kb"`
	Category   string `json:"category"`
}

// Create registers an uploaded document.
// POST /api/documents
func (h *DocumentHandler) Create(c echo.Context) error {
	var req createDocumentRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, "Invalid request body")
	}
	if req.SubjectID == "" || req.FileRef == "" {
		return errorResponse(c, "subject_id and file_ref are required")
	}

	doc := &models.Document{
		SubjectID:  req.SubjectID,
		FamilyID:   req.FamilyID,
		FileName:   req.FileName,
		FileRef:    req.FileRef,
		FileType:   req.FileType,
		FileSizeKB: req.FileSizeKB,
		Category:   req.Category,
	}
	if err := h.deps.Docs.Create(doc); err != nil {
		h.logger.Error("Failed to create document", zap.Error(err))
		return errorResponse(c, "Failed to create document")
	}
	return successResponse(c, "Document created", doc)
}

// Get returns one document with its extraction state.
// GET /api/documents/:id
func (h *DocumentHandler) Get(c echo.Context) error {
	doc, err := h.deps.Docs.FindByID(c.Param("id"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errorResponse(c, "Document not found")
	}
	if err != nil {
		return errorResponse(c, "Failed to retrieve document")
	}
	return successResponse(c, "Successful", doc)
}

type extractRequest struct {
	Force bool `json:"force"`
}

// Extract enqueues a text-extraction job for the document. With force set
// the cached extraction is ignored and the provider runs again.
// POST /api/documents/:id/extract
func (h *DocumentHandler) Extract(c echo.Context) error {
	docID := c.Param("id")
	doc, err := h.deps.Docs.FindByID(docID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errorResponse(c, "Document not found")
	}
	if err != nil {
		return errorResponse(c, "Failed to retrieve document")
	}

	var req extractRequest
	_ = c.Bind(&req)

	if doc.ExtractionStatus == models.ExtractionFailed || doc.ExtractionStatus == models.ExtractionRemoved {
		if err := h.deps.Docs.ResetForRetry(docID); err != nil {
			return errorResponse(c, "Failed to reset document for retry")
		}
	}

	job, err := h.deps.Jobs.Enqueue(models.JobTypeExtract, doc.SubjectID, &doc.ID,
		repository.EnqueueOptions{ForceExtract: req.Force})
	if err != nil {
		h.logger.Error("Failed to enqueue extract job", zap.String("document_id", docID), zap.Error(err))
		return errorResponse(c, "Failed to enqueue extraction")
	}
	return acceptedResponse(c, "Extraction queued", job)
}

type analyzeRequest struct {
	BypassQuota bool `json:"bypass_quota"`
}

// Analyze enqueues an analysis job for the document. The job is charged
// against the subject's monthly quota when it runs unless bypass_quota
// is set.
// POST /api/documents/:id/analyze
func (h *DocumentHandler) Analyze(c echo.Context) error {
	docID := c.Param("id")
	doc, err := h.deps.Docs.FindByID(docID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errorResponse(c, "Document not found")
	}
	if err != nil {
		return errorResponse(c, "Failed to retrieve document")
	}

	var req analyzeRequest
	_ = c.Bind(&req)

	if doc.ExtractionStatus != models.ExtractionCompleted {
		return errorResponse(c, "Document text has not been extracted yet")
	}

	job, err := h.deps.Jobs.Enqueue(models.JobTypeAnalyze, doc.SubjectID, &doc.ID,
		repository.EnqueueOptions{BypassQuota: req.BypassQuota})
	if err != nil {
		h.logger.Error("Failed to enqueue analyze job", zap.String("document_id", docID), zap.Error(err))
		return errorResponse(c, "Failed to enqueue analysis")
	}
	return acceptedResponse(c, "Analysis queued", job)
}

// ListBySubject returns a subject's documents newest first.
// GET /api/subjects/:id/documents
func (h *DocumentHandler) ListBySubject(c echo.Context) error {
	docs, err := h.deps.Docs.FindBySubject(c.Param("id"))
	if err != nil {
		return errorResponse(c, "Failed to retrieve documents")
	}
	return successResponse(c, "Successful", docs)
}
