package repository

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"brightpath/internal/models"
)

// DocumentRepository owns document records and their extraction state.
// Extraction state is written only here (by the extraction worker and
// operator retry actions).
type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.ExtractionStatus == "" {
		doc.ExtractionStatus = models.ExtractionPending
	}
	return r.db.Create(doc).Error
}

func (r *DocumentRepository) FindByID(id string) (*models.Document, error) {
	var doc models.Document
	if err := r.db.First(&doc, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *DocumentRepository) FindBySubject(subjectID string) ([]models.Document, error) {
	var docs []models.Document
	err := r.db.Where("subject_id = ?", subjectID).
		Order("created_at DESC").
		Find(&docs).Error
	return docs, err
}

// MarkTriggering starts an attempt: status goes to triggering and the
// per-document attempt counter advances (it survives individual jobs).
func (r *DocumentRepository) MarkTriggering(id string) error {
	return r.db.Model(&models.Document{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"extraction_status":   models.ExtractionTriggering,
			"extraction_attempts": gorm.Expr("extraction_attempts + 1"),
		}).Error
}

func (r *DocumentRepository) MarkProcessing(id string) error {
	return r.setExtractionStatus(id, models.ExtractionProcessing)
}

func (r *DocumentRepository) MarkRetrying(id string) error {
	return r.setExtractionStatus(id, models.ExtractionRetrying)
}

// MarkCompleted persists the extracted text and clears any prior error.
func (r *DocumentRepository) MarkCompleted(id, content string) error {
	return r.db.Model(&models.Document{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"extraction_status": models.ExtractionCompleted,
			"extracted_content": content,
			"final_error":       "",
		}).Error
}

func (r *DocumentRepository) MarkFailed(id, finalError string) error {
	return r.markTerminal(id, models.ExtractionFailed, finalError)
}

// MarkRemoved records that the source file no longer exists upstream;
// callers can tell this apart from a genuine extraction failure.
func (r *DocumentRepository) MarkRemoved(id, finalError string) error {
	return r.markTerminal(id, models.ExtractionRemoved, finalError)
}

// ResetForRetry is the operator action that moves a terminal extraction
// back into the worker's input set.
func (r *DocumentRepository) ResetForRetry(id string) error {
	return r.db.Model(&models.Document{}).
		Where("id = ? AND extraction_status IN ?", id,
			[]models.ExtractionStatus{models.ExtractionFailed, models.ExtractionRemoved}).
		Updates(map[string]interface{}{
			"extraction_status": models.ExtractionPending,
			"final_error":       "",
		}).Error
}

func (r *DocumentRepository) setExtractionStatus(id string, status models.ExtractionStatus) error {
	return r.db.Model(&models.Document{}).
		Where("id = ?", id).
		Update("extraction_status", status).Error
}

func (r *DocumentRepository) markTerminal(id string, status models.ExtractionStatus, finalError string) error {
	return r.db.Model(&models.Document{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"extraction_status": status,
			"final_error":       finalError,
		}).Error
}
