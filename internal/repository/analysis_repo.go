package repository

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"brightpath/internal/models"
)

// AnalysisRepository owns analysis results and reports. Both are
// write-once: results are unique per document, reports are only ever
// superseded by newer ones.
type AnalysisRepository struct {
	db *gorm.DB
}

func NewAnalysisRepository(db *gorm.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

func (r *AnalysisRepository) CreateResult(result *models.AnalysisResult) error {
	return r.db.Create(result).Error
}

// FindResultByDocument returns nil without error when no result exists.
func (r *AnalysisRepository) FindResultByDocument(documentID string) (*models.AnalysisResult, error) {
	var result models.AnalysisResult
	err := r.db.First(&result, "document_id = ?", documentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *AnalysisRepository) FindResultsByDocuments(documentIDs []string) ([]models.AnalysisResult, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}
	var results []models.AnalysisResult
	err := r.db.Where("document_id IN ?", documentIDs).Find(&results).Error
	return results, err
}

func (r *AnalysisRepository) CreateReport(report *models.Report) error {
	if report.ID == "" {
		report.ID = uuid.New().String()
	}
	return r.db.Create(report).Error
}

func (r *AnalysisRepository) FindLatestReport(subjectID string) (*models.Report, error) {
	var report models.Report
	err := r.db.Where("subject_id = ?", subjectID).
		Order("created_at DESC").
		First(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}
