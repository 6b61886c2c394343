package models

import "time"

// ExtractionStatus tracks a document's text-extraction lifecycle. It lives on
// the document, not on any single job, so it survives job retries.
type ExtractionStatus string

const (
	ExtractionPending    ExtractionStatus = "pending"
	ExtractionTriggering ExtractionStatus = "triggering"
	ExtractionProcessing ExtractionStatus = "processing"
	ExtractionRetrying   ExtractionStatus = "retrying"
	ExtractionCompleted  ExtractionStatus = "completed"
	ExtractionFailed     ExtractionStatus = "failed"
	// ExtractionRemoved marks a document whose source file no longer exists
	// upstream. Distinguishable from a genuine extraction failure.
	ExtractionRemoved ExtractionStatus = "removed"
)

// Document is an uploaded source file plus its extraction state.
type Document struct {
	ID                 string           `gorm:"column:id;primaryKey;size:36" json:"id"`
	SubjectID          string           `gorm:"column:subject_id;size:64;index:idx_documents_subject" json:"subject_id"`
	FamilyID           string           `gorm:"column:family_id;size:64;index:idx_documents_family" json:"family_id"`
	FileName           string           `gorm:"column:file_name;size:255" json:"file_name"`
	FileRef            string           `gorm:"column:file_ref;size:500" json:"file_ref"`
	FileType           string           `gorm:"column:file_type;size:100" json:"file_type"`
	FileSizeKB         int64            `gorm:"column:file_size_kb;default:0" json:"file_size_kb"`
	Category           string           `gorm:"column:category;size:60" json:"category"`
	ExtractionStatus   ExtractionStatus `gorm:"column:extraction_status;size:20;default:pending;index:idx_documents_extraction" json:"extraction_status"`
	ExtractionAttempts int              `gorm:"column:extraction_attempts;default:0" json:"extraction_attempts"`
	ExtractedContent   string           `gorm:"column:extracted_content;type:longtext" json:"extracted_content,omitempty"`
	FinalError         string           `gorm:"column:final_error;type:text" json:"final_error,omitempty"`
	CreatedAt          time.Time        `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time        `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Document) TableName() string {
	return "documents"
}
