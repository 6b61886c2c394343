package models

import "time"

// AnalysisResult is the structured output of one successful analysis job.
// Immutable once written; at most one per document.
type AnalysisResult struct {
	ID           uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	DocumentID   string    `gorm:"column:document_id;size:36;uniqueIndex:idx_analysis_results_document" json:"document_id"`
	JobID        string    `gorm:"column:job_id;size:36;index:idx_analysis_results_job" json:"job_id"`
	ProviderUsed string    `gorm:"column:provider_used;size:60" json:"provider_used"`
	MetricCount  int       `gorm:"column:metric_count;default:0" json:"metric_count"`
	InsightCount int       `gorm:"column:insight_count;default:0" json:"insight_count"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (AnalysisResult) TableName() string {
	return "analysis_results"
}

// Report is the aggregate artifact synthesized across a subject's analyzed
// documents. Created once, never mutated; a new run supersedes it.
type Report struct {
	ID              string    `gorm:"column:id;primaryKey;size:36" json:"id"`
	SubjectID       string    `gorm:"column:subject_id;size:64;index:idx_reports_subject" json:"subject_id"`
	FocusArea       string    `gorm:"column:focus_area;size:40" json:"focus_area"`
	DocumentCount   int       `gorm:"column:document_count;default:0" json:"document_count"`
	MetricsAnalyzed int       `gorm:"column:metrics_analyzed;default:0" json:"metrics_analyzed"`
	Content         string    `gorm:"column:content;type:longtext" json:"content"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (Report) TableName() string {
	return "reports"
}
