package models

import "time"

// JobType identifies the kind of work a pipeline job performs.
type JobType string

const (
	JobTypeExtract         JobType = "extract"
	JobTypeAnalyze         JobType = "analyze"
	JobTypeReportItem      JobType = "report_item"
	JobTypeReportAggregate JobType = "report_aggregate"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// MaxJobRetries caps the number of attempts a single job may make.
const MaxJobRetries = 3

// Job is one unit of pipeline work. A completed or failed job is terminal;
// only an operator requeue moves it back to queued.
type Job struct {
	ID               string     `gorm:"column:id;primaryKey;size:36" json:"id"`
	JobType          JobType    `gorm:"column:job_type;size:30;index:idx_jobs_type_status,priority:1" json:"job_type"`
	Status           JobStatus  `gorm:"column:status;size:20;index:idx_jobs_type_status,priority:2" json:"status"`
	SubjectID        string     `gorm:"column:subject_id;size:64;index:idx_jobs_subject" json:"subject_id"`
	TargetDocumentID *string    `gorm:"column:target_document_id;size:36;index:idx_jobs_document" json:"target_document_id"`
	RetryCount       int        `gorm:"column:retry_count;default:0" json:"retry_count"`
	MaxRetries       int        `gorm:"column:max_retries;default:3" json:"max_retries"`
	ProviderUsed     string     `gorm:"column:provider_used;size:60" json:"provider_used,omitempty"`
	ErrorMessage     string     `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	BypassQuota      bool       `gorm:"column:bypass_quota;default:false" json:"bypass_quota"`
	ForceExtract     bool       `gorm:"column:force_extract;default:false" json:"force_extract"`
	NotBefore        time.Time  `gorm:"column:not_before;index:idx_jobs_not_before" json:"not_before"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	StartedAt        *time.Time `gorm:"column:started_at" json:"started_at"`
	CompletedAt      *time.Time `gorm:"column:completed_at" json:"completed_at"`
	ProcessingTimeMs int64      `gorm:"column:processing_time_ms;default:0" json:"processing_time_ms"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Job) TableName() string {
	return "pipeline_jobs"
}

// Terminal reports whether the job can no longer transition on its own.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
