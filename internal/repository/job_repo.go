package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"brightpath/internal/models"
)

// claimRaceRetries bounds how many times ClaimNext re-picks after losing a
// compare-and-swap race to another worker.
const claimRaceRetries = 5

// JobRepository owns all pipeline job records.
type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// EnqueueOptions carries the optional flags a job can be created with.
type EnqueueOptions struct {
	BypassQuota  bool
	ForceExtract bool
}

// Enqueue creates a job in queued state. If an active (queued or
// processing) job of the same type already targets the same document, that
// job is returned instead of creating a duplicate; flags the new request
// carries are raised on the existing job so a coalesced force or bypass
// is not lost.
func (r *JobRepository) Enqueue(jobType models.JobType, subjectID string, targetDocumentID *string, opts EnqueueOptions) (*models.Job, error) {
	if targetDocumentID != nil {
		var existing models.Job
		err := r.db.Where("job_type = ? AND target_document_id = ? AND status IN ?",
			jobType, *targetDocumentID, []models.JobStatus{models.JobStatusQueued, models.JobStatusProcessing}).
			Order("created_at DESC").
			First(&existing).Error
		if err == nil {
			return r.raiseFlags(&existing, opts)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	job := &models.Job{
		ID:               uuid.New().String(),
		JobType:          jobType,
		Status:           models.JobStatusQueued,
		SubjectID:        subjectID,
		TargetDocumentID: targetDocumentID,
		MaxRetries:       models.MaxJobRetries,
		BypassQuota:      opts.BypassQuota,
		ForceExtract:     opts.ForceExtract,
		NotBefore:        time.Now(),
	}
	if err := r.db.Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

// raiseFlags merges a coalesced enqueue's flags into the existing job.
// Flags only go true-ward: a plain request never clears a force or bypass
// that an earlier request already set.
func (r *JobRepository) raiseFlags(job *models.Job, opts EnqueueOptions) (*models.Job, error) {
	updates := map[string]interface{}{}
	if opts.ForceExtract && !job.ForceExtract {
		updates["force_extract"] = true
		job.ForceExtract = true
	}
	if opts.BypassQuota && !job.BypassQuota {
		updates["bypass_quota"] = true
		job.BypassQuota = true
	}
	if len(updates) == 0 {
		return job, nil
	}
	if err := r.db.Model(&models.Job{}).Where("id = ?", job.ID).Updates(updates).Error; err != nil {
		return nil, err
	}
	return job, nil
}

// ClaimNext atomically moves one due queued job of the given type to
// processing. At most one caller wins a given job: the transition is a
// conditional update on status, and losers re-pick. Returns nil when no
// job is due.
func (r *JobRepository) ClaimNext(jobType models.JobType) (*models.Job, error) {
	for i := 0; i < claimRaceRetries; i++ {
		now := time.Now()

		var job models.Job
		err := r.db.Where("job_type = ? AND status = ? AND not_before <= ?",
			jobType, models.JobStatusQueued, now).
			Order("created_at ASC").
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		res := r.db.Model(&models.Job{}).
			Where("id = ? AND status = ?", job.ID, models.JobStatusQueued).
			Updates(map[string]interface{}{
				"status":     models.JobStatusProcessing,
				"started_at": now,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			job.Status = models.JobStatusProcessing
			job.StartedAt = &now
			return &job, nil
		}
		// Lost the race; another worker claimed it. Pick again.
	}
	return nil, nil
}

// ClaimByID moves one specific queued job to processing. Used by the
// report orchestrator, which consumes the aggregate jobs it enqueues
// itself rather than competing on the queue.
func (r *JobRepository) ClaimByID(jobID string) (*models.Job, error) {
	now := time.Now()
	res := r.db.Model(&models.Job{}).
		Where("id = ? AND status = ?", jobID, models.JobStatusQueued).
		Updates(map[string]interface{}{
			"status":     models.JobStatusProcessing,
			"started_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("job %s is not queued", jobID)
	}
	return r.FindByID(jobID)
}

// Complete moves a processing job to completed and records timing.
func (r *JobRepository) Complete(jobID, providerUsed string) error {
	return r.finalize(jobID, models.JobStatusCompleted, providerUsed, "", -1)
}

// Fail moves a processing job to failed. finalRetryCount, when >= 0,
// overwrites retry_count so an exhausted job lands exactly at the cap.
func (r *JobRepository) Fail(jobID, providerUsed, errMsg string, finalRetryCount int) error {
	return r.finalize(jobID, models.JobStatusFailed, providerUsed, errMsg, finalRetryCount)
}

func (r *JobRepository) finalize(jobID string, status models.JobStatus, providerUsed, errMsg string, retryCount int) error {
	var job models.Job
	if err := r.db.First(&job, "id = ?", jobID).Error; err != nil {
		return err
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":       status,
		"completed_at": now,
	}
	if job.StartedAt != nil {
		updates["processing_time_ms"] = now.Sub(*job.StartedAt).Milliseconds()
	}
	if providerUsed != "" {
		updates["provider_used"] = providerUsed
	}
	if errMsg != "" {
		updates["error_message"] = errMsg
	}
	if retryCount >= 0 {
		if retryCount > job.MaxRetries {
			retryCount = job.MaxRetries
		}
		updates["retry_count"] = retryCount
	}

	res := r.db.Model(&models.Job{}).
		Where("id = ? AND status = ?", jobID, models.JobStatusProcessing).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("job %s is not processing", jobID)
	}
	return nil
}

// ScheduleRetry re-queues a processing job for a later attempt. The job
// goes back to queued with a not-before timestamp so no worker sleeps
// through the backoff.
func (r *JobRepository) ScheduleRetry(jobID string, retryCount int, delay time.Duration, errMsg string) error {
	res := r.db.Model(&models.Job{}).
		Where("id = ? AND status = ?", jobID, models.JobStatusProcessing).
		Updates(map[string]interface{}{
			"status":        models.JobStatusQueued,
			"retry_count":   retryCount,
			"not_before":    time.Now().Add(delay),
			"error_message": errMsg,
			"started_at":    nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("job %s is not processing", jobID)
	}
	return nil
}

// Requeue is the operator escape hatch: it moves a terminal job back to
// queued, resets the retry budget and clears the recorded error.
func (r *JobRepository) Requeue(jobID string) (*models.Job, error) {
	res := r.db.Model(&models.Job{}).
		Where("id = ? AND status IN ?", jobID,
			[]models.JobStatus{models.JobStatusCompleted, models.JobStatusFailed}).
		Updates(map[string]interface{}{
			"status":        models.JobStatusQueued,
			"retry_count":   0,
			"error_message": "",
			"not_before":    time.Now(),
			"started_at":    nil,
			"completed_at":  nil,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("job %s is not in a terminal state", jobID)
	}

	var job models.Job
	if err := r.db.First(&job, "id = ?", jobID).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// Cancel moves a queued or processing job straight to completed without a
// result. Cancelling an already-terminal job is a no-op, not an error; the
// returned flag reports whether this call performed the transition.
func (r *JobRepository) Cancel(jobID string) (bool, error) {
	res := r.db.Model(&models.Job{}).
		Where("id = ? AND status IN ?", jobID,
			[]models.JobStatus{models.JobStatusQueued, models.JobStatusProcessing}).
		Updates(map[string]interface{}{
			"status":        models.JobStatusCompleted,
			"completed_at":  time.Now(),
			"error_message": "cancelled by operator",
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		// Verify the job exists so a bad ID still surfaces.
		var job models.Job
		if err := r.db.First(&job, "id = ?", jobID).Error; err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (r *JobRepository) FindByID(jobID string) (*models.Job, error) {
	var job models.Job
	if err := r.db.First(&job, "id = ?", jobID).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// List returns jobs filtered by optional status and type within the given
// trailing window, newest first.
func (r *JobRepository) List(status, jobType string, window time.Duration, limit int) ([]models.Job, error) {
	q := r.db.Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if jobType != "" {
		q = q.Where("job_type = ?", jobType)
	}
	if window > 0 {
		q = q.Where("created_at >= ?", time.Now().Add(-window))
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var jobs []models.Job
	err := q.Find(&jobs).Error
	return jobs, err
}

// CountByStatusSince returns per-status job counts created in the window.
func (r *JobRepository) CountByStatusSince(since time.Time) (map[models.JobStatus]int64, error) {
	type row struct {
		Status models.JobStatus
		Total  int64
	}
	var rows []row
	err := r.db.Model(&models.Job{}).
		Select("status, COUNT(*) AS total").
		Where("created_at >= ?", since).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[models.JobStatus]int64, len(rows))
	for _, rw := range rows {
		counts[rw.Status] = rw.Total
	}
	return counts, nil
}

// AvgProcessingMsSince returns the mean processing time of jobs completed
// in the window, 0 when the window is empty.
func (r *JobRepository) AvgProcessingMsSince(since time.Time) (float64, error) {
	var avg sql.NullFloat64
	err := r.db.Model(&models.Job{}).
		Select("AVG(processing_time_ms)").
		Where("status = ? AND completed_at >= ?", models.JobStatusCompleted, since).
		Scan(&avg).Error
	if err != nil {
		return 0, err
	}
	if !avg.Valid {
		return 0, nil
	}
	return avg.Float64, nil
}

// FindStale returns jobs stuck in processing longer than the threshold,
// for the watchdog to requeue or fail.
func (r *JobRepository) FindStale(olderThan time.Duration) ([]models.Job, error) {
	var jobs []models.Job
	err := r.db.Where("status = ? AND started_at IS NOT NULL AND started_at < ?",
		models.JobStatusProcessing, time.Now().Add(-olderThan)).
		Find(&jobs).Error
	return jobs, err
}

// CountActive returns how many of the given jobs are still queued or
// processing.
func (r *JobRepository) CountActive(jobIDs []string) (int64, error) {
	if len(jobIDs) == 0 {
		return 0, nil
	}
	var count int64
	err := r.db.Model(&models.Job{}).
		Where("id IN ? AND status IN ?", jobIDs,
			[]models.JobStatus{models.JobStatusQueued, models.JobStatusProcessing}).
		Count(&count).Error
	return count, err
}

// FindByIDs loads a batch of jobs by ID.
func (r *JobRepository) FindByIDs(jobIDs []string) ([]models.Job, error) {
	if len(jobIDs) == 0 {
		return nil, nil
	}
	var jobs []models.Job
	err := r.db.Where("id IN ?", jobIDs).Find(&jobs).Error
	return jobs, err
}
