package repository

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brightpath/internal/models"
)

func TestEnqueueDeduplicatesActiveJobs(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	docID := "doc-1"

	first, err := repo.Enqueue(models.JobTypeExtract, "subj-1", &docID, EnqueueOptions{})
	require.NoError(t, err)

	second, err := repo.Enqueue(models.JobTypeExtract, "subj-1", &docID, EnqueueOptions{})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// A different job type for the same document is a new job.
	analyze, err := repo.Enqueue(models.JobTypeAnalyze, "subj-1", &docID, EnqueueOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, analyze.ID)
}

func TestEnqueueRaisesFlagsOnCoalescedJob(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	docID := "doc-1"

	first, err := repo.Enqueue(models.JobTypeExtract, "subj-1", &docID, EnqueueOptions{})
	require.NoError(t, err)
	assert.False(t, first.ForceExtract)

	// A force request coalescing into the active job must not lose the flag.
	second, err := repo.Enqueue(models.JobTypeExtract, "subj-1", &docID, EnqueueOptions{ForceExtract: true})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.ForceExtract)

	persisted, err := repo.FindByID(first.ID)
	require.NoError(t, err)
	assert.True(t, persisted.ForceExtract)

	// A later plain request never clears an already-raised flag.
	third, err := repo.Enqueue(models.JobTypeExtract, "subj-1", &docID, EnqueueOptions{})
	require.NoError(t, err)
	assert.True(t, third.ForceExtract)
}

func TestEnqueueAfterTerminalCreatesNewJob(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	docID := "doc-1"

	first, err := repo.Enqueue(models.JobTypeExtract, "subj-1", &docID, EnqueueOptions{})
	require.NoError(t, err)

	claimed, err := repo.ClaimNext(models.JobTypeExtract)
	require.NoError(t, err)
	require.NoError(t, repo.Complete(claimed.ID, "vision"))

	second, err := repo.Enqueue(models.JobTypeExtract, "subj-1", &docID, EnqueueOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestClaimNextRespectsNotBefore(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	docID := "doc-1"

	job, err := repo.Enqueue(models.JobTypeExtract, "subj-1", &docID, EnqueueOptions{})
	require.NoError(t, err)

	// Push the job into the future; it must not be claimable.
	require.NoError(t, db.Model(&models.Job{}).Where("id = ?", job.ID).
		Update("not_before", time.Now().Add(time.Hour)).Error)

	claimed, err := repo.ClaimNext(models.JobTypeExtract)
	require.NoError(t, err)
	assert.Nil(t, claimed)

	require.NoError(t, db.Model(&models.Job{}).Where("id = ?", job.ID).
		Update("not_before", time.Now().Add(-time.Second)).Error)

	claimed, err = repo.ClaimNext(models.JobTypeExtract)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, models.JobStatusProcessing, claimed.Status)
	assert.NotNil(t, claimed.StartedAt)
}

func TestClaimNextConcurrentWorkersGetDistinctJobs(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))

	const n = 8
	for i := 0; i < n; i++ {
		docID := "doc-" + string(rune('a'+i))
		_, err := repo.Enqueue(models.JobTypeExtract, "subj-1", &docID, EnqueueOptions{})
		require.NoError(t, err)
	}

	var mu sync.Mutex
	claimed := make(map[string]int)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := repo.ClaimNext(models.JobTypeExtract)
			if err != nil || job == nil {
				return
			}
			mu.Lock()
			claimed[job.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	for id, count := range claimed {
		assert.Equal(t, 1, count, "job %s claimed more than once", id)
	}
	assert.Len(t, claimed, n)
}

func TestScheduleRetryRequeuesWithBackoff(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	docID := "doc-1"

	_, err := repo.Enqueue(models.JobTypeExtract, "subj-1", &docID, EnqueueOptions{})
	require.NoError(t, err)
	job, err := repo.ClaimNext(models.JobTypeExtract)
	require.NoError(t, err)

	require.NoError(t, repo.ScheduleRetry(job.ID, 1, time.Hour, "provider timed out"))

	got, err := repo.FindByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, "provider timed out", got.ErrorMessage)
	assert.Nil(t, got.StartedAt)
	assert.True(t, got.NotBefore.After(time.Now().Add(30*time.Minute)))

	// Not due yet, so not claimable.
	claimed, err := repo.ClaimNext(models.JobTypeExtract)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestFailCapsRetryCount(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	docID := "doc-1"

	_, err := repo.Enqueue(models.JobTypeExtract, "subj-1", &docID, EnqueueOptions{})
	require.NoError(t, err)
	job, err := repo.ClaimNext(models.JobTypeExtract)
	require.NoError(t, err)

	require.NoError(t, repo.Fail(job.ID, "vision", "gave up", 7))

	got, err := repo.FindByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, got.MaxRetries, got.RetryCount)
	assert.Equal(t, "vision", got.ProviderUsed)
	assert.NotNil(t, got.CompletedAt)
}

func TestCompleteRecordsProcessingTime(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	docID := "doc-1"

	_, err := repo.Enqueue(models.JobTypeExtract, "subj-1", &docID, EnqueueOptions{})
	require.NoError(t, err)
	job, err := repo.ClaimNext(models.JobTypeExtract)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, repo.Complete(job.ID, "vision"))

	got, err := repo.FindByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.GreaterOrEqual(t, got.ProcessingTimeMs, int64(10))
}

func TestFinalizeRejectsNonProcessingJob(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	docID := "doc-1"

	job, err := repo.Enqueue(models.JobTypeExtract, "subj-1", &docID, EnqueueOptions{})
	require.NoError(t, err)

	// Still queued; completing must fail.
	assert.Error(t, repo.Complete(job.ID, "vision"))
}

func TestCancelIsIdempotent(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	docID := "doc-1"

	job, err := repo.Enqueue(models.JobTypeExtract, "subj-1", &docID, EnqueueOptions{})
	require.NoError(t, err)

	changed, err := repo.Cancel(job.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := repo.FindByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, "cancelled by operator", got.ErrorMessage)

	// Second cancel succeeds without changing anything.
	changed, err = repo.Cancel(job.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	// Unknown job still errors.
	_, err = repo.Cancel("no-such-job")
	assert.Error(t, err)
}

func TestRequeueResetsTerminalJob(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	docID := "doc-1"

	_, err := repo.Enqueue(models.JobTypeExtract, "subj-1", &docID, EnqueueOptions{})
	require.NoError(t, err)
	job, err := repo.ClaimNext(models.JobTypeExtract)
	require.NoError(t, err)
	require.NoError(t, repo.Fail(job.ID, "vision", "gave up", 3))

	requeued, err := repo.Requeue(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, requeued.Status)
	assert.Equal(t, 0, requeued.RetryCount)
	assert.Empty(t, requeued.ErrorMessage)
	assert.Nil(t, requeued.StartedAt)
	assert.Nil(t, requeued.CompletedAt)

	// Requeueing a queued job is rejected.
	_, err = repo.Requeue(job.ID)
	assert.Error(t, err)
}

func TestCountByStatusAndAverages(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))

	for i := 0; i < 3; i++ {
		docID := "doc-" + string(rune('a'+i))
		_, err := repo.Enqueue(models.JobTypeExtract, "subj-1", &docID, EnqueueOptions{})
		require.NoError(t, err)
	}
	job, err := repo.ClaimNext(models.JobTypeExtract)
	require.NoError(t, err)
	require.NoError(t, repo.Complete(job.ID, "vision"))

	since := time.Now().Add(-time.Hour)
	counts, err := repo.CountByStatusSince(since)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[models.JobStatusQueued])
	assert.Equal(t, int64(1), counts[models.JobStatusCompleted])

	avg, err := repo.AvgProcessingMsSince(since)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, avg, float64(0))

	// Empty window yields zero, not an error.
	avg, err = repo.AvgProcessingMsSince(time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, avg)
}

func TestFindStale(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	docID := "doc-1"

	_, err := repo.Enqueue(models.JobTypeExtract, "subj-1", &docID, EnqueueOptions{})
	require.NoError(t, err)
	job, err := repo.ClaimNext(models.JobTypeExtract)
	require.NoError(t, err)

	stale, err := repo.FindStale(5 * time.Minute)
	require.NoError(t, err)
	assert.Empty(t, stale)

	require.NoError(t, db.Model(&models.Job{}).Where("id = ?", job.ID).
		Update("started_at", time.Now().Add(-10*time.Minute)).Error)

	stale, err = repo.FindStale(5 * time.Minute)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, job.ID, stale[0].ID)
}

func TestCountActive(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))

	docA, docB := "doc-a", "doc-b"
	jobA, err := repo.Enqueue(models.JobTypeReportItem, "subj-1", &docA, EnqueueOptions{BypassQuota: true})
	require.NoError(t, err)
	jobB, err := repo.Enqueue(models.JobTypeReportItem, "subj-1", &docB, EnqueueOptions{BypassQuota: true})
	require.NoError(t, err)

	active, err := repo.CountActive([]string{jobA.ID, jobB.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), active)

	claimed, err := repo.ClaimNext(models.JobTypeReportItem)
	require.NoError(t, err)
	require.NoError(t, repo.Complete(claimed.ID, "gateway"))

	active, err = repo.CountActive([]string{jobA.ID, jobB.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), active)
}
