package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brightpath/internal/models"
	"brightpath/internal/provider"
	"brightpath/internal/repository"
	"brightpath/internal/retry"
)

func newExtractionWorker(env *testEnv, cap *fakeCapability, store *fakeStore) *ExtractionWorker {
	return NewExtractionWorker(ExtractionWorkerDeps{
		Jobs:         env.jobs,
		Docs:         env.docs,
		Files:        store,
		Tracker:      env.tracker,
		Registry:     map[string]provider.Capability{cap.name: cap},
		Order:        []string{cap.name},
		Policy:       retry.NewPolicy(time.Millisecond),
		Broadcaster:  env.broadcaster,
		Logger:       env.logger,
		PollInterval: 5 * time.Millisecond,
		Timeout:      time.Second,
		MaxFileKB:    5120,
	})
}

func TestExtractionSucceedsOnFirstAttempt(t *testing.T) {
	env := newTestEnv(t, 20)
	content := longText("IEP assessment results for the student")
	cap := &fakeCapability{
		name: "vision",
		extractFn: func(_ context.Context, _ provider.ExtractionInput) (string, error) {
			return content, nil
		},
	}
	store := &fakeStore{files: map[string][]byte{"subj-1/a.pdf": []byte("%PDF-")}}
	worker := newExtractionWorker(env, cap, store)

	doc := env.createDocument(t, "subj-1", "subj-1/a.pdf", 10)
	job, err := env.jobs.Enqueue(models.JobTypeExtract, "subj-1", &doc.ID, repository.EnqueueOptions{})
	require.NoError(t, err)

	events, cancel, err := env.broadcaster.Subscribe(context.Background(), "subj-1")
	require.NoError(t, err)
	defer cancel()

	worked, err := worker.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)

	gotJob, err := env.jobs.FindByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, gotJob.Status)
	assert.Equal(t, "vision", gotJob.ProviderUsed)
	assert.Zero(t, gotJob.RetryCount)

	gotDoc, err := env.docs.FindByID(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionCompleted, gotDoc.ExtractionStatus)
	assert.Equal(t, content, gotDoc.ExtractedContent)
	assert.Equal(t, 1, gotDoc.ExtractionAttempts)

	hp, err := env.healthRepo.Find("vision")
	require.NoError(t, err)
	require.NotNil(t, hp)
	assert.Zero(t, hp.ConsecutiveFailures)
	assert.NotNil(t, hp.LastSuccessAt)

	sawCompleted := false
	for drained := false; !drained; {
		select {
		case event := <-events:
			if event.EntityType == "job" && event.NewStatus == string(models.JobStatusCompleted) {
				sawCompleted = true
			}
		default:
			drained = true
		}
	}
	assert.True(t, sawCompleted, "expected a job completed event on the subject topic")
}

func TestExtractionMarksRemovedWhenFileIsGone(t *testing.T) {
	env := newTestEnv(t, 20)
	cap := &fakeCapability{name: "vision"}
	store := &fakeStore{files: map[string][]byte{}}
	worker := newExtractionWorker(env, cap, store)

	doc := env.createDocument(t, "subj-1", "subj-1/gone.pdf", 10)
	job, err := env.jobs.Enqueue(models.JobTypeExtract, "subj-1", &doc.ID, repository.EnqueueOptions{})
	require.NoError(t, err)

	_, err = worker.ProcessOne(context.Background())
	require.NoError(t, err)

	gotDoc, err := env.docs.FindByID(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionRemoved, gotDoc.ExtractionStatus, "removed is distinct from failed")

	gotJob, err := env.jobs.FindByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, gotJob.Status)
	assert.Zero(t, gotJob.RetryCount, "permanent failure keeps the retry count")
	assert.Contains(t, gotJob.ErrorMessage, "removed")

	assert.Zero(t, cap.extractCalls.Load(), "no provider call for a missing file")
}

func TestExtractionRetriesTransientThenSucceeds(t *testing.T) {
	env := newTestEnv(t, 20)
	content := longText("recovered on the third attempt")
	attempts := 0
	cap := &fakeCapability{
		name: "vision",
		extractFn: func(_ context.Context, _ provider.ExtractionInput) (string, error) {
			attempts++
			if attempts < 3 {
				return "", retry.Transient("upstream hiccup", nil)
			}
			return content, nil
		},
	}
	store := &fakeStore{files: map[string][]byte{"subj-1/b.pdf": []byte("%PDF-")}}
	worker := newExtractionWorker(env, cap, store)

	doc := env.createDocument(t, "subj-1", "subj-1/b.pdf", 10)
	job, err := env.jobs.Enqueue(models.JobTypeExtract, "subj-1", &doc.ID, repository.EnqueueOptions{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := worker.ProcessOne(context.Background())
		require.NoError(t, err)
		time.Sleep(20 * time.Millisecond) // let the backoff window pass
	}

	gotJob, err := env.jobs.FindByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, gotJob.Status)
	assert.Equal(t, 2, gotJob.RetryCount)

	gotDoc, err := env.docs.FindByID(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionCompleted, gotDoc.ExtractionStatus)
	assert.Equal(t, 3, gotDoc.ExtractionAttempts)
}

func TestExtractionExhaustsRetryBudget(t *testing.T) {
	env := newTestEnv(t, 20)
	cap := &fakeCapability{
		name: "vision",
		extractFn: func(_ context.Context, _ provider.ExtractionInput) (string, error) {
			return "", retry.Transient("still broken", nil)
		},
	}
	store := &fakeStore{files: map[string][]byte{"subj-1/c.pdf": []byte("%PDF-")}}
	worker := newExtractionWorker(env, cap, store)

	doc := env.createDocument(t, "subj-1", "subj-1/c.pdf", 10)
	job, err := env.jobs.Enqueue(models.JobTypeExtract, "subj-1", &doc.ID, repository.EnqueueOptions{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := worker.ProcessOne(context.Background())
		require.NoError(t, err)
		time.Sleep(20 * time.Millisecond)
	}

	gotJob, err := env.jobs.FindByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, gotJob.Status)
	assert.Equal(t, models.MaxJobRetries, gotJob.RetryCount, "exhausted job lands exactly at the cap")

	gotDoc, err := env.docs.FindByID(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionFailed, gotDoc.ExtractionStatus)
}

func TestExtractionFailsWhenAllProvidersDegraded(t *testing.T) {
	env := newTestEnv(t, 20)
	cap := &fakeCapability{name: "vision"}
	store := &fakeStore{files: map[string][]byte{"subj-1/d.pdf": []byte("%PDF-")}}
	worker := newExtractionWorker(env, cap, store)

	for i := 0; i < 3; i++ {
		require.NoError(t, env.tracker.RecordFailure("vision"))
	}

	doc := env.createDocument(t, "subj-1", "subj-1/d.pdf", 10)
	job, err := env.jobs.Enqueue(models.JobTypeExtract, "subj-1", &doc.ID, repository.EnqueueOptions{})
	require.NoError(t, err)

	_, err = worker.ProcessOne(context.Background())
	require.NoError(t, err)

	gotJob, err := env.jobs.FindByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, gotJob.Status)
	assert.Contains(t, gotJob.ErrorMessage, "degraded")
	assert.Zero(t, cap.extractCalls.Load())
}

func TestExtractionRejectsOversizedFile(t *testing.T) {
	env := newTestEnv(t, 20)
	cap := &fakeCapability{name: "vision"}
	store := &fakeStore{files: map[string][]byte{"subj-1/huge.pdf": []byte("%PDF-")}}
	worker := newExtractionWorker(env, cap, store)

	doc := env.createDocument(t, "subj-1", "subj-1/huge.pdf", 9000)
	job, err := env.jobs.Enqueue(models.JobTypeExtract, "subj-1", &doc.ID, repository.EnqueueOptions{})
	require.NoError(t, err)

	_, err = worker.ProcessOne(context.Background())
	require.NoError(t, err)

	gotJob, err := env.jobs.FindByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, gotJob.Status)

	gotDoc, err := env.docs.FindByID(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionFailed, gotDoc.ExtractionStatus)
	assert.Zero(t, cap.extractCalls.Load())
}

func TestExtractionRejectsTooShortContent(t *testing.T) {
	env := newTestEnv(t, 20)
	cap := &fakeCapability{
		name: "vision",
		extractFn: func(_ context.Context, _ provider.ExtractionInput) (string, error) {
			return "almost empty", nil
		},
	}
	store := &fakeStore{files: map[string][]byte{"subj-1/e.pdf": []byte("%PDF-")}}
	worker := newExtractionWorker(env, cap, store)

	doc := env.createDocument(t, "subj-1", "subj-1/e.pdf", 10)
	job, err := env.jobs.Enqueue(models.JobTypeExtract, "subj-1", &doc.ID, repository.EnqueueOptions{})
	require.NoError(t, err)

	_, err = worker.ProcessOne(context.Background())
	require.NoError(t, err)

	gotJob, err := env.jobs.FindByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, gotJob.Status)

	gotDoc, err := env.docs.FindByID(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionFailed, gotDoc.ExtractionStatus)
}

func TestExtractionReusesCachedContent(t *testing.T) {
	env := newTestEnv(t, 20)
	cap := &fakeCapability{name: "vision"}
	store := &fakeStore{files: map[string][]byte{}}
	worker := newExtractionWorker(env, cap, store)

	doc := env.createExtractedDocument(t, "subj-1", "subj-1/f.pdf", longText("already extracted"))
	job, err := env.jobs.Enqueue(models.JobTypeExtract, "subj-1", &doc.ID, repository.EnqueueOptions{})
	require.NoError(t, err)

	_, err = worker.ProcessOne(context.Background())
	require.NoError(t, err)

	gotJob, err := env.jobs.FindByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, gotJob.Status)
	assert.Zero(t, cap.extractCalls.Load(), "cached extraction needs no provider call")
}
