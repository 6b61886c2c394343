package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"brightpath/internal/broadcast"
	"brightpath/internal/models"
	"brightpath/internal/provider"
	"brightpath/internal/quota"
	"brightpath/internal/repository"
	"brightpath/internal/retry"
)

// AnalysisWorker processes analyze and report_item jobs. Both run the same
// provider analysis over a document's extracted text; report items skip the
// quota check because the report aggregate is charged once instead.
type AnalysisWorker struct {
	jobs        *repository.JobRepository
	docs        *repository.DocumentRepository
	analysis    *repository.AnalysisRepository
	quota       *quota.Service
	tracker     *provider.Tracker
	registry    map[string]provider.Capability
	order       []string
	policy      retry.Policy
	broadcaster broadcast.Broadcaster
	logger      *zap.Logger

	pollInterval time.Duration
	timeout      time.Duration
}

type AnalysisWorkerDeps struct {
	Jobs        *repository.JobRepository
	Docs        *repository.DocumentRepository
	Analysis    *repository.AnalysisRepository
	Quota       *quota.Service
	Tracker     *provider.Tracker
	Registry    map[string]provider.Capability
	Order       []string
	Policy      retry.Policy
	Broadcaster broadcast.Broadcaster
	Logger      *zap.Logger

	PollInterval time.Duration
	Timeout      time.Duration
}

func NewAnalysisWorker(deps AnalysisWorkerDeps) *AnalysisWorker {
	return &AnalysisWorker{
		jobs:         deps.Jobs,
		docs:         deps.Docs,
		analysis:     deps.Analysis,
		quota:        deps.Quota,
		tracker:      deps.Tracker,
		registry:     deps.Registry,
		order:        deps.Order,
		policy:       deps.Policy,
		broadcaster:  deps.Broadcaster,
		logger:       deps.Logger,
		pollInterval: deps.PollInterval,
		timeout:      deps.Timeout,
	}
}

// Run polls for analyze and report_item jobs until the context is
// cancelled.
func (w *AnalysisWorker) Run(ctx context.Context) {
	runLoop(ctx, w.logger, "analysis", w.pollInterval, w.ProcessOne)
}

// ProcessOne claims one due job, preferring direct analyze jobs over
// report items. It reports whether a job was claimed.
func (w *AnalysisWorker) ProcessOne(ctx context.Context) (bool, error) {
	var job *models.Job
	for _, jobType := range []models.JobType{models.JobTypeAnalyze, models.JobTypeReportItem} {
		claimed, err := w.jobs.ClaimNext(jobType)
		if err != nil {
			return false, err
		}
		if claimed != nil {
			job = claimed
			break
		}
	}
	if job == nil {
		return false, nil
	}

	publishJobEvent(ctx, w.broadcaster, w.logger, job, models.JobStatusQueued, models.JobStatusProcessing, "")

	providerUsed, procErr := w.process(ctx, job)
	if procErr == nil {
		if err := w.jobs.Complete(job.ID, providerUsed); err != nil {
			return true, err
		}
		publishJobEvent(ctx, w.broadcaster, w.logger, job, models.JobStatusProcessing, models.JobStatusCompleted, "")
		return true, nil
	}

	return true, w.fail(ctx, job, providerUsed, procErr)
}

func (w *AnalysisWorker) process(ctx context.Context, job *models.Job) (string, error) {
	if job.TargetDocumentID == nil {
		return "", retry.Permanent("", "analysis job has no target document")
	}

	doc, err := w.docs.FindByID(*job.TargetDocumentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", retry.Permanent(retry.CodeSourceRemoved, "document record no longer exists")
	}
	if err != nil {
		return "", retry.Transient("document lookup failed", err)
	}

	if doc.ExtractionStatus != models.ExtractionCompleted {
		return "", retry.Permanent("", "document text has not been extracted")
	}
	if len(strings.TrimSpace(doc.ExtractedContent)) < minContentLength {
		return "", retry.Permanent(retry.CodeEmptyContent, "extracted content is too short to analyze")
	}

	// A document analyzed by an earlier job is done; completing the job
	// without a provider call keeps retries and duplicates idempotent.
	existing, err := w.analysis.FindResultByDocument(doc.ID)
	if err != nil {
		return "", retry.Transient("analysis lookup failed", err)
	}
	if existing != nil {
		return existing.ProviderUsed, nil
	}

	// Quota is charged before any provider work so an exhausted subject
	// never consumes provider capacity. Report items bypass this; the
	// aggregate job is charged once for the whole run.
	if !job.BypassQuota {
		if err := w.quota.CheckAndReserve(job.SubjectID, 1); err != nil {
			return "", err
		}
	}

	// The deadline counts from when the job was claimed, so time lost
	// before this attempt still counts against it.
	deadline := time.Now().Add(w.timeout)
	if job.StartedAt != nil {
		deadline = job.StartedAt.Add(w.timeout)
	}
	if time.Now().After(deadline) {
		return "", &retry.Error{
			Class:   retry.ClassTransient,
			Code:    retry.CodeTimedOut,
			Message: "analysis deadline passed before provider call",
		}
	}

	providerName, err := w.tracker.Pick(w.order)
	if err != nil {
		return "", retry.Transient("provider health lookup failed", err)
	}
	if providerName == "" {
		return "", retry.Permanent(retry.CodeProvidersDegraded, "all analysis providers are degraded")
	}
	capability, ok := w.registry[providerName]
	if !ok {
		return "", retry.Permanent("", "provider "+providerName+" is not configured")
	}

	cctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	outcome, err := capability.Analyze(cctx, doc.ExtractedContent, doc.Category)
	if err != nil {
		if herr := w.tracker.RecordFailure(providerName); herr != nil {
			w.logger.Warn("Failed to record provider failure", zap.String("provider", providerName), zap.Error(herr))
		}
		return providerName, err
	}
	if herr := w.tracker.RecordSuccess(providerName); herr != nil {
		w.logger.Warn("Failed to record provider success", zap.String("provider", providerName), zap.Error(herr))
	}

	result := &models.AnalysisResult{
		DocumentID:   doc.ID,
		JobID:        job.ID,
		ProviderUsed: providerName,
		MetricCount:  len(outcome.Metrics),
		InsightCount: len(outcome.Insights),
	}
	if err := w.analysis.CreateResult(result); err != nil {
		// A concurrent job may have written the row first; the unique index
		// on document_id makes that a success, not a failure.
		if existing, ferr := w.analysis.FindResultByDocument(doc.ID); ferr == nil && existing != nil {
			return existing.ProviderUsed, nil
		}
		return providerName, retry.Transient("failed to persist analysis result", err)
	}

	w.logger.Info("Analysis completed",
		zap.String("job_id", job.ID),
		zap.String("document_id", doc.ID),
		zap.String("provider", providerName),
		zap.Int("metrics", result.MetricCount),
		zap.Int("insights", result.InsightCount))
	return providerName, nil
}

func (w *AnalysisWorker) fail(ctx context.Context, job *models.Job, providerUsed string, procErr error) error {
	attempt := job.RetryCount + 1
	class := retry.Classify(procErr)
	decision := w.policy.Decide(attempt, class)

	if decision.Retry {
		if err := w.jobs.ScheduleRetry(job.ID, attempt, decision.Delay, procErr.Error()); err != nil {
			return err
		}
		publishJobEvent(ctx, w.broadcaster, w.logger, job, models.JobStatusProcessing, models.JobStatusQueued, procErr.Error())
		w.logger.Warn("Analysis attempt failed, retrying",
			zap.String("job_id", job.ID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", decision.Delay),
			zap.Error(procErr))
		return nil
	}

	finalRetryCount := job.RetryCount
	if class != retry.ClassPermanent {
		finalRetryCount = attempt
	}
	if err := w.jobs.Fail(job.ID, providerUsed, procErr.Error(), finalRetryCount); err != nil {
		return err
	}
	publishJobEvent(ctx, w.broadcaster, w.logger, job, models.JobStatusProcessing, models.JobStatusFailed, procErr.Error())
	w.logger.Error("Analysis failed permanently",
		zap.String("job_id", job.ID),
		zap.String("code", retry.Code(procErr)),
		zap.Error(procErr))
	return nil
}
