package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"brightpath/internal/broadcast"
	"brightpath/internal/filestore"
	"brightpath/internal/models"
	"brightpath/internal/provider"
	"brightpath/internal/repository"
	"brightpath/internal/retry"
)

// ExtractionWorker processes extract jobs: it fetches the source file,
// runs a vision-capable provider over it and stores the extracted text on
// the document.
type ExtractionWorker struct {
	jobs        *repository.JobRepository
	docs        *repository.DocumentRepository
	files       filestore.Store
	tracker     *provider.Tracker
	registry    map[string]provider.Capability
	order       []string
	policy      retry.Policy
	broadcaster broadcast.Broadcaster
	logger      *zap.Logger

	pollInterval time.Duration
	timeout      time.Duration
	maxFileKB    int64
}

type ExtractionWorkerDeps struct {
	Jobs        *repository.JobRepository
	Docs        *repository.DocumentRepository
	Files       filestore.Store
	Tracker     *provider.Tracker
	Registry    map[string]provider.Capability
	Order       []string
	Policy      retry.Policy
	Broadcaster broadcast.Broadcaster
	Logger      *zap.Logger

	PollInterval time.Duration
	Timeout      time.Duration
	MaxFileKB    int64
}

func NewExtractionWorker(deps ExtractionWorkerDeps) *ExtractionWorker {
	return &ExtractionWorker{
		jobs:         deps.Jobs,
		docs:         deps.Docs,
		files:        deps.Files,
		tracker:      deps.Tracker,
		registry:     deps.Registry,
		order:        deps.Order,
		policy:       deps.Policy,
		broadcaster:  deps.Broadcaster,
		logger:       deps.Logger,
		pollInterval: deps.PollInterval,
		timeout:      deps.Timeout,
		maxFileKB:    deps.MaxFileKB,
	}
}

// Run polls for extract jobs until the context is cancelled.
func (w *ExtractionWorker) Run(ctx context.Context) {
	runLoop(ctx, w.logger, "extraction", w.pollInterval, w.ProcessOne)
}

// ProcessOne claims and fully processes one due extract job. It reports
// whether a job was claimed.
func (w *ExtractionWorker) ProcessOne(ctx context.Context) (bool, error) {
	job, err := w.jobs.ClaimNext(models.JobTypeExtract)
	if err != nil {
		return false, err
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

// process runs one extraction attempt and returns the provider used.
func (w *ExtractionWorker) process(ctx context.Context, job *models.Job) (string, error) {
	if job.TargetDocumentID == nil {
		return "", retry.Permanent("", "extract job has no target document")
	}

	doc, err := w.docs.FindByID(*job.TargetDocumentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", retry.Permanent(retry.CodeSourceRemoved, "document record no longer exists")
	}
	if err != nil {
		return "", retry.Transient("document lookup failed", err)
	}

	// A document extracted by an earlier job needs no provider call unless
	// the operator forced a fresh pass.
	if doc.ExtractionStatus == models.ExtractionCompleted &&
		strings.TrimSpace(doc.ExtractedContent) != "" && !job.ForceExtract {
		return "", nil
	}

	if w.maxFileKB > 0 && doc.FileSizeKB > w.maxFileKB {
		msg := fmt.Sprintf("file is %dKB, limit is %dKB", doc.FileSizeKB, w.maxFileKB)
		if err := w.docs.MarkFailed(doc.ID, msg); err != nil {
			return "", err
		}
		return "", retry.Permanent(retry.CodeFileTooLarge, msg)
	}

	prev := doc.ExtractionStatus
	if err := w.docs.MarkTriggering(doc.ID); err != nil {
		return "", err
	}
	publishDocumentEvent(ctx, w.broadcaster, w.logger, doc, prev, models.ExtractionTriggering, "")

	providerName, err := w.tracker.Pick(w.order)
	if err != nil {
		return "", retry.Transient("provider health lookup failed", err)
	}
	if providerName == "" {
		return "", retry.Permanent(retry.CodeProvidersDegraded, "all extraction providers are degraded")
	}
	capability, ok := w.registry[providerName]
	if !ok {
		return "", retry.Permanent("", "provider "+providerName+" is not configured")
	}

	if err := w.docs.MarkProcessing(doc.ID); err != nil {
		return "", err
	}

	cctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	data, err := w.files.Fetch(cctx, doc.FileRef)
	if errors.Is(err, filestore.ErrNotFound) {
		msg := "source file was removed from storage"
		if merr := w.docs.MarkRemoved(doc.ID, msg); merr != nil {
			return "", merr
		}
		publishDocumentEvent(ctx, w.broadcaster, w.logger, doc, models.ExtractionProcessing, models.ExtractionRemoved, msg)
		return "", retry.Permanent(retry.CodeSourceRemoved, msg)
	}
	if err != nil {
		return "", retry.Transient("file fetch failed", err)
	}

	text, err := capability.ExtractText(cctx, provider.ExtractionInput{
		FileName: doc.FileName,
		FileType: doc.FileType,
		Data:     data,
	})
	if err != nil {
		if herr := w.tracker.RecordFailure(providerName); herr != nil {
			w.logger.Warn("Failed to record provider failure", zap.String("provider", providerName), zap.Error(herr))
		}
		return providerName, err
	}
	if herr := w.tracker.RecordSuccess(providerName); herr != nil {
		w.logger.Warn("Failed to record provider success", zap.String("provider", providerName), zap.Error(herr))
	}

	if len(strings.TrimSpace(text)) < minContentLength {
		return providerName, retry.Permanent(retry.CodeEmptyContent,
			fmt.Sprintf("extracted content is too short (%d chars)", len(strings.TrimSpace(text))))
	}

	if err := w.docs.MarkCompleted(doc.ID, text); err != nil {
		return providerName, err
	}
	publishDocumentEvent(ctx, w.broadcaster, w.logger, doc, models.ExtractionProcessing, models.ExtractionCompleted, "")

	w.logger.Info("Extraction completed",
		zap.String("job_id", job.ID),
		zap.String("document_id", doc.ID),
		zap.String("provider", providerName),
		zap.Int("content_length", len(text)))
	return providerName, nil
}

// fail applies the retry policy to a failed attempt: either the job goes
// back to the queue with backoff, or it lands in failed for good.
func (w *ExtractionWorker) fail(ctx context.Context, job *models.Job, providerUsed string, procErr error) error {
	attempt := job.RetryCount + 1
	class := retry.Classify(procErr)
	decision := w.policy.Decide(attempt, class)

	if decision.Retry {
		if job.TargetDocumentID != nil {
			if err := w.docs.MarkRetrying(*job.TargetDocumentID); err != nil {
				return err
			}
		}
		if err := w.jobs.ScheduleRetry(job.ID, attempt, decision.Delay, procErr.Error()); err != nil {
			return err
		}
		publishJobEvent(ctx, w.broadcaster, w.logger, job, models.JobStatusProcessing, models.JobStatusQueued, procErr.Error())
		w.logger.Warn("Extraction attempt failed, retrying",
			zap.String("job_id", job.ID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", decision.Delay),
			zap.Error(procErr))
		return nil
	}

	// Terminal. Retryable errors that ran out of budget land exactly at the
	// cap; permanent errors keep whatever count the job had.
	finalRetryCount := job.RetryCount
	if class != retry.ClassPermanent {
		finalRetryCount = attempt
	}

	code := retry.Code(procErr)
	if job.TargetDocumentID != nil && code != retry.CodeSourceRemoved {
		if err := w.docs.MarkFailed(*job.TargetDocumentID, procErr.Error()); err != nil {
			return err
		}
	}
	if err := w.jobs.Fail(job.ID, providerUsed, procErr.Error(), finalRetryCount); err != nil {
		return err
	}
	publishJobEvent(ctx, w.broadcaster, w.logger, job, models.JobStatusProcessing, models.JobStatusFailed, procErr.Error())
	w.logger.Error("Extraction failed permanently",
		zap.String("job_id", job.ID),
		zap.String("code", code),
		zap.Error(procErr))
	return nil
}
