package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"brightpath/internal/broadcast"
	"brightpath/internal/models"
	"brightpath/internal/provider"
	"brightpath/internal/quota"
	"brightpath/internal/repository"
	"brightpath/internal/retry"
)

// Focus areas a report can be generated for. Anything else is rejected
// before any work is enqueued.
var validFocusAreas = map[string]bool{
	"comprehensive": true,
	"behavioral":    true,
	"skill":         true,
	"intervention":  true,
	"sensory":       true,
	"environmental": true,
}

// DefaultFocusArea is used when the request names none.
const DefaultFocusArea = "comprehensive"

// ReportOrchestrator runs the fan-out/fan-in report flow: one report_item
// job per unanalyzed document, then a single report_aggregate job that
// synthesizes the final report. Item jobs bypass quota; the whole run is
// charged exactly one quota unit at the aggregate step.
type ReportOrchestrator struct {
	jobs        *repository.JobRepository
	docs        *repository.DocumentRepository
	analysis    *repository.AnalysisRepository
	quota       *quota.Service
	tracker     *provider.Tracker
	registry    map[string]provider.Capability
	order       []string
	broadcaster broadcast.Broadcaster
	logger      *zap.Logger

	pollInterval time.Duration
	itemTimeout  time.Duration
}

type ReportOrchestratorDeps struct {
	Jobs        *repository.JobRepository
	Docs        *repository.DocumentRepository
	Analysis    *repository.AnalysisRepository
	Quota       *quota.Service
	Tracker     *provider.Tracker
	Registry    map[string]provider.Capability
	Order       []string
	Broadcaster broadcast.Broadcaster
	Logger      *zap.Logger

	PollInterval time.Duration
	ItemTimeout  time.Duration
}

func NewReportOrchestrator(deps ReportOrchestratorDeps) *ReportOrchestrator {
	return &ReportOrchestrator{
		jobs:         deps.Jobs,
		docs:         deps.Docs,
		analysis:     deps.Analysis,
		quota:        deps.Quota,
		tracker:      deps.Tracker,
		registry:     deps.Registry,
		order:        deps.Order,
		broadcaster:  deps.Broadcaster,
		logger:       deps.Logger,
		pollInterval: deps.PollInterval,
		itemTimeout:  deps.ItemTimeout,
	}
}

// ValidateFocusArea normalizes and checks a requested focus area.
func ValidateFocusArea(focusArea string) (string, error) {
	if focusArea == "" {
		return DefaultFocusArea, nil
	}
	focusArea = strings.ToLower(strings.TrimSpace(focusArea))
	if !validFocusAreas[focusArea] {
		return "", fmt.Errorf("invalid focus area: %s", focusArea)
	}
	return focusArea, nil
}

// Run generates a report for one subject. It blocks until the report is
// written or the run fails; callers wanting 202 semantics run it in a
// goroutine.
func (o *ReportOrchestrator) Run(ctx context.Context, subjectID, focusArea string) (*models.Report, error) {
	focusArea, err := ValidateFocusArea(focusArea)
	if err != nil {
		return nil, err
	}

	docs, err := o.docs.FindBySubject(subjectID)
	if err != nil {
		return nil, err
	}
	eligible := make([]models.Document, 0, len(docs))
	for _, doc := range docs {
		if doc.ExtractionStatus == models.ExtractionCompleted &&
			strings.TrimSpace(doc.ExtractedContent) != "" {
			eligible = append(eligible, doc)
		}
	}
	if len(eligible) == 0 {
		return nil, fmt.Errorf("subject %s has no extracted documents to report on", subjectID)
	}

	itemJobIDs, err := o.enqueueItems(subjectID, eligible)
	if err != nil {
		return nil, err
	}
	if err := o.waitForItems(ctx, itemJobIDs); err != nil {
		return nil, err
	}
	o.logItemOutcomes(subjectID, itemJobIDs)

	docIDs := make([]string, len(eligible))
	for i, doc := range eligible {
		docIDs[i] = doc.ID
	}
	results, err := o.analysis.FindResultsByDocuments(docIDs)
	if err != nil {
		return nil, err
	}

	aggJob, err := o.jobs.Enqueue(models.JobTypeReportAggregate, subjectID, nil, repository.EnqueueOptions{})
	if err != nil {
		return nil, err
	}
	aggJob, err = o.jobs.ClaimByID(aggJob.ID)
	if err != nil {
		return nil, err
	}
	publishJobEvent(ctx, o.broadcaster, o.logger, aggJob, models.JobStatusQueued, models.JobStatusProcessing, "")

	report, providerUsed, synthErr := o.synthesize(ctx, aggJob, focusArea, eligible, results)
	if synthErr != nil {
		if err := o.jobs.Fail(aggJob.ID, providerUsed, synthErr.Error(), aggJob.RetryCount); err != nil {
			o.logger.Error("Failed to record aggregate failure", zap.String("job_id", aggJob.ID), zap.Error(err))
		}
		publishJobEvent(ctx, o.broadcaster, o.logger, aggJob, models.JobStatusProcessing, models.JobStatusFailed, synthErr.Error())
		return nil, synthErr
	}

	if err := o.jobs.Complete(aggJob.ID, providerUsed); err != nil {
		o.logger.Error("Failed to complete aggregate job", zap.String("job_id", aggJob.ID), zap.Error(err))
	}
	publishJobEvent(ctx, o.broadcaster, o.logger, aggJob, models.JobStatusProcessing, models.JobStatusCompleted, "")
	return report, nil
}

// enqueueItems creates one bypass-quota item job per document that has no
// analysis result yet. Already-analyzed documents need no job at all.
func (o *ReportOrchestrator) enqueueItems(subjectID string, docs []models.Document) ([]string, error) {
	var jobIDs []string
	for i := range docs {
		existing, err := o.analysis.FindResultByDocument(docs[i].ID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			continue
		}
		job, err := o.jobs.Enqueue(models.JobTypeReportItem, subjectID, &docs[i].ID,
			repository.EnqueueOptions{BypassQuota: true})
		if err != nil {
			return nil, err
		}
		jobIDs = append(jobIDs, job.ID)
	}
	return jobIDs, nil
}

// waitForItems polls until every item job reaches a terminal state.
func (o *ReportOrchestrator) waitForItems(ctx context.Context, jobIDs []string) error {
	if len(jobIDs) == 0 {
		return nil
	}

	deadline := time.Now().Add(o.itemTimeout * time.Duration(len(jobIDs)))
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		active, err := o.jobs.CountActive(jobIDs)
		if err != nil {
			return err
		}
		if active == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("report items did not finish within the deadline (%d still active)", active)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// logItemOutcomes records how the fan-out went before the aggregate step.
func (o *ReportOrchestrator) logItemOutcomes(subjectID string, jobIDs []string) {
	if len(jobIDs) == 0 {
		return
	}
	itemJobs, err := o.jobs.FindByIDs(jobIDs)
	if err != nil {
		o.logger.Warn("Failed to load report item outcomes", zap.String("subject_id", subjectID), zap.Error(err))
		return
	}
	completed, failed := 0, 0
	for _, job := range itemJobs {
		switch job.Status {
		case models.JobStatusCompleted:
			completed++
		case models.JobStatusFailed:
			failed++
		}
	}
	o.logger.Info("Report items finished",
		zap.String("subject_id", subjectID),
		zap.Int("completed", completed),
		zap.Int("failed", failed))
}

// synthesize charges the quota unit and runs the aggregate provider call.
func (o *ReportOrchestrator) synthesize(ctx context.Context, aggJob *models.Job, focusArea string, docs []models.Document, results []models.AnalysisResult) (*models.Report, string, error) {
	if len(results) == 0 {
		return nil, "", retry.Permanent("", "no documents could be analyzed for the report")
	}

	if err := o.quota.CheckAndReserve(aggJob.SubjectID, 1); err != nil {
		return nil, "", err
	}

	providerName, err := o.tracker.Pick(o.order)
	if err != nil {
		return nil, "", retry.Transient("provider health lookup failed", err)
	}
	if providerName == "" {
		return nil, "", retry.Permanent(retry.CodeProvidersDegraded, "all report providers are degraded")
	}
	capability, ok := o.registry[providerName]
	if !ok {
		return nil, "", retry.Permanent("", "provider "+providerName+" is not configured")
	}

	cctx, cancel := context.WithTimeout(ctx, o.itemTimeout)
	defer cancel()

	content, err := capability.Synthesize(cctx, buildReportPrompt(focusArea, docs, results))
	if err != nil {
		if herr := o.tracker.RecordFailure(providerName); herr != nil {
			o.logger.Warn("Failed to record provider failure", zap.String("provider", providerName), zap.Error(herr))
		}
		return nil, providerName, err
	}
	if herr := o.tracker.RecordSuccess(providerName); herr != nil {
		o.logger.Warn("Failed to record provider success", zap.String("provider", providerName), zap.Error(herr))
	}

	metricsAnalyzed := 0
	for _, result := range results {
		metricsAnalyzed += result.MetricCount
	}

	report := &models.Report{
		SubjectID:       aggJob.SubjectID,
		FocusArea:       focusArea,
		DocumentCount:   len(results),
		MetricsAnalyzed: metricsAnalyzed,
		Content:         content,
	}
	if err := o.analysis.CreateReport(report); err != nil {
		return nil, providerName, err
	}

	o.logger.Info("Report generated",
		zap.String("subject_id", aggJob.SubjectID),
		zap.String("report_id", report.ID),
		zap.String("focus_area", focusArea),
		zap.Int("documents", report.DocumentCount),
		zap.Int("metrics", report.MetricsAnalyzed))
	return report, providerName, nil
}

// buildReportPrompt assembles the synthesis prompt from the analyzed
// document set.
func buildReportPrompt(focusArea string, docs []models.Document, results []models.AnalysisResult) string {
	analyzed := make(map[string]models.AnalysisResult, len(results))
	for _, result := range results {
		analyzed[result.DocumentID] = result
	}

	var b strings.Builder
	b.WriteString("Write a " + focusArea + " report synthesizing the following analyzed documents.\n")
	b.WriteString("Structure the report in markdown with a summary, key findings and recommendations.\n\n")
	for _, doc := range docs {
		result, ok := analyzed[doc.ID]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "## %s (category: %s, %d metrics, %d insights)\n",
			doc.FileName, doc.Category, result.MetricCount, result.InsightCount)
		b.WriteString(doc.ExtractedContent)
		b.WriteString("\n\n")
	}
	return b.String()
}
