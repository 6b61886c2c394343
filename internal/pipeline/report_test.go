package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brightpath/internal/models"
	"brightpath/internal/provider"
	"brightpath/internal/retry"
)

func newReportOrchestrator(env *testEnv, cap *fakeCapability) *ReportOrchestrator {
	return NewReportOrchestrator(ReportOrchestratorDeps{
		Jobs:         env.jobs,
		Docs:         env.docs,
		Analysis:     env.analysis,
		Quota:        env.quota,
		Tracker:      env.tracker,
		Registry:     map[string]provider.Capability{cap.name: cap},
		Order:        []string{cap.name},
		Broadcaster:  env.broadcaster,
		Logger:       env.logger,
		PollInterval: 5 * time.Millisecond,
		ItemTimeout:  2 * time.Second,
	})
}

// pumpAnalysis drains analyze and report_item jobs in the background until
// the returned stop function is called.
func pumpAnalysis(worker *AnalysisWorker) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if ctx.Err() != nil {
				return
			}
			worked, err := worker.ProcessOne(ctx)
			if err != nil || !worked {
				time.Sleep(2 * time.Millisecond)
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestValidateFocusArea(t *testing.T) {
	got, err := ValidateFocusArea("")
	require.NoError(t, err)
	assert.Equal(t, "comprehensive", got)

	got, err = ValidateFocusArea(" Behavioral ")
	require.NoError(t, err)
	assert.Equal(t, "behavioral", got)

	_, err = ValidateFocusArea("astrology")
	require.Error(t, err)
}

func TestReportToleratesPartialAnalysisFailure(t *testing.T) {
	env := newTestEnv(t, 20)
	cap := &fakeCapability{
		name: "gateway",
		analyzeFn: func(_ context.Context, content, _ string) (*provider.AnalysisOutcome, error) {
			if strings.Contains(content, "POISON") {
				return nil, retry.Permanent("", "document is unreadable")
			}
			return &provider.AnalysisOutcome{
				Summary: "ok",
				Metrics: []provider.Metric{{Name: "a", Value: 1}, {Name: "b", Value: 2}},
			}, nil
		},
		synthesizeFn: func(_ context.Context, _ string) (string, error) {
			return "# Progress Report\n\nSteady improvement.", nil
		},
	}
	orch := newReportOrchestrator(env, cap)
	stop := pumpAnalysis(newAnalysisWorker(env, cap))
	defer stop()

	for i, name := range []string{"one", "two", "three", "four", "five"} {
		content := longText("session notes " + name)
		if i >= 3 {
			content = longText("POISON scan " + name)
		}
		env.createExtractedDocument(t, "subj-1", "subj-1/"+name+".pdf", content)
	}

	report, err := orch.Run(context.Background(), "subj-1", "")
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, "comprehensive", report.FocusArea)
	assert.Equal(t, 3, report.DocumentCount, "only analyzed documents count")
	assert.Equal(t, 6, report.MetricsAnalyzed)
	assert.Contains(t, report.Content, "Progress Report")

	used, _, err := env.quota.Usage("subj-1")
	require.NoError(t, err)
	assert.Equal(t, 1, used, "the whole run costs one quota unit")

	latest, err := env.analysis.FindLatestReport("subj-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, report.ID, latest.ID)

	var aggJobs []models.Job
	require.NoError(t, env.db.Where("job_type = ?", models.JobTypeReportAggregate).Find(&aggJobs).Error)
	require.Len(t, aggJobs, 1)
	assert.Equal(t, models.JobStatusCompleted, aggJobs[0].Status)
}

func TestReportFailsBeforeQuotaWhenNothingAnalyzed(t *testing.T) {
	env := newTestEnv(t, 20)
	cap := &fakeCapability{
		name: "gateway",
		analyzeFn: func(_ context.Context, _, _ string) (*provider.AnalysisOutcome, error) {
			return nil, retry.Permanent("", "document is unreadable")
		},
	}
	orch := newReportOrchestrator(env, cap)
	stop := pumpAnalysis(newAnalysisWorker(env, cap))
	defer stop()

	env.createExtractedDocument(t, "subj-1", "subj-1/a.pdf", longText("first scan"))
	env.createExtractedDocument(t, "subj-1", "subj-1/b.pdf", longText("second scan"))

	report, err := orch.Run(context.Background(), "subj-1", "skill")
	require.Error(t, err)
	assert.Nil(t, report)
	assert.Contains(t, err.Error(), "no documents could be analyzed")

	used, _, err := env.quota.Usage("subj-1")
	require.NoError(t, err)
	assert.Zero(t, used, "a run that produced nothing charges nothing")

	latest, err := env.analysis.FindLatestReport("subj-1")
	require.NoError(t, err)
	assert.Nil(t, latest)

	var aggJobs []models.Job
	require.NoError(t, env.db.Where("job_type = ?", models.JobTypeReportAggregate).Find(&aggJobs).Error)
	require.Len(t, aggJobs, 1)
	assert.Equal(t, models.JobStatusFailed, aggJobs[0].Status)
	assert.Zero(t, cap.synthesizeCalls.Load())
}

func TestReportSkipsAlreadyAnalyzedDocuments(t *testing.T) {
	env := newTestEnv(t, 20)
	cap := &fakeCapability{
		name:      "gateway",
		analyzeFn: scriptedAnalysis(1, 1),
		synthesizeFn: func(_ context.Context, _ string) (string, error) {
			return "# Report", nil
		},
	}
	orch := newReportOrchestrator(env, cap)
	stop := pumpAnalysis(newAnalysisWorker(env, cap))
	defer stop()

	fresh := env.createExtractedDocument(t, "subj-1", "subj-1/fresh.pdf", longText("new upload"))
	cached := env.createExtractedDocument(t, "subj-1", "subj-1/cached.pdf", longText("old upload"))
	require.NoError(t, env.analysis.CreateResult(&models.AnalysisResult{
		DocumentID:   cached.ID,
		JobID:        "earlier-job",
		ProviderUsed: "gateway",
		MetricCount:  5,
		InsightCount: 2,
	}))

	report, err := orch.Run(context.Background(), "subj-1", "")
	require.NoError(t, err)
	assert.Equal(t, 2, report.DocumentCount)
	assert.Equal(t, 6, report.MetricsAnalyzed)

	var itemJobs []models.Job
	require.NoError(t, env.db.Where("job_type = ? AND target_document_id = ?",
		models.JobTypeReportItem, cached.ID).Find(&itemJobs).Error)
	assert.Empty(t, itemJobs, "cached documents need no item job")

	require.NoError(t, env.db.Where("job_type = ? AND target_document_id = ?",
		models.JobTypeReportItem, fresh.ID).Find(&itemJobs).Error)
	assert.Len(t, itemJobs, 1)
}

func TestReportRequiresExtractedDocuments(t *testing.T) {
	env := newTestEnv(t, 20)
	cap := &fakeCapability{name: "gateway"}
	orch := newReportOrchestrator(env, cap)

	env.createDocument(t, "subj-1", "subj-1/pending.pdf", 10)

	_, err := orch.Run(context.Background(), "subj-1", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no extracted documents")
}
