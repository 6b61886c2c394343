package health

import (
	"time"

	"brightpath/internal/models"
	"brightpath/internal/provider"
	"brightpath/internal/repository"
)

// Window is the trailing period the pipeline snapshot covers.
const Window = 24 * time.Hour

// Snapshot is the dashboard view of the pipeline over the trailing window.
type Snapshot struct {
	WindowHours         int                     `json:"window_hours"`
	TotalJobs           int64                   `json:"total_jobs"`
	Queued              int64                   `json:"queued"`
	Processing          int64                   `json:"processing"`
	Completed           int64                   `json:"completed"`
	Failed              int64                   `json:"failed"`
	SuccessRate         float64                 `json:"success_rate"`
	AvgProcessingTimeMs float64                 `json:"avg_processing_time_ms"`
	Providers           []models.ProviderHealth `json:"providers"`
	GeneratedAt         time.Time               `json:"generated_at"`
}

// Aggregator computes pipeline health from job history and provider
// records.
type Aggregator struct {
	jobs    *repository.JobRepository
	tracker *provider.Tracker
}

func NewAggregator(jobs *repository.JobRepository, tracker *provider.Tracker) *Aggregator {
	return &Aggregator{jobs: jobs, tracker: tracker}
}

// Snapshot computes the current health view. An empty window yields zero
// counts and a zero success rate rather than an error.
func (a *Aggregator) Snapshot() (*Snapshot, error) {
	since := time.Now().Add(-Window)

	counts, err := a.jobs.CountByStatusSince(since)
	if err != nil {
		return nil, err
	}
	avgMs, err := a.jobs.AvgProcessingMsSince(since)
	if err != nil {
		return nil, err
	}
	providers, err := a.tracker.Snapshot()
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		WindowHours:         int(Window / time.Hour),
		Queued:              counts[models.JobStatusQueued],
		Processing:          counts[models.JobStatusProcessing],
		Completed:           counts[models.JobStatusCompleted],
		Failed:              counts[models.JobStatusFailed],
		AvgProcessingTimeMs: avgMs,
		Providers:           providers,
		GeneratedAt:         time.Now(),
	}
	snap.TotalJobs = snap.Queued + snap.Processing + snap.Completed + snap.Failed
	if snap.TotalJobs > 0 {
		snap.SuccessRate = float64(snap.Completed) / float64(snap.TotalJobs)
	}
	return snap, nil
}
