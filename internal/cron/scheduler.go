package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"brightpath/internal/broadcast"
	"brightpath/internal/config"
	"brightpath/internal/models"
	"brightpath/internal/repository"
	"brightpath/internal/retry"
)

// Scheduler manages the pipeline's background maintenance jobs.
type Scheduler struct {
	cron        *cron.Cron
	cfg         *config.Config
	logger      *zap.Logger
	jobs        *repository.JobRepository
	policy      retry.Policy
	broadcaster broadcast.Broadcaster
}

// New creates the scheduler.
func New(cfg *config.Config, jobs *repository.JobRepository, broadcaster broadcast.Broadcaster, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:        cron.New(cron.WithSeconds()),
		cfg:         cfg,
		logger:      logger,
		jobs:        jobs,
		policy:      retry.NewPolicy(cfg.Pipeline.RetryBase),
		broadcaster: broadcaster,
	}
}

// Start registers and starts all cron jobs.
func (s *Scheduler) Start() {
	s.logger.Info("Starting cron scheduler...")

	interval := int(s.cfg.Pipeline.WatchdogInterval / time.Minute)
	if interval < 1 {
		interval = 1
	}

	// Stale-job watchdog
	s.cron.AddFunc(fmt.Sprintf("0 */%d * * * *", interval), func() {
		s.logger.Debug("Running: stale job watchdog")
		s.requeueStaleJobs()
	})

	s.cron.Start()
	s.logger.Info("Cron scheduler started")
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// requeueStaleJobs recovers jobs whose worker died mid-flight. A job stuck
// in processing past the staleness threshold goes back to the queue, and
// the recovery attempt counts against the job's retry budget; a job with
// no budget left is failed instead of looping forever.
func (s *Scheduler) requeueStaleJobs() {
	defer s.recoverFromPanic("requeueStaleJobs")

	stale, err := s.jobs.FindStale(s.cfg.Pipeline.StaleAfter)
	if err != nil {
		s.logger.Error("Watchdog query failed", zap.Error(err))
		return
	}

	for i := range stale {
		job := &stale[i]
		attempt := job.RetryCount + 1

		// Aggregate jobs are consumed only by the report run that enqueued
		// them; with that run gone, a requeued aggregate would sit in the
		// queue forever. Fail it so the caller re-issues the report request.
		if job.JobType == models.JobTypeReportAggregate {
			msg := "worker lost: report run abandoned, re-issue the report request"
			if err := s.jobs.Fail(job.ID, job.ProviderUsed, msg, job.RetryCount); err != nil {
				s.logger.Error("Watchdog failed to fail stale aggregate job", zap.String("job_id", job.ID), zap.Error(err))
				continue
			}
			s.publish(job, models.JobStatusFailed, msg)
			s.logger.Warn("Stale aggregate job failed",
				zap.String("job_id", job.ID),
				zap.String("subject_id", job.SubjectID))
			continue
		}

		if attempt >= job.MaxRetries {
			msg := "worker lost: job exceeded processing deadline"
			if err := s.jobs.Fail(job.ID, job.ProviderUsed, msg, attempt); err != nil {
				s.logger.Error("Watchdog failed to fail stale job", zap.String("job_id", job.ID), zap.Error(err))
				continue
			}
			s.publish(job, models.JobStatusFailed, msg)
			s.logger.Warn("Stale job failed for good",
				zap.String("job_id", job.ID),
				zap.String("job_type", string(job.JobType)),
				zap.Int("attempt", attempt))
			continue
		}

		decision := s.policy.Decide(attempt, retry.ClassTransient)
		msg := "worker lost: requeued by watchdog"
		if err := s.jobs.ScheduleRetry(job.ID, attempt, decision.Delay, msg); err != nil {
			s.logger.Error("Watchdog failed to requeue stale job", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		s.publish(job, models.JobStatusQueued, msg)
		s.logger.Warn("Stale job requeued",
			zap.String("job_id", job.ID),
			zap.String("job_type", string(job.JobType)),
			zap.Int("attempt", attempt),
			zap.Duration("delay", decision.Delay))
	}
}

func (s *Scheduler) publish(job *models.Job, newStatus models.JobStatus, detail string) {
	if s.broadcaster == nil {
		return
	}
	err := s.broadcaster.Publish(context.Background(), broadcast.Event{
		EntityID:   job.ID,
		EntityType: "job",
		SubjectID:  job.SubjectID,
		OldStatus:  string(models.JobStatusProcessing),
		NewStatus:  string(newStatus),
		Detail:     detail,
	})
	if err != nil {
		s.logger.Warn("Watchdog failed to publish event", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (s *Scheduler) recoverFromPanic(jobName string) {
	if r := recover(); r != nil {
		s.logger.Error("Cron job panicked", zap.String("job", jobName), zap.Any("error", r))
	}
}
