package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"brightpath/internal/broadcast"
	"brightpath/internal/models"
)

// minContentLength is the smallest extracted text accepted as real content.
// Anything shorter is treated as a failed extraction, not an empty document.
const minContentLength = 50

// runLoop drives a poll-based worker until the context is cancelled. When a
// pass found work it polls again immediately so a backlog drains at full
// speed instead of one job per tick.
func runLoop(ctx context.Context, logger *zap.Logger, name string, interval time.Duration, pass func(ctx context.Context) (bool, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		worked, err := pass(ctx)
		if err != nil {
			logger.Error("Worker pass failed", zap.String("worker", name), zap.Error(err))
		}
		if worked {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// publishJobEvent reports a job transition on the subject's topic. Delivery
// is best-effort: a publish failure is logged and never fails the job.
func publishJobEvent(ctx context.Context, b broadcast.Broadcaster, logger *zap.Logger, job *models.Job, oldStatus, newStatus models.JobStatus, detail string) {
	if b == nil {
		return
	}
	err := b.Publish(ctx, broadcast.Event{
		EntityID:   job.ID,
		EntityType: "job",
		SubjectID:  job.SubjectID,
		OldStatus:  string(oldStatus),
		NewStatus:  string(newStatus),
		Detail:     detail,
	})
	if err != nil {
		logger.Warn("Failed to publish job event", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// publishDocumentEvent reports an extraction-state transition.
func publishDocumentEvent(ctx context.Context, b broadcast.Broadcaster, logger *zap.Logger, doc *models.Document, oldStatus, newStatus models.ExtractionStatus, detail string) {
	if b == nil {
		return
	}
	err := b.Publish(ctx, broadcast.Event{
		EntityID:   doc.ID,
		EntityType: "document",
		SubjectID:  doc.SubjectID,
		OldStatus:  string(oldStatus),
		NewStatus:  string(newStatus),
		Detail:     detail,
	})
	if err != nil {
		logger.Warn("Failed to publish document event", zap.String("document_id", doc.ID), zap.Error(err))
	}
}
