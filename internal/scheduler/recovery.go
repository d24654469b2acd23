package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"pushengine/internal/db"
	"pushengine/internal/types"
)

// RecoveryBatchLimit bounds the number of jobs republished per invocation.
const RecoveryBatchLimit = 100

// StaleJobDB lists jobs that no runner is making progress on.
type StaleJobDB interface {
	ListStale(ctx context.Context, f db.StaleFilter) ([]string, error)
}

// DispatchBatchPublisher publishes dispatch messages in bulk and returns the
// job IDs that could not be published.
type DispatchBatchPublisher interface {
	PublishBatch(ctx context.Context, msgs []types.DispatchMessage) ([]string, error)
}

// RecoveryService finds sending jobs with an expired heartbeat and queued
// jobs nobody picked up, and republishes a dispatch message for each. By the
// time a heartbeat is stale the crashed runner's lease has expired, so the
// next runner resumes from the persisted progress.
type RecoveryService struct {
	db        StaleJobDB
	publisher DispatchBatchPublisher
	logger    *slog.Logger
}

// NewRecoveryService creates a RecoveryService.
func NewRecoveryService(db StaleJobDB, publisher DispatchBatchPublisher, logger *slog.Logger) *RecoveryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecoveryService{
		db:        db,
		publisher: publisher,
		logger:    logger,
	}
}

// RecoverStalled republishes up to limit stalled jobs and returns how many
// were published. Jobs whose publish failed are picked up by the next run
// since their state is unchanged.
func (s *RecoveryService) RecoverStalled(ctx context.Context, now time.Time, staleAfter time.Duration, limit int) (int, error) {
	if limit <= 0 || limit > RecoveryBatchLimit {
		limit = RecoveryBatchLimit
	}
	cutoff := now.Add(-staleAfter)

	ids, err := s.db.ListStale(ctx, db.StaleFilter{
		SendingHeartbeatBefore: cutoff,
		QueuedBefore:           cutoff,
		Limit:                  limit,
	})
	if err != nil {
		return 0, fmt.Errorf("listing stale jobs: %w", err)
	}

	if len(ids) == 0 {
		s.logger.InfoContext(ctx, "no stalled push jobs")
		return 0, nil
	}

	msgs := make([]types.DispatchMessage, 0, len(ids))
	for _, id := range ids {
		msgs = append(msgs, types.DispatchMessage{
			JobID:      id,
			TraceID:    uuid.NewString(),
			EnqueuedAt: now,
			Reason:     types.DispatchReasonRecovery,
		})
	}

	failed, err := s.publisher.PublishBatch(ctx, msgs)
	if err != nil {
		return 0, fmt.Errorf("republishing stale jobs: %w", err)
	}
	for _, id := range failed {
		s.logger.ErrorContext(ctx, "failed to republish stalled push job", "job_id", id)
	}

	published := len(ids) - len(failed)
	s.logger.InfoContext(ctx, "stalled push job recovery complete",
		"published", published,
		"total_found", len(ids),
	)
	return published, nil
}
