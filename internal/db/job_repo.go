package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"pushengine/internal/types"
)

// jobColumns is the projection shared by every query that returns a full
// notification job. Keep it in sync with scanJob.
const jobColumns = `id, title, body, image_url, deep_link_url,
	send_status, send_progress, send_total, success_count, failure_count,
	send_errors, receiver_count,
	send_started_at, send_completed_at, send_heartbeat_at,
	created_at, updated_at`

// JobRepository provides data access for the notifications table. Every
// state change is a conditional UPDATE so concurrent runners never trample
// each other.
type JobRepository struct {
	db DBTX
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db DBTX) *JobRepository {
	return &JobRepository{db: db}
}

// Transition describes a conditional status change. The update applies only
// when the row's current status is one of From.
type Transition struct {
	JobID string
	From  []types.SendStatus
	To    types.SendStatus
	At    time.Time

	// Reset zeroes the run counters, clears the error list and the
	// completion stamp.
	Reset bool
	// Start stamps send_started_at and send_heartbeat_at with At.
	Start bool
}

// CompleteParams is the final write of a run.
type CompleteParams struct {
	Status   types.SendStatus
	Progress types.Progress
	Total    int
	At       time.Time
}

// StaleFilter selects jobs whose runner appears to have gone away.
type StaleFilter struct {
	// SendingHeartbeatBefore matches sending jobs with an older heartbeat.
	SendingHeartbeatBefore time.Time
	// QueuedBefore matches queued jobs last touched before this instant.
	QueuedBefore time.Time
	Limit        int
}

// Create inserts a new idle job. The caller assigns the ID.
func (r *JobRepository) Create(ctx context.Context, job *types.NotificationJob) error {
	status := job.SendStatus
	if status == "" {
		status = types.SendStatusIdle
	}
	row := r.db.QueryRow(ctx,
		`INSERT INTO notifications
		 (id, title, body, image_url, deep_link_url, send_status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()), COALESCE($7, NOW()))
		 RETURNING created_at, updated_at`,
		job.ID,
		job.Title,
		job.Body,
		job.ImageURL,
		job.DeepLinkURL,
		string(status),
		nilIfZeroTime(job.CreatedAt),
	)
	if err := row.Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create notification", err)
	}
	job.SendStatus = status
	return nil
}

// Get loads a job by ID. A missing row yields not_found_notification.
func (r *JobRepository) Get(ctx context.Context, id string) (*types.NotificationJob, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM notifications WHERE id = $1`, id)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundNotification,
				fmt.Sprintf("notification %s not found", id), err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load notification", err)
	}
	return job, nil
}

// List returns jobs newest first, filtered by status and keyset cursor.
// It fetches one extra row so the caller can tell whether more exist.
func (r *JobRepository) List(ctx context.Context, f types.JobListFilter) ([]*types.NotificationJob, error) {
	statuses := make([]string, 0, len(f.Statuses))
	for _, s := range f.Statuses {
		statuses = append(statuses, string(s))
	}

	var (
		beforeAt *time.Time
		beforeID string
	)
	if f.Before != nil {
		at := f.Before.CreatedAt
		beforeAt, beforeID = &at, f.Before.ID
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+jobColumns+` FROM notifications
		 WHERE (cardinality($1::text[]) = 0 OR send_status = ANY($1))
		   AND ($2::timestamptz IS NULL OR (created_at, id) < ($2, $3::text))
		 ORDER BY created_at DESC, id DESC
		 LIMIT $4`,
		statuses, beforeAt, beforeID, f.NormalizedLimit()+1,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list notifications", err)
	}
	defer rows.Close()

	var jobs []*types.NotificationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan notification", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate notifications", err)
	}
	return jobs, nil
}

// TryTransition applies t and reports whether a row changed.
func (r *JobRepository) TryTransition(ctx context.Context, t Transition) (bool, error) {
	from := make([]string, 0, len(t.From))
	for _, s := range t.From {
		from = append(from, string(s))
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE notifications SET
			send_status = $3,
			updated_at = $4,
			send_progress     = CASE WHEN $5 THEN 0 ELSE send_progress END,
			send_total        = CASE WHEN $5 THEN 0 ELSE send_total END,
			success_count     = CASE WHEN $5 THEN 0 ELSE success_count END,
			failure_count     = CASE WHEN $5 THEN 0 ELSE failure_count END,
			receiver_count    = CASE WHEN $5 THEN 0 ELSE receiver_count END,
			send_errors       = CASE WHEN $5 THEN '{}'::text[] ELSE send_errors END,
			send_completed_at = CASE WHEN $5 THEN NULL ELSE send_completed_at END,
			send_started_at   = CASE WHEN $6 THEN $4 ELSE send_started_at END,
			send_heartbeat_at = CASE WHEN $6 THEN $4 ELSE send_heartbeat_at END
		 WHERE id = $1 AND send_status = ANY($2)`,
		t.JobID, from, string(t.To), t.At, t.Reset, t.Start,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to transition notification", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetTotal records the resolved audience size for a running job. The total
// never drops below the persisted progress.
func (r *JobRepository) SetTotal(ctx context.Context, id string, total int, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE notifications SET
			send_total = GREATEST(send_progress, $2),
			send_heartbeat_at = $3,
			updated_at = $3
		 WHERE id = $1 AND send_status = 'sending'`,
		id, total, at,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to set send total", err)
	}
	return tag.RowsAffected() > 0, nil
}

// WriteProgress persists a cumulative progress snapshot and refreshes the
// heartbeat. A snapshot older than what is stored is ignored, so
// send_progress never moves backwards.
func (r *JobRepository) WriteProgress(ctx context.Context, id string, p types.Progress, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE notifications SET
			send_progress = $2,
			send_total = GREATEST(send_total, $2),
			success_count = $3,
			failure_count = $4,
			receiver_count = $3,
			send_errors = $5,
			send_heartbeat_at = $6,
			updated_at = $6
		 WHERE id = $1 AND send_status = 'sending' AND send_progress <= $2`,
		id, p.Processed, p.Success, p.Failure, capErrors(p.RecentErrors), at,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to write send progress", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Complete writes the terminal state of a run. It only applies while the
// job is still sending.
func (r *JobRepository) Complete(ctx context.Context, id string, c CompleteParams) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE notifications SET
			send_status = $2,
			send_progress = $3,
			send_total = GREATEST($4, $3),
			success_count = $5,
			failure_count = $6,
			receiver_count = $5,
			send_errors = $7,
			send_completed_at = $8,
			send_heartbeat_at = $8,
			updated_at = $8
		 WHERE id = $1 AND send_status = 'sending'`,
		id, string(c.Status), c.Progress.Processed, c.Total,
		c.Progress.Success, c.Progress.Failure, capErrors(c.Progress.RecentErrors), c.At,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to complete notification", err)
	}
	return tag.RowsAffected() > 0, nil
}

// FailParams is the terminal write of a failed job.
type FailParams struct {
	Diagnostic string
	// Progress, when set, is the run's in-memory counters. It is written
	// as-is and the diagnostic is appended to its errors. When nil the
	// persisted counters stay and the diagnostic is appended to the stored
	// errors.
	Progress *types.Progress
	At       time.Time
}

// Fail moves a queued or sending job to failed. The error list stays
// capped at MaxSendErrors, keeping the most recent entries.
func (r *JobRepository) Fail(ctx context.Context, id string, f FailParams) (bool, error) {
	var (
		hasProgress bool
		p           types.Progress
		errs        []string
	)
	if f.Progress != nil {
		hasProgress, p = true, *f.Progress
		errs = capErrors(append(append([]string(nil), p.RecentErrors...), f.Diagnostic))
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE notifications SET
			send_status = 'failed',
			send_progress  = CASE WHEN $4 THEN GREATEST(send_progress, $5) ELSE send_progress END,
			send_total     = CASE WHEN $4 THEN GREATEST(send_total, $5) ELSE send_total END,
			success_count  = CASE WHEN $4 THEN $6 ELSE success_count END,
			failure_count  = CASE WHEN $4 THEN $7 ELSE failure_count END,
			receiver_count = CASE WHEN $4 THEN $6 ELSE receiver_count END,
			send_errors    = CASE WHEN $4 THEN $8::text[]
				ELSE (array_append(send_errors, $2::text))[GREATEST(cardinality(send_errors) + 2 - $9, 1):]
				END,
			send_completed_at = $3,
			updated_at = $3
		 WHERE id = $1 AND send_status IN ('queued', 'sending')`,
		id, f.Diagnostic, f.At, hasProgress, p.Processed, p.Success, p.Failure, errs, types.MaxSendErrors,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark notification failed", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListStale returns IDs of sending jobs with an expired heartbeat and queued
// jobs nobody picked up, oldest first.
func (r *JobRepository) ListStale(ctx context.Context, f StaleFilter) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id FROM notifications
		 WHERE (send_status = 'sending' AND COALESCE(send_heartbeat_at, send_started_at, updated_at) < $1)
		    OR (send_status = 'queued' AND updated_at < $2)
		 ORDER BY updated_at ASC
		 LIMIT $3`,
		f.SendingHeartbeatBefore, f.QueuedBefore, f.Limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list stale notifications", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan stale notification", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate stale notifications", err)
	}
	return ids, nil
}

// scanJob scans one row in jobColumns order.
func scanJob(row pgx.Row) (*types.NotificationJob, error) {
	var (
		job    types.NotificationJob
		status string
	)
	err := row.Scan(
		&job.ID, &job.Title, &job.Body, &job.ImageURL, &job.DeepLinkURL,
		&status, &job.SendProgress, &job.SendTotal, &job.SuccessCount, &job.FailureCount,
		&job.SendErrors, &job.ReceiverCount,
		&job.SendStartedAt, &job.SendCompletedAt, &job.SendHeartbeatAt,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.SendStatus = types.SendStatus(status)
	return &job, nil
}

// capErrors keeps the most recent MaxSendErrors entries and never returns
// nil, since send_errors is NOT NULL.
func capErrors(errs []string) []string {
	if len(errs) > types.MaxSendErrors {
		errs = errs[len(errs)-types.MaxSendErrors:]
	}
	out := make([]string, len(errs))
	copy(out, errs)
	return out
}
