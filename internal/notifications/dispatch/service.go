package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"pushengine/internal/cache"
	"pushengine/internal/db"
	"pushengine/internal/notifications/core"
	"pushengine/internal/types"
)

// StructValidator validates tagged request structs and returns an AppError
// on failure.
type StructValidator interface {
	ValidateStruct(s any) error
}

// Service is the admin-facing API over notification jobs.
type Service struct {
	jobs        JobStore
	publisher   core.DispatchPublisher
	statusCache *cache.TTLCache[string, types.JobStatus]
	validator   StructValidator
	clock       types.Clock
	logger      types.Logger
}

// NewService creates a Service. statusCache may be nil to disable caching.
func NewService(
	jobs JobStore,
	publisher core.DispatchPublisher,
	statusCache *cache.TTLCache[string, types.JobStatus],
	validator StructValidator,
	clock types.Clock,
	logger types.Logger,
) *Service {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Service{
		jobs:        jobs,
		publisher:   publisher,
		statusCache: statusCache,
		validator:   validator,
		clock:       clock,
		logger:      logger,
	}
}

// CreateJob validates in and stores a new idle job.
func (s *Service) CreateJob(ctx context.Context, in types.NewJob) (*types.NotificationJob, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Body = strings.TrimSpace(in.Body)
	in.ImageURL = trimOptional(in.ImageURL)
	in.DeepLinkURL = trimOptional(in.DeepLinkURL)

	if err := s.validator.ValidateStruct(in); err != nil {
		return nil, err
	}

	job := &types.NotificationJob{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Body:        in.Body,
		ImageURL:    in.ImageURL,
		DeepLinkURL: in.DeepLinkURL,
		SendStatus:  types.SendStatusIdle,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	s.logger.Info("notification created", "job_id", job.ID)
	return job, nil
}

// GetJob returns the full job record.
func (s *Service) GetJob(ctx context.Context, id string) (*types.NotificationJob, error) {
	return s.jobs.Get(ctx, id)
}

// ListJobs returns one page of jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, f types.JobListFilter) (types.ListResponse[*types.NotificationJob], error) {
	for _, st := range f.Statuses {
		if !st.IsValid() {
			return types.ListResponse[*types.NotificationJob]{}, types.NewAppError(
				types.ErrCodeValidationInvalidBody, fmt.Sprintf("unknown status %q", st), nil)
		}
	}

	limit := f.NormalizedLimit()
	f.Limit = limit
	jobs, err := s.jobs.List(ctx, f)
	if err != nil {
		return types.ListResponse[*types.NotificationJob]{}, err
	}

	resp := types.ListResponse[*types.NotificationJob]{Data: jobs}
	if len(jobs) > limit {
		resp.Data = jobs[:limit]
		resp.PageInfo.HasMore = true
		resp.PageInfo.NextCursor = types.CursorAfter(resp.Data[limit-1]).String()
	}
	if resp.Data == nil {
		resp.Data = []*types.NotificationJob{}
	}
	return resp, nil
}

// Enqueue requests a send: idle, failed or partial jobs move to queued and a
// dispatch message is published. A failed publish is logged only; the
// recovery sweeper republishes queued jobs.
func (s *Service) Enqueue(ctx context.Context, id string) (types.JobStatus, error) {
	now := s.clock.Now()
	moved, err := s.jobs.TryTransition(ctx, db.Transition{
		JobID: id,
		From:  types.EnqueueableStatuses,
		To:    types.SendStatusQueued,
		At:    now,
		Reset: true,
	})
	if err != nil {
		return types.JobStatus{}, err
	}

	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return types.JobStatus{}, err
	}
	if !moved {
		return types.JobStatus{}, enqueueConflict(job.SendStatus)
	}

	if s.statusCache != nil {
		s.statusCache.Delete(id)
	}

	msg := types.DispatchMessage{
		JobID:      id,
		TraceID:    traceID(ctx),
		EnqueuedAt: now,
		Reason:     types.DispatchReasonEnqueue,
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		s.logger.Error("failed to publish dispatch message", "job_id", id, "error", err)
	}

	s.logger.Info("notification send queued", "job_id", id)
	return job.Status(), nil
}

// GetJobStatus returns the polling view, served from a short-lived cache.
func (s *Service) GetJobStatus(ctx context.Context, id string) (types.JobStatus, error) {
	load := func(ctx context.Context) (types.JobStatus, error) {
		job, err := s.jobs.Get(ctx, id)
		if err != nil {
			return types.JobStatus{}, err
		}
		return job.Status(), nil
	}
	if s.statusCache == nil {
		return load(ctx)
	}
	return s.statusCache.GetOrLoad(ctx, id, load)
}

func enqueueConflict(status types.SendStatus) error {
	if status == types.SendStatusSent {
		return types.NewAppError(types.ErrCodeConflictAlreadySent,
			"notification has already been sent", nil).
			WithDetails(map[string]any{"send_status": status})
	}
	return types.NewAppError(types.ErrCodeConflictSendInProgress,
		"a send is already in progress for this notification", nil).
		WithDetails(map[string]any{"send_status": status})
}

func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func traceID(ctx context.Context) string {
	if id := types.GetRequestID(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}
