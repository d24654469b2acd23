// Package handlers contains the HTTP handlers of the push engine admin API.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"pushengine/internal/core"
	"pushengine/internal/types"
)

// NotificationService is the job API the handler drives. Implemented by
// dispatch.Service.
type NotificationService interface {
	CreateJob(ctx context.Context, in types.NewJob) (*types.NotificationJob, error)
	GetJob(ctx context.Context, id string) (*types.NotificationJob, error)
	ListJobs(ctx context.Context, f types.JobListFilter) (types.ListResponse[*types.NotificationJob], error)
	Enqueue(ctx context.Context, id string) (types.JobStatus, error)
	GetJobStatus(ctx context.Context, id string) (types.JobStatus, error)
}

// NotificationHandler serves the notification job routes.
type NotificationHandler struct {
	service NotificationService
	logger  *slog.Logger
}

// NewNotificationHandler creates a NotificationHandler. Request bodies are
// validated by the service.
func NewNotificationHandler(service NotificationService, l *slog.Logger) *NotificationHandler {
	if l == nil {
		l = slog.Default()
	}
	return &NotificationHandler{
		service: service,
		logger:  l,
	}
}

// RegisterRoutes mounts the notification routes on r.
func (h *NotificationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Post("/send", h.Send)
			r.Get("/send-status", h.SendStatus)
		})
	})
}

// Create handles POST /v1/notifications. The job is stored idle; sending is
// a separate request.
func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req types.NewJob
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	job, err := h.service.CreateJob(r.Context(), req)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: job})
}

// Get handles GET /v1/notifications/{id}.
func (h *NotificationHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: job})
}

// List handles GET /v1/notifications. Query parameters:
//
//	status  comma-separated or repeated send statuses
//	before  next_cursor from a previous page
//	limit   page size, 1..100
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	resp, err := h.service.ListJobs(r.Context(), filter)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, resp)
}

// Send handles POST /v1/notifications/{id}/send. The job is queued and the
// send happens asynchronously; clients poll send-status.
func (h *NotificationHandler) Send(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, err := h.service.Enqueue(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "notification send requested",
		"job_id", id,
		"request_id", types.GetRequestID(r.Context()),
	)
	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: status})
}

// SendStatus handles GET /v1/notifications/{id}/send-status.
func (h *NotificationHandler) SendStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.GetJobStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: status})
}

func parseListFilter(r *http.Request) (types.JobListFilter, error) {
	q := r.URL.Query()
	var filter types.JobListFilter

	for _, raw := range q["status"] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				filter.Statuses = append(filter.Statuses, types.SendStatus(s))
			}
		}
	}

	if raw := q.Get("before"); raw != "" {
		before, err := types.ParseJobCursor(raw)
		if err != nil {
			return filter, types.NewAppError(types.ErrCodeValidationInvalidBody,
				"before must be a next_cursor value from a previous page", err)
		}
		filter.Before = &before
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > types.MaxPageSize {
			return filter, types.NewAppError(types.ErrCodeValidationInvalidBody,
				"limit must be a number between 1 and "+strconv.Itoa(types.MaxPageSize), nil)
		}
		filter.Limit = limit
	}

	return filter, nil
}
