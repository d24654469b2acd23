package types

import (
	"fmt"
	"strings"
	"time"
)

// Default and maximum page sizes for job listings.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// PageInfo contains pagination metadata for list responses.
type PageInfo struct {
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// ListResponse is a generic paginated response wrapper.
type ListResponse[T any] struct {
	Data     []T      `json:"data"`
	PageInfo PageInfo `json:"pagination"`
}

// JobListFilter selects notification jobs for the admin listing, newest
// first. Before is a keyset cursor on (created_at, id).
type JobListFilter struct {
	Statuses []SendStatus
	Before   *JobCursor
	Limit    int
}

// JobCursor is the position of the last job on a page. Listings are ordered
// by created_at then id, both descending, so jobs sharing a timestamp are
// split by id.
type JobCursor struct {
	CreatedAt time.Time
	ID        string
}

// CursorAfter returns the cursor pointing past job.
func CursorAfter(job *NotificationJob) JobCursor {
	return JobCursor{CreatedAt: job.CreatedAt, ID: job.ID}
}

// String encodes the cursor as "<RFC3339Nano>_<id>".
func (c JobCursor) String() string {
	s := c.CreatedAt.UTC().Format(time.RFC3339Nano)
	if c.ID != "" {
		s += "_" + c.ID
	}
	return s
}

// ParseJobCursor decodes a cursor produced by String. A bare timestamp is
// accepted and matches every job created strictly before it.
func ParseJobCursor(raw string) (JobCursor, error) {
	ts, id, _ := strings.Cut(raw, "_")
	at, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return JobCursor{}, fmt.Errorf("parsing cursor timestamp: %w", err)
	}
	return JobCursor{CreatedAt: at, ID: id}, nil
}

// NormalizedLimit clamps Limit into [1, MaxPageSize].
func (f JobListFilter) NormalizedLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultPageSize
	case f.Limit > MaxPageSize:
		return MaxPageSize
	default:
		return f.Limit
	}
}
