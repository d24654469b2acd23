// Package dispatch runs notification send jobs: it resolves the audience,
// streams tokens through the push client in bounded concurrent windows,
// persists progress, prunes dead tokens and records the terminal state.
package dispatch

import (
	"context"
	"time"

	"pushengine/internal/db"
	"pushengine/internal/notifications/push"
	"pushengine/internal/types"
)

// AudienceSource lists candidate push tokens from both stores.
type AudienceSource interface {
	ListActiveDeviceTokens(ctx context.Context) ([]types.DeviceToken, error)
	ListActiveLegacyTokens(ctx context.Context) ([]types.DeviceToken, error)
}

// TokenStore clears dead tokens from both stores.
type TokenStore interface {
	ClearTokens(ctx context.Context, tokens []string) (int64, error)
}

// JobStore persists notification jobs. Every state-changing method is a
// conditional update that reports whether a row changed.
type JobStore interface {
	Create(ctx context.Context, job *types.NotificationJob) error
	Get(ctx context.Context, id string) (*types.NotificationJob, error)
	List(ctx context.Context, f types.JobListFilter) ([]*types.NotificationJob, error)
	TryTransition(ctx context.Context, t db.Transition) (bool, error)
	SetTotal(ctx context.Context, id string, total int, at time.Time) (bool, error)
	WriteProgress(ctx context.Context, id string, p types.Progress, at time.Time) (bool, error)
	Complete(ctx context.Context, id string, c db.CompleteParams) (bool, error)
	Fail(ctx context.Context, id string, f db.FailParams) (bool, error)
}

// Platform initializes the messaging SDK.
type Platform interface {
	Init(ctx context.Context) (push.Sender, error)
}

var (
	_ AudienceSource = (*db.AudienceRepository)(nil)
	_ TokenStore     = (*db.AudienceRepository)(nil)
	_ JobStore       = (*db.JobRepository)(nil)
	_ Platform       = (*push.Platform)(nil)
)
