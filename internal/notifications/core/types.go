// Package core provides the queue and telemetry plumbing shared by the push
// API, the push worker and the recovery sweeper.
package core

import (
	"context"
	"time"

	"pushengine/internal/types"
)

// DispatchPublisher asks a push worker to run a job.
type DispatchPublisher interface {
	Publish(ctx context.Context, msg types.DispatchMessage) error
}

// DispatchMetrics records delivery telemetry. Implementations must never
// fail the caller: emission errors are logged and dropped.
type DispatchMetrics interface {
	RecordDelivery(ctx context.Context, kind types.DeliveryKind, count int)
	RecordJobOutcome(ctx context.Context, status types.SendStatus)
	RecordJobDuration(ctx context.Context, d time.Duration)
	RecordQueueLag(ctx context.Context, lag time.Duration)
	RecordTokensPruned(ctx context.Context, n int64)
}

// NopMetrics discards all metrics. Used in local mode and tests.
type NopMetrics struct{}

func (NopMetrics) RecordDelivery(context.Context, types.DeliveryKind, int) {}
func (NopMetrics) RecordJobOutcome(context.Context, types.SendStatus)      {}
func (NopMetrics) RecordJobDuration(context.Context, time.Duration)        {}
func (NopMetrics) RecordQueueLag(context.Context, time.Duration)           {}
func (NopMetrics) RecordTokensPruned(context.Context, int64)               {}

var _ DispatchMetrics = NopMetrics{}
