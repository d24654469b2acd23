package dispatch

import (
	"context"
	"errors"
	"fmt"

	"pushengine/internal/lease"
	"pushengine/internal/types"
)

// ErrJobNotSending is returned when a progress write finds the job no longer
// in sending, meaning another actor has finished or failed it.
var ErrJobNotSending = errors.New("job is no longer sending")

// ProgressTracker persists cumulative counters for polling clients.
type ProgressTracker struct {
	jobs  JobStore
	clock types.Clock
}

// NewProgressTracker creates a ProgressTracker.
func NewProgressTracker(jobs JobStore, clock types.Clock) *ProgressTracker {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &ProgressTracker{jobs: jobs, clock: clock}
}

// RecordProgress writes p and refreshes the job heartbeat.
func (t *ProgressTracker) RecordProgress(ctx context.Context, jobID string, p types.Progress) error {
	ok, err := t.jobs.WriteProgress(ctx, jobID, p, t.clock.Now())
	if err != nil {
		return fmt.Errorf("RecordProgress: %w", err)
	}
	if !ok {
		return ErrJobNotSending
	}
	return nil
}

// ErrLeaseUnconfirmed is returned when the lease store could not be
// reached to renew. Ownership is unknown, so the run stops without touching
// the row and is retried once the lease has expired.
var ErrLeaseUnconfirmed = errors.New("job lease could not be renewed")

// Keepalive returns a hook that renews l. It runs before every dispatch
// window so a slow run keeps its lease even between progress reports.
func (t *ProgressTracker) Keepalive(l lease.Lease) func(context.Context) error {
	return func(ctx context.Context) error {
		if l == nil {
			return nil
		}
		err := l.Renew(ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, lease.ErrLeaseLost):
			return err
		default:
			return fmt.Errorf("%w: %w", ErrLeaseUnconfirmed, err)
		}
	}
}

// Reporter returns an OnProgress callback for one run. It renews l before
// each write; losing the lease aborts the run.
func (t *ProgressTracker) Reporter(jobID string, l lease.Lease) func(context.Context, types.Progress) error {
	keepalive := t.Keepalive(l)
	return func(ctx context.Context, p types.Progress) error {
		if err := keepalive(ctx); err != nil {
			return fmt.Errorf("RecordProgress: %w", err)
		}
		return t.RecordProgress(ctx, jobID, p)
	}
}
