package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushengine/internal/lease"
	"pushengine/internal/types"
)

func sendingJob(id string) *types.NotificationJob {
	job := queuedJob(id)
	job.SendStatus = types.SendStatusSending
	return job
}

func TestProgressTracker_RecordProgress(t *testing.T) {
	clock := newFakeClock()
	store := newFakeJobStore(sendingJob("job-1"))
	tracker := NewProgressTracker(store, clock)

	clock.Advance(time.Minute)
	err := tracker.RecordProgress(context.Background(), "job-1", types.Progress{Processed: 5, Success: 4, Failure: 1, RecentErrors: []string{"e"}})
	require.NoError(t, err)

	job := store.job("job-1")
	assert.Equal(t, 5, job.SendProgress)
	assert.Equal(t, 4, job.SuccessCount)
	assert.Equal(t, 1, job.FailureCount)
	assert.Equal(t, 4, job.ReceiverCount)
	require.NotNil(t, job.SendHeartbeatAt)
	assert.Equal(t, testNow.Add(time.Minute), *job.SendHeartbeatAt)
}

func TestProgressTracker_NeverMovesBackwards(t *testing.T) {
	store := newFakeJobStore(sendingJob("job-1"))
	tracker := NewProgressTracker(store, nil)

	require.NoError(t, tracker.RecordProgress(context.Background(), "job-1", types.Progress{Processed: 10, Success: 10}))
	err := tracker.RecordProgress(context.Background(), "job-1", types.Progress{Processed: 5, Success: 5})
	assert.ErrorIs(t, err, ErrJobNotSending)
	assert.Equal(t, 10, store.job("job-1").SendProgress)
}

func TestProgressTracker_JobLeftSending(t *testing.T) {
	job := sendingJob("job-1")
	job.SendStatus = types.SendStatusFailed
	store := newFakeJobStore(job)

	err := NewProgressTracker(store, nil).RecordProgress(context.Background(), "job-1", types.Progress{Processed: 1})
	assert.ErrorIs(t, err, ErrJobNotSending)
}

func TestProgressTracker_ReporterRenewsLease(t *testing.T) {
	clock := newFakeClock()
	locker := lease.NewMemoryLocker(clock)
	l, err := locker.Acquire(context.Background(), lease.JobKey("job-1"), time.Minute)
	require.NoError(t, err)

	store := newFakeJobStore(sendingJob("job-1"))
	report := NewProgressTracker(store, clock).Reporter("job-1", l)

	clock.Advance(50 * time.Second)
	require.NoError(t, report(context.Background(), types.Progress{Processed: 5}))

	// Past the original expiry but within the renewed TTL.
	clock.Advance(50 * time.Second)
	_, err = locker.Acquire(context.Background(), lease.JobKey("job-1"), time.Minute)
	assert.ErrorIs(t, err, lease.ErrLeaseHeld)
	require.NoError(t, report(context.Background(), types.Progress{Processed: 10}))
}

func TestProgressTracker_ReporterLostLease(t *testing.T) {
	clock := newFakeClock()
	locker := lease.NewMemoryLocker(clock)
	l, err := locker.Acquire(context.Background(), lease.JobKey("job-1"), time.Minute)
	require.NoError(t, err)

	store := newFakeJobStore(sendingJob("job-1"))
	report := NewProgressTracker(store, clock).Reporter("job-1", l)

	clock.Advance(2 * time.Minute)
	err = report(context.Background(), types.Progress{Processed: 5})
	assert.ErrorIs(t, err, lease.ErrLeaseLost)
	assert.Zero(t, store.job("job-1").SendProgress)
}

func TestProgressTracker_Keepalive(t *testing.T) {
	tracker := NewProgressTracker(newFakeJobStore(), nil)

	assert.NoError(t, tracker.Keepalive(nil)(context.Background()))
	assert.NoError(t, tracker.Keepalive(stubLease{})(context.Background()))
	assert.ErrorIs(t, tracker.Keepalive(stubLease{renewErr: lease.ErrLeaseLost})(context.Background()), lease.ErrLeaseLost)

	err := tracker.Keepalive(stubLease{renewErr: errBackend})(context.Background())
	assert.ErrorIs(t, err, ErrLeaseUnconfirmed)
	assert.ErrorIs(t, err, errBackend)
	assert.NotErrorIs(t, err, lease.ErrLeaseLost)
}
