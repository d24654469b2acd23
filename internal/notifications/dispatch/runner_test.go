package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushengine/internal/lease"
	"pushengine/internal/types"
)

type runnerFixture struct {
	store    *fakeJobStore
	audience *fakeAudience
	tokens   *fakeTokenStore
	sender   *fakeSender
	platform *fakePlatform
	locker   lease.Locker
	metrics  *recordingMetrics
	logger   *mockLogger
	clock    *fakeClock
}

func newRunnerFixture(job *types.NotificationJob, tokens ...string) *runnerFixture {
	clock := newFakeClock()
	sender := newFakeSender()
	return &runnerFixture{
		store:    newFakeJobStore(job),
		audience: &fakeAudience{devices: deviceTokens(tokens...)},
		tokens:   &fakeTokenStore{},
		sender:   sender,
		platform: &fakePlatform{sender: sender},
		locker:   lease.NewMemoryLocker(clock),
		metrics:  newRecordingMetrics(),
		logger:   &mockLogger{},
		clock:    clock,
	}
}

func (f *runnerFixture) runner() *Runner {
	return f.runnerWith(RunnerConfig{ConcurrencyLimit: 5, ReportEvery: 5, LeaseTTL: time.Minute})
}

func (f *runnerFixture) runnerWith(cfg RunnerConfig) *Runner {
	return NewRunner(
		cfg,
		RunnerDeps{
			Jobs:     f.store,
			Audience: f.audience,
			Tokens:   f.tokens,
			Platform: f.platform,
			Locker:   f.locker,
			Metrics:  f.metrics,
			Logger:   f.logger,
			Clock:    f.clock,
		},
	)
}

func assertCounterInvariant(t *testing.T, job types.NotificationJob) {
	t.Helper()
	assert.LessOrEqual(t, job.SuccessCount+job.FailureCount, job.SendProgress)
	assert.LessOrEqual(t, job.SendProgress, job.SendTotal)
}

func TestRunner_FreshRunAllDelivered(t *testing.T) {
	f := newRunnerFixture(queuedJob("job-1"), numberedTokens(12)...)

	res, err := f.runner().Run(context.Background(), "job-1")
	require.NoError(t, err)

	assert.Equal(t, ClaimFresh, res.Claim)
	assert.Equal(t, types.SendStatusSent, res.Status)
	assert.Empty(t, res.Skipped)

	job := f.store.job("job-1")
	assert.Equal(t, types.SendStatusSent, job.SendStatus)
	assert.Equal(t, 12, job.SendTotal)
	assert.Equal(t, 12, job.SendProgress)
	assert.Equal(t, 12, job.SuccessCount)
	assert.Equal(t, 12, job.ReceiverCount)
	assert.NotNil(t, job.SendCompletedAt)
	assertCounterInvariant(t, job)

	assert.Equal(t, []int{5, 10, 12}, f.store.writes())
	assert.Equal(t, []types.SendStatus{types.SendStatusSent}, f.metrics.outcomes)
	assert.Empty(t, f.tokens.calls)

	_, err = f.locker.Acquire(context.Background(), lease.JobKey("job-1"), time.Minute)
	assert.NoError(t, err, "lease released after the run")
}

func TestRunner_PrunesExactlyInvalidTokens(t *testing.T) {
	f := newRunnerFixture(queuedJob("job-1"), "A", "B", "C", "D")
	f.sender.outcomes["A"] = types.DeliveryInvalidToken
	f.sender.outcomes["C"] = types.DeliveryInvalidToken
	f.sender.outcomes["D"] = types.DeliveryTransientError

	res, err := f.runner().Run(context.Background(), "job-1")
	require.NoError(t, err)

	assert.Equal(t, types.SendStatusPartial, res.Status)
	require.Len(t, f.tokens.calls, 1)
	assert.ElementsMatch(t, []string{"A", "C"}, f.tokens.calls[0])
	assert.Equal(t, int64(2), res.Pruned)

	job := f.store.job("job-1")
	assert.Equal(t, 1, job.SuccessCount)
	assert.Equal(t, 3, job.FailureCount)
	assert.Len(t, job.SendErrors, 3)
	assertCounterInvariant(t, job)
}

func TestRunner_AllFailedIsFailed(t *testing.T) {
	f := newRunnerFixture(queuedJob("job-1"), "A", "B")
	f.sender.outcomes["A"] = types.DeliveryTransientError
	f.sender.outcomes["B"] = types.DeliveryTransientError

	res, err := f.runner().Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.SendStatusFailed, res.Status)
	assert.Equal(t, 2, f.store.job("job-1").FailureCount)
}

func TestRunner_PlatformInitFailure(t *testing.T) {
	f := newRunnerFixture(queuedJob("job-1"), numberedTokens(3)...)
	f.platform.err = errors.New("bad credentials")

	res, err := f.runner().Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.SendStatusFailed, res.Status)

	job := f.store.job("job-1")
	assert.Equal(t, types.SendStatusFailed, job.SendStatus)
	assert.Zero(t, job.SendTotal)
	assert.Zero(t, job.SendProgress)
	require.Len(t, job.SendErrors, 1)
	assert.Contains(t, job.SendErrors[0], "bad credentials")
	assert.Empty(t, f.sender.sentTokens())
	assert.Equal(t, []types.SendStatus{types.SendStatusFailed}, f.metrics.outcomes)
}

func TestRunner_ResumeContinuesFromPersistedProgress(t *testing.T) {
	names := numberedTokens(12)
	job := sendingJob("job-1")
	job.SendProgress, job.SuccessCount, job.SendTotal = 5, 5, 12
	f := newRunnerFixture(job, names...)

	res, err := f.runner().Run(context.Background(), "job-1")
	require.NoError(t, err)

	assert.Equal(t, ClaimResume, res.Claim)
	assert.Equal(t, names[5:], f.sender.sentTokens(), "already processed tokens are not resent")

	got := f.store.job("job-1")
	assert.Equal(t, types.SendStatusSent, got.SendStatus)
	assert.Equal(t, 12, got.SendProgress)
	assert.Equal(t, 12, got.SuccessCount)
	assertCounterInvariant(t, got)
}

func TestRunner_CancelledRunResumesLater(t *testing.T) {
	names := numberedTokens(12)
	f := newRunnerFixture(queuedJob("job-1"), names...)

	ctx, cancel := context.WithCancel(context.Background())
	f.sender.block = func(token string) {
		if token == "tok-004" {
			cancel()
		}
	}

	_, err := f.runner().Run(ctx, "job-1")
	require.ErrorIs(t, err, context.Canceled)

	job := f.store.job("job-1")
	assert.Equal(t, types.SendStatusSending, job.SendStatus)
	assert.Equal(t, 5, job.SendProgress)
	assert.Empty(t, f.metrics.outcomes)

	f.sender.block = nil
	res, err := f.runner().Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, ClaimResume, res.Claim)
	assert.Equal(t, types.SendStatusSent, res.Status)

	job = f.store.job("job-1")
	assert.Equal(t, 12, job.SendProgress)
	assert.Equal(t, 12, job.SuccessCount)
	assert.Equal(t, names, f.sender.sentTokens(), "every token sent exactly once across both runs")
}

func TestRunner_LeaseHeldIsNoop(t *testing.T) {
	f := newRunnerFixture(queuedJob("job-1"), numberedTokens(3)...)
	_, err := f.locker.Acquire(context.Background(), lease.JobKey("job-1"), time.Minute)
	require.NoError(t, err)

	res, err := f.runner().Run(context.Background(), "job-1")
	require.NoError(t, err)

	assert.Equal(t, SkipLeaseHeld, res.Skipped)
	assert.Zero(t, f.platform.calls)
	assert.Equal(t, types.SendStatusQueued, f.store.job("job-1").SendStatus)
}

func TestRunner_ConcurrentRunsSendOnce(t *testing.T) {
	names := numberedTokens(12)
	f := newRunnerFixture(queuedJob("job-1"), names...)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.sender.block = func(string) {
		once.Do(func() { close(started) })
		<-release
	}

	r := f.runner()
	var (
		wg       sync.WaitGroup
		firstRes RunResult
		firstErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		firstRes, firstErr = r.Run(context.Background(), "job-1")
	}()

	<-started
	second, err := r.Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, SkipLeaseHeld, second.Skipped)

	close(release)
	wg.Wait()
	require.NoError(t, firstErr)
	assert.Equal(t, types.SendStatusSent, firstRes.Status)
	assert.Equal(t, names, f.sender.sentTokens())
}

func TestRunner_SlowWindowsKeepLeaseBetweenReports(t *testing.T) {
	names := numberedTokens(20)
	f := newRunnerFixture(queuedJob("job-1"), names...)
	r := f.runnerWith(RunnerConfig{ConcurrencyLimit: 5, ReportEvery: 20, LeaseTTL: time.Minute})

	// Each window takes 45s, so the run outlives the TTL long before its
	// only progress report.
	var second RunResult
	f.sender.block = func(token string) {
		switch token {
		case "tok-000", "tok-010", "tok-015":
			f.clock.Advance(45 * time.Second)
		case "tok-005":
			f.clock.Advance(45 * time.Second)
			res, err := r.Run(context.Background(), "job-1")
			assert.NoError(t, err)
			second = res
		}
	}

	res, err := r.Run(context.Background(), "job-1")
	require.NoError(t, err)

	assert.Equal(t, SkipLeaseHeld, second.Skipped, "a redelivery mid-run must not resume the job")
	assert.Equal(t, types.SendStatusSent, res.Status)
	assert.Empty(t, res.Skipped)
	assert.Equal(t, names, f.sender.sentTokens(), "every token sent exactly once")
	assert.Equal(t, []int{20}, f.store.writes())
}

func TestRunner_LeaseLostStopsBeforeNextWindow(t *testing.T) {
	f := newRunnerFixture(queuedJob("job-1"), numberedTokens(20)...)
	r := f.runnerWith(RunnerConfig{ConcurrencyLimit: 5, ReportEvery: 20, LeaseTTL: time.Minute})

	f.sender.block = func(token string) {
		if token == "tok-000" {
			f.clock.Advance(2 * time.Minute)
			_, err := f.locker.Acquire(context.Background(), lease.JobKey("job-1"), time.Minute)
			assert.NoError(t, err)
		}
	}

	res, err := r.Run(context.Background(), "job-1")
	require.NoError(t, err)

	assert.Equal(t, SkipSuperseded, res.Skipped)
	assert.Len(t, f.sender.sentTokens(), 5, "no window starts after the lease is gone")
	job := f.store.job("job-1")
	assert.Equal(t, types.SendStatusSending, job.SendStatus, "the new owner resumes the job")
	assert.Empty(t, f.store.writes())
}

func TestRunner_LeaseStoreDownPausesRun(t *testing.T) {
	f := newRunnerFixture(queuedJob("job-1"), numberedTokens(12)...)
	f.locker = stubLocker{renewErr: errBackend}

	_, err := f.runner().Run(context.Background(), "job-1")
	require.ErrorIs(t, err, ErrLeaseUnconfirmed)
	require.ErrorIs(t, err, errBackend)

	assert.Empty(t, f.sender.sentTokens())
	job := f.store.job("job-1")
	assert.Equal(t, types.SendStatusSending, job.SendStatus)
	assert.Empty(t, f.metrics.outcomes)
}

func TestRunner_NotClaimable(t *testing.T) {
	job := queuedJob("job-1")
	job.SendStatus = types.SendStatusSent
	f := newRunnerFixture(job, numberedTokens(3)...)

	res, err := f.runner().Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, SkipNotClaimable, res.Skipped)
	assert.Equal(t, ClaimNone, res.Claim)
	assert.Empty(t, f.sender.sentTokens())
}

func TestRunner_JobNotFound(t *testing.T) {
	f := newRunnerFixture(queuedJob("job-1"))

	res, err := f.runner().Run(context.Background(), "other")
	require.NoError(t, err)
	assert.Equal(t, SkipNotFound, res.Skipped)
}

func TestRunner_EmptyAudienceIsSent(t *testing.T) {
	f := newRunnerFixture(queuedJob("job-1"))

	res, err := f.runner().Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.SendStatusSent, res.Status)

	job := f.store.job("job-1")
	assert.Zero(t, job.SendTotal)
	assert.Zero(t, job.SendProgress)
}

func TestRunner_ResolveErrorFailsJob(t *testing.T) {
	f := newRunnerFixture(queuedJob("job-1"))
	f.audience.deviceErr = errors.New("db down")

	res, err := f.runner().Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.SendStatusFailed, res.Status)

	job := f.store.job("job-1")
	assert.Equal(t, types.SendStatusFailed, job.SendStatus)
	require.Len(t, job.SendErrors, 1)
	assert.Contains(t, job.SendErrors[0], "db down")
}

func TestRunner_MidRunFailureKeepsCounters(t *testing.T) {
	f := newRunnerFixture(queuedJob("job-1"), numberedTokens(12)...)
	f.sender.outcomes["tok-001"] = types.DeliveryTransientError
	f.store.progressErr = errors.New("connection reset")

	res, err := f.runner().Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.SendStatusFailed, res.Status)

	job := f.store.job("job-1")
	assert.Equal(t, types.SendStatusFailed, job.SendStatus)
	assert.Equal(t, 5, job.SendProgress)
	assert.Equal(t, 4, job.SuccessCount)
	assert.Equal(t, 1, job.FailureCount)
	assert.Equal(t, 12, job.SendTotal)
	require.Len(t, job.SendErrors, 2)
	assert.Contains(t, job.SendErrors[0], "tok-001")
	assert.Contains(t, job.SendErrors[1], "connection reset")
	assertCounterInvariant(t, job)
	assert.Equal(t, []types.SendStatus{types.SendStatusFailed}, f.metrics.outcomes, "outcome recorded once")
}

func TestRunner_PanicFailsJob(t *testing.T) {
	f := newRunnerFixture(queuedJob("job-1"))
	f.audience.panicMsg = "nil map"

	res, err := f.runner().Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.SendStatusFailed, res.Status)

	job := f.store.job("job-1")
	require.Len(t, job.SendErrors, 1)
	assert.Contains(t, job.SendErrors[0], "nil map")

	_, err = f.locker.Acquire(context.Background(), lease.JobKey("job-1"), time.Minute)
	assert.NoError(t, err, "lease released after a panic")
}

func TestRunner_SupersededMidRun(t *testing.T) {
	f := newRunnerFixture(queuedJob("job-1"), numberedTokens(12)...)
	f.sender.block = func(token string) {
		if token == "tok-000" {
			f.store.mu.Lock()
			f.store.jobs["job-1"].SendStatus = types.SendStatusFailed
			f.store.mu.Unlock()
		}
	}

	res, err := f.runner().Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, SkipSuperseded, res.Skipped)
	assert.Len(t, f.sender.sentTokens(), 5)
	assert.Equal(t, types.SendStatusFailed, f.store.job("job-1").SendStatus)
}

func TestRunner_LockerErrorIsReturned(t *testing.T) {
	f := newRunnerFixture(queuedJob("job-1"))
	f.locker = failingLocker{err: errBackend}

	_, err := f.runner().Run(context.Background(), "job-1")
	require.ErrorIs(t, err, errBackend)
	assert.Equal(t, types.SendStatusQueued, f.store.job("job-1").SendStatus)
}

func TestRunner_UnwritableFailureIsReturned(t *testing.T) {
	f := newRunnerFixture(queuedJob("job-1"))
	f.platform.err = errors.New("bad credentials")
	f.store.failErr = errBackend

	_, err := f.runner().Run(context.Background(), "job-1")
	require.ErrorIs(t, err, errBackend)
}
