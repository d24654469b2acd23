package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pushengine/internal/lease"
	"pushengine/internal/notifications/core"
	"pushengine/internal/notifications/push"
	"pushengine/internal/types"
)

// Reasons a run ended without dispatching.
const (
	SkipLeaseHeld    = "lease-held"
	SkipNotFound     = "not-found"
	SkipNotClaimable = "not-claimable"
	SkipSuperseded   = "superseded"
)

// DefaultLeaseTTL bounds how long a crashed runner blocks a resume.
const DefaultLeaseTTL = 2 * time.Minute

// RunnerConfig tunes a Runner.
type RunnerConfig struct {
	ConcurrencyLimit int
	ReportEvery      int
	LeaseTTL         time.Duration
}

// RunResult describes what one Run did.
type RunResult struct {
	JobID    string
	Claim    ClaimResult
	Status   types.SendStatus
	Progress types.Progress
	Total    int
	Pruned   int64
	// Skipped is set when the run ended without a terminal write of its own.
	Skipped string
}

// RunnerDeps bundles the collaborators of a Runner.
type RunnerDeps struct {
	Jobs     JobStore
	Audience AudienceSource
	Tokens   TokenStore
	Platform Platform
	Locker   lease.Locker
	Metrics  core.DispatchMetrics
	Logger   types.Logger
	Clock    types.Clock
}

// Runner executes one send job end to end: lease, platform init, claim,
// resolve, dispatch, prune, complete.
type Runner struct {
	cfg        RunnerConfig
	platform   Platform
	locker     lease.Locker
	state      *StateMachine
	resolver   *Resolver
	dispatcher *Dispatcher
	tracker    *ProgressTracker
	pruner     *Pruner
	metrics    core.DispatchMetrics
	logger     types.Logger
	clock      types.Clock
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig, deps RunnerDeps) *Runner {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	if deps.Metrics == nil {
		deps.Metrics = core.NopMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = types.NopLogger{}
	}
	if deps.Clock == nil {
		deps.Clock = types.RealClock{}
	}
	return &Runner{
		cfg:        cfg,
		platform:   deps.Platform,
		locker:     deps.Locker,
		state:      NewStateMachine(deps.Jobs, deps.Clock),
		resolver:   NewResolver(deps.Audience),
		dispatcher: NewDispatcher(deps.Metrics, deps.Logger),
		tracker:    NewProgressTracker(deps.Jobs, deps.Clock),
		pruner:     NewPruner(deps.Tokens, deps.Metrics, deps.Logger),
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		clock:      deps.Clock,
	}
}

// Run processes jobID. Per-token and job-level failures are recorded on the
// job row and yield a nil error. An error is returned only when the job
// could not be touched at all (the queue should redeliver), or ctx was
// cancelled mid-run (the job stays sending and resumes later).
func (r *Runner) Run(ctx context.Context, jobID string) (res RunResult, err error) {
	res.JobID = jobID
	logger := r.logger.With("job_id", jobID)

	l, err := r.locker.Acquire(ctx, lease.JobKey(jobID), r.cfg.LeaseTTL)
	if errors.Is(err, lease.ErrLeaseHeld) {
		logger.Info("push job already running elsewhere")
		res.Skipped = SkipLeaseHeld
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("Run: acquire lease: %w", err)
	}
	defer func() {
		if relErr := l.Release(context.WithoutCancel(ctx)); relErr != nil {
			logger.Warn("failed to release job lease", "error", relErr)
		}
	}()

	defer func() {
		if p := recover(); p != nil {
			logger.Error("push job panicked", "panic", fmt.Sprint(p))
			res, err = r.fail(ctx, res, logger, fmt.Sprintf("unexpected error: %v", p))
		}
	}()

	sender, initErr := r.platform.Init(ctx)
	if initErr != nil {
		logger.Error("messaging platform init failed", "error", initErr)
		return r.fail(ctx, res, logger, "messaging initialization failed: "+initErr.Error())
	}

	claim, job, err := r.state.Claim(ctx, jobID)
	if err != nil {
		if types.ErrorCodeOf(err) == types.ErrCodeNotFoundNotification {
			logger.Warn("push job not found")
			res.Skipped = SkipNotFound
			return res, nil
		}
		return res, fmt.Errorf("Run: %w", err)
	}
	res.Claim = claim
	if claim == ClaimNone {
		logger.Info("push job not claimable", "status", job.SendStatus)
		res.Status = job.SendStatus
		res.Skipped = SkipNotClaimable
		return res, nil
	}

	started := r.clock.Now()
	logger.Info("push job started", "claim", claim, "progress", job.SendProgress)

	res, err = r.execute(ctx, res, job, sender, l, logger)
	if err == nil && res.Skipped == "" {
		r.metrics.RecordJobOutcome(ctx, res.Status)
		r.metrics.RecordJobDuration(ctx, r.clock.Now().Sub(started))
		logger.Info("push job finished",
			"status", res.Status,
			"total", res.Total,
			"success", res.Progress.Success,
			"failure", res.Progress.Failure,
			"pruned", res.Pruned,
		)
	}
	return res, err
}

func (r *Runner) execute(
	ctx context.Context,
	res RunResult,
	job *types.NotificationJob,
	sender push.Sender,
	l lease.Lease,
	logger types.Logger,
) (RunResult, error) {
	initial := types.Progress{}
	if res.Claim == ClaimResume {
		initial = job.Progress()
	}
	res.Progress = initial

	tokens, err := r.resolver.Resolve(ctx)
	if err != nil {
		return r.abort(ctx, res, logger, err)
	}

	total := len(tokens)
	if initial.Processed > total {
		total = initial.Processed
	}
	res.Total = total
	if err := r.state.SetTotal(ctx, job.ID, total); err != nil {
		return r.abort(ctx, res, logger, err)
	}

	summary, err := r.dispatcher.Dispatch(ctx, sender, tokens, job.Message(), DispatchOptions{
		ConcurrencyLimit: r.cfg.ConcurrencyLimit,
		ReportEvery:      r.cfg.ReportEvery,
		StartOffset:      initial.Processed,
		Initial:          initial,
		OnProgress:       r.tracker.Reporter(job.ID, l),
		BeforeWindow:     r.tracker.Keepalive(l),
	})
	res.Progress = summary.Progress
	if err != nil {
		return r.abort(ctx, res, logger, err)
	}

	res.Pruned = r.pruner.Prune(ctx, summary.InvalidTokens)

	status, err := r.state.Complete(ctx, job.ID, summary.Progress, total)
	if err != nil {
		return r.abort(ctx, res, logger, err)
	}
	res.Status = status
	return res, nil
}

// abort handles an error after the claim. Cancellation and lost ownership
// leave the row alone; anything else fails the job.
func (r *Runner) abort(ctx context.Context, res RunResult, logger types.Logger, cause error) (RunResult, error) {
	switch {
	case ctx.Err() != nil:
		logger.Warn("push job interrupted", "processed", res.Progress.Processed, "error", cause)
		return res, ctx.Err()
	case errors.Is(cause, ErrJobNotSending), errors.Is(cause, lease.ErrLeaseLost):
		logger.Warn("push job superseded", "error", cause)
		res.Skipped = SkipSuperseded
		return res, nil
	case errors.Is(cause, ErrLeaseUnconfirmed):
		logger.Warn("push job paused, lease store unavailable", "processed", res.Progress.Processed, "error", cause)
		return res, fmt.Errorf("Run: %w", cause)
	}
	logger.Error("push job failed", "error", cause)
	progress := res.Progress
	return r.markFailed(ctx, res, logger, cause.Error(), &progress)
}

// fail fails a job that never reached dispatch and records the outcome.
func (r *Runner) fail(ctx context.Context, res RunResult, logger types.Logger, diagnostic string) (RunResult, error) {
	res, err := r.markFailed(ctx, res, logger, diagnostic, nil)
	if err == nil && res.Status == types.SendStatusFailed {
		r.metrics.RecordJobOutcome(ctx, types.SendStatusFailed)
	}
	return res, err
}

// markFailed writes the failed state. A non-nil p is the run's final
// counters; nil keeps the persisted ones. The write ignores cancellation so
// a failure seen during shutdown still lands.
func (r *Runner) markFailed(ctx context.Context, res RunResult, logger types.Logger, diagnostic string, p *types.Progress) (RunResult, error) {
	changed, err := r.state.Fail(context.WithoutCancel(ctx), res.JobID, diagnostic, p)
	if err != nil {
		return res, fmt.Errorf("Run: %w", err)
	}
	if !changed {
		logger.Info("push job not in a failable state")
		res.Skipped = SkipNotClaimable
		return res, nil
	}
	res.Status = types.SendStatusFailed
	return res, nil
}
