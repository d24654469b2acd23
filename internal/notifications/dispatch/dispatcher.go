package dispatch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"pushengine/internal/notifications/core"
	"pushengine/internal/notifications/push"
	"pushengine/internal/types"
)

// Concurrency bounds for one dispatch window.
const (
	DefaultConcurrencyLimit = 5
	MaxConcurrencyLimit     = 50
	DefaultReportEvery      = 5
)

// DispatchOptions parameterizes one dispatch run.
type DispatchOptions struct {
	// ConcurrencyLimit is the window size; all sends in a window run
	// concurrently. Defaults to 5, capped at 50.
	ConcurrencyLimit int
	// ReportEvery is the minimum number of processed tokens between
	// progress reports. The final window always reports.
	ReportEvery int
	// StartOffset skips tokens already processed by an earlier run.
	StartOffset int
	// Initial seeds the cumulative counters on resume.
	Initial types.Progress
	// OnProgress receives cumulative snapshots and is awaited before the
	// next window. An error aborts the run.
	OnProgress func(ctx context.Context, p types.Progress) error
	// BeforeWindow runs ahead of every window, regardless of ReportEvery.
	// An error stops the run before any token of that window is sent.
	BeforeWindow func(ctx context.Context) error
}

// DispatchSummary is the result of a dispatch run.
type DispatchSummary struct {
	Progress      types.Progress
	InvalidTokens []string
	// Sent counts tokens contacted by this run (excludes StartOffset).
	Sent int
}

// Dispatcher streams tokens through a Sender in fixed-size windows.
type Dispatcher struct {
	metrics core.DispatchMetrics
	logger  types.Logger
}

// NewDispatcher creates a Dispatcher. A nil metrics disables telemetry.
func NewDispatcher(metrics core.DispatchMetrics, logger types.Logger) *Dispatcher {
	if metrics == nil {
		metrics = core.NopMetrics{}
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Dispatcher{metrics: metrics, logger: logger}
}

// Dispatch sends msg to tokens[opts.StartOffset:]. Per-token failures are
// counted, never returned. The context is checked between windows; on
// cancellation the persisted progress stays valid for a later resume.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	sender push.Sender,
	tokens []types.DeviceToken,
	msg types.PushMessage,
	opts DispatchOptions,
) (DispatchSummary, error) {
	limit := normalizeLimit(opts.ConcurrencyLimit)
	reportEvery := opts.ReportEvery
	if reportEvery <= 0 {
		reportEvery = DefaultReportEvery
	}

	start := opts.StartOffset
	if start < 0 {
		start = 0
	}

	progress := opts.Initial
	progress.RecentErrors = append([]string(nil), opts.Initial.RecentErrors...)
	progress.Processed = start

	// A resumed audience may have shrunk below the persisted offset.
	if start > len(tokens) {
		start = len(tokens)
	}

	summary := DispatchSummary{Progress: progress}
	lastReported := progress.Processed

	for i := start; i < len(tokens); i += limit {
		if err := ctx.Err(); err != nil {
			summary.Progress = progress
			return summary, err
		}

		if opts.BeforeWindow != nil {
			if err := opts.BeforeWindow(ctx); err != nil {
				summary.Progress = progress
				return summary, fmt.Errorf("Dispatch: before token %d: %w", i, err)
			}
		}

		end := i + limit
		if end > len(tokens) {
			end = len(tokens)
		}
		outcomes := d.sendWindow(ctx, sender, tokens[i:end], msg)

		var ok, transient, invalid int
		for _, o := range outcomes {
			progress.Processed++
			switch o.Kind {
			case types.DeliveryOK:
				progress.Success++
				ok++
			case types.DeliveryInvalidToken:
				progress.Failure++
				invalid++
				summary.InvalidTokens = append(summary.InvalidTokens, o.Token)
				progress.RecentErrors = appendCapped(progress.RecentErrors, o.Diagnostic())
			default:
				progress.Failure++
				transient++
				progress.RecentErrors = appendCapped(progress.RecentErrors, o.Diagnostic())
			}
		}
		summary.Sent += len(outcomes)
		d.metrics.RecordDelivery(ctx, types.DeliveryOK, ok)
		d.metrics.RecordDelivery(ctx, types.DeliveryTransientError, transient)
		d.metrics.RecordDelivery(ctx, types.DeliveryInvalidToken, invalid)

		last := end == len(tokens)
		if opts.OnProgress != nil && (last || progress.Processed-lastReported >= reportEvery) {
			if err := opts.OnProgress(ctx, snapshot(progress)); err != nil {
				summary.Progress = progress
				return summary, fmt.Errorf("Dispatch: progress at %d: %w", progress.Processed, err)
			}
			lastReported = progress.Processed
		}
	}

	summary.Progress = progress
	return summary, nil
}

// sendWindow sends to every token of the window concurrently and returns
// the outcomes in token order.
func (d *Dispatcher) sendWindow(ctx context.Context, sender push.Sender, window []types.DeviceToken, msg types.PushMessage) []types.DeliveryOutcome {
	outcomes := make([]types.DeliveryOutcome, len(window))

	var g errgroup.Group
	g.SetLimit(len(window))
	for j, tok := range window {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("push send panicked", "token", types.TokenPreview(tok.Token), "panic", fmt.Sprint(r))
					outcomes[j] = types.TransientFailure(tok.Token, "panic", fmt.Sprint(r))
				}
			}()
			outcomes[j] = sender.Send(ctx, tok.Token, msg)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func normalizeLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultConcurrencyLimit
	case n > MaxConcurrencyLimit:
		return MaxConcurrencyLimit
	default:
		return n
	}
}

// appendCapped appends e and keeps only the MaxSendErrors most recent.
func appendCapped(errs []string, e string) []string {
	errs = append(errs, e)
	if len(errs) > types.MaxSendErrors {
		errs = append(errs[:0:0], errs[len(errs)-types.MaxSendErrors:]...)
	}
	return errs
}

func snapshot(p types.Progress) types.Progress {
	p.RecentErrors = append([]string(nil), p.RecentErrors...)
	return p
}
