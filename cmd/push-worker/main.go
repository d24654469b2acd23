// Package main is the entrypoint for the Push Worker Lambda function.
//
// The Push Worker consumes DispatchMessages from the push dispatch SQS queue
// and runs each job through the dispatch Runner: lease, messaging platform
// init, claim, audience resolution, windowed delivery, token pruning and
// completion.
//
// Cold Start (main):
//  1. Load configuration (SSM secrets resolved in deployed environments).
//  2. Connect the job database and the lease store.
//  3. Initialize CloudWatch metrics and the FCM platform (lazily on first job).
//  4. Register the handler and call lambda.Start.
//
// Outside Lambda the worker reads one SQS event as JSON from stdin, which
// makes a single run reproducible locally:
//
//	echo '{"Records":[{"messageId":"1","body":"{\"job_id\":\"...\"}"}]}' | push-worker
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"pushengine/internal/config"
	"pushengine/internal/db"
	"pushengine/internal/lease"
	notifcore "pushengine/internal/notifications/core"
	"pushengine/internal/notifications/dispatch"
	"pushengine/internal/notifications/push"
	"pushengine/internal/types"
)

// JobRunner runs one notification job.
type JobRunner interface {
	Run(ctx context.Context, jobID string) (dispatch.RunResult, error)
}

// Handler holds the dependencies for the push worker Lambda handler.
type Handler struct {
	runner  JobRunner
	metrics notifcore.DispatchMetrics
	logger  types.Logger
	clock   types.Clock
}

// Handle processes an SQS event. Records are handled one after another;
// each job parallelizes its own deliveries. Records whose job could not be
// processed are returned in BatchItemFailures so SQS redelivers only those.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.Error("failed to process dispatch message",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

// processMessage runs the job named by one SQS record. Malformed bodies are
// acknowledged since redelivery cannot fix them.
func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg types.DispatchMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		h.logger.Error("discarding malformed dispatch message",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		return nil
	}
	if msg.JobID == "" {
		h.logger.Error("discarding dispatch message without job id", "message_id", record.MessageId)
		return nil
	}

	logger := h.logger.With(
		"job_id", msg.JobID,
		"trace_id", msg.TraceID,
		"reason", msg.Reason,
	)

	if lag, ok := queueLag(msg, record, h.clock.Now()); ok {
		h.metrics.RecordQueueLag(ctx, lag)
	}

	res, err := h.runner.Run(ctx, msg.JobID)
	if err != nil {
		return fmt.Errorf("job %s: %w", msg.JobID, err)
	}

	if res.Skipped != "" {
		logger.Info("push job skipped", "skipped", res.Skipped)
		return nil
	}
	logger.Info("push job processed",
		"status", res.Status,
		"claim", res.Claim,
		"total", res.Total,
		"processed", res.Progress.Processed,
	)
	return nil
}

// queueLag measures the time between publish and pickup. The message's own
// EnqueuedAt is preferred over the SQS SentTimestamp attribute.
func queueLag(msg types.DispatchMessage, record events.SQSMessage, now time.Time) (time.Duration, bool) {
	sent := msg.EnqueuedAt
	if sent.IsZero() {
		raw, ok := record.Attributes["SentTimestamp"]
		if !ok {
			return 0, false
		}
		millis, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, false
		}
		sent = time.UnixMilli(millis)
	}
	lag := now.Sub(sent)
	if lag < 0 {
		return 0, false
	}
	return lag, true
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasServerPort := os.LookupEnv("_LAMBDA_SERVER_PORT")
	return hasRuntimeAPI || hasServerPort
}

// runLocal feeds one SQS event from r through the handler and writes the
// batch response to w.
func runLocal(ctx context.Context, h *Handler, r io.Reader, w io.Writer) error {
	var ev events.SQSEvent
	if err := json.NewDecoder(r).Decode(&ev); err != nil {
		return fmt.Errorf("decoding SQS event: %w", err)
	}
	resp, err := h.Handle(ctx, ev)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: types.ParseLogLevel(cfg.LogLevel),
	}))
	logger.Info("Push Worker initializing (cold start)",
		"environment", cfg.Environment,
		"build", cfg.Build.Short(),
	)
	typedLogger := types.NewSlogLogger(logger)

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	leases, err := lease.Open(ctx, cfg.Environment, cfg.Redis, types.RealClock{})
	if err != nil {
		return err
	}
	defer func() { _ = leases.Close() }()

	var metrics notifcore.DispatchMetrics = notifcore.NopMetrics{}
	if cfg.Observability.EnableMetrics {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return fmt.Errorf("loading AWS config: %w", err)
		}
		cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		metrics = notifcore.NewCloudWatchDispatchMetrics(cwClient, cfg.Observability.MetricNamespace, typedLogger)
	}

	audience := db.NewAudienceRepository(pool)
	runner := dispatch.NewRunner(
		dispatch.RunnerConfig{
			ConcurrencyLimit: cfg.Dispatch.ConcurrencyLimit,
			ReportEvery:      cfg.Dispatch.ReportEvery,
			LeaseTTL:         cfg.Dispatch.LeaseTTL,
		},
		dispatch.RunnerDeps{
			Jobs:     db.NewJobRepository(pool),
			Audience: audience,
			Tokens:   audience,
			Platform: push.NewPlatform(cfg.FCM, typedLogger),
			Locker:   leases.Locker,
			Metrics:  metrics,
			Logger:   typedLogger,
			Clock:    types.RealClock{},
		},
	)

	handler := &Handler{
		runner:  runner,
		metrics: metrics,
		logger:  typedLogger,
		clock:   types.RealClock{},
	}

	logger.Info("Push Worker initialized",
		"lease_backend", leases.Backend,
		"concurrency_limit", cfg.Dispatch.ConcurrencyLimit,
		"report_every", cfg.Dispatch.ReportEvery,
	)

	if isLambdaEnvironment() {
		lambda.Start(handler.Handle)
		return nil
	}

	err = runLocal(ctx, handler, os.Stdin, os.Stdout)
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("local mode expects an SQS event on stdin")
	}
	return err
}
