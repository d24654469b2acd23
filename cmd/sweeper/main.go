// Package main is the entrypoint for the Sweeper Lambda function.
//
// EventBridge rules send a MaintenancePayload naming the task; the handler
// takes a maintenance lease so overlapping schedules do not double-publish,
// then routes to the scheduler service.
//
// The only task today is recover_stalled: sending jobs whose heartbeat went
// quiet and queued jobs nobody picked up get a fresh DispatchMessage.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"pushengine/internal/config"
	"pushengine/internal/db"
	"pushengine/internal/lease"
	notifcore "pushengine/internal/notifications/core"
	"pushengine/internal/scheduler"
	"pushengine/internal/types"
)

// lockTTL covers one sweep with margin.
const lockTTL = 2 * time.Minute

// RecoveryService republishes stalled jobs.
type RecoveryService interface {
	RecoverStalled(ctx context.Context, now time.Time, staleAfter time.Duration, limit int) (int, error)
}

// Handler routes maintenance payloads.
type Handler struct {
	Recovery   RecoveryService
	Locker     lease.Locker
	StaleAfter time.Duration
	Logger     *slog.Logger
}

// Handle processes a MaintenancePayload from EventBridge.
func (h *Handler) Handle(ctx context.Context, payload scheduler.MaintenancePayload) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := payload.Now()
	taskStr := string(payload.Task)
	logger.InfoContext(ctx, "sweeper handler invoked",
		"task", taskStr,
		"reference_time", now.Format(time.RFC3339),
	)

	if payload.Task == "" {
		return "", fmt.Errorf("empty task type in maintenance payload")
	}

	lockKey := "push:maintenance:" + taskStr
	l, err := h.Locker.Acquire(ctx, lockKey, lockTTL)
	if errors.Is(err, lease.ErrLeaseHeld) {
		logger.InfoContext(ctx, "maintenance lease held, another sweeper is running", "lock_key", lockKey)
		return fmt.Sprintf("skipped: lease %s held by another sweeper", lockKey), nil
	}
	if err != nil {
		return "", fmt.Errorf("acquiring maintenance lease %s: %w", lockKey, err)
	}
	defer func() {
		if relErr := l.Release(context.WithoutCancel(ctx)); relErr != nil {
			logger.WarnContext(ctx, "failed to release maintenance lease", "lock_key", lockKey, "error", relErr)
		}
	}()

	items, err := h.dispatch(ctx, payload.Task, now)
	if err != nil {
		logger.ErrorContext(ctx, "task execution failed",
			"task", taskStr,
			"error", err,
		)
		return "", fmt.Errorf("task %s failed: %w", taskStr, err)
	}

	result := fmt.Sprintf("task %s complete: %d items processed", taskStr, items)
	logger.InfoContext(ctx, result, "task", taskStr, "items", items)
	return result, nil
}

// dispatch routes a TaskType to its service method.
func (h *Handler) dispatch(ctx context.Context, task scheduler.TaskType, now time.Time) (int, error) {
	switch task {
	case scheduler.TaskRecoverStalled:
		return h.Recovery.RecoverStalled(ctx, now, h.StaleAfter, scheduler.RecoveryBatchLimit)
	default:
		return 0, fmt.Errorf("unknown task type: %q", task)
	}
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
	logger.Info("Sweeper Lambda initializing (cold start)",
		"environment", cfg.Environment,
		"build", cfg.Build.Short(),
	)

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

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	publisher := notifcore.NewSQSDispatchPublisher(sqsClient, cfg.AWS.DispatchQueueURL, types.NewSlogLogger(logger))

	handler := &Handler{
		Recovery:   scheduler.NewRecoveryService(db.NewJobRepository(pool), publisher, logger),
		Locker:     leases.Locker,
		StaleAfter: cfg.Dispatch.StaleAfter,
		Logger:     logger,
	}

	logger.Info("Sweeper Lambda initialized",
		"stale_after", cfg.Dispatch.StaleAfter.String(),
		"lease_backend", leases.Backend,
	)

	lambda.Start(handler.Handle)
	return nil
}
