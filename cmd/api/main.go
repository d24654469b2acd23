// Package main is the entry point for the push engine admin API.
//
// It loads configuration, connects the job database, the dispatch queue and
// CloudWatch, builds the HTTP chassis and mounts the notification routes.
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"pushengine/internal/api/handlers"
	"pushengine/internal/cache"
	"pushengine/internal/config"
	"pushengine/internal/core"
	"pushengine/internal/db"
	notifcore "pushengine/internal/notifications/core"
	"pushengine/internal/notifications/dispatch"
	"pushengine/internal/types"
)

// cacheSweepInterval controls how often expired status entries are dropped.
const cacheSweepInterval = time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("push engine API starting",
		"environment", cfg.Environment,
		"build", cfg.Build.Short(),
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		pool.Close()
		return fmt.Errorf("loading AWS config: %w", err)
	}

	typedLogger := types.NewSlogLogger(logger)
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	publisher := notifcore.NewSQSDispatchPublisher(sqsClient, cfg.AWS.DispatchQueueURL, typedLogger)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		pool.Close()
		return fmt.Errorf("creating server: %w", err)
	}

	if cfg.Observability.EnableMetrics {
		cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		srv.Metrics = notifcore.NewCloudWatchDispatchMetrics(cwClient, cfg.Observability.MetricNamespace, typedLogger)
	}

	statusCache := cache.New[string, types.JobStatus](cfg.Dispatch.StatusCacheTTL, types.RealClock{})
	go sweepCache(ctx, statusCache)

	service := dispatch.NewService(
		db.NewJobRepository(pool),
		publisher,
		statusCache,
		srv.Validator,
		types.RealClock{},
		typedLogger,
	)
	notificationHandler := handlers.NewNotificationHandler(service, logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, notificationHandler.RegisterRoutes)

	srv.HealthCheckers = append(srv.HealthCheckers, core.NewChecker("database", pool.Ping))
	srv.Closers = append(srv.Closers, func() error {
		pool.Close()
		return nil
	})

	srv.MountRoutes()

	return runHTTPServer(ctx, srv, cfg, logger)
}

// runHTTPServer starts the server and blocks until ctx is cancelled or the
// listener fails, then shuts down gracefully.
func runHTTPServer(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			_ = srv.Shutdown(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// sweepCache drops expired status entries until ctx is done.
func sweepCache(ctx context.Context, c *cache.TTLCache[string, types.JobStatus]) {
	ticker := time.NewTicker(cacheSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// newLogger creates a JSON slog.Logger at the configured level.
func newLogger(level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: types.ParseLogLevel(level),
	}))
}
