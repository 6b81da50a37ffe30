// Package main is the entry point for the Tomorrow API server.
//
// It loads configuration, connects the Postgres pool, wires the delivery
// scheduler with its real dependencies (Resend client, repositories, SQS
// outcome publisher, CloudWatch metrics), builds the HTTP server with the
// core chassis (middleware, routing, health checks), and starts listening.
//
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
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tomorrow/internal/api/handlers"
	"tomorrow/internal/clock"
	"tomorrow/internal/config"
	"tomorrow/internal/core"
	"tomorrow/internal/db"
	"tomorrow/internal/email"
	"tomorrow/internal/external"
	"tomorrow/internal/metrics"
	"tomorrow/internal/queue"
	"tomorrow/internal/scheduler"
	"tomorrow/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(secretProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("tomorrow API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	// Repositories share the pool through the DBTX seam.
	prefRepo := db.NewPreferenceRepository(pool)
	highlightRepo := db.NewHighlightRepository(pool)
	logRepo := db.NewDeliveryLogRepository(pool)

	provider := external.NewResendClient(
		&http.Client{Timeout: 10 * time.Second},
		external.ResendClientConfig{
			APIKey: cfg.Email.ResendAPIKey.Unmask(),
			Logger: logger,
		},
	)
	composer := email.NewComposer(
		types.EmailAddress{Address: cfg.Email.FromAddress, Name: cfg.Email.FromName},
		cfg.Server.SiteURL,
	)

	// AWS-backed collaborators are optional: the outcome publisher disables
	// itself without a queue URL and a nil Metrics drops everything.
	var (
		cwMetrics *metrics.Metrics
		outcomes  *queue.OutcomePublisher
	)
	if cfg.Observability.EnableMetrics || cfg.AWS.OutcomeQueueURL != "" {
		awsCfg, awsErr := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if awsErr != nil {
			return fmt.Errorf("loading AWS config: %w", awsErr)
		}
		endpoint := cfg.AWS.EndpointURL
		if cfg.Observability.EnableMetrics {
			cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
				if endpoint != "" {
					o.BaseEndpoint = aws.String(endpoint)
				}
			})
			cwMetrics = metrics.New(cwClient, cfg.Observability.MetricNamespace, logger)
		}
		if cfg.AWS.OutcomeQueueURL != "" {
			sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
				if endpoint != "" {
					o.BaseEndpoint = aws.String(endpoint)
				}
			})
			outcomes = queue.NewOutcomePublisher(sqsClient, cfg.AWS.OutcomeQueueURL, logger)
		}
	}

	deps := scheduler.Deps{
		Directory: prefRepo,
		Selector:  scheduler.NewSelector(highlightRepo),
		Composer:  composer,
		Provider:  provider,
		Logs:      logRepo,
		Clock:     clock.New(cfg.Scheduler.Timezone),
		Metrics:   cwMetrics,
		Logger:    logger,
	}
	if outcomes != nil {
		// Assigned conditionally so a disabled publisher stays a nil
		// interface inside the scheduler.
		deps.Outcomes = outcomes
	}
	sched := scheduler.New(deps,
		scheduler.WithTolerance(cfg.Scheduler.ToleranceMinutes),
		scheduler.WithWorkers(cfg.Scheduler.Workers),
	)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	if cwMetrics != nil {
		srv.Metrics = cwMetrics
	}
	srv.HealthProbes = append(srv.HealthProbes, &dbProbe{pool: pool})

	triggerHandler := handlers.NewTriggerHandler(
		sched,
		highlightRepo,
		provider,
		composer,
		srv.Validator,
		logger,
		cfg.Scheduler.DailySendTime,
		cfg.Email.TestRecipient,
	)
	userHandler := handlers.NewUserHandler(prefRepo, logRepo, srv.Validator, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		func(r chi.Router) {
			// Trigger endpoints start real deliveries; admin key required.
			r.Group(func(r chi.Router) {
				r.Use(srv.AdminKeyMiddleware)
				triggerHandler.RegisterRoutes(r)
			})
		},
		userHandler.RegisterRoutes,
	)

	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// secretProvider selects the SSM-backed provider outside local development,
// where secrets come straight from the environment.
func secretProvider() config.SecretProvider {
	if os.Getenv("APP_ENV") == "local" || os.Getenv("APP_ENV") == "" {
		return config.NewEnvVarProvider()
	}
	return config.NewSSMProvider(os.Getenv("AWS_REGION"))
}

// newPool builds the pgx connection pool with the configured tuning and
// verifies connectivity before the server accepts traffic.
func newPool(ctx context.Context, dbCfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dbCfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	poolCfg.MaxConns = int32(dbCfg.MaxConns)
	poolCfg.MinConns = int32(dbCfg.MinConns)
	poolCfg.MaxConnLifetime = dbCfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = dbCfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, dbCfg.AcquireTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// dbProbe reports database connectivity for GET /health.
type dbProbe struct {
	pool *pgxpool.Pool
}

func (p *dbProbe) Name() string { return "database" }

func (p *dbProbe) Check(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
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

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
