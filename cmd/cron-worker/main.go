// Package main is the entrypoint for the Cron Worker Lambda function.
//
// The Cron Worker is invoked by EventBridge schedules with a small JSON
// payload selecting a task:
//
//	{"task": "daily"}                 - the fixed 06:00 batch
//	{"task": "sweep"}                 - the every-few-minutes tolerance tick
//	{"task": "test"}                  - connectivity-test send
//	{"task": "retention"}             - archive and delete expired audit logs
//
// "daily" compares candidates against the configured daily send time so a
// late-firing schedule still matches its users; "sweep" compares against the
// invocation time, picking up users with custom send times. An optional
// "time" field overrides the compared time and "force_all" bypasses the
// time filter entirely.
//
// Cold start: resolve secrets, load configuration, connect the pool, wire
// the scheduler, register the handler. In local mode (APP_ENV=local) the
// payload is read from stdin instead of starting the Lambda runtime.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"tomorrow/internal/clock"
	"tomorrow/internal/config"
	"tomorrow/internal/db"
	"tomorrow/internal/email"
	"tomorrow/internal/external"
	"tomorrow/internal/metrics"
	"tomorrow/internal/queue"
	"tomorrow/internal/scheduler"
	"tomorrow/internal/types"
)

// batchRunner is the scheduler surface the worker drives.
type batchRunner interface {
	Run(ctx context.Context, opts scheduler.RunOptions) (*scheduler.BatchResult, error)
	SendTest(ctx context.Context, recipient string) (string, error)
}

// retentionRunner prunes expired audit records.
type retentionRunner interface {
	Run(ctx context.Context, now time.Time, retentionDays int) (*scheduler.RetentionResult, error)
}

// Handler holds the dependencies for the cron worker Lambda handler.
type Handler struct {
	runner        batchRunner
	retention     retentionRunner
	clk           *clock.Clock
	dailySendTime string
	testRecipient string
	retentionDays int
	logger        *slog.Logger
}

// Response is the JSON result returned to the Lambda caller.
type Response struct {
	Task    string                     `json:"task"`
	Batch   *scheduler.BatchResult     `json:"batch,omitempty"`
	Message string                     `json:"message,omitempty"`
	Pruned  *scheduler.RetentionResult `json:"pruned,omitempty"`
}

// Handle dispatches one EventBridge trigger payload.
func (h *Handler) Handle(ctx context.Context, payload scheduler.TriggerPayload) (*Response, error) {
	h.logger.InfoContext(ctx, "cron trigger received",
		"task", payload.Task,
		"time", payload.Time,
		"force_all", payload.ForceAll,
	)

	switch payload.Task {
	case scheduler.TaskDaily:
		target := payload.Time
		if target == "" {
			target = h.dailySendTime
		}
		result, err := h.runner.Run(ctx, scheduler.RunOptions{
			TargetTime: target,
			ForceAll:   payload.ForceAll,
		})
		if err != nil {
			return nil, err
		}
		return &Response{Task: string(payload.Task), Batch: result}, nil

	case scheduler.TaskSweep:
		result, err := h.runner.Run(ctx, scheduler.RunOptions{
			TargetTime: payload.Time,
			ForceAll:   payload.ForceAll,
		})
		if err != nil {
			return nil, err
		}
		return &Response{Task: string(payload.Task), Batch: result}, nil

	case scheduler.TaskTest:
		msgID, err := h.runner.SendTest(ctx, h.testRecipient)
		if err != nil {
			return nil, err
		}
		return &Response{
			Task:    string(payload.Task),
			Message: fmt.Sprintf("test email sent (%s)", msgID),
		}, nil

	case scheduler.TaskRetention:
		result, err := h.retention.Run(ctx, h.clk.Now(), h.retentionDays)
		if err != nil {
			return nil, err
		}
		return &Response{Task: string(payload.Task), Pruned: result}, nil

	default:
		return nil, types.NewAppError(
			types.ErrCodeValidationMissingField,
			fmt.Sprintf("unknown task %q", payload.Task),
			nil,
		)
	}
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	logger.Info("cron worker initializing (cold start)")

	cfg, err := config.LoadConfig(secretProvider())
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		logger.Error("failed to parse database url", "error", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}

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
	clk := clock.New(cfg.Scheduler.Timezone)

	deps := scheduler.Deps{
		Directory: prefRepo,
		Selector:  scheduler.NewSelector(highlightRepo),
		Composer:  composer,
		Provider:  provider,
		Logs:      logRepo,
		Clock:     clk,
		Logger:    logger,
	}

	if cfg.Observability.EnableMetrics || cfg.AWS.OutcomeQueueURL != "" {
		awsCfg, awsErr := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if awsErr != nil {
			logger.Error("failed to load AWS config", "error", awsErr)
			os.Exit(1)
		}
		if cfg.Observability.EnableMetrics {
			deps.Metrics = metrics.New(
				cloudwatch.NewFromConfig(awsCfg),
				cfg.Observability.MetricNamespace,
				logger,
			)
		}
		if cfg.AWS.OutcomeQueueURL != "" {
			deps.Outcomes = queue.NewOutcomePublisher(
				sqs.NewFromConfig(awsCfg),
				cfg.AWS.OutcomeQueueURL,
				logger,
			)
		}
	}

	sched := scheduler.New(deps,
		scheduler.WithTolerance(cfg.Scheduler.ToleranceMinutes),
		scheduler.WithWorkers(cfg.Scheduler.Workers),
	)

	handler := &Handler{
		runner:        sched,
		retention:     scheduler.NewRetentionJob(logRepo, cfg.Scheduler.ArchiveDir, logger),
		clk:           clk,
		dailySendTime: cfg.Scheduler.DailySendTime,
		testRecipient: cfg.Email.TestRecipient,
		retentionDays: cfg.Scheduler.RetentionDays,
		logger:        logger,
	}

	logger.Info("cron worker initialized",
		"timezone", cfg.Scheduler.Timezone,
		"daily_send_time", cfg.Scheduler.DailySendTime,
		"tolerance_minutes", cfg.Scheduler.ToleranceMinutes,
	)

	// Local mode: read the trigger payload from stdin instead of starting
	// the Lambda runtime. Usage:
	//   echo '{"task":"sweep"}' | go run ./cmd/cron-worker
	if cfg.Environment == "local" {
		runLocal(handler, logger)
		return
	}

	lambda.Start(handler.Handle)
}

func runLocal(handler *Handler, logger *slog.Logger) {
	payload, err := io.ReadAll(os.Stdin)
	if err != nil || len(payload) == 0 {
		logger.Error("no trigger payload on stdin")
		os.Exit(1)
	}

	var trigger scheduler.TriggerPayload
	if err := json.Unmarshal(payload, &trigger); err != nil {
		logger.Error("failed to parse trigger payload", "error", err)
		os.Exit(1)
	}

	resp, err := handler.Handle(context.Background(), trigger)
	if err != nil {
		logger.Error("trigger failed", "task", trigger.Task, "error", err)
		os.Exit(1)
	}

	out, _ := json.Marshal(resp)
	fmt.Println(string(out))
}

// secretProvider selects the SSM-backed provider outside local development.
func secretProvider() config.SecretProvider {
	if os.Getenv("APP_ENV") == "local" || os.Getenv("APP_ENV") == "" {
		return config.NewEnvVarProvider()
	}
	return config.NewSSMProvider(os.Getenv("AWS_REGION"))
}
