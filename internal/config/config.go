// Package config defines the global configuration structure for the Tomorrow
// platform. Configuration is loaded once at process initialization (API boot
// or Lambda cold start) and is immutable thereafter. It follows 12-Factor App
// principles by strictly separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format causes startup to fail
// immediately with an error that enumerates every missing variable, so an
// operator fixes the deployment once instead of variable by variable.
package config

import (
	"time"

	"tomorrow/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the Tomorrow platform.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"tomorrow-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server        ServerConfig
	Database      DatabaseConfig
	Email         EmailConfig
	Scheduler     SchedulerConfig
	AWS           AWSConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// SiteURL is the public web app URL used in email links (no trailing
	// slash), e.g. the unsubscribe and settings links in the daily email.
	SiteURL string `envconfig:"SITE_URL" default:"http://localhost:3000" validate:"url"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	// Resolved from SSM or Env
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// EmailConfig holds email delivery provider credentials and sender identity.
type EmailConfig struct {
	ResendAPIKey SecretString `envconfig:"RESEND_API_KEY" validate:"required"`
	FromAddress  string       `envconfig:"EMAIL_FROM_ADDRESS" default:"hello@tomorrow.email" validate:"email"`
	FromName     string       `envconfig:"EMAIL_FROM_NAME" default:"Tomorrow"`
	// TestRecipient receives operator-triggered test emails. Optional; the
	// test endpoints reject requests when it is unset.
	TestRecipient string `envconfig:"TEST_EMAIL_ADDRESS" validate:"omitempty,email"`
}

// SchedulerConfig holds the delivery scheduler's timing parameters.
type SchedulerConfig struct {
	// Timezone is the IANA zone all user send times are interpreted in.
	Timezone string `envconfig:"TIMEZONE" default:"Asia/Ho_Chi_Minh"`
	// ToleranceMinutes widens send-time matching to absorb trigger jitter.
	ToleranceMinutes int `envconfig:"SEND_TOLERANCE_MINUTES" default:"5" validate:"min=0,max=60"`
	// DailySendTime is the target time substituted by the daily cron entry
	// point ("HH:MM", 24h, reference timezone).
	DailySendTime string `envconfig:"DAILY_SEND_TIME" default:"06:00"`
	// Workers bounds per-user delivery concurrency within a batch.
	// 1 means strictly sequential processing.
	Workers int `envconfig:"SCHEDULER_WORKERS" default:"1" validate:"min=1,max=32"`
	// RetentionDays is how long delivery audit records are kept before the
	// retention job archives and deletes them.
	RetentionDays int `envconfig:"LOG_RETENTION_DAYS" default:"90" validate:"min=1"`
	// ArchiveDir is where the retention job writes gzip archives of expired
	// audit records. Empty disables archiving; expired records are deleted
	// without a copy.
	ArchiveDir string `envconfig:"LOG_ARCHIVE_DIR"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// OutcomeQueueURL is the SQS queue that receives per-send outcome
	// events for downstream consumers. Empty disables publishing.
	OutcomeQueueURL string `envconfig:"SQS_OUTCOME_EVENTS" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// SecurityConfig holds admin access and CORS settings.
type SecurityConfig struct {
	// AdminAPIKey protects the manual trigger endpoints. When unset, those
	// endpoints reject every request.
	AdminAPIKey        SecretString `envconfig:"ADMIN_API_KEY"`
	CorsAllowedOrigins []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ObservabilityConfig holds telemetry and monitoring settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Tomorrow"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates one or more required environment variables
	// were not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
