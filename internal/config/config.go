// Package config defines the process configuration for the push engine.
// Configuration is loaded once at startup and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// A missing required value or an invalid format fails startup.
package config

import (
	"time"

	"pushengine/internal/types"
)

// SecretString is an alias for types.SecretString so config structs can
// declare redacted fields without importing types everywhere.
type SecretString = types.SecretString

// Config is the top-level configuration. Components receive only the
// subsection they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"push-engine"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	FCM           FCMConfig
	Dispatch      DispatchConfig
	Redis         RedisConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Injected via ldflags, not env.
	Build BuildInfo
}

// ServerConfig holds admin API listener settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// DispatchQueueURL receives one DispatchMessage per enqueued send.
	DispatchQueueURL string `envconfig:"SQS_PUSH_DISPATCH" validate:"required,url"`

	// LocalStack endpoint; empty in deployed environments.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// FCMConfig selects the Firebase credentials. When neither CredentialsJSON
// nor CredentialsFile is set, Application Default Credentials are used.
type FCMConfig struct {
	ProjectID       string        `envconfig:"FCM_PROJECT_ID"`
	CredentialsJSON SecretString  `envconfig:"FCM_CREDENTIALS_JSON"`
	CredentialsFile string        `envconfig:"FCM_CREDENTIALS_FILE"`
	SendTimeout     time.Duration `envconfig:"FCM_SEND_TIMEOUT" default:"10s"`
}

// DispatchConfig tunes the batch dispatcher and recovery sweeper.
type DispatchConfig struct {
	ConcurrencyLimit int           `envconfig:"PUSH_CONCURRENCY_LIMIT" default:"5" validate:"min=1,max=50"`
	ReportEvery      int           `envconfig:"PUSH_REPORT_EVERY" default:"5" validate:"min=1"`
	LeaseTTL         time.Duration `envconfig:"PUSH_LEASE_TTL" default:"2m"`
	StaleAfter       time.Duration `envconfig:"PUSH_STALE_AFTER" default:"5m" validate:"gtfield=LeaseTTL"`
	StatusCacheTTL   time.Duration `envconfig:"PUSH_STATUS_CACHE_TTL" default:"2s"`
}

// RedisConfig holds the lease store connection. An empty Addr selects the
// in-process lease, which is accepted only when APP_ENV=local.
type RedisConfig struct {
	Addr     string       `envconfig:"REDIS_ADDR"`
	Password SecretString `envconfig:"REDIS_PASSWORD"`
	DB       int          `envconfig:"REDIS_DB" default:"0"`
}

// SecurityConfig holds admin API access settings.
type SecurityConfig struct {
	AdminAPIKey        SecretString `envconfig:"ADMIN_API_KEY" validate:"omitempty,min=16"`
	CorsAllowedOrigins []string     `envconfig:"CORS_ALLOWED_ORIGINS"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"PushEngine"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
