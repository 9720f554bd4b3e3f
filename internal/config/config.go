// Package config defines the configuration of the billing webhook service.
// Configuration is loaded once at process start (HTTP boot or Lambda cold
// start) and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
package config

import (
	"time"

	"billingsync/internal/types"
)

// SecretString is an alias for types.SecretString.
type SecretString = types.SecretString

// Config is the top-level configuration struct.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"billing-webhooks"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Billing       BillingConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server configuration. The write timeout is the
// platform request timeout; handlers set none of their own.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int32         `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns          int32         `envconfig:"DB_MIN_CONNS" default:"0" validate:"min=0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds regional configuration for SSM and CloudWatch.
type AWSConfig struct {
	Region      string `envconfig:"AWS_REGION" default:"us-east-1"`
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// BillingConfig holds provider secrets and reconciliation switches.
//
// An empty webhook secret disables signature checking for that provider
// unless RequireSignature is set, in which case every request is rejected.
type BillingConfig struct {
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY"`
	StripeAPIBaseURL    string       `envconfig:"STRIPE_API_BASE_URL" default:"https://api.stripe.com" validate:"url"`

	WhopWebhookSecret SecretString `envconfig:"WHOP_WEBHOOK_SECRET"`
	WhopAPIKey        SecretString `envconfig:"WHOP_API_KEY"`
	WhopAPIBaseURL    string       `envconfig:"WHOP_API_BASE_URL" default:"https://api.whop.com" validate:"url"`

	RequireSignature  bool  `envconfig:"BILLING_REQUIRE_SIGNATURE" default:"false"`
	EnrichmentEnabled bool  `envconfig:"BILLING_ENRICHMENT_ENABLED" default:"true"`
	MaxBodyBytes      int64 `envconfig:"WEBHOOK_MAX_BODY_BYTES" default:"65536" validate:"min=1024"`
}

// SecurityConfig holds CORS settings and the operator token guarding the
// admin read endpoints. An empty token disables those endpoints.
type SecurityConfig struct {
	AdminAPIToken      SecretString `envconfig:"ADMIN_API_TOKEN"`
	CorsAllowedOrigins []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricsEnabled   bool   `envconfig:"METRICS_ENABLED" default:"false"`
	MetricsNamespace string `envconfig:"METRICS_NAMESPACE" default:"BillingSync"`
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

// UnsignedProviders lists the providers whose webhooks will be accepted
// without signature verification. Callers log it at startup.
func (c *Config) UnsignedProviders() []types.Provider {
	if c.Billing.RequireSignature {
		return nil
	}
	var out []types.Provider
	if !c.Billing.StripeWebhookSecret.IsSet() {
		out = append(out, types.ProviderStripe)
	}
	if !c.Billing.WhopWebhookSecret.IsSet() {
		out = append(out, types.ProviderWhop)
	}
	return out
}

// IsLocal reports whether the process runs in the local environment.
func (c *Config) IsLocal() bool {
	return c.Environment == localEnv
}
