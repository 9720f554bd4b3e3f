// Package main is the entry point for the billing webhook service.
//
// It loads configuration, connects to Postgres, wires the verifiers,
// reconciler and optional enrichment clients into the core chassis and
// serves the router.
//
// When AWS_LAMBDA_RUNTIME_API is set the router is served through a Lambda
// Function URL adapter. Otherwise it runs as a standard HTTP server with
// graceful shutdown on SIGINT and SIGTERM.
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

	"billingsync/internal/api/handlers"
	"billingsync/internal/billing"
	"billingsync/internal/config"
	"billingsync/internal/core"
	"billingsync/internal/db"
	"billingsync/internal/external"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// dependencies are the stores and collaborators buildServer wires. main
// fills them from Postgres; tests substitute fakes.
type dependencies struct {
	Ledger  billing.EventLedgerStore
	State   billing.BillingStateStore
	Events  handlers.WebhookEventReader
	Probes  []core.HealthProbe
	Metrics billing.Recorder
	Closers []func()

	Subscriptions external.SubscriptionFetcher
	Memberships   external.MembershipFetcher
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	ctx := context.Background()

	cfg, err := config.LoadConfig(config.NewSSMProvider(awsRegion()))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("billing webhook service starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
	)
	for _, p := range cfg.UnsignedProviders() {
		logger.Warn("webhook signing secret not configured; deliveries will be accepted unverified",
			"provider", p,
		)
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	events := db.NewWebhookEventRepo(pool, logger)
	state := db.NewBillingIntegrationRepo(pool, logger)

	metrics, err := newMetricsRecorder(ctx, cfg, logger)
	if err != nil {
		pool.Close()
		return err
	}

	deps := dependencies{
		Ledger:  events,
		State:   state,
		Events:  events,
		Probes:  []core.HealthProbe{db.NewHealthProbe(pool)},
		Metrics: metrics,
		Closers: []func(){pool.Close},
	}
	if cfg.Billing.EnrichmentEnabled {
		deps.Subscriptions, deps.Memberships = newEnrichmentClients(cfg, logger)
	}

	srv, err := buildServer(cfg, logger, deps)
	if err != nil {
		pool.Close()
		return fmt.Errorf("creating server: %w", err)
	}

	if isLambdaEnvironment() {
		logger.Info("starting in Lambda Function URL mode")
		startLambda(srv.Handler())
		return nil
	}
	return runHTTPServer(srv, cfg, logger)
}

// buildServer wires the reconciler and handlers into a mounted core.Server.
func buildServer(cfg *config.Config, logger *slog.Logger, deps dependencies) (*core.Server, error) {
	if deps.Metrics == nil {
		deps.Metrics = billing.NopRecorder{}
	}

	opts := []billing.ReconcilerOption{billing.WithMetrics(deps.Metrics)}
	if deps.Subscriptions != nil || deps.Memberships != nil {
		opts = append(opts, billing.WithEnricher(
			billing.NewEnricher(deps.Subscriptions, deps.Memberships, deps.Metrics, logger),
		))
	}
	reconciler := billing.NewReconciler(deps.Ledger, deps.State, logger, opts...)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, err
	}
	srv.HealthProbes = deps.Probes
	srv.Closers = deps.Closers

	webhookOpts := handlers.WebhookOptions{
		RequireSignature: cfg.Billing.RequireSignature,
		MaxBodyBytes:     cfg.Billing.MaxBodyBytes,
		Metrics:          deps.Metrics,
	}
	stripeHandler := handlers.NewStripeWebhookHandler(
		external.NewStripeVerifier(cfg.Billing.StripeWebhookSecret), reconciler, webhookOpts, logger)
	whopHandler := handlers.NewWhopWebhookHandler(
		external.NewWhopVerifier(cfg.Billing.WhopWebhookSecret), reconciler, webhookOpts, logger)
	srv.WebhookRoutes = append(srv.WebhookRoutes,
		stripeHandler.Routes(srv.CORSOrigins()),
		whopHandler.Routes(srv.CORSOrigins()),
	)

	if deps.Events != nil {
		admin := handlers.NewAdminHandler(deps.Events, deps.State, logger)
		srv.AdminRoutes = append(srv.AdminRoutes, admin.RegisterRoutes)
	}

	srv.MountRoutes()
	return srv, nil
}

// newEnrichmentClients returns a fetcher per provider with an API key. The
// results are interface values that stay nil when the key is missing.
func newEnrichmentClients(cfg *config.Config, logger *slog.Logger) (external.SubscriptionFetcher, external.MembershipFetcher) {
	httpClient := &http.Client{Timeout: 10 * time.Second}

	var subs external.SubscriptionFetcher
	if cfg.Billing.StripeSecretKey.IsSet() {
		subs = external.NewStripeClient(httpClient, external.StripeClientConfig{
			SecretKey: cfg.Billing.StripeSecretKey,
			BaseURL:   cfg.Billing.StripeAPIBaseURL,
			Logger:    logger,
		})
	}

	var members external.MembershipFetcher
	if cfg.Billing.WhopAPIKey.IsSet() {
		members = external.NewWhopClient(httpClient, external.WhopClientConfig{
			APIKey:  cfg.Billing.WhopAPIKey,
			BaseURL: cfg.Billing.WhopAPIBaseURL,
			Logger:  logger,
		})
	}
	return subs, members
}

// newMetricsRecorder publishes to CloudWatch when metrics are enabled.
func newMetricsRecorder(ctx context.Context, cfg *config.Config, logger *slog.Logger) (billing.Recorder, error) {
	if !cfg.Observability.MetricsEnabled {
		return billing.NopRecorder{}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for CloudWatch: %w", err)
	}
	client := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	return billing.NewCloudWatchRecorder(client, cfg.Observability.MetricsNamespace, logger), nil
}

// awsRegion returns the region used for SSM before configuration is loaded.
func awsRegion() string {
	if r := os.Getenv("AWS_REGION"); r != "" {
		return r
	}
	return "us-east-1"
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	return hasRuntimeAPI
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
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

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			_ = srv.Shutdown(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a JSON slog.Logger for the given level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
