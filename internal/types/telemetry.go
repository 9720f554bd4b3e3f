package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricWebhookOutcome    = "WebhookOutcome"
	MetricWebhookRejected   = "WebhookRejected"
	MetricEnrichmentFailure = "EnrichmentFailure"
	MetricReconcileLatency  = "ReconcileLatency"

	// Dimension Keys
	DimProvider  = "Provider"
	DimEventType = "EventType"
	DimStatus    = "Status"
	DimReason    = "Reason"

	// Metric Namespace default, overridable through METRICS_NAMESPACE.
	MetricNamespace = "BillingSync"
)
