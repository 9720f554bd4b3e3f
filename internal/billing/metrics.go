package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"billingsync/internal/types"
)

// Outcome statuses reported to metrics. The ledger statuses plus duplicate.
const (
	OutcomeProcessed = string(types.LedgerStatusProcessed)
	OutcomeIgnored   = string(types.LedgerStatusIgnored)
	OutcomeError     = string(types.LedgerStatusError)
	OutcomeDuplicate = "duplicate"
)

// Recorder receives webhook outcome telemetry. Implementations must not
// block the request on delivery failures.
type Recorder interface {
	RecordOutcome(ctx context.Context, provider types.Provider, eventType, status string)
	RecordRejected(ctx context.Context, provider types.Provider, reason string)
	RecordEnrichmentFailure(ctx context.Context, provider types.Provider)
	RecordLatency(ctx context.Context, provider types.Provider, d time.Duration)
}

// NopRecorder discards everything. Used when METRICS_ENABLED is false.
type NopRecorder struct{}

func (NopRecorder) RecordOutcome(context.Context, types.Provider, string, string) {}
func (NopRecorder) RecordRejected(context.Context, types.Provider, string)        {}
func (NopRecorder) RecordEnrichmentFailure(context.Context, types.Provider)       {}
func (NopRecorder) RecordLatency(context.Context, types.Provider, time.Duration)  {}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var (
	_ Recorder = NopRecorder{}
	_ Recorder = (*CloudWatchRecorder)(nil)
)

// CloudWatchRecorder publishes one datum per call.
//
// Metrics emitted:
//   - WebhookOutcome: Dims {Provider, EventType, Status}
//   - WebhookRejected: Dims {Provider, Reason}
//   - EnrichmentFailure: Dims {Provider}
//   - ReconcileLatency: Dims {Provider}, milliseconds
type CloudWatchRecorder struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

func NewCloudWatchRecorder(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchRecorder {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchRecorder{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

func (m *CloudWatchRecorder) put(ctx context.Context, datum cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	}
	// Publishing outlives a cancelled request.
	if _, err := m.client.PutMetricData(context.WithoutCancel(ctx), input); err != nil {
		m.logger.ErrorContext(ctx, "failed to publish metric",
			"error", err.Error(),
			"metric", aws.ToString(datum.MetricName),
		)
	}
}

func (m *CloudWatchRecorder) RecordOutcome(ctx context.Context, provider types.Provider, eventType, status string) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricWebhookOutcome),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			dim(types.DimProvider, string(provider)),
			dim(types.DimEventType, eventType),
			dim(types.DimStatus, status),
		},
	})
}

func (m *CloudWatchRecorder) RecordRejected(ctx context.Context, provider types.Provider, reason string) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricWebhookRejected),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			dim(types.DimProvider, string(provider)),
			dim(types.DimReason, reason),
		},
	})
}

func (m *CloudWatchRecorder) RecordEnrichmentFailure(ctx context.Context, provider types.Provider) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricEnrichmentFailure),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{dim(types.DimProvider, string(provider))},
	})
}

// RecordLatency records d in milliseconds.
func (m *CloudWatchRecorder) RecordLatency(ctx context.Context, provider types.Provider, d time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricReconcileLatency),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{dim(types.DimProvider, string(provider))},
	})
}
