// Package metrics emits delivery metrics to AWS CloudWatch. Emission is
// fire-and-forget: a metrics failure is logged and never propagated into the
// delivery path.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"tomorrow/internal/types"
)

// Metric and dimension names.
const (
	MetricSendAttempt  = "SendAttempt"
	MetricSendLatency  = "SendLatency"
	MetricBatchSent    = "BatchSent"
	MetricBatchFailed  = "BatchFailed"
	MetricBatchSkipped = "BatchSkipped"
	MetricAPIRequest   = "APIRequest"
	MetricAPILatency   = "APIRequestLatency"

	DimKind     = "Kind"
	DimOutcome  = "Outcome"
	DimMethod   = "Method"
	DimEndpoint = "Endpoint"
	DimStatus   = "Status"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Metrics publishes delivery metrics to a CloudWatch namespace. A nil
// *Metrics is valid and drops everything, so wiring can skip the nil checks
// when metrics are disabled.
type Metrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// New creates a Metrics publisher for the given namespace.
func New(client CloudWatchClient, namespace string, logger *slog.Logger) *Metrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &Metrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordSendOutcome emits a SendAttempt count with Kind and Outcome
// dimensions after every delivery attempt.
func (m *Metrics) RecordSendOutcome(ctx context.Context, kind types.SendKind, outcome types.Outcome) {
	if m == nil {
		return
	}

	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(MetricSendAttempt),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(DimKind), Value: aws.String(string(kind))},
			{Name: aws.String(DimOutcome), Value: aws.String(string(outcome))},
		},
	})
}

// RecordSendLatency emits the duration of one provider send in milliseconds.
func (m *Metrics) RecordSendLatency(ctx context.Context, kind types.SendKind, duration time.Duration) {
	if m == nil {
		return
	}

	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(MetricSendLatency),
		Value:      aws.Float64(float64(duration.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(DimKind), Value: aws.String(string(kind))},
		},
	})
}

// RecordBatch emits the per-batch counters in one PutMetricData call.
func (m *Metrics) RecordBatch(ctx context.Context, sent, skipped, failed int) {
	if m == nil {
		return
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(MetricBatchSent),
				Value:      aws.Float64(float64(sent)),
				Unit:       cwtypes.StandardUnitCount,
			},
			{
				MetricName: aws.String(MetricBatchSkipped),
				Value:      aws.Float64(float64(skipped)),
				Unit:       cwtypes.StandardUnitCount,
			},
			{
				MetricName: aws.String(MetricBatchFailed),
				Value:      aws.Float64(float64(failed)),
				Unit:       cwtypes.StandardUnitCount,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to record batch metrics",
			"error", err.Error(),
			"sent", sent,
			"skipped", skipped,
			"failed", failed,
		)
	}
}

// RecordRequest emits one API request count and its latency. Satisfies the
// HTTP chassis MetricsCollector contract, which carries no context; emission
// uses a background context so a cancelled request still records.
func (m *Metrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	if m == nil {
		return
	}

	dims := []cwtypes.Dimension{
		{Name: aws.String(DimMethod), Value: aws.String(method)},
		{Name: aws.String(DimEndpoint), Value: aws.String(endpoint)},
		{Name: aws.String(DimStatus), Value: aws.String(status)},
	}

	ctx := context.Background()
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(MetricAPIRequest),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
			{
				MetricName: aws.String(MetricAPILatency),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: dims,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record request metric",
			"error", err.Error(),
			"endpoint", endpoint,
		)
	}
}

func (m *Metrics) put(ctx context.Context, datum cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to record metric",
			"error", err.Error(),
			"metric", aws.ToString(datum.MetricName),
		)
	}
}
