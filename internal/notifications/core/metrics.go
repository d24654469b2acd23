package core

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"pushengine/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchDispatchMetrics emits push metrics to CloudWatch.
//
// Metrics emitted:
//   - PushDelivery: Dims {Result} -- delivery outcomes per window
//   - PushJobOutcome: Dims {Status} -- terminal job status
//   - PushJobDuration -- wall time of one run
//   - PushQueueLag -- time between enqueue and worker pickup
//   - PushTokensPruned -- records cleared per run
//   - APILatency, APIRequestCount: Dims {Method, Endpoint, Status} -- admin API
type CloudWatchDispatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

var _ DispatchMetrics = (*CloudWatchDispatchMetrics)(nil)

// NewCloudWatchDispatchMetrics creates metrics publishing to namespace. An
// empty namespace uses types.MetricNamespace.
func NewCloudWatchDispatchMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchDispatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchDispatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

func (m *CloudWatchDispatchMetrics) RecordDelivery(ctx context.Context, kind types.DeliveryKind, count int) {
	if count <= 0 {
		return
	}
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricPushDelivery),
		Value:      aws.Float64(float64(count)),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(types.DimResult), Value: aws.String(string(kind))},
		},
	})
}

func (m *CloudWatchDispatchMetrics) RecordJobOutcome(ctx context.Context, status types.SendStatus) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricPushJobOutcome),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(types.DimStatus), Value: aws.String(string(status))},
		},
	})
}

func (m *CloudWatchDispatchMetrics) RecordJobDuration(ctx context.Context, d time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricPushJobDuration),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
	})
}

func (m *CloudWatchDispatchMetrics) RecordQueueLag(ctx context.Context, lag time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricPushQueueLag),
		Value:      aws.Float64(float64(lag.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
	})
}

func (m *CloudWatchDispatchMetrics) RecordTokensPruned(ctx context.Context, n int64) {
	if n <= 0 {
		return
	}
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricTokensPruned),
		Value:      aws.Float64(float64(n)),
		Unit:       cwtypes.StandardUnitCount,
	})
}

// RecordRequest records admin API latency and count. endpoint should be the
// route pattern, not the raw path, to keep dimension cardinality bounded.
func (m *CloudWatchDispatchMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	dims := []cwtypes.Dimension{
		{Name: aws.String(types.DimMethod), Value: aws.String(method)},
		{Name: aws.String(types.DimEndpoint), Value: aws.String(endpoint)},
		{Name: aws.String(types.DimStatus), Value: aws.String(status)},
	}
	m.put(context.Background(),
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricAPILatency),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: dims,
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricAPIRequestCount),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		},
	)
}

func (m *CloudWatchDispatchMetrics) put(ctx context.Context, data ...cwtypes.MetricDatum) {
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	})
	if err != nil {
		m.logger.Error("failed to record metric",
			"error", err.Error(),
			"metric", aws.ToString(data[0].MetricName),
		)
	}
}
