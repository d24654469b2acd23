package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushengine/internal/types"
)

type mockCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (m *mockCloudWatch) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.inputs = append(m.inputs, in)
	if m.err != nil {
		return nil, m.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestCloudWatchDispatchMetrics_RecordDelivery(t *testing.T) {
	cw := &mockCloudWatch{}
	m := NewCloudWatchDispatchMetrics(cw, "", &mockLogger{})

	m.RecordDelivery(context.Background(), types.DeliveryInvalidToken, 3)
	m.RecordDelivery(context.Background(), types.DeliveryOK, 0)

	require.Len(t, cw.inputs, 1, "zero counts are not emitted")
	in := cw.inputs[0]
	assert.Equal(t, types.MetricNamespace, aws.ToString(in.Namespace))
	datum := in.MetricData[0]
	assert.Equal(t, types.MetricPushDelivery, aws.ToString(datum.MetricName))
	assert.Equal(t, 3.0, aws.ToFloat64(datum.Value))
	assert.Equal(t, "invalid-token", aws.ToString(datum.Dimensions[0].Value))
}

func TestCloudWatchDispatchMetrics_JobMetrics(t *testing.T) {
	cw := &mockCloudWatch{}
	m := NewCloudWatchDispatchMetrics(cw, "PushEngineStaging", &mockLogger{})
	ctx := context.Background()

	m.RecordJobOutcome(ctx, types.SendStatusPartial)
	m.RecordJobDuration(ctx, 1500*time.Millisecond)
	m.RecordQueueLag(ctx, 250*time.Millisecond)
	m.RecordTokensPruned(ctx, 4)

	require.Len(t, cw.inputs, 4)
	assert.Equal(t, "PushEngineStaging", aws.ToString(cw.inputs[0].Namespace))
	assert.Equal(t, "partial", aws.ToString(cw.inputs[0].MetricData[0].Dimensions[0].Value))
	assert.Equal(t, 1500.0, aws.ToFloat64(cw.inputs[1].MetricData[0].Value))
	assert.Equal(t, types.MetricPushQueueLag, aws.ToString(cw.inputs[2].MetricData[0].MetricName))
	assert.Equal(t, 4.0, aws.ToFloat64(cw.inputs[3].MetricData[0].Value))
}

func TestCloudWatchDispatchMetrics_ErrorsAreLogged(t *testing.T) {
	logger := &mockLogger{}
	m := NewCloudWatchDispatchMetrics(&mockCloudWatch{err: errors.New("denied")}, "", logger)

	m.RecordJobOutcome(context.Background(), types.SendStatusSent)
	assert.Len(t, logger.errors, 1)
}

func TestCloudWatchDispatchMetrics_RecordRequest(t *testing.T) {
	cw := &mockCloudWatch{}
	m := NewCloudWatchDispatchMetrics(cw, "", &mockLogger{})

	m.RecordRequest("POST", "/v1/notifications/{id}/send", "202", 40*time.Millisecond)

	require.Len(t, cw.inputs, 1)
	data := cw.inputs[0].MetricData
	require.Len(t, data, 2)
	assert.Equal(t, types.MetricAPILatency, aws.ToString(data[0].MetricName))
	assert.Equal(t, 40.0, aws.ToFloat64(data[0].Value))
	assert.Equal(t, types.MetricAPIRequestCount, aws.ToString(data[1].MetricName))
	assert.Equal(t, "/v1/notifications/{id}/send", aws.ToString(data[1].Dimensions[1].Value))
}
