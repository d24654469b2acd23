package types

// Telemetry metric names for CloudWatch.
const (
	MetricPushDelivery    = "PushDelivery"
	MetricPushJobOutcome  = "PushJobOutcome"
	MetricPushJobDuration = "PushJobDuration"
	MetricPushQueueLag    = "PushQueueLag"
	MetricTokensPruned    = "PushTokensPruned"
	MetricAPILatency      = "APILatency"
	MetricAPIRequestCount = "APIRequestCount"

	DimResult   = "Result"
	DimStatus   = "Status"
	DimMethod   = "Method"
	DimEndpoint = "Endpoint"

	MetricNamespace = "PushEngine"
)
