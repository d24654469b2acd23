// Package scheduler implements the scheduled maintenance tasks of the push
// engine.
//
// The MaintenancePayload is the JSON structure sent by EventBridge rules to
// the sweeper function. The TaskType determines which service method runs.
package scheduler

import "time"

// TaskType identifies which maintenance task an EventBridge event requests.
type TaskType string

const (
	// TaskRecoverStalled republishes dispatch messages for jobs whose runner
	// died or whose original message was lost.
	TaskRecoverStalled TaskType = "recover_stalled"
)

// MaintenancePayload is the JSON payload sent by EventBridge to the sweeper.
//
//	{
//	  "task": "recover_stalled",
//	  "reference_time": "2026-02-06T03:00:00Z"  // optional
//	}
type MaintenancePayload struct {
	Task TaskType `json:"task"`
	// ReferenceTime overrides "now" for manual invocation. If nil,
	// time.Now().UTC() is used.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// Now returns the reference time of the payload, defaulting to the clock.
func (p MaintenancePayload) Now() time.Time {
	if p.ReferenceTime != nil {
		return p.ReferenceTime.UTC()
	}
	return time.Now().UTC()
}
