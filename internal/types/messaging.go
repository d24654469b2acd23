package types

import "time"

// DispatchMessage is the SQS payload that asks a push worker to run (or
// resume) the send for one notification job.
type DispatchMessage struct {
	JobID      string    `json:"job_id"`
	TraceID    string    `json:"trace_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	// Reason records who published the message: "enqueue" or "recovery".
	Reason string `json:"reason"`
}

// Dispatch reasons.
const (
	DispatchReasonEnqueue  = "enqueue"
	DispatchReasonRecovery = "recovery"
)
