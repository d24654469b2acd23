package dispatch

import (
	"context"
	"fmt"

	"pushengine/internal/db"
	"pushengine/internal/types"
)

// ClaimResult tells a runner what it may do with a job.
type ClaimResult string

const (
	// ClaimFresh means this call moved the job queued -> sending with reset
	// counters.
	ClaimFresh ClaimResult = "fresh"
	// ClaimResume means the job was already sending; continue from its
	// persisted progress.
	ClaimResume ClaimResult = "resume"
	// ClaimNone means the job is in any other state; do nothing.
	ClaimNone ClaimResult = "none"
)

// StateMachine owns the job lifecycle transitions.
//
//	idle -> queued -> sending -> {sent | partial | failed}
type StateMachine struct {
	jobs  JobStore
	clock types.Clock
}

// NewStateMachine creates a StateMachine.
func NewStateMachine(jobs JobStore, clock types.Clock) *StateMachine {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &StateMachine{jobs: jobs, clock: clock}
}

// Claim attempts queued -> sending and reloads the job. Callers must hold
// the job lease, which is what makes resuming a sending job safe.
func (m *StateMachine) Claim(ctx context.Context, jobID string) (ClaimResult, *types.NotificationJob, error) {
	claimed, err := m.jobs.TryTransition(ctx, db.Transition{
		JobID: jobID,
		From:  []types.SendStatus{types.SendStatusQueued},
		To:    types.SendStatusSending,
		At:    m.clock.Now(),
		Reset: true,
		Start: true,
	})
	if err != nil {
		return ClaimNone, nil, fmt.Errorf("Claim: %w", err)
	}

	job, err := m.jobs.Get(ctx, jobID)
	if err != nil {
		return ClaimNone, nil, fmt.Errorf("Claim: %w", err)
	}

	switch {
	case claimed:
		return ClaimFresh, job, nil
	case job.SendStatus == types.SendStatusSending:
		return ClaimResume, job, nil
	default:
		return ClaimNone, job, nil
	}
}

// SetTotal records the audience size of the running job.
func (m *StateMachine) SetTotal(ctx context.Context, jobID string, total int) error {
	ok, err := m.jobs.SetTotal(ctx, jobID, total, m.clock.Now())
	if err != nil {
		return fmt.Errorf("SetTotal: %w", err)
	}
	if !ok {
		return ErrJobNotSending
	}
	return nil
}

// Complete classifies the run and writes the terminal state. It returns
// ErrJobNotSending if the job left sending in the meantime.
func (m *StateMachine) Complete(ctx context.Context, jobID string, p types.Progress, total int) (types.SendStatus, error) {
	status := Classify(p.Success, p.Failure)
	ok, err := m.jobs.Complete(ctx, jobID, db.CompleteParams{
		Status:   status,
		Progress: p,
		Total:    total,
		At:       m.clock.Now(),
	})
	if err != nil {
		return status, fmt.Errorf("Complete: %w", err)
	}
	if !ok {
		return status, ErrJobNotSending
	}
	return status, nil
}

// Fail moves a queued or sending job to failed and appends diagnostic to
// its errors. A non-nil p is the run's final counters. It reports whether
// the job changed.
func (m *StateMachine) Fail(ctx context.Context, jobID, diagnostic string, p *types.Progress) (bool, error) {
	ok, err := m.jobs.Fail(ctx, jobID, db.FailParams{
		Diagnostic: diagnostic,
		Progress:   p,
		At:         m.clock.Now(),
	})
	if err != nil {
		return false, fmt.Errorf("Fail: %w", err)
	}
	return ok, nil
}

// Classify maps a run's counters to its terminal status. An empty audience
// counts as sent.
func Classify(success, failure int) types.SendStatus {
	switch {
	case failure == 0:
		return types.SendStatusSent
	case success > 0:
		return types.SendStatusPartial
	default:
		return types.SendStatusFailed
	}
}
