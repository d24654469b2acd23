package core

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// healthCheckTimeout bounds all checkers together. A checker still running at
// the deadline is reported as timed out.
const healthCheckTimeout = 2 * time.Second

// HealthChecker checks one critical dependency (database, lease store).
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

// checkerFunc adapts a function to HealthChecker.
type checkerFunc struct {
	name  string
	check func(ctx context.Context) error
}

func (p checkerFunc) Name() string                    { return p.name }
func (p checkerFunc) Check(ctx context.Context) error { return p.check(ctx) }

// NewChecker returns a HealthChecker named name that runs check.
func NewChecker(name string, check func(ctx context.Context) error) HealthChecker {
	return checkerFunc{name: name, check: check}
}

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// runChecker reports a panic as a failure so one broken checker cannot take the
// endpoint down.
func runChecker(ctx context.Context, p HealthChecker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("checker panicked: %v", r)
		}
	}()
	return p.Check(ctx)
}

// checkerStatus waits for one checker. A result that is already available wins
// over an expired deadline.
func checkerStatus(ctx context.Context, ch <-chan error) componentStatus {
	var err error
	select {
	case err = <-ch:
	default:
		select {
		case err = <-ch:
		case <-ctx.Done():
			return componentStatus{Status: "unhealthy", Message: "health check timed out"}
		}
	}
	if err != nil {
		return componentStatus{Status: "unhealthy", Message: err.Error()}
	}
	return componentStatus{Status: "healthy"}
}

// HandleHealth runs every checker concurrently and answers 200 when all pass,
// 503 otherwise. GET /health is public.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{Status: "healthy", Version: s.Config.Build.Version}
	if len(s.HealthCheckers) == 0 {
		JSON(w, r, http.StatusOK, resp)
		return
	}

	// Each checker answers on its own buffered channel, so a checker that
	// outlives the deadline never blocks.
	pending := make([]chan error, len(s.HealthCheckers))
	for i, checker := range s.HealthCheckers {
		pending[i] = make(chan error, 1)
		go func(p HealthChecker, out chan<- error) {
			out <- runChecker(ctx, p)
		}(checker, pending[i])
	}

	resp.Components = make(map[string]componentStatus, len(s.HealthCheckers))
	for i, checker := range s.HealthCheckers {
		status := checkerStatus(ctx, pending[i])
		if status.Status != "healthy" {
			resp.Status = "unhealthy"
		}
		resp.Components[checker.Name()] = status
	}

	code := http.StatusOK
	if resp.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	JSON(w, r, code, resp)
}
