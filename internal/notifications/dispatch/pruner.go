package dispatch

import (
	"context"

	"pushengine/internal/notifications/core"
	"pushengine/internal/types"
)

// Pruner clears tokens the platform reported as permanently invalid.
type Pruner struct {
	store   TokenStore
	metrics core.DispatchMetrics
	logger  types.Logger
}

// NewPruner creates a Pruner.
func NewPruner(store TokenStore, metrics core.DispatchMetrics, logger types.Logger) *Pruner {
	if metrics == nil {
		metrics = core.NopMetrics{}
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Pruner{store: store, metrics: metrics, logger: logger}
}

// Prune issues one bulk clear for the de-duplicated tokens and returns the
// number of records changed. Failures are logged; a token left behind will
// simply be reported invalid again by the next job.
func (p *Pruner) Prune(ctx context.Context, tokens []string) int64 {
	unique := dedupe(tokens)
	if len(unique) == 0 {
		return 0
	}

	n, err := p.store.ClearTokens(ctx, unique)
	if err != nil {
		p.logger.Error("failed to prune invalid push tokens", "count", len(unique), "error", err)
		return 0
	}

	p.metrics.RecordTokensPruned(ctx, n)
	p.logger.Info("pruned invalid push tokens", "tokens", len(unique), "records", n)
	return n
}

func dedupe(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
