package dispatch

import (
	"context"
	"fmt"
	"sort"

	"pushengine/internal/types"
)

// Resolver merges the multi-device table and the legacy per-user token
// column into one ordered, duplicate-free audience.
type Resolver struct {
	source AudienceSource
}

// NewResolver creates a Resolver.
func NewResolver(source AudienceSource) *Resolver {
	return &Resolver{source: source}
}

// Resolve returns the audience sorted by token value. When the same token
// appears in both stores the device entry wins. The result depends only on
// the stored data, so a resumed run sees the same sequence.
func (r *Resolver) Resolve(ctx context.Context) ([]types.DeviceToken, error) {
	devices, err := r.source.ListActiveDeviceTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("Resolve: device tokens: %w", err)
	}
	legacy, err := r.source.ListActiveLegacyTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("Resolve: legacy tokens: %w", err)
	}

	byToken := make(map[string]types.DeviceToken, len(devices)+len(legacy))
	for _, t := range legacy {
		merge(byToken, t)
	}
	for _, t := range devices {
		merge(byToken, t)
	}

	out := make([]types.DeviceToken, 0, len(byToken))
	for _, t := range byToken {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

// merge keeps one entry per token. Device rows replace legacy rows; within
// the same source the smaller owner ID wins so the choice is stable.
func merge(byToken map[string]types.DeviceToken, t types.DeviceToken) {
	if t.Token == "" {
		return
	}
	cur, ok := byToken[t.Token]
	switch {
	case !ok:
		byToken[t.Token] = t
	case cur.Source != t.Source:
		if t.Source == types.TokenSourceDevice {
			byToken[t.Token] = t
		}
	case t.OwnerID < cur.OwnerID:
		byToken[t.Token] = t
	}
}
