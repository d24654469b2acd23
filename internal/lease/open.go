package lease

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"pushengine/internal/config"
	"pushengine/internal/types"
)

const localEnv = "local"

// Store is a configured Locker with its health check and cleanup.
type Store struct {
	Locker Locker
	// Backend is "redis" or "memory".
	Backend string
	Ping    func(ctx context.Context) error
	Close   func() error
}

// ErrNoSharedStore is returned by Open when a deployed environment has no
// Redis address. Each Lambda container has its own memory, so the in-process
// locker cannot keep two containers off the same job.
var ErrNoSharedStore = errors.New("REDIS_ADDR is required outside local mode")

// Open selects the lease backend from cfg. An empty Addr gives the
// in-process locker, which is only allowed when env is local.
func Open(ctx context.Context, env string, cfg config.RedisConfig, clock types.Clock) (*Store, error) {
	if cfg.Addr == "" {
		if env != localEnv {
			return nil, fmt.Errorf("opening lease store for %s: %w", env, ErrNoSharedStore)
		}
		return &Store{
			Locker:  NewMemoryLocker(clock),
			Backend: "memory",
			Ping:    func(context.Context) error { return nil },
			Close:   func() error { return nil },
		}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password.Unmask(),
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to lease store %s: %w", cfg.Addr, err)
	}

	return &Store{
		Locker:  NewRedisLocker(client),
		Backend: "redis",
		Ping:    func(ctx context.Context) error { return client.Ping(ctx).Err() },
		Close:   client.Close,
	}, nil
}
