// Package lease provides expiring, owner-checked locks used to guarantee a
// single runner per notification job.
package lease

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrLeaseHeld is returned by Acquire when another owner holds the key.
	ErrLeaseHeld = errors.New("lease held by another owner")
	// ErrLeaseLost is returned by Renew when the lease expired or was taken.
	ErrLeaseLost = errors.New("lease lost")
)

// Locker hands out leases. Implementations must make Acquire atomic across
// every process sharing the backing store.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease is a held lock. It expires on its own unless renewed.
type Lease interface {
	Key() string
	// Renew extends the lease by its original TTL.
	Renew(ctx context.Context) error
	// Release drops the lease if it is still owned. Releasing an expired
	// lease is not an error.
	Release(ctx context.Context) error
}

// JobKey returns the lease key for a notification job.
func JobKey(jobID string) string {
	return "push:job-lease:" + jobID
}
