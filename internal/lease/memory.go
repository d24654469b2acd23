package lease

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"pushengine/internal/types"
)

// MemoryLocker is an in-process Locker. It only excludes runners inside the
// same process and is meant for local mode and tests.
type MemoryLocker struct {
	mu    sync.Mutex
	clock types.Clock
	held  map[string]memoryEntry
}

type memoryEntry struct {
	owner   string
	expires time.Time
}

// NewMemoryLocker creates a MemoryLocker. A nil clock uses real time.
func NewMemoryLocker(clock types.Clock) *MemoryLocker {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &MemoryLocker{clock: clock, held: make(map[string]memoryEntry)}
}

// Acquire takes key for ttl or returns ErrLeaseHeld.
func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if e, ok := l.held[key]; ok && now.Before(e.expires) {
		return nil, ErrLeaseHeld
	}
	owner := uuid.NewString()
	l.held[key] = memoryEntry{owner: owner, expires: now.Add(ttl)}
	return &memoryLease{locker: l, key: key, owner: owner, ttl: ttl}, nil
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	owner  string
	ttl    time.Duration
}

func (l *memoryLease) Key() string { return l.key }

func (l *memoryLease) Renew(context.Context) error {
	m := l.locker
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	e, ok := m.held[l.key]
	if !ok || e.owner != l.owner || !now.Before(e.expires) {
		return ErrLeaseLost
	}
	m.held[l.key] = memoryEntry{owner: l.owner, expires: now.Add(l.ttl)}
	return nil
}

func (l *memoryLease) Release(context.Context) error {
	m := l.locker
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.held[l.key]; ok && e.owner == l.owner {
		delete(m.held, l.key)
	}
	return nil
}
