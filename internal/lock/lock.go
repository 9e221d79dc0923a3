package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLocked is returned when the key is held by another caller
var ErrLocked = errors.New("resource is locked")

// Locker hands out short-lived exclusive leases on string keys
type Locker interface {
	// Acquire takes key for at most ttl. It does not wait: a held key fails
	// with ErrLocked. The returned release is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// Key helpers
func RoutePlanKey(date string) string { return "binfleet:lock:route-plan:" + date }
func RefreshKey(binID string) string  { return "binfleet:lock:refresh:" + binID }

// Local is an in-process Locker for single-instance deployments and tests
type Local struct {
	mu    sync.Mutex
	held  map[string]localLease
	clock func() time.Time
	seq   uint64
}

type localLease struct {
	id      uint64
	expires time.Time
}

func NewLocal() *Local {
	return &Local{held: map[string]localLease{}, clock: time.Now}
}

func (l *Local) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if lease, ok := l.held[key]; ok && now.Before(lease.expires) {
		return nil, ErrLocked
	}
	l.seq++
	id := l.seq
	l.held[key] = localLease{id: id, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if lease, ok := l.held[key]; ok && lease.id == id {
				delete(l.held, key)
			}
		})
	}, nil
}
