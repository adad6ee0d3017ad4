// Package lock provides try-locks that keep expiry sweeps from overlapping,
// inside one process or across instances sharing a Redis server.
package lock

import (
	"context"
	"sync"
	"time"
)

// Locker acquires name for at most ttl without blocking. ok is false when
// someone else holds it; release is only non-nil when ok is true.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

// Local is an in-process Locker. ttl is ignored: the holder always releases.
type Local struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocal() *Local { return &Local{held: make(map[string]bool)} }

func (l *Local) TryLock(_ context.Context, name string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return nil, false, nil
	}
	l.held[name] = true
	return func() {
		l.mu.Lock()
		delete(l.held, name)
		l.mu.Unlock()
	}, true, nil
}
