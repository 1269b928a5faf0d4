// Package lock provides per-request mutual exclusion so that two validator
// processes never drive the same reqId at the same time.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrHeld is returned by Acquire when another holder owns the key.
var ErrHeld = errors.New("lock is held by another holder")

// Release gives the lock back.
type Release func(ctx context.Context) error

// Locker grants exclusive ownership of a key without blocking.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// Local is an in-process Locker.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal returns an empty in-process Locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

func (l *Local) Acquire(_ context.Context, key string) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, ErrHeld
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
		return nil
	}, nil
}
