// Package lock provides per-key mutual exclusion for token refreshes.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrNotAcquired is returned when a lock cannot be acquired before the wait expires.
	ErrNotAcquired = errors.New("lock not acquired")
	// ErrNotHeld is returned when releasing a lock that expired or was taken over.
	ErrNotHeld = errors.New("lock not held")
)

// Locker hands out exclusive locks keyed by string. Acquire blocks until the
// lock is held, ctx is done, or the implementation's wait bound expires.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

type Lock interface {
	Release(ctx context.Context) error
}

// Local is an in-process Locker. ttl is ignored; holders must release.
type Local struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func NewLocal() *Local {
	return &Local{held: make(map[string]chan struct{})}
}

func (l *Local) Acquire(ctx context.Context, key string, _ time.Duration) (Lock, error) {
	for {
		l.mu.Lock()
		ch, busy := l.held[key]
		if !busy {
			ch = make(chan struct{})
			l.held[key] = ch
			l.mu.Unlock()
			return &localLock{owner: l, key: key, ch: ch}, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
		}
	}
}

type localLock struct {
	owner *Local
	key   string
	ch    chan struct{}
	once  sync.Once
}

func (l *localLock) Release(context.Context) error {
	released := false
	l.once.Do(func() {
		l.owner.mu.Lock()
		defer l.owner.mu.Unlock()
		if l.owner.held[l.key] == l.ch {
			delete(l.owner.held, l.key)
			close(l.ch)
			released = true
		}
	})
	if !released {
		return ErrNotHeld
	}
	return nil
}

// WithLock runs fn while holding key.
func WithLock(ctx context.Context, l Locker, key string, ttl time.Duration, fn func(context.Context) error) error {
	lk, err := l.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = lk.Release(releaseCtx)
	}()
	return fn(ctx)
}
