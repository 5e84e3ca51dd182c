// Package lease provides short-lived exclusive locks on string keys.
//
// Local serializes holders inside one process. Redis extends the same
// contract across processes sharing a Redis instance.
package lease

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stampscore/stampscore/internal/domain"
)

// Locker grants exclusive leases. Acquire blocks until the key is free, the
// acquire timeout passes (ErrContention) or ctx is done (ctx.Err()).
// The returned release func is safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// ─── Local ──────────────────────────────────────────────────────────────────

// Local is an in-process keyed mutex. Entries are dropped when no holder or
// waiter references them.
type Local struct {
	timeout time.Duration

	mu      sync.Mutex
	entries map[string]*localEntry
}

type localEntry struct {
	slot chan struct{}
	refs int
}

// NewLocal returns a Local locker. A zero timeout waits as long as ctx allows.
func NewLocal(timeout time.Duration) *Local {
	return &Local{timeout: timeout, entries: make(map[string]*localEntry)}
}

// Acquire implements Locker.
func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &localEntry{slot: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	waitCtx, cancel := ctx, context.CancelFunc(func() {})
	if l.timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, l.timeout)
	}
	defer cancel()

	select {
	case e.slot <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.slot
				l.unref(key, e)
			})
		}, nil
	case <-waitCtx.Done():
		l.unref(key, e)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: lease %q still held after %s", domain.ErrContention, key, l.timeout)
	}
}

// Held returns the number of keys currently referenced.
func (l *Local) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Local) unref(key string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}
