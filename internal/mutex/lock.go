// Package mutex implements the two reentrant condition-variable locks
// (resource lock, storage lock) and the exclusive-control orchestrator that
// every public entry point drives.
package mutex

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/behrlich/go-pstore/internal/logging"
	"github.com/behrlich/go-pstore/internal/model"
)

// Infinite requests an unbounded wait from ReentrantLock.Lock.
const Infinite time.Duration = -1

// ReentrantLock models {mutex, cv, count, owner} exactly: a single
// underlying mutex gates a count+owner pair, a shared condition variable
// wakes waiters on every decrement-to-zero, and the acquisition predicate
// is "count == 0 || owner == self". Go's runtime exposes no stable thread
// identity, so "self" is whatever comparable token the caller supplies.
type ReentrantLock struct {
	name string
	mu   sync.Mutex
	cond *sync.Cond

	count int8
	owner any

	logger *logging.Logger
}

// New creates a named reentrant lock. name prefixes the Op of every error
// the lock returns.
func New(name string, logger *logging.Logger) *ReentrantLock {
	l := &ReentrantLock{name: name, logger: logger}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *ReentrantLock) predicateLocked(owner any) bool {
	return l.count == 0 || l.owner == owner
}

// Lock acquires the lock for owner, waiting up to timeout (or indefinitely
// if timeout == Infinite, or until ctx is cancelled). Reentrant: if owner
// already holds the lock, the count is bumped again. Returns
// model.StatusTimedOut on timeout, model.StatusUnavailable if ctx is
// cancelled first, and model.StatusInternal if the per-lock count would
// overflow int8.
func (l *ReentrantLock) Lock(ctx context.Context, owner any, timeout time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var deadline time.Time
	hasDeadline := timeout != Infinite
	if hasDeadline {
		deadline = time.Now().Add(timeout)
	}

	// Wake the waiter on ctx cancellation too, since sync.Cond has no
	// native context support.
	stop := make(chan struct{})
	if done := ctx.Done(); done != nil {
		go func() {
			select {
			case <-done:
				l.cond.Broadcast()
			case <-stop:
			}
		}()
		defer close(stop)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var timer *time.Timer
	if hasDeadline {
		timer = time.AfterFunc(timeout, l.cond.Broadcast)
		defer timer.Stop()
	}

	for !l.predicateLocked(owner) {
		if ctx.Err() != nil {
			return model.New(l.name+".Lock", model.StatusUnavailable, "context cancelled waiting for lock")
		}
		if hasDeadline && !time.Now().Before(deadline) {
			return model.New(l.name+".Lock", model.StatusTimedOut, "timed out waiting for lock")
		}
		l.cond.Wait()
	}

	if l.count == math.MaxInt8 {
		return model.New(l.name+".Lock", model.StatusInternal, "lock count overflow")
	}
	l.count++
	l.owner = owner
	return nil
}

// Unlock releases one level of owner's hold. Returns model.StatusInternal
// if owner does not currently hold the lock.
func (l *ReentrantLock) Unlock(owner any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count == 0 || l.owner != owner {
		return model.New(l.name+".Unlock", model.StatusInternal, "unlock from non-owner")
	}
	l.count--
	if l.count == 0 {
		l.owner = nil
		l.cond.Broadcast()
	}
	return nil
}

// WithLock runs fn while holding the lock for owner, always releasing
// afterward (even if fn panics is not attempted here, matching the C
// source's non-panicking control flow). The lock's own acquisition error
// is returned without running fn; fn's error and the unlock error are
// combined with fn's error taking priority, per the orchestrator's
// "post-call cleanup may only escalate an Ok result" rule.
func (l *ReentrantLock) WithLock(ctx context.Context, owner any, timeout time.Duration, fn func() error) error {
	if err := l.Lock(ctx, owner, timeout); err != nil {
		return err
	}
	fnErr := fn()
	unlockErr := l.Unlock(owner)
	if fnErr != nil {
		return fnErr
	}
	return unlockErr
}
