package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Lock serializes calls and enforces a minimum wait between them.
type Lock interface {
	Lock(ctx context.Context) func()
}

func New(wait time.Duration) Lock {
	return &lock{
		wait: wait,
	}
}

type lock struct {
	mu   sync.Mutex
	wait time.Duration
	last time.Time
}

// Lock blocks until the wait since the last unlock has elapsed and returns
// the unlock function. A cancelled context releases the wait early.
func (l *lock) Lock(ctx context.Context) func() {
	l.mu.Lock()
	if wait := l.wait - time.Since(l.last); wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
	}
	return func() {
		l.last = time.Now()
		l.mu.Unlock()
	}
}
