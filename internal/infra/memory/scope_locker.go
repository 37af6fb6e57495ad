package memory

import (
	"context"
	"sync"
	"time"

	"prediction-game-service/internal/domain"
)

// ScopeLocker is an in-process implementation of app.ScopeLocker.
// Each scope is a one-slot semaphore; waiters give up after wait.
type ScopeLocker struct {
	wait  time.Duration
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewScopeLocker(wait time.Duration) *ScopeLocker {
	return &ScopeLocker{
		wait:  wait,
		slots: make(map[string]chan struct{}),
	}
}

func (l *ScopeLocker) Acquire(ctx context.Context, scope domain.Scope) (func(), error) {
	slot := l.slot(scope.Key())

	select {
	case slot <- struct{}{}:
		return releaser(slot), nil
	default:
	}
	if l.wait <= 0 {
		return nil, domain.ErrConcurrencyConflict
	}

	timer := time.NewTimer(l.wait)
	defer timer.Stop()
	select {
	case slot <- struct{}{}:
		return releaser(slot), nil
	case <-timer.C:
		return nil, domain.ErrConcurrencyConflict
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *ScopeLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[key] = slot
	}
	return slot
}

func releaser(slot chan struct{}) func() {
	var once sync.Once
	return func() {
		once.Do(func() { <-slot })
	}
}
