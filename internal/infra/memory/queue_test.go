package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"
	"prediction-game-service/internal/domain"
)

type fakeRecalculator struct {
	mu      sync.Mutex
	calls   int
	fails   int
	started chan struct{}
	block   chan struct{}
}

func (f *fakeRecalculator) RecalculateGame(ctx context.Context, _ uuid.UUID) (domain.BatchResult, error) {
	f.mu.Lock()
	f.calls++
	fail := f.fails > 0
	if fail {
		f.fails--
	}
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return domain.BatchResult{}, ctx.Err()
		}
	}
	if fail {
		return domain.BatchResult{}, domain.ErrConcurrencyConflict
	}
	return domain.BatchResult{Graded: 1}, nil
}

func (f *fakeRecalculator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestRecalcQueueRetriesConflicts(t *testing.T) {
	runner := &fakeRecalculator{fails: 2}
	q := NewRecalcQueue(runner, zaptest.NewLogger(t), 3)
	q.backoff = time.Millisecond

	if err := q.EnqueueRecalculation(context.Background(), uuid.New()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(t, func() bool { return runner.count() == 3 })
	q.Close()
}

func TestRecalcQueueCoalescesRunningGame(t *testing.T) {
	runner := &fakeRecalculator{started: make(chan struct{}, 4), block: make(chan struct{})}
	q := NewRecalcQueue(runner, zaptest.NewLogger(t), 1)
	game := uuid.New()

	if err := q.EnqueueRecalculation(context.Background(), game); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	<-runner.started
	for i := 0; i < 3; i++ {
		if err := q.EnqueueRecalculation(context.Background(), game); err != nil {
			t.Fatalf("enqueue while running: %v", err)
		}
	}
	runner.block <- struct{}{}
	<-runner.started
	runner.block <- struct{}{}

	waitFor(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return !q.running[game]
	})
	if runner.count() != 2 {
		t.Fatalf("expected one follow-up run, got %d calls", runner.count())
	}
	q.Close()
}

func TestRecalcQueueRejectsAfterClose(t *testing.T) {
	q := NewRecalcQueue(&fakeRecalculator{}, zaptest.NewLogger(t), 1)
	q.Close()
	if err := q.EnqueueRecalculation(context.Background(), uuid.New()); err == nil {
		t.Fatalf("expected error after close")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}
