package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"prediction-game-service/internal/app"
	"prediction-game-service/internal/domain"
)

// RecalcQueue runs game recalculations on background goroutines. Requests for a
// game that is already running are coalesced into one follow-up run.
type RecalcQueue struct {
	runner   app.Recalculator
	logger   *zap.Logger
	attempts int
	backoff  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running map[uuid.UUID]bool
	pending map[uuid.UUID]bool
}

func NewRecalcQueue(runner app.Recalculator, logger *zap.Logger, attempts int) *RecalcQueue {
	if attempts < 1 {
		attempts = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RecalcQueue{
		runner:   runner,
		logger:   logger,
		attempts: attempts,
		backoff:  200 * time.Millisecond,
		ctx:      ctx,
		cancel:   cancel,
		running:  make(map[uuid.UUID]bool),
		pending:  make(map[uuid.UUID]bool),
	}
}

var _ app.RecalcQueue = (*RecalcQueue)(nil)

func (q *RecalcQueue) EnqueueRecalculation(_ context.Context, gameID uuid.UUID) error {
	if err := q.ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running[gameID] {
		q.pending[gameID] = true
		return nil
	}
	q.running[gameID] = true
	q.wg.Add(1)
	go q.loop(gameID)
	return nil
}

// Close stops accepting work, cancels running jobs and waits for them to exit.
func (q *RecalcQueue) Close() {
	q.cancel()
	q.wg.Wait()
}

func (q *RecalcQueue) loop(gameID uuid.UUID) {
	defer q.wg.Done()
	for {
		q.run(gameID)

		q.mu.Lock()
		if q.pending[gameID] && q.ctx.Err() == nil {
			delete(q.pending, gameID)
			q.mu.Unlock()
			continue
		}
		delete(q.pending, gameID)
		delete(q.running, gameID)
		q.mu.Unlock()
		return
	}
}

func (q *RecalcQueue) run(gameID uuid.UUID) {
	for attempt := 1; attempt <= q.attempts; attempt++ {
		res, err := q.runner.RecalculateGame(q.ctx, gameID)
		if err == nil {
			q.logger.Info("background recalculation finished",
				zap.String("game_id", gameID.String()),
				zap.Int("graded", res.Graded),
				zap.Int("failed", len(res.Failed)))
			return
		}
		if !errors.Is(err, domain.ErrConcurrencyConflict) || attempt == q.attempts {
			q.logger.Error("background recalculation failed",
				zap.String("game_id", gameID.String()),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return
		}

		select {
		case <-time.After(q.backoff * time.Duration(attempt)):
		case <-q.ctx.Done():
			return
		}
	}
}
