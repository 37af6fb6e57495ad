package queue

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"
	"go.uber.org/zap"
	"prediction-game-service/internal/app"
)

// pendingStates limits job uniqueness to jobs that have not finished, so a game
// can be recalculated again once its previous job completes.
var pendingStates = []rivertype.JobState{
	rivertype.JobStateAvailable,
	rivertype.JobStatePending,
	rivertype.JobStateRetryable,
	rivertype.JobStateRunning,
	rivertype.JobStateScheduled,
}

// Service schedules and runs game recalculations using River.
type Service struct {
	client *river.Client[pgx.Tx]
	logger *zap.Logger
}

var _ app.RecalcQueue = (*Service)(nil)

// NewService creates a River client whose workers call runner.
func NewService(pool *pgxpool.Pool, runner app.Recalculator, logger *zap.Logger, maxWorkers int) (*Service, error) {
	if maxWorkers <= 0 {
		maxWorkers = 2
	}
	logger = logger.With(zap.String("component", "river_queue"))

	workers := river.NewWorkers()
	river.AddWorker(workers, NewRecalculateGameWorker(runner, logger))

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			QueueGrading: {MaxWorkers: maxWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}
	return &Service{client: client, logger: logger}, nil
}

// EnqueueRecalculation inserts a recalculate_game job unless one is already pending for the game.
func (s *Service) EnqueueRecalculation(ctx context.Context, gameID uuid.UUID) error {
	res, err := s.client.Insert(ctx, RecalculateGameArgs{GameID: gameID}, &river.InsertOpts{
		Queue: QueueGrading,
		UniqueOpts: river.UniqueOpts{
			ByArgs:  true,
			ByState: pendingStates,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue recalculation: %w", err)
	}
	s.logger.Info("recalculation enqueued",
		zap.String("game_id", gameID.String()),
		zap.Int64("job_id", res.Job.ID),
		zap.Bool("duplicate", res.UniqueSkippedAsDuplicate))
	return nil
}

// Start starts the River workers.
func (s *Service) Start(ctx context.Context) error {
	if err := s.client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start River client: %w", err)
	}
	s.logger.Info("queue service started")
	return nil
}

// Stop waits for running jobs to finish.
func (s *Service) Stop(ctx context.Context) error {
	if err := s.client.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop River client: %w", err)
	}
	s.logger.Info("queue service stopped")
	return nil
}
