package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"go.uber.org/zap"
	"prediction-game-service/internal/app"
	"prediction-game-service/internal/domain"
)

// QueueGrading is the River queue that runs recalculation jobs.
const QueueGrading = "grading"

// conflictSnooze is how long a job waits before retrying a busy scope.
const conflictSnooze = 5 * time.Second

// RecalculateGameArgs asks a worker to re-grade and re-rank every group of a game.
type RecalculateGameArgs struct {
	GameID uuid.UUID `json:"game_id"`
}

// Kind returns the job type identifier for River
func (RecalculateGameArgs) Kind() string { return "recalculate_game" }

// RecalculateGameWorker runs RecalculateGame jobs.
type RecalculateGameWorker struct {
	river.WorkerDefaults[RecalculateGameArgs]
	runner app.Recalculator
	logger *zap.Logger
}

func NewRecalculateGameWorker(runner app.Recalculator, logger *zap.Logger) *RecalculateGameWorker {
	return &RecalculateGameWorker{runner: runner, logger: logger}
}

func (w *RecalculateGameWorker) Work(ctx context.Context, job *river.Job[RecalculateGameArgs]) error {
	logger := w.logger.With(
		zap.Int64("job_id", job.ID),
		zap.Int("attempt", job.Attempt),
		zap.String("game_id", job.Args.GameID.String()))

	res, err := w.runner.RecalculateGame(ctx, job.Args.GameID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrConcurrencyConflict):
		logger.Info("scope busy, snoozing recalculation")
		return river.JobSnooze(conflictSnooze)
	case errors.Is(err, domain.ErrGameNotFound):
		logger.Warn("game no longer exists, dropping recalculation")
		return river.JobCancel(err)
	default:
		logger.Error("recalculation failed", zap.Error(err))
		return err
	}

	if len(res.Failed) > 0 {
		failed := make([]string, 0, len(res.Failed))
		for _, id := range res.Failed {
			failed = append(failed, id.String())
		}
		logger.Warn("recalculation finished with failed submissions",
			zap.Int("graded", res.Graded),
			zap.Strings("failed", failed))
		return nil
	}
	logger.Info("recalculation finished", zap.Int("graded", res.Graded))
	return nil
}
