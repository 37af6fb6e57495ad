package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"prediction-game-service/internal/domain"
	"prediction-game-service/internal/grading"
	"prediction-game-service/internal/metrics"
)

// Store abstracts persistence of questions, keys, submissions and leaderboards (in-memory, Postgres).
// Writes of derived scoring fields require a context from domain.WithEngineWrite.
type Store interface {
	GetGame(ctx context.Context, gameID uuid.UUID) (domain.Game, error)
	GetQuestion(ctx context.Context, questionID uuid.UUID) (domain.Question, error)
	ListQuestions(ctx context.Context, gameID uuid.UUID) ([]domain.Question, error)
	ListAnswerKey(ctx context.Context, gameID, groupID uuid.UUID) ([]domain.AnswerKeyEntry, error)
	UpsertAnswerKey(ctx context.Context, entry domain.AnswerKeyEntry) error
	GetSubmission(ctx context.Context, submissionID uuid.UUID) (domain.Submission, error)
	ListAnswers(ctx context.Context, submissionID uuid.UUID) ([]domain.UserAnswer, error)
	// ListCompleteSubmissions returns completed submissions in the scope; a global
	// scope returns every group's.
	ListCompleteSubmissions(ctx context.Context, scope domain.Scope) ([]domain.Submission, error)
	ListGroups(ctx context.Context, gameID uuid.UUID) ([]uuid.UUID, error)
	// SaveGrade atomically writes graded answers, submission totals and the group row.
	SaveGrade(ctx context.Context, record GradeRecord) error
	UpsertLeaderboardRow(ctx context.Context, row domain.LeaderboardRow) error
	// ListLeaderboard returns the scope's rows by rank; limit <= 0 means all.
	ListLeaderboard(ctx context.Context, scope domain.Scope, limit int) ([]domain.LeaderboardRow, error)
	SaveRanks(ctx context.Context, scope domain.Scope, rows []domain.LeaderboardRow) error
}

// GradeRecord is everything written when one submission is graded.
type GradeRecord struct {
	Submission domain.Submission
	Answers    []domain.UserAnswer
	Row        domain.LeaderboardRow
}

// KeyRepository serves answer key snapshots (from cache/backing store).
type KeyRepository interface {
	GetKey(ctx context.Context, gameID, groupID uuid.UUID) (grading.KeySnapshot, error)
	Invalidate(ctx context.Context, gameID, groupID uuid.UUID) error
}

// ScopeLocker serializes grading runs per leaderboard scope. Acquire returns
// domain.ErrConcurrencyConflict when the scope stays busy.
type ScopeLocker interface {
	Acquire(ctx context.Context, scope domain.Scope) (release func(), err error)
}

// RecalcQueue schedules a game recalculation to run in the background.
type RecalcQueue interface {
	EnqueueRecalculation(ctx context.Context, gameID uuid.UUID) error
}

// Recalculator is the work a RecalcQueue job performs; GradingService implements it.
type Recalculator interface {
	RecalculateGame(ctx context.Context, gameID uuid.UUID) (domain.BatchResult, error)
}

var _ Recalculator = (*GradingService)(nil)

// GradingService scores submissions and maintains ranked leaderboards.
type GradingService struct {
	store   Store
	keys    KeyRepository
	locks   ScopeLocker
	logger  *zap.Logger
	metrics *metrics.Recorder
	tracer  trace.Tracer
	workers int
	now     func() time.Time
}

// Option configures a GradingService.
type Option func(*GradingService)

// WithMetrics records grading metrics on m.
func WithMetrics(m *metrics.Recorder) Option {
	return func(s *GradingService) { s.metrics = m }
}

// WithWorkers bounds how many groups RecalculateGame grades in parallel.
func WithWorkers(n int) Option {
	return func(s *GradingService) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithClock is test-only for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *GradingService) { s.now = now }
}

func NewGradingService(store Store, keys KeyRepository, locks ScopeLocker, logger *zap.Logger, opts ...Option) *GradingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &GradingService{
		store:   store,
		keys:    keys,
		locks:   locks,
		logger:  logger,
		tracer:  otel.Tracer("prediction-game-service/grading"),
		workers: 4,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GradeSubmission re-grades one completed submission, then refreshes the
// ranks of its group and the owner's global row.
func (s *GradingService) GradeSubmission(ctx context.Context, submissionID uuid.UUID) (domain.ScoredSubmission, error) {
	ctx, span := s.tracer.Start(ctx, "GradingService.GradeSubmission",
		trace.WithAttributes(attribute.String("submission_id", submissionID.String())))
	defer span.End()
	defer s.metrics.Observe("grade_submission", time.Now())

	sub, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return domain.ScoredSubmission{}, err
	}
	if !sub.IsComplete {
		return domain.ScoredSubmission{}, domain.ErrSubmissionIncomplete
	}

	scope := domain.GroupScope(sub.GameID, sub.GroupID)
	release, err := s.acquire(ctx, scope)
	if err != nil {
		return domain.ScoredSubmission{}, err
	}
	scored, err := s.gradeAndRank(ctx, sub)
	release()
	if err != nil {
		span.RecordError(err)
		return domain.ScoredSubmission{}, err
	}

	if _, err := s.refreshGlobal(ctx, sub.GameID, []uuid.UUID{sub.UserID}); err != nil {
		return scored, err
	}
	return scored, nil
}

func (s *GradingService) gradeAndRank(ctx context.Context, sub domain.Submission) (domain.ScoredSubmission, error) {
	questions, keys, err := s.scoringInputs(ctx, sub.GameID, sub.GroupID)
	if err != nil {
		return domain.ScoredSubmission{}, err
	}
	scored, err := s.gradeOne(ctx, sub, questions, keys)
	if err != nil {
		return domain.ScoredSubmission{}, err
	}
	ranked, err := s.rank(ctx, scored.Row.Scope())
	if err != nil {
		return domain.ScoredSubmission{}, err
	}
	for _, r := range ranked {
		if r.UserID == sub.UserID {
			scored.Row = r
			break
		}
	}
	return scored, nil
}

// GradeAllForGroup re-grades every completed submission in a group, re-ranks the
// group, and refreshes the affected global rows. Per-submission failures are
// reported in the result and do not stop the batch.
func (s *GradingService) GradeAllForGroup(ctx context.Context, gameID, groupID uuid.UUID) (domain.BatchResult, error) {
	ctx, span := s.tracer.Start(ctx, "GradingService.GradeAllForGroup",
		trace.WithAttributes(
			attribute.String("game_id", gameID.String()),
			attribute.String("group_id", groupID.String()),
		))
	defer span.End()
	defer s.metrics.Observe("grade_group", time.Now())

	if _, err := s.store.GetGame(ctx, gameID); err != nil {
		return domain.BatchResult{}, err
	}

	result, users, err := s.gradeGroup(ctx, gameID, groupID)
	if err != nil {
		span.RecordError(err)
		return result, err
	}
	if _, err := s.refreshGlobal(ctx, gameID, users); err != nil {
		return result, err
	}

	s.logger.Info("group graded",
		zap.String("game_id", gameID.String()),
		zap.String("group_id", groupID.String()),
		zap.Int("graded", result.Graded),
		zap.Int("failed", len(result.Failed)))
	return result, nil
}

// RecalculateGame re-grades every group of a game in parallel, then rebuilds and
// re-ranks the global leaderboard. If any group run fails or ctx is cancelled the
// global board is left for the next run rather than ranked over mixed scores.
func (s *GradingService) RecalculateGame(ctx context.Context, gameID uuid.UUID) (domain.BatchResult, error) {
	ctx, span := s.tracer.Start(ctx, "GradingService.RecalculateGame",
		trace.WithAttributes(attribute.String("game_id", gameID.String())))
	defer span.End()
	defer s.metrics.Observe("recalculate_game", time.Now())

	if _, err := s.store.GetGame(ctx, gameID); err != nil {
		return domain.BatchResult{}, err
	}
	groups, err := s.store.ListGroups(ctx, gameID)
	if err != nil {
		return domain.BatchResult{}, fmt.Errorf("list groups: %w", err)
	}

	var mu sync.Mutex
	total := domain.BatchResult{Failed: []uuid.UUID{}}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, groupID := range groups {
		g.Go(func() error {
			res, _, err := s.gradeGroup(gctx, gameID, groupID)
			mu.Lock()
			total.Merge(res)
			mu.Unlock()
			return err
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return total, err
	}

	if _, err := s.refreshGlobal(ctx, gameID, nil); err != nil {
		return total, err
	}

	s.logger.Info("game recalculated",
		zap.String("game_id", gameID.String()),
		zap.Int("groups", len(groups)),
		zap.Int("graded", total.Graded),
		zap.Int("failed", len(total.Failed)))
	return total, nil
}

// Game returns a game by ID.
func (s *GradingService) Game(ctx context.Context, gameID uuid.UUID) (domain.Game, error) {
	return s.store.GetGame(ctx, gameID)
}

// GetLeaderboard returns a scope's rows ordered by rank. A nil groupID selects
// the global leaderboard; limit <= 0 returns every row.
func (s *GradingService) GetLeaderboard(ctx context.Context, gameID uuid.UUID, groupID *uuid.UUID, limit int) ([]domain.LeaderboardRow, error) {
	if _, err := s.store.GetGame(ctx, gameID); err != nil {
		return nil, err
	}
	return s.store.ListLeaderboard(ctx, domain.Scope{GameID: gameID, GroupID: groupID}, limit)
}

// ScopeStats summarizes the scores of a leaderboard scope.
func (s *GradingService) ScopeStats(ctx context.Context, scope domain.Scope) (domain.Stats, error) {
	if _, err := s.store.GetGame(ctx, scope.GameID); err != nil {
		return domain.Stats{}, err
	}
	rows, err := s.store.ListLeaderboard(ctx, scope, 0)
	if err != nil {
		return domain.Stats{}, err
	}
	return grading.Summarize(scope, rows), nil
}

// SetAnswerKey records a group's answer for a question and re-grades the group.
// A non-numeric key for a numeric question is logged and kept: every answer to
// it then grades as incorrect.
func (s *GradingService) SetAnswerKey(ctx context.Context, groupID, questionID uuid.UUID, correctAnswer string, isVoid bool, pointsOverride *int) (domain.BatchResult, error) {
	ctx, span := s.tracer.Start(ctx, "GradingService.SetAnswerKey",
		trace.WithAttributes(
			attribute.String("group_id", groupID.String()),
			attribute.String("question_id", questionID.String()),
		))
	defer span.End()

	q, err := s.store.GetQuestion(ctx, questionID)
	if err != nil {
		return domain.BatchResult{}, err
	}
	if pointsOverride != nil && *pointsOverride < 0 {
		return domain.BatchResult{}, &domain.ValidationError{QuestionID: questionID, Reason: "points override must not be negative"}
	}
	if verr := checkKeyValue(q, correctAnswer, isVoid); verr != nil {
		s.logger.Warn("answer key will never match",
			zap.String("group_id", groupID.String()),
			zap.Error(verr))
	}

	entry := domain.AnswerKeyEntry{
		GroupID:        groupID,
		QuestionID:     questionID,
		CorrectAnswer:  correctAnswer,
		IsVoid:         isVoid,
		PointsOverride: pointsOverride,
		UpdatedAt:      s.now().UTC(),
	}
	if err := s.store.UpsertAnswerKey(ctx, entry); err != nil {
		return domain.BatchResult{}, fmt.Errorf("save answer key: %w", err)
	}
	if err := s.keys.Invalidate(ctx, q.GameID, groupID); err != nil {
		return domain.BatchResult{}, fmt.Errorf("invalidate answer key: %w", err)
	}

	return s.GradeAllForGroup(ctx, q.GameID, groupID)
}

func checkKeyValue(q domain.Question, correctAnswer string, isVoid bool) error {
	if isVoid || strings.TrimSpace(correctAnswer) == "" {
		return nil
	}
	switch {
	case q.Type == domain.QuestionNumeric && !grading.IsNumeric(correctAnswer):
		return &domain.ValidationError{QuestionID: q.ID, Reason: fmt.Sprintf("%q is not numeric", correctAnswer)}
	case q.Type.IsChoice() && len(q.Options) > 0 && !hasOption(q, correctAnswer):
		return &domain.ValidationError{QuestionID: q.ID, Reason: fmt.Sprintf("%q is not one of the options", correctAnswer)}
	}
	return nil
}

func hasOption(q domain.Question, label string) bool {
	for _, opt := range q.Options {
		if grading.Compare(label, opt.Label, q.Type) {
			return true
		}
	}
	return false
}

// RecomputeGlobalRow rebuilds one user's cross-group row and re-ranks the global board.
func (s *GradingService) RecomputeGlobalRow(ctx context.Context, gameID, userID uuid.UUID) (domain.LeaderboardRow, error) {
	ranked, err := s.refreshGlobal(ctx, gameID, []uuid.UUID{userID})
	if err != nil {
		return domain.LeaderboardRow{}, err
	}
	for _, r := range ranked {
		if r.UserID == userID {
			return r, nil
		}
	}
	return domain.LeaderboardRow{}, fmt.Errorf("global row for user %s: %w", userID, domain.ErrSubmissionNotFound)
}

// AssignRanks re-ranks a scope from its stored rows.
func (s *GradingService) AssignRanks(ctx context.Context, scope domain.Scope) error {
	release, err := s.acquire(ctx, scope)
	if err != nil {
		return err
	}
	defer release()
	_, err = s.rank(ctx, scope)
	return err
}

// gradeGroup grades a group under its scope lock and ranks it once every
// submission has been processed. It returns the users whose submissions were graded.
func (s *GradingService) gradeGroup(ctx context.Context, gameID, groupID uuid.UUID) (domain.BatchResult, []uuid.UUID, error) {
	result := domain.BatchResult{Failed: []uuid.UUID{}}
	scope := domain.GroupScope(gameID, groupID)

	release, err := s.acquire(ctx, scope)
	if err != nil {
		return result, nil, err
	}
	defer release()

	questions, keys, err := s.scoringInputs(ctx, gameID, groupID)
	if err != nil {
		return result, nil, err
	}
	subs, err := s.store.ListCompleteSubmissions(ctx, scope)
	if err != nil {
		return result, nil, fmt.Errorf("list submissions: %w", err)
	}

	users := make([]uuid.UUID, 0, len(subs))
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			s.logger.Warn("group grading cancelled before ranking",
				zap.String("scope", scope.Key()),
				zap.Int("graded", result.Graded),
				zap.Int("remaining", len(subs)-result.Graded-len(result.Failed)))
			return result, users, err
		}
		if _, err := s.gradeOne(ctx, sub, questions, keys); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return result, users, err
			}
			s.logger.Error("failed to grade submission",
				zap.String("submission_id", sub.ID.String()),
				zap.String("scope", scope.Key()),
				zap.Error(err))
			result.Failed = append(result.Failed, sub.ID)
			continue
		}
		result.Graded++
		users = append(users, sub.UserID)
	}

	if _, err := s.rank(ctx, scope); err != nil {
		return result, users, err
	}
	return result, users, nil
}

func (s *GradingService) gradeOne(ctx context.Context, sub domain.Submission, questions map[uuid.UUID]domain.Question, keys grading.KeyResolver) (domain.ScoredSubmission, error) {
	answers, err := s.store.ListAnswers(ctx, sub.ID)
	if err != nil {
		s.metrics.Submission(metrics.OutcomeFailed)
		return domain.ScoredSubmission{}, fmt.Errorf("list answers: %w", err)
	}

	res, err := grading.Grade(sub, answers, questions, keys)
	if err != nil {
		s.metrics.Submission(metrics.OutcomeFailed)
		return domain.ScoredSubmission{}, err
	}

	now := s.now().UTC()
	res.Submission.GradedAt = &now
	row := grading.GroupRow(res.Submission)
	row.UpdatedAt = now

	record := GradeRecord{Submission: res.Submission, Answers: res.Answers, Row: row}
	if err := s.store.SaveGrade(domain.WithEngineWrite(ctx), record); err != nil {
		s.metrics.Submission(metrics.OutcomeFailed)
		return domain.ScoredSubmission{}, fmt.Errorf("save grade: %w", err)
	}
	s.metrics.Submission(metrics.OutcomeGraded)
	return domain.ScoredSubmission{Submission: res.Submission, Answers: res.Answers, Row: row}, nil
}

// refreshGlobal rebuilds global rows for users (all users when nil) and re-ranks the global scope.
func (s *GradingService) refreshGlobal(ctx context.Context, gameID uuid.UUID, users []uuid.UUID) ([]domain.LeaderboardRow, error) {
	scope := domain.GlobalScope(gameID)
	release, err := s.acquire(ctx, scope)
	if err != nil {
		return nil, err
	}
	defer release()

	subs, err := s.store.ListCompleteSubmissions(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	byUser := make(map[uuid.UUID][]domain.Submission)
	for _, sub := range subs {
		byUser[sub.UserID] = append(byUser[sub.UserID], sub)
	}
	if users == nil {
		for userID := range byUser {
			users = append(users, userID)
		}
	}

	wctx := domain.WithEngineWrite(ctx)
	now := s.now().UTC()
	done := make(map[uuid.UUID]bool, len(users))
	for _, userID := range users {
		if done[userID] {
			continue
		}
		done[userID] = true

		row := grading.GlobalRow(gameID, userID, byUser[userID])
		row.UpdatedAt = now
		if err := s.store.UpsertLeaderboardRow(wctx, row); err != nil {
			return nil, fmt.Errorf("upsert global row: %w", err)
		}
	}
	return s.rank(ctx, scope)
}

func (s *GradingService) rank(ctx context.Context, scope domain.Scope) ([]domain.LeaderboardRow, error) {
	rows, err := s.store.ListLeaderboard(ctx, scope, 0)
	if err != nil {
		return nil, fmt.Errorf("list leaderboard %s: %w", scope, err)
	}
	ranked := grading.AssignRanks(rows)
	if err := s.store.SaveRanks(domain.WithEngineWrite(ctx), scope, ranked); err != nil {
		return nil, fmt.Errorf("save ranks %s: %w", scope, err)
	}
	s.metrics.Ranked(scope.IsGlobal())
	return ranked, nil
}

func (s *GradingService) scoringInputs(ctx context.Context, gameID, groupID uuid.UUID) (map[uuid.UUID]domain.Question, grading.KeySnapshot, error) {
	qs, err := s.store.ListQuestions(ctx, gameID)
	if err != nil {
		return nil, grading.KeySnapshot{}, fmt.Errorf("list questions: %w", err)
	}
	questions := make(map[uuid.UUID]domain.Question, len(qs))
	for _, q := range qs {
		questions[q.ID] = q
	}

	keys, err := s.keys.GetKey(ctx, gameID, groupID)
	if err != nil {
		return nil, grading.KeySnapshot{}, fmt.Errorf("load answer key: %w", err)
	}
	return questions, keys, nil
}

func (s *GradingService) acquire(ctx context.Context, scope domain.Scope) (func(), error) {
	release, err := s.locks.Acquire(ctx, scope)
	if err != nil {
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			s.metrics.Conflict()
			s.logger.Warn("scope busy", zap.String("scope", scope.Key()))
		}
		return nil, err
	}
	return release, nil
}
