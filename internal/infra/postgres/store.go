package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
	"prediction-game-service/internal/app"
	"prediction-game-service/internal/domain"
)

// Store is the Postgres implementation of app.Store, built on bun.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

var _ app.Store = (*Store)(nil)

// CreateGame inserts a game.
func (s *Store) CreateGame(ctx context.Context, game domain.Game) error {
	m := &gameModel{ID: game.ID, Title: game.Title, CreatedAt: game.CreatedAt}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return translate(err, "create game")
	}
	return nil
}

// CreateQuestion inserts or replaces a question.
func (s *Store) CreateQuestion(ctx context.Context, q domain.Question) error {
	_, err := s.db.NewInsert().
		Model(fromQuestion(q)).
		On("CONFLICT (id) DO UPDATE").
		Set("text = EXCLUDED.text").
		Set("type = EXCLUDED.type").
		Set("points = EXCLUDED.points").
		Set("options = EXCLUDED.options").
		Set("position = EXCLUDED.position").
		Exec(ctx)
	if err != nil {
		return translate(err, "create question")
	}
	return nil
}

// DeleteQuestion removes a question and its key entries. Answers to it remain.
func (s *Store) DeleteQuestion(ctx context.Context, questionID uuid.UUID) error {
	_, err := s.db.NewDelete().Model((*questionModel)(nil)).Where("id = ?", questionID).Exec(ctx)
	return translate(err, "delete question")
}

// CreateSubmission inserts a submission with its answers. Scoring columns start at zero.
func (s *Store) CreateSubmission(ctx context.Context, sub domain.Submission, answers []domain.UserAnswer) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		m := &submissionModel{
			ID:          sub.ID,
			GameID:      sub.GameID,
			UserID:      sub.UserID,
			GroupID:     sub.GroupID,
			IsComplete:  sub.IsComplete,
			SubmittedAt: sub.SubmittedAt,
		}
		if m.SubmittedAt.IsZero() {
			m.SubmittedAt = time.Now().UTC()
		}
		if _, err := tx.NewInsert().Model(m).Exec(ctx); err != nil {
			return translate(err, "create submission")
		}
		if len(answers) == 0 {
			return nil
		}
		rows := make([]userAnswerModel, 0, len(answers))
		for _, a := range answers {
			rows = append(rows, userAnswerModel{SubmissionID: sub.ID, QuestionID: a.QuestionID, AnswerText: a.AnswerText})
		}
		if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
			return translate(err, "create answers")
		}
		return nil
	})
}

// SaveAnswer records a participant's answer while the submission is still open.
func (s *Store) SaveAnswer(ctx context.Context, submissionID, questionID uuid.UUID, text string) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		sub := new(submissionModel)
		err := tx.NewSelect().Model(sub).Where("id = ?", submissionID).For("UPDATE").Scan(ctx)
		if err != nil {
			return notFound(err, domain.ErrSubmissionNotFound, "get submission")
		}
		if sub.IsComplete {
			return domain.ErrSubmissionLocked
		}
		ok, err := tx.NewSelect().Model((*questionModel)(nil)).
			Where("id = ?", questionID).Where("game_id = ?", sub.GameID).Exists(ctx)
		if err != nil {
			return fmt.Errorf("check question: %w", err)
		}
		if !ok {
			return domain.ErrQuestionNotFound
		}
		_, err = tx.NewInsert().
			Model(&userAnswerModel{SubmissionID: submissionID, QuestionID: questionID, AnswerText: text}).
			On("CONFLICT (submission_id, question_id) DO UPDATE").
			Set("answer_text = EXCLUDED.answer_text").
			Exec(ctx)
		return translate(err, "save answer")
	})
}

// CompleteSubmission finalizes a submission; participants can no longer edit it.
func (s *Store) CompleteSubmission(ctx context.Context, submissionID uuid.UUID, at time.Time) error {
	res, err := s.db.NewUpdate().Model((*submissionModel)(nil)).
		Set("is_complete = TRUE").
		Set("submitted_at = ?", at).
		Where("id = ?", submissionID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("complete submission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrSubmissionNotFound
	}
	return nil
}

func (s *Store) GetGame(ctx context.Context, gameID uuid.UUID) (domain.Game, error) {
	m := new(gameModel)
	if err := s.db.NewSelect().Model(m).Where("id = ?", gameID).Scan(ctx); err != nil {
		return domain.Game{}, notFound(err, domain.ErrGameNotFound, "get game")
	}
	return m.toDomain(), nil
}

func (s *Store) GetQuestion(ctx context.Context, questionID uuid.UUID) (domain.Question, error) {
	m := new(questionModel)
	if err := s.db.NewSelect().Model(m).Where("id = ?", questionID).Scan(ctx); err != nil {
		return domain.Question{}, notFound(err, domain.ErrQuestionNotFound, "get question")
	}
	return m.toDomain(), nil
}

func (s *Store) ListQuestions(ctx context.Context, gameID uuid.UUID) ([]domain.Question, error) {
	var models []questionModel
	err := s.db.NewSelect().Model(&models).
		Where("game_id = ?", gameID).
		OrderExpr("position ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	out := make([]domain.Question, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

func (s *Store) ListAnswerKey(ctx context.Context, gameID, groupID uuid.UUID) ([]domain.AnswerKeyEntry, error) {
	var models []answerKeyModel
	err := s.db.NewSelect().Model(&models).
		Join("JOIN questions AS q ON q.id = ak.question_id").
		Where("ak.group_id = ?", groupID).
		Where("q.game_id = ?", gameID).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list answer key: %w", err)
	}
	out := make([]domain.AnswerKeyEntry, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

func (s *Store) UpsertAnswerKey(ctx context.Context, entry domain.AnswerKeyEntry) error {
	m := &answerKeyModel{
		GroupID:        entry.GroupID,
		QuestionID:     entry.QuestionID,
		CorrectAnswer:  entry.CorrectAnswer,
		IsVoid:         entry.IsVoid,
		PointsOverride: entry.PointsOverride,
		UpdatedAt:      entry.UpdatedAt,
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.NewInsert().Model(m).
		On("CONFLICT (group_id, question_id) DO UPDATE").
		Set("correct_answer = EXCLUDED.correct_answer").
		Set("is_void = EXCLUDED.is_void").
		Set("points_override = EXCLUDED.points_override").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return translate(err, "upsert answer key")
	}
	return nil
}

func (s *Store) GetSubmission(ctx context.Context, submissionID uuid.UUID) (domain.Submission, error) {
	m := new(submissionModel)
	if err := s.db.NewSelect().Model(m).Where("id = ?", submissionID).Scan(ctx); err != nil {
		return domain.Submission{}, notFound(err, domain.ErrSubmissionNotFound, "get submission")
	}
	return m.toDomain(), nil
}

func (s *Store) ListAnswers(ctx context.Context, submissionID uuid.UUID) ([]domain.UserAnswer, error) {
	var models []userAnswerModel
	err := s.db.NewSelect().Model(&models).
		Where("submission_id = ?", submissionID).
		OrderExpr("question_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	if len(models) == 0 {
		exists, err := s.db.NewSelect().Model((*submissionModel)(nil)).Where("id = ?", submissionID).Exists(ctx)
		if err != nil {
			return nil, fmt.Errorf("check submission: %w", err)
		}
		if !exists {
			return nil, domain.ErrSubmissionNotFound
		}
	}
	out := make([]domain.UserAnswer, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

func (s *Store) ListCompleteSubmissions(ctx context.Context, scope domain.Scope) ([]domain.Submission, error) {
	var models []submissionModel
	q := s.db.NewSelect().Model(&models).
		Where("game_id = ?", scope.GameID).
		Where("is_complete")
	if scope.GroupID != nil {
		q = q.Where("group_id = ?", *scope.GroupID)
	}
	if err := q.OrderExpr("submitted_at ASC, id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	out := make([]domain.Submission, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

func (s *Store) ListGroups(ctx context.Context, gameID uuid.UUID) ([]uuid.UUID, error) {
	var groups []uuid.UUID
	err := s.db.NewSelect().Model((*submissionModel)(nil)).
		Column("group_id").
		Distinct().
		Where("game_id = ?", gameID).
		Order("group_id").
		Scan(ctx, &groups)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// SaveGrade writes graded answers, submission totals and the group row in one transaction.
func (s *Store) SaveGrade(ctx context.Context, record app.GradeRecord) error {
	if !domain.IsEngineWrite(ctx) {
		return domain.ErrDerivedWrite
	}
	sub := record.Submission
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().Model((*submissionModel)(nil)).
			Set("total_score = ?", sub.TotalScore).
			Set("possible_points = ?", sub.PossiblePoints).
			Set("percentage = ?", sub.Percentage).
			Set("answered_count = ?", sub.AnsweredCount).
			Set("graded_at = ?", sub.GradedAt).
			Where("id = ?", sub.ID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("update submission: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrSubmissionNotFound
		}

		for _, a := range record.Answers {
			_, err := tx.NewUpdate().Model((*userAnswerModel)(nil)).
				Set("points_earned = ?", a.PointsEarned).
				Set("is_correct = ?", a.IsCorrect).
				Where("submission_id = ?", sub.ID).
				Where("question_id = ?", a.QuestionID).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("update answer %s: %w", a.QuestionID, err)
			}
		}

		return upsertRow(ctx, tx, record.Row)
	})
}

func (s *Store) UpsertLeaderboardRow(ctx context.Context, row domain.LeaderboardRow) error {
	if !domain.IsEngineWrite(ctx) {
		return domain.ErrDerivedWrite
	}
	return upsertRow(ctx, s.db, row)
}

// upsertRow keeps the stored rank; ranks change only through SaveRanks.
func upsertRow(ctx context.Context, db bun.IDB, row domain.LeaderboardRow) error {
	m := fromRow(row)
	m.Rank = 0
	_, err := db.NewInsert().Model(m).
		On("CONFLICT (game_id, group_id, user_id) DO UPDATE").
		Set("total_score = EXCLUDED.total_score").
		Set("possible_points = EXCLUDED.possible_points").
		Set("percentage = EXCLUDED.percentage").
		Set("answered_count = EXCLUDED.answered_count").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert leaderboard row: %w", err)
	}
	return nil
}

func (s *Store) ListLeaderboard(ctx context.Context, scope domain.Scope, limit int) ([]domain.LeaderboardRow, error) {
	var models []leaderboardRowModel
	q := s.db.NewSelect().Model(&models).Where("game_id = ?", scope.GameID)
	q = whereScope(q, scope)
	q = q.OrderExpr("rank = 0 ASC, rank ASC, user_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list leaderboard: %w", err)
	}
	out := make([]domain.LeaderboardRow, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

func (s *Store) SaveRanks(ctx context.Context, scope domain.Scope, rows []domain.LeaderboardRow) error {
	if !domain.IsEngineWrite(ctx) {
		return domain.ErrDerivedWrite
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, r := range rows {
			if !scope.Contains(r.GameID, r.GroupID) {
				continue
			}
			q := tx.NewUpdate().Model((*leaderboardRowModel)(nil)).
				Set("rank = ?", r.Rank).
				Where("game_id = ?", r.GameID).
				Where("user_id = ?", r.UserID)
			if r.GroupID == nil {
				q = q.Where("group_id IS NULL")
			} else {
				q = q.Where("group_id = ?", *r.GroupID)
			}
			if _, err := q.Exec(ctx); err != nil {
				return fmt.Errorf("save rank for %s: %w", r.UserID, err)
			}
		}
		return nil
	})
}

func whereScope(q *bun.SelectQuery, scope domain.Scope) *bun.SelectQuery {
	if scope.GroupID == nil {
		return q.Where("group_id IS NULL")
	}
	return q.Where("group_id = ?", *scope.GroupID)
}

func notFound(err, sentinel error, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return fmt.Errorf("%s: %w", op, err)
}

// translate maps Postgres constraint violations onto domain errors.
func translate(err error, op string) error {
	if err == nil {
		return nil
	}
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		switch pgErr.Field('C') {
		case "23505":
			return fmt.Errorf("%s: %w", op, domain.ErrDuplicate)
		case "23503":
			return fmt.Errorf("%s: %w", op, referenceError(pgErr.Field('n')))
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func referenceError(constraint string) error {
	switch constraint {
	case "questions_game_id_fkey", "submissions_game_id_fkey", "leaderboard_rows_game_id_fkey":
		return domain.ErrGameNotFound
	case "answer_keys_question_id_fkey":
		return domain.ErrQuestionNotFound
	case "user_answers_submission_id_fkey":
		return domain.ErrSubmissionNotFound
	}
	return domain.ErrDataIntegrity
}
