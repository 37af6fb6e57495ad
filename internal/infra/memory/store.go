package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"prediction-game-service/internal/app"
	"prediction-game-service/internal/domain"
)

type keyID struct {
	group    uuid.UUID
	question uuid.UUID
}

// rowID uses uuid.Nil as the group of global rows.
type rowID struct {
	game  uuid.UUID
	group uuid.UUID
	user  uuid.UUID
}

// Store is an in-memory implementation of app.Store (useful for tests/demos).
type Store struct {
	mu          sync.RWMutex
	games       map[uuid.UUID]domain.Game
	questions   map[uuid.UUID]domain.Question
	keys        map[keyID]domain.AnswerKeyEntry
	submissions map[uuid.UUID]domain.Submission
	answers     map[uuid.UUID][]domain.UserAnswer
	rows        map[rowID]domain.LeaderboardRow
}

func NewStore() *Store {
	return &Store{
		games:       make(map[uuid.UUID]domain.Game),
		questions:   make(map[uuid.UUID]domain.Question),
		keys:        make(map[keyID]domain.AnswerKeyEntry),
		submissions: make(map[uuid.UUID]domain.Submission),
		answers:     make(map[uuid.UUID][]domain.UserAnswer),
		rows:        make(map[rowID]domain.LeaderboardRow),
	}
}

var _ app.Store = (*Store)(nil)

// AddGame stores or replaces a game.
func (s *Store) AddGame(game domain.Game) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[game.ID] = game
}

// AddQuestion stores or replaces a question. The game must exist.
func (s *Store) AddQuestion(q domain.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[q.GameID]; !ok {
		return domain.ErrGameNotFound
	}
	s.questions[q.ID] = copyQuestion(q)
	return nil
}

// DeleteQuestion removes a question, leaving any answers to it orphaned.
func (s *Store) DeleteQuestion(questionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.questions, questionID)
}

// AddSubmission stores a submission with its answers. Scoring fields are reset:
// only the engine sets them.
func (s *Store) AddSubmission(sub domain.Submission, answers []domain.UserAnswer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[sub.GameID]; !ok {
		return domain.ErrGameNotFound
	}
	for _, existing := range s.submissions {
		if existing.GameID == sub.GameID && existing.UserID == sub.UserID && existing.GroupID == sub.GroupID {
			return domain.ErrDuplicate
		}
	}

	sub.TotalScore, sub.PossiblePoints, sub.AnsweredCount = 0, 0, 0
	sub.Percentage = decimal.Zero
	sub.GradedAt = nil
	s.submissions[sub.ID] = sub

	stored := make([]domain.UserAnswer, 0, len(answers))
	for _, a := range answers {
		stored = append(stored, domain.UserAnswer{SubmissionID: sub.ID, QuestionID: a.QuestionID, AnswerText: a.AnswerText})
	}
	s.answers[sub.ID] = stored
	return nil
}

// SaveAnswer records a participant's answer while the submission is still open.
func (s *Store) SaveAnswer(_ context.Context, submissionID, questionID uuid.UUID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[submissionID]
	if !ok {
		return domain.ErrSubmissionNotFound
	}
	if sub.IsComplete {
		return domain.ErrSubmissionLocked
	}
	if q, ok := s.questions[questionID]; !ok || q.GameID != sub.GameID {
		return domain.ErrQuestionNotFound
	}

	answers := s.answers[submissionID]
	for i := range answers {
		if answers[i].QuestionID == questionID {
			answers[i].AnswerText = text
			return nil
		}
	}
	s.answers[submissionID] = append(answers, domain.UserAnswer{SubmissionID: submissionID, QuestionID: questionID, AnswerText: text})
	return nil
}

// CompleteSubmission finalizes a submission; participants can no longer edit it.
func (s *Store) CompleteSubmission(_ context.Context, submissionID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[submissionID]
	if !ok {
		return domain.ErrSubmissionNotFound
	}
	sub.IsComplete = true
	sub.SubmittedAt = at
	s.submissions[submissionID] = sub
	return nil
}

func (s *Store) GetGame(_ context.Context, gameID uuid.UUID) (domain.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	game, ok := s.games[gameID]
	if !ok {
		return domain.Game{}, domain.ErrGameNotFound
	}
	return game, nil
}

func (s *Store) GetQuestion(_ context.Context, questionID uuid.UUID) (domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.questions[questionID]
	if !ok {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return copyQuestion(q), nil
}

func (s *Store) ListQuestions(_ context.Context, gameID uuid.UUID) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Question
	for _, q := range s.questions {
		if q.GameID == gameID {
			out = append(out, copyQuestion(q))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) ListAnswerKey(_ context.Context, gameID, groupID uuid.UUID) ([]domain.AnswerKeyEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AnswerKeyEntry
	for id, e := range s.keys {
		if id.group != groupID {
			continue
		}
		if q, ok := s.questions[id.question]; !ok || q.GameID != gameID {
			continue
		}
		out = append(out, copyEntry(e))
	}
	return out, nil
}

func (s *Store) UpsertAnswerKey(_ context.Context, entry domain.AnswerKeyEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.questions[entry.QuestionID]; !ok {
		return domain.ErrQuestionNotFound
	}
	s.keys[keyID{group: entry.GroupID, question: entry.QuestionID}] = copyEntry(entry)
	return nil
}

func (s *Store) GetSubmission(_ context.Context, submissionID uuid.UUID) (domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.submissions[submissionID]
	if !ok {
		return domain.Submission{}, domain.ErrSubmissionNotFound
	}
	return sub, nil
}

func (s *Store) ListAnswers(_ context.Context, submissionID uuid.UUID) ([]domain.UserAnswer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.submissions[submissionID]; !ok {
		return nil, domain.ErrSubmissionNotFound
	}
	out := make([]domain.UserAnswer, len(s.answers[submissionID]))
	copy(out, s.answers[submissionID])
	return out, nil
}

func (s *Store) ListCompleteSubmissions(_ context.Context, scope domain.Scope) ([]domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Submission
	for _, sub := range s.submissions {
		if !sub.IsComplete || sub.GameID != scope.GameID {
			continue
		}
		if scope.GroupID != nil && sub.GroupID != *scope.GroupID {
			continue
		}
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) ListGroups(_ context.Context, gameID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, sub := range s.submissions {
		if sub.GameID == gameID && !seen[sub.GroupID] {
			seen[sub.GroupID] = true
			out = append(out, sub.GroupID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (s *Store) SaveGrade(ctx context.Context, record app.GradeRecord) error {
	if !domain.IsEngineWrite(ctx) {
		return domain.ErrDerivedWrite
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.submissions[record.Submission.ID]
	if !ok {
		return domain.ErrSubmissionNotFound
	}
	graded := make(map[uuid.UUID]domain.UserAnswer, len(record.Answers))
	for _, a := range record.Answers {
		graded[a.QuestionID] = a
	}
	answers := s.answers[current.ID]
	for i := range answers {
		if g, ok := graded[answers[i].QuestionID]; ok {
			answers[i].PointsEarned = g.PointsEarned
			answers[i].IsCorrect = g.IsCorrect
		}
	}

	current.TotalScore = record.Submission.TotalScore
	current.PossiblePoints = record.Submission.PossiblePoints
	current.Percentage = record.Submission.Percentage
	current.AnsweredCount = record.Submission.AnsweredCount
	current.GradedAt = record.Submission.GradedAt
	s.submissions[current.ID] = current

	s.upsertRowLocked(record.Row)
	return nil
}

func (s *Store) UpsertLeaderboardRow(ctx context.Context, row domain.LeaderboardRow) error {
	if !domain.IsEngineWrite(ctx) {
		return domain.ErrDerivedWrite
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertRowLocked(row)
	return nil
}

// upsertRowLocked keeps the stored rank; ranks change only through SaveRanks.
func (s *Store) upsertRowLocked(row domain.LeaderboardRow) {
	id := rowKey(row.GameID, row.GroupID, row.UserID)
	row.Rank = s.rows[id].Rank
	row.GroupID = copyGroup(row.GroupID)
	s.rows[id] = row
}

func (s *Store) ListLeaderboard(_ context.Context, scope domain.Scope, limit int) ([]domain.LeaderboardRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.LeaderboardRow
	for _, r := range s.rows {
		if scope.Contains(r.GameID, r.GroupID) {
			r.GroupID = copyGroup(r.GroupID)
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].Rank, out[j].Rank
		if (ri == 0) != (rj == 0) {
			return rj == 0
		}
		if ri != rj {
			return ri < rj
		}
		return out[i].UserID.String() < out[j].UserID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SaveRanks(ctx context.Context, scope domain.Scope, rows []domain.LeaderboardRow) error {
	if !domain.IsEngineWrite(ctx) {
		return domain.ErrDerivedWrite
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		if !scope.Contains(r.GameID, r.GroupID) {
			continue
		}
		id := rowKey(r.GameID, r.GroupID, r.UserID)
		stored, ok := s.rows[id]
		if !ok {
			continue
		}
		stored.Rank = r.Rank
		s.rows[id] = stored
	}
	return nil
}

func rowKey(gameID uuid.UUID, groupID *uuid.UUID, userID uuid.UUID) rowID {
	id := rowID{game: gameID, user: userID}
	if groupID != nil {
		id.group = *groupID
	}
	return id
}

func copyGroup(groupID *uuid.UUID) *uuid.UUID {
	if groupID == nil {
		return nil
	}
	g := *groupID
	return &g
}

func copyQuestion(q domain.Question) domain.Question {
	q.Options = append([]domain.Option(nil), q.Options...)
	return q
}

func copyEntry(e domain.AnswerKeyEntry) domain.AnswerKeyEntry {
	if e.PointsOverride != nil {
		v := *e.PointsOverride
		e.PointsOverride = &v
	}
	return e
}
