package grading

import (
	"github.com/google/uuid"
	"prediction-game-service/internal/domain"
)

// ScoringContext binds a question to the key resolver of the group being graded.
type ScoringContext struct {
	Question domain.Question
	GroupID  uuid.UUID
	Keys     KeyResolver
}

// AnswerScore is the outcome of scoring a single answer.
type AnswerScore struct {
	Correct bool
	Earned  int
	// Max is what the question contributes to possible points.
	Max int
}

// Score grades one answer. Void and ungraded questions contribute nothing to
// either the score or the possible points.
func (c ScoringContext) Score(answerText string) AnswerScore {
	res := c.Keys.Resolve(c.Question.ID)
	if !res.Graded || res.IsVoid {
		return AnswerScore{}
	}

	maxPoints := MaxPointsFor(c.Question)
	if res.PointsOverride != nil {
		maxPoints = *res.PointsOverride
	}
	if !Compare(answerText, res.CorrectAnswer, c.Question.Type) {
		return AnswerScore{Max: maxPoints}
	}

	earned := PointsFor(c.Question, answerText)
	if res.PointsOverride != nil {
		earned = *res.PointsOverride
	}
	return AnswerScore{Correct: true, Earned: earned, Max: maxPoints}
}

// Result is a freshly graded submission with its rewritten answers.
type Result struct {
	Submission domain.Submission
	Answers    []domain.UserAnswer
}

// Grade re-derives every answer's points and the submission totals from scratch.
// The input slices are not modified. An answer referencing a question missing
// from questions aborts grading with *domain.OrphanedAnswerError.
func Grade(sub domain.Submission, answers []domain.UserAnswer, questions map[uuid.UUID]domain.Question, keys KeyResolver) (Result, error) {
	graded := make([]domain.UserAnswer, len(answers))
	total, possible, answered := 0, 0, 0

	for i, ans := range answers {
		q, ok := questions[ans.QuestionID]
		if !ok {
			return Result{}, &domain.OrphanedAnswerError{SubmissionID: sub.ID, QuestionID: ans.QuestionID}
		}

		score := ScoringContext{Question: q, GroupID: sub.GroupID, Keys: keys}.Score(ans.AnswerText)
		ans.IsCorrect = score.Correct
		ans.PointsEarned = score.Earned
		graded[i] = ans

		total += score.Earned
		possible += score.Max
		if ans.Answered() {
			answered++
		}
	}

	sub.TotalScore = total
	sub.PossiblePoints = possible
	sub.Percentage = Percentage(total, possible)
	sub.AnsweredCount = answered
	return Result{Submission: sub, Answers: graded}, nil
}
