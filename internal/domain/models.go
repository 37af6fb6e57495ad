package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// QuestionType selects how a participant's answer is compared to the key.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionYesNo          QuestionType = "yes_no"
	QuestionNumeric        QuestionType = "numeric"
	QuestionText           QuestionType = "text"
)

// IsChoice reports whether answers are picked from the question's options.
func (t QuestionType) IsChoice() bool {
	return t == QuestionMultipleChoice || t == QuestionYesNo
}

// Game is the event participants predict on.
type Game struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// Option is a selectable answer that may carry bonus points.
type Option struct {
	Label       string `json:"label"`
	BonusPoints int    `json:"bonusPoints"`
}

// Question belongs to a game and is answered once per submission.
type Question struct {
	ID       uuid.UUID    `json:"id"`
	GameID   uuid.UUID    `json:"gameId"`
	Text     string       `json:"text"`
	Type     QuestionType `json:"type"`
	Points   int          `json:"points"`
	Options  []Option     `json:"options"`
	Position int          `json:"position"`
}

// AnswerKeyEntry is the grader-supplied answer for one (group, question) pair.
type AnswerKeyEntry struct {
	GroupID        uuid.UUID `json:"groupId"`
	QuestionID     uuid.UUID `json:"questionId"`
	CorrectAnswer  string    `json:"correctAnswer"`
	IsVoid         bool      `json:"isVoid"`
	PointsOverride *int      `json:"pointsOverride,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// UserAnswer is a participant's response. PointsEarned and IsCorrect are
// written only by the grading engine.
type UserAnswer struct {
	SubmissionID uuid.UUID `json:"submissionId"`
	QuestionID   uuid.UUID `json:"questionId"`
	AnswerText   string    `json:"answerText"`
	PointsEarned int       `json:"pointsEarned"`
	IsCorrect    bool      `json:"isCorrect"`
}

// Answered reports whether a response was actually given.
func (a UserAnswer) Answered() bool {
	return strings.TrimSpace(a.AnswerText) != ""
}

// Submission is one user's answer sheet for a game within a group.
type Submission struct {
	ID             uuid.UUID       `json:"id"`
	GameID         uuid.UUID       `json:"gameId"`
	UserID         uuid.UUID       `json:"userId"`
	GroupID        uuid.UUID       `json:"groupId"`
	TotalScore     int             `json:"totalScore"`
	PossiblePoints int             `json:"possiblePoints"`
	Percentage     decimal.Decimal `json:"percentage"`
	AnsweredCount  int             `json:"answeredCount"`
	IsComplete     bool            `json:"isComplete"`
	SubmittedAt    time.Time       `json:"submittedAt"`
	GradedAt       *time.Time      `json:"gradedAt,omitempty"`
}

// LeaderboardRow is a ranked line in a group or global leaderboard.
// A nil GroupID denotes the global scope. Rank 0 means not ranked yet.
type LeaderboardRow struct {
	GameID         uuid.UUID       `json:"gameId"`
	GroupID        *uuid.UUID      `json:"groupId,omitempty"`
	UserID         uuid.UUID       `json:"userId"`
	Rank           int             `json:"rank"`
	TotalScore     int             `json:"totalScore"`
	PossiblePoints int             `json:"possiblePoints"`
	Percentage     decimal.Decimal `json:"percentage"`
	AnsweredCount  int             `json:"answeredCount"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// IsGlobal reports whether the row belongs to the cross-group leaderboard.
func (r LeaderboardRow) IsGlobal() bool {
	return r.GroupID == nil
}

// Scope returns the leaderboard scope the row belongs to.
func (r LeaderboardRow) Scope() Scope {
	return Scope{GameID: r.GameID, GroupID: r.GroupID}
}

// ScoredSubmission is the outcome of grading a single submission.
type ScoredSubmission struct {
	Submission Submission     `json:"submission"`
	Answers    []UserAnswer   `json:"answers"`
	Row        LeaderboardRow `json:"row"`
}

// BatchResult summarizes a multi-submission grading run.
type BatchResult struct {
	Graded int         `json:"graded"`
	Failed []uuid.UUID `json:"failed"`
}

// Merge folds another batch result into r.
func (r *BatchResult) Merge(other BatchResult) {
	r.Graded += other.Graded
	r.Failed = append(r.Failed, other.Failed...)
}

// Stats summarizes a leaderboard scope.
type Stats struct {
	Scope            Scope           `json:"scope"`
	Count            int             `json:"count"`
	MinScore         int             `json:"minScore"`
	MaxScore         int             `json:"maxScore"`
	AvgScore         decimal.Decimal `json:"avgScore"`
	MedianScore      decimal.Decimal `json:"medianScore"`
	MinPercentage    decimal.Decimal `json:"minPercentage"`
	MaxPercentage    decimal.Decimal `json:"maxPercentage"`
	AvgPercentage    decimal.Decimal `json:"avgPercentage"`
	MedianPercentage decimal.Decimal `json:"medianPercentage"`
}
