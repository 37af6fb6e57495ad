package postgres

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"prediction-game-service/internal/domain"
)

type gameModel struct {
	bun.BaseModel `bun:"table:games,alias:g"`
	ID            uuid.UUID `bun:"id,pk,type:uuid"`
	Title         string    `bun:"title,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

type questionModel struct {
	bun.BaseModel `bun:"table:questions,alias:q"`
	ID            uuid.UUID       `bun:"id,pk,type:uuid"`
	GameID        uuid.UUID       `bun:"game_id,notnull,type:uuid"`
	Text          string          `bun:"text,notnull"`
	Type          string          `bun:"type,notnull"`
	Points        int             `bun:"points,notnull"`
	Options       []domain.Option `bun:"options,type:jsonb,notnull"`
	Position      int             `bun:"position,notnull"`
}

type answerKeyModel struct {
	bun.BaseModel  `bun:"table:answer_keys,alias:ak"`
	GroupID        uuid.UUID `bun:"group_id,pk,type:uuid"`
	QuestionID     uuid.UUID `bun:"question_id,pk,type:uuid"`
	CorrectAnswer  string    `bun:"correct_answer,nullzero"`
	IsVoid         bool      `bun:"is_void,notnull"`
	PointsOverride *int      `bun:"points_override"`
	UpdatedAt      time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

type submissionModel struct {
	bun.BaseModel  `bun:"table:submissions,alias:s"`
	ID             uuid.UUID       `bun:"id,pk,type:uuid"`
	GameID         uuid.UUID       `bun:"game_id,notnull,type:uuid"`
	UserID         uuid.UUID       `bun:"user_id,notnull,type:uuid"`
	GroupID        uuid.UUID       `bun:"group_id,notnull,type:uuid"`
	TotalScore     int             `bun:"total_score,notnull"`
	PossiblePoints int             `bun:"possible_points,notnull"`
	Percentage     decimal.Decimal `bun:"percentage,type:numeric(5,2),notnull"`
	AnsweredCount  int             `bun:"answered_count,notnull"`
	IsComplete     bool            `bun:"is_complete,notnull"`
	SubmittedAt    time.Time       `bun:"submitted_at,notnull,default:current_timestamp"`
	GradedAt       *time.Time      `bun:"graded_at"`
}

// userAnswerModel has no foreign key on question_id: answers outlive deleted
// questions and the grader reports them as orphans.
type userAnswerModel struct {
	bun.BaseModel `bun:"table:user_answers,alias:ua"`
	SubmissionID  uuid.UUID `bun:"submission_id,pk,type:uuid"`
	QuestionID    uuid.UUID `bun:"question_id,pk,type:uuid"`
	AnswerText    string    `bun:"answer_text,nullzero"`
	PointsEarned  int       `bun:"points_earned,notnull"`
	IsCorrect     bool      `bun:"is_correct,notnull"`
}

// leaderboardRowModel stores global rows with a NULL group_id.
type leaderboardRowModel struct {
	bun.BaseModel  `bun:"table:leaderboard_rows,alias:lr"`
	ID             int64           `bun:"id,pk,autoincrement"`
	GameID         uuid.UUID       `bun:"game_id,notnull,type:uuid"`
	GroupID        *uuid.UUID      `bun:"group_id,type:uuid"`
	UserID         uuid.UUID       `bun:"user_id,notnull,type:uuid"`
	Rank           int             `bun:"rank,notnull"`
	TotalScore     int             `bun:"total_score,notnull"`
	PossiblePoints int             `bun:"possible_points,notnull"`
	Percentage     decimal.Decimal `bun:"percentage,type:numeric(5,2),notnull"`
	AnsweredCount  int             `bun:"answered_count,notnull"`
	UpdatedAt      time.Time       `bun:"updated_at,notnull,default:current_timestamp"`
}

func (m gameModel) toDomain() domain.Game {
	return domain.Game{ID: m.ID, Title: m.Title, CreatedAt: m.CreatedAt}
}

func (m questionModel) toDomain() domain.Question {
	return domain.Question{
		ID:       m.ID,
		GameID:   m.GameID,
		Text:     m.Text,
		Type:     domain.QuestionType(m.Type),
		Points:   m.Points,
		Options:  m.Options,
		Position: m.Position,
	}
}

func fromQuestion(q domain.Question) *questionModel {
	options := q.Options
	if options == nil {
		options = []domain.Option{}
	}
	return &questionModel{
		ID:       q.ID,
		GameID:   q.GameID,
		Text:     q.Text,
		Type:     string(q.Type),
		Points:   q.Points,
		Options:  options,
		Position: q.Position,
	}
}

func (m answerKeyModel) toDomain() domain.AnswerKeyEntry {
	return domain.AnswerKeyEntry{
		GroupID:        m.GroupID,
		QuestionID:     m.QuestionID,
		CorrectAnswer:  m.CorrectAnswer,
		IsVoid:         m.IsVoid,
		PointsOverride: m.PointsOverride,
		UpdatedAt:      m.UpdatedAt,
	}
}

func (m submissionModel) toDomain() domain.Submission {
	return domain.Submission{
		ID:             m.ID,
		GameID:         m.GameID,
		UserID:         m.UserID,
		GroupID:        m.GroupID,
		TotalScore:     m.TotalScore,
		PossiblePoints: m.PossiblePoints,
		Percentage:     m.Percentage,
		AnsweredCount:  m.AnsweredCount,
		IsComplete:     m.IsComplete,
		SubmittedAt:    m.SubmittedAt,
		GradedAt:       m.GradedAt,
	}
}

func (m userAnswerModel) toDomain() domain.UserAnswer {
	return domain.UserAnswer{
		SubmissionID: m.SubmissionID,
		QuestionID:   m.QuestionID,
		AnswerText:   m.AnswerText,
		PointsEarned: m.PointsEarned,
		IsCorrect:    m.IsCorrect,
	}
}

func (m leaderboardRowModel) toDomain() domain.LeaderboardRow {
	return domain.LeaderboardRow{
		GameID:         m.GameID,
		GroupID:        m.GroupID,
		UserID:         m.UserID,
		Rank:           m.Rank,
		TotalScore:     m.TotalScore,
		PossiblePoints: m.PossiblePoints,
		Percentage:     m.Percentage,
		AnsweredCount:  m.AnsweredCount,
		UpdatedAt:      m.UpdatedAt,
	}
}

func fromRow(r domain.LeaderboardRow) *leaderboardRowModel {
	return &leaderboardRowModel{
		GameID:         r.GameID,
		GroupID:        r.GroupID,
		UserID:         r.UserID,
		Rank:           r.Rank,
		TotalScore:     r.TotalScore,
		PossiblePoints: r.PossiblePoints,
		Percentage:     r.Percentage,
		AnsweredCount:  r.AnsweredCount,
		UpdatedAt:      r.UpdatedAt,
	}
}
