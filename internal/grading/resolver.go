package grading

import (
	"strings"

	"github.com/google/uuid"
	"prediction-game-service/internal/domain"
)

// Resolution is the applicable key for one question within a group.
type Resolution struct {
	// Graded is false while no usable answer has been supplied.
	Graded         bool
	CorrectAnswer  string
	IsVoid         bool
	PointsOverride *int
}

// KeyResolver looks up the key for a question. Implementations must answer
// from a single consistent view for the whole grading run.
type KeyResolver interface {
	Resolve(questionID uuid.UUID) Resolution
}

// KeySnapshot is an immutable copy of one group's answer key.
type KeySnapshot struct {
	GameID  uuid.UUID
	GroupID uuid.UUID
	entries map[uuid.UUID]domain.AnswerKeyEntry
}

// NewKeySnapshot indexes entries by question. Entries for other groups are ignored.
func NewKeySnapshot(gameID, groupID uuid.UUID, entries []domain.AnswerKeyEntry) KeySnapshot {
	idx := make(map[uuid.UUID]domain.AnswerKeyEntry, len(entries))
	for _, e := range entries {
		if e.GroupID != groupID {
			continue
		}
		if e.PointsOverride != nil {
			v := *e.PointsOverride
			e.PointsOverride = &v
		}
		idx[e.QuestionID] = e
	}
	return KeySnapshot{GameID: gameID, GroupID: groupID, entries: idx}
}

// Resolve implements KeyResolver.
func (s KeySnapshot) Resolve(questionID uuid.UUID) Resolution {
	e, ok := s.entries[questionID]
	if !ok {
		return Resolution{}
	}
	if e.IsVoid {
		return Resolution{Graded: true, IsVoid: true, CorrectAnswer: e.CorrectAnswer}
	}
	if strings.TrimSpace(e.CorrectAnswer) == "" {
		return Resolution{}
	}
	return Resolution{
		Graded:         true,
		CorrectAnswer:  e.CorrectAnswer,
		PointsOverride: e.PointsOverride,
	}
}

// Entries returns the snapshot's entries in no particular order.
func (s KeySnapshot) Entries() []domain.AnswerKeyEntry {
	out := make([]domain.AnswerKeyEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

// Len is the number of key entries in the snapshot.
func (s KeySnapshot) Len() int {
	return len(s.entries)
}
