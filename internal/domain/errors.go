package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrGameNotFound is returned when a game ID is unknown.
	ErrGameNotFound = errors.New("game not found")
	// ErrSubmissionNotFound is returned when a submission ID is unknown.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrQuestionNotFound indicates a question ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrSubmissionIncomplete is returned when grading is requested for a submission still in progress.
	ErrSubmissionIncomplete = errors.New("submission is not complete")
	// ErrSubmissionLocked is returned when a participant edits a completed submission.
	ErrSubmissionLocked = errors.New("submission is complete and can no longer be edited")
	// ErrDuplicate indicates a unique constraint would be violated.
	ErrDuplicate = errors.New("duplicate record")
	// ErrDataIntegrity marks stored data that contradicts itself, e.g. an answer to a deleted question.
	ErrDataIntegrity = errors.New("data integrity violation")
	// ErrInvalidAnswerKey marks a malformed answer key value.
	ErrInvalidAnswerKey = errors.New("invalid answer key")
	// ErrConcurrencyConflict is returned when another grading run holds the same scope.
	ErrConcurrencyConflict = errors.New("grading already in progress for scope")
	// ErrDerivedWrite is returned when derived scoring fields are written outside the engine.
	ErrDerivedWrite = errors.New("derived scoring fields are written only by the grading engine")
)

// IsNotFound reports whether err means a referenced record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrGameNotFound) ||
		errors.Is(err, ErrSubmissionNotFound) ||
		errors.Is(err, ErrQuestionNotFound)
}

// OrphanedAnswerError reports an answer whose question no longer exists.
type OrphanedAnswerError struct {
	SubmissionID uuid.UUID
	QuestionID   uuid.UUID
}

func (e *OrphanedAnswerError) Error() string {
	return fmt.Sprintf("submission %s has an answer for missing question %s", e.SubmissionID, e.QuestionID)
}

func (e *OrphanedAnswerError) Unwrap() error { return ErrDataIntegrity }

// ValidationError describes an answer key value that cannot be used as given.
type ValidationError struct {
	QuestionID uuid.UUID
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("answer key for question %s: %s", e.QuestionID, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidAnswerKey }
