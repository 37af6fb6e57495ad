package grading

import (
	"strings"

	"github.com/shopspring/decimal"
	"prediction-game-service/internal/domain"
)

var numericTolerance = decimal.RequireFromString("0.01")

// Compare decides whether a participant's answer matches the key for the given question type.
// Choice and text answers ignore case and surrounding whitespace, numeric answers match within
// 0.01, and unknown types fall back to exact equality.
func Compare(userAnswer, correctAnswer string, qt domain.QuestionType) bool {
	switch qt {
	case domain.QuestionMultipleChoice, domain.QuestionYesNo, domain.QuestionText:
		return sameLabel(userAnswer, correctAnswer)
	case domain.QuestionNumeric:
		user, ok := parseNumber(userAnswer)
		if !ok {
			return false
		}
		correct, ok := parseNumber(correctAnswer)
		if !ok {
			return false
		}
		return user.Sub(correct).Abs().LessThanOrEqual(numericTolerance)
	default:
		return userAnswer == correctAnswer
	}
}

// IsNumeric reports whether s can be compared as a number.
func IsNumeric(s string) bool {
	_, ok := parseNumber(s)
	return ok
}

func parseNumber(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func sameLabel(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// PointsFor returns what a correct answer choosing label earns: the question's base
// points plus the bonus of the matching option on multiple-choice questions.
func PointsFor(q domain.Question, label string) int {
	points := q.Points
	if q.Type != domain.QuestionMultipleChoice {
		return points
	}
	for _, opt := range q.Options {
		if sameLabel(opt.Label, label) {
			return points + opt.BonusPoints
		}
	}
	return points
}

// MaxPointsFor returns the most a question can earn regardless of the option chosen.
// A label outside the options still earns the base, so the bonus never counts below zero.
func MaxPointsFor(q domain.Question) int {
	if q.Type != domain.QuestionMultipleChoice {
		return q.Points
	}
	best := 0
	for _, opt := range q.Options {
		if opt.BonusPoints > best {
			best = opt.BonusPoints
		}
	}
	return q.Points + best
}

// Percentage is total/possible as a percentage rounded to two places, or zero
// when nothing is possible yet.
func Percentage(total, possible int) decimal.Decimal {
	if possible <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(total)).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(int64(possible)), 2)
}
