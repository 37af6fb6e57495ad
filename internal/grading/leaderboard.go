package grading

import (
	"github.com/google/uuid"
	"prediction-game-service/internal/domain"
)

// GroupRow builds the group leaderboard row for a graded submission. The rank
// is left unset; ranks are assigned per scope after the whole scope is graded.
func GroupRow(sub domain.Submission) domain.LeaderboardRow {
	groupID := sub.GroupID
	return domain.LeaderboardRow{
		GameID:         sub.GameID,
		GroupID:        &groupID,
		UserID:         sub.UserID,
		TotalScore:     sub.TotalScore,
		PossiblePoints: sub.PossiblePoints,
		Percentage:     sub.Percentage,
		AnsweredCount:  sub.AnsweredCount,
	}
}

// GlobalRow aggregates a user's completed submissions in a game across groups.
// The percentage is recomputed from the summed points rather than averaged.
func GlobalRow(gameID, userID uuid.UUID, subs []domain.Submission) domain.LeaderboardRow {
	row := domain.LeaderboardRow{GameID: gameID, UserID: userID}
	for _, s := range subs {
		if s.GameID != gameID || s.UserID != userID || !s.IsComplete {
			continue
		}
		row.TotalScore += s.TotalScore
		row.PossiblePoints += s.PossiblePoints
		row.AnsweredCount += s.AnsweredCount
	}
	row.Percentage = Percentage(row.TotalScore, row.PossiblePoints)
	return row
}
