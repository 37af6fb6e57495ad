package grading

import (
	"sort"

	"prediction-game-service/internal/domain"
)

// AssignRanks orders rows by (percentage, total score, answered count) descending
// and assigns standard competition ranks: rows with an identical triple share a
// rank and the next distinct triple ranks at its position, so 1, 1, 3.
// Tied rows are listed by user ID. The input slice is left untouched.
func AssignRanks(rows []domain.LeaderboardRow) []domain.LeaderboardRow {
	ranked := make([]domain.LeaderboardRow, len(rows))
	copy(ranked, rows)

	sort.SliceStable(ranked, func(i, j int) bool {
		if c := compareStanding(ranked[i], ranked[j]); c != 0 {
			return c > 0
		}
		return ranked[i].UserID.String() < ranked[j].UserID.String()
	})

	for i := range ranked {
		if i > 0 && compareStanding(ranked[i], ranked[i-1]) == 0 {
			ranked[i].Rank = ranked[i-1].Rank
			continue
		}
		ranked[i].Rank = i + 1
	}
	return ranked
}

func compareStanding(a, b domain.LeaderboardRow) int {
	if c := a.Percentage.Cmp(b.Percentage); c != 0 {
		return c
	}
	if a.TotalScore != b.TotalScore {
		if a.TotalScore > b.TotalScore {
			return 1
		}
		return -1
	}
	switch {
	case a.AnsweredCount > b.AnsweredCount:
		return 1
	case a.AnsweredCount < b.AnsweredCount:
		return -1
	}
	return 0
}
