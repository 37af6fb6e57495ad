package grading

import (
	"sort"

	"github.com/shopspring/decimal"
	"prediction-game-service/internal/domain"
)

// Summarize computes min, average, max and median of score and percentage over rows.
// Averages and medians are rounded to two places.
func Summarize(scope domain.Scope, rows []domain.LeaderboardRow) domain.Stats {
	stats := domain.Stats{Scope: scope, Count: len(rows)}
	if len(rows) == 0 {
		return stats
	}

	scores := make([]decimal.Decimal, len(rows))
	pcts := make([]decimal.Decimal, len(rows))
	for i, r := range rows {
		scores[i] = decimal.NewFromInt(int64(r.TotalScore))
		pcts[i] = r.Percentage
	}
	sortDecimals(scores)
	sortDecimals(pcts)

	stats.MinScore = int(scores[0].IntPart())
	stats.MaxScore = int(scores[len(scores)-1].IntPart())
	stats.AvgScore = mean(scores)
	stats.MedianScore = median(scores)
	stats.MinPercentage = pcts[0]
	stats.MaxPercentage = pcts[len(pcts)-1]
	stats.AvgPercentage = mean(pcts)
	stats.MedianPercentage = median(pcts)
	return stats
}

func sortDecimals(ds []decimal.Decimal) {
	sort.Slice(ds, func(i, j int) bool { return ds[i].LessThan(ds[j]) })
}

func mean(sorted []decimal.Decimal) decimal.Decimal {
	return decimal.Sum(sorted[0], sorted[1:]...).DivRound(decimal.NewFromInt(int64(len(sorted))), 2)
}

func median(sorted []decimal.Decimal) decimal.Decimal {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2].Round(2)
	}
	return sorted[n/2-1].Add(sorted[n/2]).DivRound(decimal.NewFromInt(2), 2)
}
