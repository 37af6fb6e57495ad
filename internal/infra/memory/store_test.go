package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"prediction-game-service/internal/app"
	"prediction-game-service/internal/domain"
)

func TestStoreRejectsDerivedWritesOutsideEngine(t *testing.T) {
	ctx := context.Background()
	store, game, group, _ := seededStore(t)
	row := domain.LeaderboardRow{GameID: game, GroupID: &group, UserID: uuid.New(), TotalScore: 99}

	assert.ErrorIs(t, store.UpsertLeaderboardRow(ctx, row), domain.ErrDerivedWrite)
	assert.ErrorIs(t, store.SaveRanks(ctx, domain.GroupScope(game, group), []domain.LeaderboardRow{row}), domain.ErrDerivedWrite)
	assert.ErrorIs(t, store.SaveGrade(ctx, app.GradeRecord{Row: row}), domain.ErrDerivedWrite)

	rows, err := store.ListLeaderboard(ctx, domain.GroupScope(game, group), 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStoreLocksCompletedSubmissions(t *testing.T) {
	ctx := context.Background()
	store, game, group, question := seededStore(t)
	sub := domain.Submission{ID: uuid.New(), GameID: game, GroupID: group, UserID: uuid.New(), TotalScore: 500}
	require.NoError(t, store.AddSubmission(sub, nil))

	stored, err := store.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.TotalScore, "scoring fields are engine-owned")

	require.NoError(t, store.SaveAnswer(ctx, sub.ID, question, "Yes"))
	require.NoError(t, store.CompleteSubmission(ctx, sub.ID, time.Now()))
	assert.ErrorIs(t, store.SaveAnswer(ctx, sub.ID, question, "No"), domain.ErrSubmissionLocked)

	dup := sub
	dup.ID = uuid.New()
	assert.ErrorIs(t, store.AddSubmission(dup, nil), domain.ErrDuplicate)
}

func TestStoreUpsertKeepsRank(t *testing.T) {
	ctx := domain.WithEngineWrite(context.Background())
	store, game, _, _ := seededStore(t)
	scope := domain.GlobalScope(game)
	a := domain.LeaderboardRow{GameID: game, UserID: uuid.New(), TotalScore: 10, Percentage: decimal.NewFromInt(50)}
	b := domain.LeaderboardRow{GameID: game, UserID: uuid.New(), TotalScore: 5, Percentage: decimal.NewFromInt(25)}
	require.NoError(t, store.UpsertLeaderboardRow(ctx, a))
	require.NoError(t, store.UpsertLeaderboardRow(ctx, b))

	a.Rank, b.Rank = 1, 2
	require.NoError(t, store.SaveRanks(ctx, scope, []domain.LeaderboardRow{a, b}))

	b.Rank = 0
	b.TotalScore = 6
	require.NoError(t, store.UpsertLeaderboardRow(ctx, b))

	rows, err := store.ListLeaderboard(ctx, scope, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, a.UserID, rows[0].UserID)
	assert.Equal(t, 2, rows[1].Rank)
	assert.Equal(t, 6, rows[1].TotalScore)

	limited, err := store.ListLeaderboard(ctx, scope, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStoreNotFound(t *testing.T) {
	store := NewStore()
	_, err := store.GetSubmission(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, domain.ErrSubmissionNotFound))
	assert.True(t, domain.IsNotFound(err))
}
