package domain

import (
	"context"

	"github.com/google/uuid"
)

// Scope names a leaderboard: one group of a game, or the game's global board.
type Scope struct {
	GameID  uuid.UUID  `json:"gameId"`
	GroupID *uuid.UUID `json:"groupId,omitempty"`
}

// GroupScope returns the scope of a single group within a game.
func GroupScope(gameID, groupID uuid.UUID) Scope {
	return Scope{GameID: gameID, GroupID: &groupID}
}

// GlobalScope returns the cross-group scope of a game.
func GlobalScope(gameID uuid.UUID) Scope {
	return Scope{GameID: gameID}
}

// IsGlobal reports whether the scope spans every group of the game.
func (s Scope) IsGlobal() bool {
	return s.GroupID == nil
}

// Contains reports whether a row with the given group belongs to the scope.
func (s Scope) Contains(gameID uuid.UUID, groupID *uuid.UUID) bool {
	if s.GameID != gameID {
		return false
	}
	if s.GroupID == nil || groupID == nil {
		return s.GroupID == nil && groupID == nil
	}
	return *s.GroupID == *groupID
}

// Key is a stable string form used for lock and cache keys.
func (s Scope) Key() string {
	if s.GroupID == nil {
		return s.GameID.String() + ":global"
	}
	return s.GameID.String() + ":" + s.GroupID.String()
}

func (s Scope) String() string {
	return s.Key()
}

type engineWriteKey struct{}

// WithEngineWrite marks ctx as carrying a grading-engine write. Stores refuse
// to persist derived scoring fields without it.
func WithEngineWrite(ctx context.Context) context.Context {
	return context.WithValue(ctx, engineWriteKey{}, true)
}

// IsEngineWrite reports whether ctx was produced by WithEngineWrite.
func IsEngineWrite(ctx context.Context) bool {
	v, _ := ctx.Value(engineWriteKey{}).(bool)
	return v
}
