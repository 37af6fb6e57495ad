package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"prediction-game-service/internal/domain"
)

func TestKeyRepositoryCaches(t *testing.T) {
	ctx := context.Background()
	store, game, group, question := seededStore(t)
	loader := &countingLoader{KeyLoader: store}
	repo := NewKeyRepository(loader, time.Minute)

	snap, err := repo.GetKey(ctx, game, group)
	if err != nil {
		t.Fatalf("get key: %v", err)
	}
	if got := snap.Resolve(question); !got.Graded || got.CorrectAnswer != "Yes" {
		t.Fatalf("unexpected resolution %+v", got)
	}
	if loader.count() != 1 {
		t.Fatalf("expected loader once, got %d", loader.count())
	}

	if _, err := repo.GetKey(ctx, game, group); err != nil {
		t.Fatalf("get key 2: %v", err)
	}
	if loader.count() != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.count())
	}
}

func TestKeyRepositoryInvalidate(t *testing.T) {
	ctx := context.Background()
	store, game, group, question := seededStore(t)
	loader := &countingLoader{KeyLoader: store}
	repo := NewKeyRepository(loader, time.Minute)

	if _, err := repo.GetKey(ctx, game, group); err != nil {
		t.Fatalf("get key: %v", err)
	}
	if err := store.UpsertAnswerKey(ctx, domain.AnswerKeyEntry{GroupID: group, QuestionID: question, IsVoid: true}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := repo.Invalidate(ctx, game, group); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	snap, err := repo.GetKey(ctx, game, group)
	if err != nil {
		t.Fatalf("get key after invalidate: %v", err)
	}
	if !snap.Resolve(question).IsVoid {
		t.Fatalf("expected fresh snapshot with void entry")
	}
	if loader.count() != 2 {
		t.Fatalf("expected reload after invalidate, loader calls %d", loader.count())
	}
}

func TestKeyRepositoryExpires(t *testing.T) {
	ctx := context.Background()
	store, game, group, _ := seededStore(t)
	loader := &countingLoader{KeyLoader: store}
	repo := NewKeyRepository(loader, time.Minute)
	now := time.Now()
	repo.clock = func() time.Time { return now }

	if _, err := repo.GetKey(ctx, game, group); err != nil {
		t.Fatalf("get key: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := repo.GetKey(ctx, game, group); err != nil {
		t.Fatalf("get key: %v", err)
	}
	if loader.count() != 2 {
		t.Fatalf("expected reload after ttl, loader calls %d", loader.count())
	}
}

type countingLoader struct {
	KeyLoader
	mu    sync.Mutex
	calls int
}

func (l *countingLoader) ListAnswerKey(ctx context.Context, gameID, groupID uuid.UUID) ([]domain.AnswerKeyEntry, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	return l.KeyLoader.ListAnswerKey(ctx, gameID, groupID)
}

func (l *countingLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func seededStore(t *testing.T) (*Store, uuid.UUID, uuid.UUID, uuid.UUID) {
	t.Helper()
	store := NewStore()
	game, group, question := uuid.New(), uuid.New(), uuid.New()
	store.AddGame(domain.Game{ID: game, Title: "Final"})
	if err := store.AddQuestion(domain.Question{ID: question, GameID: game, Type: domain.QuestionYesNo, Points: 2}); err != nil {
		t.Fatalf("add question: %v", err)
	}
	if err := store.UpsertAnswerKey(context.Background(), domain.AnswerKeyEntry{GroupID: group, QuestionID: question, CorrectAnswer: "Yes"}); err != nil {
		t.Fatalf("upsert key: %v", err)
	}
	return store, game, group, question
}
