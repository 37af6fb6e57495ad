package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"prediction-game-service/internal/domain"
)

func TestScopeLockerSerializesScope(t *testing.T) {
	locker := NewScopeLocker(20 * time.Millisecond)
	scope := domain.GroupScope(uuid.New(), uuid.New())

	release, err := locker.Acquire(context.Background(), scope)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := locker.Acquire(context.Background(), scope); !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	// other scopes are independent
	other, err := locker.Acquire(context.Background(), domain.GlobalScope(scope.GameID))
	if err != nil {
		t.Fatalf("acquire global: %v", err)
	}
	other()

	release()
	release()
	again, err := locker.Acquire(context.Background(), scope)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	again()
}

func TestScopeLockerWaitsForRelease(t *testing.T) {
	locker := NewScopeLocker(time.Second)
	scope := domain.GlobalScope(uuid.New())

	release, err := locker.Acquire(context.Background(), scope)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		release()
	}()

	second, err := locker.Acquire(context.Background(), scope)
	if err != nil {
		t.Fatalf("expected lock after release, got %v", err)
	}
	second()
}

func TestScopeLockerHonoursContext(t *testing.T) {
	locker := NewScopeLocker(time.Minute)
	scope := domain.GlobalScope(uuid.New())
	release, err := locker.Acquire(context.Background(), scope)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := locker.Acquire(ctx, scope); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancelled, got %v", err)
	}
}
