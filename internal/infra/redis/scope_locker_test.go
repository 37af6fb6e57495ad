package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"prediction-game-service/internal/domain"
)

func TestScopeLockerSetsAndClearsKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	locker := NewScopeLocker(newClient(mr), time.Minute, 0)
	scope := domain.GroupScope(uuid.New(), uuid.New())
	key := "grading:lock:" + scope.Key()

	release, err := locker.Acquire(context.Background(), scope)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !mr.Exists(key) {
		t.Fatalf("expected redis key to be set")
	}
	if _, err := locker.Acquire(context.Background(), scope); !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	release()
	if mr.Exists(key) {
		t.Fatalf("expected redis key to be removed")
	}
}

func TestScopeLockerReleaseKeepsForeignLock(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	locker := NewScopeLocker(newClient(mr), time.Minute, 0)
	scope := domain.GlobalScope(uuid.New())
	key := "grading:lock:" + scope.Key()

	release, err := locker.Acquire(context.Background(), scope)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// lock expired and another instance took it
	if err := mr.Set(key, "other-holder"); err != nil {
		t.Fatalf("set: %v", err)
	}
	release()
	if got, _ := mr.Get(key); got != "other-holder" {
		t.Fatalf("release removed a lock it did not own, value=%q", got)
	}
}

func TestScopeLockerWaitsForRelease(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	locker := NewScopeLocker(newClient(mr), time.Minute, 2*time.Second)
	scope := domain.GlobalScope(uuid.New())

	release, err := locker.Acquire(context.Background(), scope)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	go func() {
		time.Sleep(50 * time.Millisecond)
		release()
	}()

	second, err := locker.Acquire(context.Background(), scope)
	if err != nil {
		t.Fatalf("expected lock after release, got %v", err)
	}
	second()
}

func TestScopeLockerExtendsHeldLock(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	locker := NewScopeLocker(newClient(mr), 2*time.Second, 0)
	locker.renew = 20 * time.Millisecond
	scope := domain.GroupScope(uuid.New(), uuid.New())
	key := "grading:lock:" + scope.Key()

	release, err := locker.Acquire(context.Background(), scope)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	// a long run: most of the ttl passes, then the holder renews before the rest does
	mr.FastForward(1500 * time.Millisecond)
	deadline := time.Now().Add(time.Second)
	for mr.TTL(key) < 1900*time.Millisecond {
		if time.Now().After(deadline) {
			t.Fatalf("expected lock ttl to be extended, got %v", mr.TTL(key))
		}
		time.Sleep(5 * time.Millisecond)
	}
	mr.FastForward(1500 * time.Millisecond)

	if !mr.Exists(key) {
		t.Fatalf("expected held lock to outlive its original ttl")
	}
	if _, err := locker.Acquire(context.Background(), scope); !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected conflict while lock is held, got %v", err)
	}
}

func TestScopeLockerStopsExtendingAfterRelease(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	locker := NewScopeLocker(newClient(mr), 2*time.Second, 0)
	locker.renew = 10 * time.Millisecond
	scope := domain.GlobalScope(uuid.New())
	key := "grading:lock:" + scope.Key()

	release, err := locker.Acquire(context.Background(), scope)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	release()

	// another instance takes the scope; the old holder must not touch it
	if err := mr.Set(key, "other-holder"); err != nil {
		t.Fatalf("set: %v", err)
	}
	mr.SetTTL(key, time.Second)
	time.Sleep(50 * time.Millisecond)
	if ttl := mr.TTL(key); ttl != time.Second {
		t.Fatalf("released holder extended a foreign lock, ttl=%v", ttl)
	}
}
