package redis

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"prediction-game-service/internal/domain"
)

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry forward only while this holder still owns the lock.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// ScopeLocker is a Redis implementation of app.ScopeLocker, shared by every
// service instance. Locks expire after ttl so a crashed holder cannot wedge a scope;
// a live holder keeps extending its lock until it releases it.
type ScopeLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
	renew  time.Duration
}

func NewScopeLocker(client *redis.Client, ttl, wait time.Duration) *ScopeLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &ScopeLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
		poll:   25 * time.Millisecond,
		renew:  ttl / 3,
	}
}

func (l *ScopeLocker) Acquire(ctx context.Context, scope domain.Scope) (func(), error) {
	key := l.key(scope)
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		if ok {
			return l.releaser(key, token), nil
		}
		if !time.Now().Before(deadline) {
			return nil, domain.ErrConcurrencyConflict
		}

		select {
		case <-time.After(l.poll):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *ScopeLocker) releaser(key, token string) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// the run may have been cancelled; release must still reach Redis
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			// an expired lock is already gone; nothing to undo
			_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
		})
	}
}

// keepAlive extends the lock every renew interval until stop is closed or the
// lock is found to belong to someone else.
func (l *ScopeLocker) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.renew)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.renew)
			held, err := extendScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err == nil && held == 0 {
				return
			}
		}
	}
}

func (l *ScopeLocker) key(scope domain.Scope) string {
	return "grading:lock:" + scope.Key()
}
