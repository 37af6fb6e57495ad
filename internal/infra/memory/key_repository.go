package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"prediction-game-service/internal/domain"
	"prediction-game-service/internal/grading"
)

// KeyLoader fetches a group's answer key from the backing store.
type KeyLoader interface {
	ListAnswerKey(ctx context.Context, gameID, groupID uuid.UUID) ([]domain.AnswerKeyEntry, error)
}

// KeyRepository caches answer key snapshots with TTL to avoid repeated DB hits.
type KeyRepository struct {
	loader KeyLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedKey
	// generation is bumped on Invalidate so loads started earlier are not cached.
	generation map[string]uint64
}

type cachedKey struct {
	snapshot  grading.KeySnapshot
	expiresAt time.Time
}

func NewKeyRepository(loader KeyLoader, ttl time.Duration) *KeyRepository {
	return &KeyRepository{
		loader:     loader,
		ttl:        ttl,
		clock:      time.Now,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:      make(map[string]cachedKey),
		generation: make(map[string]uint64),
	}
}

func (r *KeyRepository) GetKey(ctx context.Context, gameID, groupID uuid.UUID) (grading.KeySnapshot, error) {
	id := domain.GroupScope(gameID, groupID).Key()
	if snap, ok := r.cached(id); ok {
		return snap, nil
	}

	result, err, _ := r.sf.Do(id, func() (interface{}, error) {
		if snap, ok := r.cached(id); ok {
			return snap, nil
		}

		r.mu.RLock()
		gen := r.generation[id]
		r.mu.RUnlock()

		entries, err := r.loader.ListAnswerKey(ctx, gameID, groupID)
		if err != nil {
			return grading.KeySnapshot{}, err
		}
		snap := grading.NewKeySnapshot(gameID, groupID, entries)

		if r.ttl > 0 {
			r.mu.Lock()
			if r.generation[id] == gen {
				r.cache[id] = cachedKey{snapshot: snap, expiresAt: r.clock().Add(r.ttlWithJitter())}
			}
			r.mu.Unlock()
		}
		return snap, nil
	})
	if err != nil {
		return grading.KeySnapshot{}, err
	}
	return result.(grading.KeySnapshot), nil
}

// Invalidate drops the cached snapshot for a group.
func (r *KeyRepository) Invalidate(_ context.Context, gameID, groupID uuid.UUID) error {
	id := domain.GroupScope(gameID, groupID).Key()
	r.mu.Lock()
	delete(r.cache, id)
	r.generation[id]++
	r.mu.Unlock()
	r.sf.Forget(id)
	return nil
}

func (r *KeyRepository) cached(id string) (grading.KeySnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[id]
	if !ok || !entry.expiresAt.After(r.clock()) {
		return grading.KeySnapshot{}, false
	}
	return entry.snapshot, true
}

func (r *KeyRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
