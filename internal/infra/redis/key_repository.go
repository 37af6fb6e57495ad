package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
	"prediction-game-service/internal/domain"
	"prediction-game-service/internal/grading"
)

// KeyLoader fetches a group's answer key from the backing store (e.g., Postgres).
type KeyLoader interface {
	ListAnswerKey(ctx context.Context, gameID, groupID uuid.UUID) ([]domain.AnswerKeyEntry, error)
}

// loadedField marks a cached hash as complete, so an empty key is cached too.
const loadedField = "_loaded"

var errStaleLoad = errors.New("answer key changed during load")

// KeyRepository caches answer keys in Redis (hash per game group) and falls back to a loader on cache miss.
// Entries are stored as: HSET answerkey:{gameID}:{groupID} {questionID} {json entry}
type KeyRepository struct {
	client *redis.Client
	loader KeyLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex
}

func NewKeyRepository(client *redis.Client, loader KeyLoader, ttl time.Duration) *KeyRepository {
	return &KeyRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *KeyRepository) GetKey(ctx context.Context, gameID, groupID uuid.UUID) (grading.KeySnapshot, error) {
	key := r.hashKey(gameID, groupID)
	if snap, ok := r.fromCache(ctx, key, gameID, groupID); ok {
		return snap, nil
	}

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if snap, ok := r.fromCache(ctx, key, gameID, groupID); ok {
			return snap, nil
		}

		genKey := r.generationKey(gameID, groupID)
		gen, genErr := r.client.Get(ctx, genKey).Result()
		if genErr == redis.Nil {
			genErr = nil
		}

		entries, err := r.loader.ListAnswerKey(ctx, gameID, groupID)
		if err != nil {
			return grading.KeySnapshot{}, err
		}
		snap := grading.NewKeySnapshot(gameID, groupID, entries)
		if genErr != nil {
			return snap, nil
		}

		values := make([]interface{}, 0, 2*len(entries)+2)
		for _, e := range entries {
			raw, err := json.Marshal(e)
			if err != nil {
				return grading.KeySnapshot{}, fmt.Errorf("encode answer key entry: %w", err)
			}
			values = append(values, e.QuestionID.String(), raw)
		}
		values = append(values, loadedField, "1")

		// the cache is best effort; a failed or stale write only costs a reload
		_ = r.fill(ctx, key, genKey, gen, values)

		return snap, nil
	})
	if err != nil {
		return grading.KeySnapshot{}, err
	}
	return result.(grading.KeySnapshot), nil
}

// fill writes the hash only if no Invalidate ran since gen was read.
func (r *KeyRepository) fill(ctx context.Context, key, genKey, gen string, values []interface{}) error {
	return r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if current != gen {
			return errStaleLoad
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, values...)
			if ttl := r.ttlWithJitter(); ttl > 0 {
				pipe.Expire(ctx, key, ttl)
			}
			return nil
		})
		return err
	}, genKey)
}

// Invalidate removes the cached hash and bumps the group's generation so loads
// started earlier do not write their result back.
func (r *KeyRepository) Invalidate(ctx context.Context, gameID, groupID uuid.UUID) error {
	key := r.hashKey(gameID, groupID)
	r.sf.Forget(key)
	pipe := r.client.TxPipeline()
	pipe.Incr(ctx, r.generationKey(gameID, groupID))
	pipe.Del(ctx, key)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *KeyRepository) fromCache(ctx context.Context, key string, gameID, groupID uuid.UUID) (grading.KeySnapshot, bool) {
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil || fields[loadedField] == "" {
		return grading.KeySnapshot{}, false
	}
	entries := make([]domain.AnswerKeyEntry, 0, len(fields))
	for field, raw := range fields {
		if field == loadedField {
			continue
		}
		var e domain.AnswerKeyEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return grading.KeySnapshot{}, false
		}
		entries = append(entries, e)
	}
	return grading.NewKeySnapshot(gameID, groupID, entries), true
}

func (r *KeyRepository) hashKey(gameID, groupID uuid.UUID) string {
	return "answerkey:" + gameID.String() + ":" + groupID.String()
}

func (r *KeyRepository) generationKey(gameID, groupID uuid.UUID) string {
	return "answerkey:gen:" + gameID.String() + ":" + groupID.String()
}

func (r *KeyRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
