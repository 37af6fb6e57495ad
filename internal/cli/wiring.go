package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
	"prediction-game-service/internal/app"
	"prediction-game-service/internal/config"
	"prediction-game-service/internal/infra/memory"
	"prediction-game-service/internal/infra/postgres"
	redisinfra "prediction-game-service/internal/infra/redis"
	"prediction-game-service/internal/metrics"
)

// deps holds the collaborators shared by the start and recalculate commands.
type deps struct {
	cfg      config.Config
	logger   *zap.Logger
	db       *bun.DB
	pool     *pgxpool.Pool
	redis    *redis.Client
	registry *prometheus.Registry
	service  *app.GradingService
}

// buildRuntime picks Postgres and Redis adapters when configured and the
// in-memory ones otherwise.
func buildRuntime(ctx context.Context, cfg config.Config, logger *zap.Logger) (*deps, error) {
	rt := &deps{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	rt.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var store app.Store
	if cfg.Postgres.URL != "" {
		rt.db = openDB(cfg.Postgres.URL)
		if err := rt.db.PingContext(ctx); err != nil {
			rt.close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("create pgx pool: %w", err)
		}
		rt.pool = pool
		store = postgres.NewStore(rt.db)
	} else {
		logger.Warn("postgres not configured, using in-memory store")
		store = memory.NewStore()
	}

	keyTTL := config.TTLDuration(cfg.Grading.KeyCacheTTL, 10*time.Minute)
	lockWait := config.TTLDuration(cfg.Grading.LockWait, 5*time.Second)
	lockTTL := config.TTLDuration(cfg.Grading.LockTTL, 2*time.Minute)

	var keys app.KeyRepository
	var locks app.ScopeLocker
	if cfg.Redis.Addr != "" {
		rt.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		keys = redisinfra.NewKeyRepository(rt.redis, store, keyTTL)
		locks = redisinfra.NewScopeLocker(rt.redis, lockTTL, lockWait)
	} else {
		keys = memory.NewKeyRepository(store, keyTTL)
		locks = memory.NewScopeLocker(lockWait)
	}

	rt.service = app.NewGradingService(store, keys, locks, logger,
		app.WithMetrics(metrics.NewRecorder(rt.registry)),
		app.WithWorkers(cfg.Grading.Workers))
	return rt, nil
}

func (rt *deps) close() {
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
	if rt.pool != nil {
		rt.pool.Close()
	}
	if rt.db != nil {
		_ = rt.db.Close()
	}
}
