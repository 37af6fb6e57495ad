package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap/zaptest"
	"prediction-game-service/internal/app"
	"prediction-game-service/internal/domain"
	"prediction-game-service/internal/infra/postgres"
	pgmigrations "prediction-game-service/internal/infra/postgres/migrations"
	"prediction-game-service/internal/infra/queue"
	infraredis "prediction-game-service/internal/infra/redis"
)

func TestGradingEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db := migrateDB(t, ctx, pgURL)
	defer db.Close()
	pool, err := pgxpool.New(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()
	migrateQueue(t, ctx, pool)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	store := postgres.NewStore(db)
	logger := zaptest.NewLogger(t)
	service := app.NewGradingService(store,
		infraredis.NewKeyRepository(redisClient, store, 5*time.Minute),
		infraredis.NewScopeLocker(redisClient, time.Minute, 5*time.Second),
		logger)

	seed := seedGame(t, ctx, store)

	res, err := service.SetAnswerKey(ctx, seed.group, seed.winner, "Yes", false, nil)
	if err != nil {
		t.Fatalf("set key: %v", err)
	}
	if res.Graded != 2 || len(res.Failed) != 0 {
		t.Fatalf("expected 2 graded, got %+v", res)
	}
	if _, err := service.SetAnswerKey(ctx, seed.group, seed.goals, "3", false, nil); err != nil {
		t.Fatalf("set key: %v", err)
	}

	rows, err := service.GetLeaderboard(ctx, seed.game, &seed.group, 0)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(rows) != 2 || rows[0].UserID != seed.alice || rows[0].Rank != 1 {
		t.Fatalf("expected alice leading, got %+v", rows)
	}
	if rows[0].TotalScore != 9 || rows[0].Percentage.StringFixed(2) != "100.00" {
		t.Fatalf("unexpected alice row %+v", rows[0])
	}
	if rows[1].TotalScore != 4 || rows[1].Percentage.StringFixed(2) != "44.44" || rows[1].Rank != 2 {
		t.Fatalf("unexpected bob row %+v", rows[1])
	}

	global, err := service.GetLeaderboard(ctx, seed.game, nil, 0)
	if err != nil {
		t.Fatalf("global leaderboard: %v", err)
	}
	if len(global) != 2 || global[0].GroupID != nil || global[0].Rank != 1 {
		t.Fatalf("unexpected global board %+v", global)
	}

	if err := store.SaveAnswer(ctx, seed.aliceSub, seed.goals, "7"); !errors.Is(err, domain.ErrSubmissionLocked) {
		t.Fatalf("expected locked submission, got %v", err)
	}
	if err := store.UpsertLeaderboardRow(ctx, rows[0]); !errors.Is(err, domain.ErrDerivedWrite) {
		t.Fatalf("expected derived write rejection, got %v", err)
	}

	// void the winner question, then recalculate through the River worker
	if err := store.UpsertAnswerKey(ctx, domain.AnswerKeyEntry{GroupID: seed.group, QuestionID: seed.winner, IsVoid: true}); err != nil {
		t.Fatalf("void key: %v", err)
	}
	if err := infraredis.NewKeyRepository(redisClient, store, time.Minute).Invalidate(ctx, seed.game, seed.group); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	riverQueue, err := queue.NewService(pool, service, logger, 1)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := riverQueue.Start(ctx); err != nil {
		t.Fatalf("start queue: %v", err)
	}
	defer riverQueue.Stop(context.Background())

	if err := riverQueue.EnqueueRecalculation(ctx, seed.game); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(15 * time.Second)
	for {
		rows, err = service.GetLeaderboard(ctx, seed.game, &seed.group, 0)
		if err != nil {
			t.Fatalf("leaderboard: %v", err)
		}
		if len(rows) == 2 && rows[0].PossiblePoints == 4 && rows[1].PossiblePoints == 4 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("recalculation did not apply void key, rows=%+v", rows)
		}
		time.Sleep(100 * time.Millisecond)
	}
	// both 4/4 now; alice answered more questions
	if rows[0].UserID != seed.alice || rows[1].Rank != 2 {
		t.Fatalf("unexpected ranks after void %+v", rows)
	}
}

type seeded struct {
	game, group   uuid.UUID
	winner, goals uuid.UUID
	alice, bob    uuid.UUID
	aliceSub      uuid.UUID
}

func seedGame(t *testing.T, ctx context.Context, store *postgres.Store) seeded {
	t.Helper()
	s := seeded{
		game: uuid.New(), group: uuid.New(),
		winner: uuid.New(), goals: uuid.New(),
		alice: uuid.New(), bob: uuid.New(),
		aliceSub: uuid.New(),
	}
	if err := store.CreateGame(ctx, domain.Game{ID: s.game, Title: "Cup final"}); err != nil {
		t.Fatalf("create game: %v", err)
	}
	questions := []domain.Question{
		{ID: s.winner, GameID: s.game, Text: "Will the home side win?", Type: domain.QuestionMultipleChoice, Points: 2, Position: 1,
			Options: []domain.Option{{Label: "Yes", BonusPoints: 3}, {Label: "No"}}},
		{ID: s.goals, GameID: s.game, Text: "Total goals?", Type: domain.QuestionNumeric, Points: 4, Position: 2},
	}
	for _, q := range questions {
		if err := store.CreateQuestion(ctx, q); err != nil {
			t.Fatalf("create question: %v", err)
		}
	}

	subs := []struct {
		id, user uuid.UUID
		answers  []string
	}{
		{s.aliceSub, s.alice, []string{"yes", "3.004"}},
		{uuid.New(), s.bob, []string{"", "3"}},
	}
	for _, sub := range subs {
		answers := []domain.UserAnswer{
			{QuestionID: s.winner, AnswerText: sub.answers[0]},
			{QuestionID: s.goals, AnswerText: sub.answers[1]},
		}
		err := store.CreateSubmission(ctx, domain.Submission{
			ID: sub.id, GameID: s.game, GroupID: s.group, UserID: sub.user, IsComplete: true, SubmittedAt: time.Now().UTC(),
		}, answers)
		if err != nil {
			t.Fatalf("create submission: %v", err)
		}
	}
	return s
}

func migrateDB(t *testing.T, ctx context.Context, dsn string) *bun.DB {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func migrateQueue(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		t.Fatalf("river migrator: %v", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, &rivermigrate.MigrateOpts{}); err != nil {
		t.Fatalf("river migrate: %v", err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "grader", "POSTGRES_PASSWORD": "graderpass", "POSTGRES_DB": "predictions"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://grader:graderpass@%s:%s/predictions?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
