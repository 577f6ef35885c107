package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"proctor-engine/internal/app"
	"proctor-engine/internal/config"
	"proctor-engine/internal/domain"
	"proctor-engine/internal/infra/postgres"
	pgmigrations "proctor-engine/internal/infra/postgres/migrations"
	infraredis "proctor-engine/internal/infra/redis"
	"proctor-engine/internal/lockdown"
)

type nopSurface struct{}

func (nopSurface) Install(context.Context, lockdown.Policy) error { return nil }
func (nopSurface) Uninstall(context.Context) error                { return nil }

func TestMCQSessionEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	migrateAndSeed(t, ctx, pgURL, sampleSet())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		t.Fatalf("redis url: %v", err)
	}
	rdb := goredis.NewClient(opts)
	defer rdb.Close()

	log := zerolog.Nop()
	keys := config.NewKeys("it")
	history := postgres.NewHistoryStore(pool)
	service := app.NewSessionService(app.ServiceConfig{AckDuration: 10 * time.Millisecond}, app.ServiceDeps{
		Sessions: infraredis.NewSessionStore(rdb, keys, 5*time.Minute, log),
		Sets:     infraredis.NewQuestionRepository(rdb, postgres.NewQuestionLoader(pool), keys, 5*time.Minute, log),
		KV:       infraredis.NewKV(rdb, 5*time.Minute),
		Keys:     keys,
		History:  history,
		Logger:   log,
	})

	c, err := service.Launch(ctx, app.LaunchRequest{
		CandidateID:   "cand-1",
		Type:          domain.AssessmentMCQ,
		QuestionSetID: "set-1",
		Lockdown:      lockdown.NewMonitor(nopSurface{}, lockdown.DefaultPolicy(), log, nil),
	})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := c.SelectOption(ctx, "q1", 1); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := c.Next(ctx); err != nil {
		t.Fatalf("next: %v", err)
	}
	if err := c.SelectOption(ctx, "q2", 0); err != nil {
		t.Fatalf("select: %v", err)
	}

	sub, err := c.Submit(ctx)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.Score != 1 || sub.TotalQuestions != 2 {
		t.Fatalf("expected 1/2, got %d/%d", sub.Score, sub.TotalQuestions)
	}

	rows, err := history.List(ctx, "cand-1", 10)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(rows) != 1 || rows[0].SessionID != c.ID() || rows[0].Percentage != 50 {
		t.Fatalf("unexpected history %+v", rows)
	}

	// The submitted session leaves no resumable state behind.
	n, err := rdb.Exists(ctx, keys.TimerRemaining(keys.Scope("cand-1", "mcq"))).Result()
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if n != 0 {
		t.Fatalf("timer key survived submission")
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "proctor", "POSTGRES_PASSWORD": "proctorpass", "POSTGRES_DB": "proctordb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
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
	dsn := fmt.Sprintf("postgres://proctor:proctorpass@%s:%s/proctordb?sslmode=disable", host, port.Port())
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
	return fmt.Sprintf("redis://%s:%s", host, port.Port()), func() {
		_ = container.Terminate(ctx)
	}
}

func migrateAndSeed(t *testing.T, ctx context.Context, dsn string, set domain.QuestionSet) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	questions, err := json.Marshal(set.Questions)
	if err != nil {
		t.Fatalf("marshal questions: %v", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO question_sets (id, type, technology, difficulty, questions) VALUES (?, ?, ?, ?, ?::jsonb)`,
		set.ID, string(set.Type), set.Technology, set.Difficulty, string(questions)); err != nil {
		t.Fatalf("insert question set: %v", err)
	}
}

func sampleSet() domain.QuestionSet {
	correct := 1
	return domain.QuestionSet{
		ID:         "set-1",
		Type:       domain.AssessmentMCQ,
		Technology: "Go",
		Difficulty: "easy",
		Questions: []domain.Question{
			{ID: "q1", Type: domain.AssessmentMCQ, Prompt: "2 + 2?", Options: []string{"3", "4", "5"}, CorrectIndex: &correct},
			{ID: "q2", Type: domain.AssessmentMCQ, Prompt: "3 + 3?", Options: []string{"5", "6", "7"}, CorrectIndex: &correct},
		},
	}
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
