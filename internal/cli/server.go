package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"proctor-engine/internal/app"
	"proctor-engine/internal/config"
	"proctor-engine/internal/domain"
	"proctor-engine/internal/infra/memory"
	pgstore "proctor-engine/internal/infra/postgres"
	redisstore "proctor-engine/internal/infra/redis"
	"proctor-engine/internal/infra/remote"
	"proctor-engine/internal/judge"
	"proctor-engine/internal/lockdown"
	"proctor-engine/internal/logger"
	"proctor-engine/internal/metrics"
	transport "proctor-engine/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the session engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.Setup(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	keys := config.NewKeys("proctor")
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 24*time.Hour)
	questionTTL := config.TTLDuration(cfg.Questions.TTL, 10*time.Minute)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// --- Postgres ---
	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg.Postgres.URL, log); err != nil {
			return err
		}
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer pool.Close()
		log.Info().Msg("connected to postgres")
	}

	var loader memory.QuestionSetLoader = memory.NewStaticQuestionLoader(sampleQuestionSets())
	var recorders app.Recorders
	var historyStore *pgstore.HistoryStore
	if pool != nil {
		loader = pgstore.NewQuestionLoader(pool)
		historyStore = pgstore.NewHistoryStore(pool)
		recorders = append(recorders, historyStore)
	}

	// --- Redis ---
	var (
		kv       app.KV
		sessions app.SessionRepository
		sets     app.QuestionSetRepository
	)
	rdb, err := openRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
		log.Info().Str("addr", rdb.Options().Addr).Msg("connected to redis")
		store := redisstore.NewSessionStore(rdb, keys, redisTTL, log)
		go store.KeepAlive(ctx, redisTTL/2)
		kv = redisstore.NewKV(rdb, redisTTL)
		sessions = store
		sets = redisstore.NewQuestionRepository(rdb, loader, keys, questionTTL, log)
	} else {
		log.Warn().Msg("redis not configured, session state is kept in memory")
		kv = memory.NewKV()
		sessions = memory.NewSessionStore()
		sets = memory.NewQuestionRepository(loader, questionTTL)
	}

	// --- Remote services ---
	remoteOpts := []remote.Option{remote.WithBearerToken(cfg.Auth.Token)}
	var generator app.QuestionGenerator
	if cfg.Questions.GeneratorURL != "" {
		generator = remote.NewGenerator(cfg.Questions.GeneratorURL, remoteOpts...)
	}
	if cfg.History.URL != "" {
		historyOpts := append(remoteOpts, remote.WithTimeout(config.TTLDuration(cfg.History.Timeout, app.DefaultHistoryTimeout)))
		recorders = append(recorders, remote.NewHistory(cfg.History.URL, historyOpts...))
	}
	var history app.HistoryRecorder
	if len(recorders) > 0 {
		history = recorders
	}

	judgeTimeout := config.TTLDuration(cfg.Judge.Timeout, judge.DefaultTimeout)
	var executor judge.Executor
	if cfg.Judge.URL != "" {
		executor = judge.NewClient(cfg.Judge.URL, log,
			judge.WithBearerToken(cfg.Auth.Token),
			judge.WithTimeout(judgeTimeout),
		)
	} else {
		log.Warn().Msg("judge url not configured, code runs are disabled")
	}

	service := app.NewSessionService(serviceConfig(cfg.Engine, judgeTimeout, cfg.History.Timeout), app.ServiceDeps{
		Sessions:  sessions,
		Sets:      sets,
		Generator: generator,
		KV:        kv,
		Keys:      keys,
		Judge:     executor,
		History:   history,
		Logger:    log,
		Metrics:   m,
	})

	auth := transport.NewAuthenticator(cfg.Auth.JWTSecret)
	ws := transport.NewWSHandler(service, auth, transport.WSConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Policy:         lockdown.DefaultPolicy(),
		RunsPerMinute:  cfg.Engine.RunsPerMinute,
	}, log, m)

	routerDeps := transport.RouterDeps{Service: service, WS: ws, Auth: auth, Gatherer: reg, Logger: log}
	if historyStore != nil {
		routerDeps.History = historyStore
	}
	srv := transport.NewServer(":"+finalPort, transport.NewRouter(routerDeps), log)

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		service.Shutdown(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	opt, err := redis.ParseURL(cfg.Addr)
	if err != nil {
		opt = &redis.Options{Addr: cfg.Addr}
	}
	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opt.DB = cfg.DB
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

func serviceConfig(e config.EngineConfig, judgeTimeout time.Duration, historyTimeout string) app.ServiceConfig {
	return app.ServiceConfig{
		Budgets: map[domain.AssessmentType]time.Duration{
			domain.AssessmentMCQ:       config.TTLDuration(e.MCQBudget, app.DefaultBudgets[domain.AssessmentMCQ]),
			domain.AssessmentCoding:    config.TTLDuration(e.CodingBudget, app.DefaultBudgets[domain.AssessmentCoding]),
			domain.AssessmentInterview: config.TTLDuration(e.InterviewBudget, app.DefaultBudgets[domain.AssessmentInterview]),
		},
		QuestionLimit:  config.TTLDuration(e.QuestionLimit, app.DefaultQuestionLimit),
		AckDuration:    config.TTLDuration(e.AckDuration, app.DefaultAckDuration),
		Scoring:        app.ScoringMode(e.CodingScoring),
		Languages:      e.Languages,
		QuestionCount:  e.QuestionCount,
		JudgeTimeout:   judgeTimeout,
		HistoryTimeout: config.TTLDuration(historyTimeout, app.DefaultHistoryTimeout),
	}
}

// sampleQuestionSets backs the question loader when no database is configured.
func sampleQuestionSets() map[string]domain.QuestionSet {
	correct := func(i int) *int { return &i }
	return map[string]domain.QuestionSet{
		"go-basics": {
			ID:         "go-basics",
			Type:       domain.AssessmentMCQ,
			Technology: "Go",
			Difficulty: "easy",
			Questions: []domain.Question{
				{
					ID:           "go-1",
					Type:         domain.AssessmentMCQ,
					Prompt:       "Which keyword starts a goroutine?",
					Options:      []string{"go", "async", "spawn", "thread"},
					CorrectIndex: correct(0),
					Technology:   "Go",
				},
				{
					ID:           "go-2",
					Type:         domain.AssessmentMCQ,
					Prompt:       "What does a nil map panic on?",
					Options:      []string{"read", "write", "len", "range"},
					CorrectIndex: correct(1),
					Technology:   "Go",
				},
			},
		},
		"two-sum": {
			ID:         "two-sum",
			Type:       domain.AssessmentCoding,
			Technology: "Algorithms",
			Difficulty: "easy",
			Questions:  []domain.Question{app.TwoSumProblem("")},
		},
	}
}
