package cli

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"quiz-session-service/internal/app"
	"quiz-session-service/internal/config"
	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/infra/memory"
	pginfra "quiz-session-service/internal/infra/postgres"
	redisinfra "quiz-session-service/internal/infra/redis"
	"quiz-session-service/internal/ranking"
	"quiz-session-service/internal/realtime"
	"quiz-session-service/internal/sched"
	"quiz-session-service/internal/scoring"
	transport "quiz-session-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the session server",
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

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 6*time.Hour)
	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	var bunDB *bun.DB
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		bunDB = bun.NewDB(sqldb, pgdialect.New())
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if pool != nil {
		loader = pginfra.NewQuizLoader(pool)
	}

	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisinfra.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	var stateStore app.StateStore
	var scoreStore ranking.ScoreStore
	if redisClient != nil {
		stateStore = redisinfra.NewStateStore(redisClient, redisTTL)
		scoreStore = redisinfra.NewScoreStore(redisClient, redisTTL)
	} else {
		stateStore = memory.NewStateStore()
		scoreStore = memory.NewScoreStore()
	}

	var sessions app.SessionRepository
	var participants app.ParticipantRepository
	var answers app.AnswerRepository
	if bunDB != nil {
		sessions = pginfra.NewSessionRepository(bunDB)
		participants = pginfra.NewParticipantRepository(bunDB)
		answers = pginfra.NewAnswerRepository(bunDB)
	} else {
		sessions = memory.NewSessionRepository()
		participants = memory.NewParticipantRepository()
		answers = memory.NewAnswerRepository()
	}

	hub := realtime.NewHub()
	rankingSvc := ranking.NewService(scoreStore, participants)

	scoringCfg := scoring.DefaultConfig()
	if cfg.Scoring.BonusFraction > 0 {
		scoringCfg.BonusFraction = cfg.Scoring.BonusFraction
	}

	serviceCfg := app.DefaultConfig()
	serviceCfg.NetworkBuffer = config.TTLDuration(cfg.Session.NetworkBuffer, serviceCfg.NetworkBuffer)
	serviceCfg.FeedbackDelay = config.TTLDuration(cfg.Session.FeedbackDelay, serviceCfg.FeedbackDelay)
	serviceCfg.LeaderboardHistoryTTL = config.TTLDuration(cfg.Session.HistoryTTL, serviceCfg.LeaderboardHistoryTTL)
	if cfg.Session.JoinCodeLength > 0 {
		serviceCfg.JoinCodeLength = cfg.Session.JoinCodeLength
	}

	service := app.NewSessionService(serviceCfg, app.Deps{
		Sessions:     sessions,
		Participants: participants,
		Answers:      answers,
		Quizzes:      quizRepo,
		State:        stateStore,
		Ranking:      rankingSvc,
		Gateway:      hub,
		Scheduler:    sched.NewTimerScheduler(),
		Scorer:       scoring.NewEngine(scoringCfg),
	})

	wsHandler := transport.NewWSHandler(service, hub)
	apiHandler := transport.NewAPIHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/sessions", apiHandler.CreateSession)
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting session service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuizzes seeds a demo quiz for redis/postgres-less runs.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Warm-up",
			Questions: []domain.Question{
				{
					ID:     "q1",
					Prompt: "What is 2 + 2?",
					Type:   domain.TypeSingleChoice,
					Options: []domain.Option{
						{ID: "o1", Text: "3", Correct: false},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5", Correct: false},
					},
					Points:    100,
					TimeLimit: 10,
				},
				{
					ID:     "q2",
					Prompt: "The capital of France is Paris.",
					Type:   domain.TypeTrueFalse,
					Options: []domain.Option{
						{ID: "true", Text: "True", Correct: true},
						{ID: "false", Text: "False", Correct: false},
					},
					Points:    100,
					TimeLimit: 10,
				},
			},
		},
	}
}
