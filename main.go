package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
	_ "time/tzdata"

	gorillaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"strictHabitAPI/handlers"
	"strictHabitAPI/internal/agent"
	"strictHabitAPI/internal/cache"
	"strictHabitAPI/internal/chain"
	"strictHabitAPI/internal/metrics"
	"strictHabitAPI/internal/tracing"
	"strictHabitAPI/middleware"
	"strictHabitAPI/services"
)

var (
	logger         *zap.Logger
	dbPool         *pgxpool.Pool
	escrow         *chain.EscrowClient
	agentClient    *agent.Client
	historyStore   services.HistoryStore
	completedToday *cache.CompletedToday

	challengeService *services.ChallengeService
	checkInService   *services.CheckInService
	readingService   *services.ReadingService
	accountService   *services.AccountService
	syncWorker       *services.SyncWorker

	shutdownTracing func(context.Context) error
)

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	if os.Getenv("LOG_LEVEL") == "debug" {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return l
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func init() {
	envErr := godotenv.Load()
	logger = newLogger()
	if envErr != nil {
		logger.Info("No .env file found")
	}

	rpcURL := os.Getenv("RPC_URL")
	if rpcURL == "" {
		logger.Fatal("RPC_URL environment variable is not set")
	}
	agentURL := os.Getenv("AGENT_BASE_URL")
	if agentURL == "" {
		logger.Fatal("AGENT_BASE_URL environment variable is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var err error
	escrow, err = chain.Dial(ctx, chain.Config{
		RPCURL:             rpcURL,
		HabitEscrowAddress: os.Getenv("HABIT_ESCROW_ADDRESS"),
		StrictTokenAddress: os.Getenv("STRICT_TOKEN_ADDRESS"),
		PrivateKeyHex:      os.Getenv("WALLET_PRIVATE_KEY"),
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to chain", zap.Error(err))
	}
	if _, ok := escrow.Signer(); !ok {
		logger.Info("No WALLET_PRIVATE_KEY set, contract writes disabled")
	}

	agentRPS, _ := strconv.ParseFloat(envOr("AGENT_RPS", "10"), 64)
	agentClient, err = agent.NewClient(agent.Config{
		BaseURL:           agentURL,
		RequestsPerSecond: agentRPS,
		Burst:             int(agentRPS) + 1,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to configure agent client", zap.Error(err))
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		poolConfig, err := pgxpool.ParseConfig(dbURL)
		if err != nil {
			logger.Fatal("Failed to parse database URL", zap.Error(err))
		}
		poolConfig.MaxConns = 10
		poolConfig.MinConns = 2
		poolConfig.MaxConnLifetime = time.Hour
		poolConfig.MaxConnIdleTime = 30 * time.Minute
		poolConfig.HealthCheckPeriod = time.Minute

		dbPool, err = pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			logger.Fatal("Failed to create connection pool", zap.Error(err))
		}
		if err := dbPool.Ping(ctx); err != nil {
			logger.Fatal("Failed to ping database", zap.Error(err))
		}

		pgHistory := services.NewHistoryService(dbPool)
		if err := pgHistory.EnsureSchema(ctx); err != nil {
			logger.Fatal("Failed to prepare database schema", zap.Error(err))
		}
		historyStore = pgHistory
		logger.Info("Successfully connected to database")
	} else {
		historyStore = services.NewMemoryHistoryStore()
		logger.Warn("DATABASE_URL not set, categories and history are kept in memory")
	}

	loc, err := time.LoadLocation(envOr("CHECKIN_TIMEZONE", "Asia/Shanghai"))
	if err != nil {
		logger.Fatal("Invalid CHECKIN_TIMEZONE", zap.Error(err))
	}
	completedToday = cache.NewCompletedToday(loc, time.Now)

	syncInterval, err := time.ParseDuration(envOr("SYNC_INTERVAL", "15m"))
	if err != nil {
		logger.Fatal("Invalid SYNC_INTERVAL", zap.Error(err))
	}

	challengeService = services.NewChallengeService(escrow, historyStore, completedToday, logger)
	checkInService = services.NewCheckInService(challengeService, agentClient, completedToday, historyStore, logger)
	readingService = services.NewReadingService(challengeService, agentClient, completedToday, historyStore, logger)
	accountService = services.NewAccountService(agentClient, logger)
	syncWorker = services.NewSyncWorker(checkInService, completedToday, historyStore, services.SyncConfig{Interval: syncInterval}, logger)

	shutdownTracing, err = tracing.Init(ctx, tracing.Config{
		ServiceName:  "strict-habit-api",
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Insecure:     os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
	})
	if err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
	}

	metrics.Register(prometheus.DefaultRegisterer)
	middleware.InitPrometheus(prometheus.DefaultRegisterer)
}

func main() {
	defer logger.Sync()
	defer func() {
		syncWorker.Stop()
		escrow.Close()
		if dbPool != nil {
			logger.Info("Closing database connection pool...")
			dbPool.Close()
		}
	}()

	challengeHandler := handlers.NewChallengeHandler(challengeService)
	checkInHandler := handlers.NewCheckInHandler(checkInService, readingService)
	accountHandler := handlers.NewAccountHandler(accountService)

	checks := map[string]handlers.Pinger{"chain": escrow}
	if dbPool != nil {
		checks["database"] = dbPool
	}
	healthHandler := handlers.NewHealthHandler(checks)

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	sessionMaxAge, err := time.ParseDuration(envOr("SESSION_MAX_AGE", "5m"))
	if err != nil {
		logger.Fatal("Invalid SESSION_MAX_AGE", zap.Error(err))
	}
	walletAuth := middleware.NewWalletAuth(sessionMaxAge)

	limiter := middleware.NewRateLimiter(5, 30)
	go limiter.CleanupVisitors(rootCtx)

	r := mux.NewRouter()
	r.Use(limiter.Middleware)
	r.Use(middleware.MonitorMiddleware)
	r.Use(middleware.TracingMiddleware)

	r.Handle("/metrics", middleware.BasicAuthMiddleware(os.Getenv("METRICS_USER"), os.Getenv("METRICS_PASS"))(promhttp.Handler()))
	r.HandleFunc("/health", healthHandler.Health).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/rewards/estimate", challengeHandler.EstimateReward).Methods("GET")

	protected := api.PathPrefix("").Subrouter()
	protected.Use(walletAuth.Middleware, middleware.TrackSessions(syncWorker))
	handlers.RegisterRoutes(protected, challengeHandler, checkInHandler, accountHandler)

	corsHandler := gorillaHandlers.CORS(
		gorillaHandlers.AllowedOrigins([]string{"*"}),
		gorillaHandlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		gorillaHandlers.AllowedHeaders([]string{
			"Content-Type", middleware.WalletHeader, middleware.SignatureHeader, middleware.TimestampHeader,
			"traceparent", "tracestate",
		}),
		gorillaHandlers.ExposedHeaders([]string{"Content-Length"}),
	)

	port := ":" + envOr("PORT", "3333")

	server := http.Server{
		Addr:         port,
		Handler:      corsHandler(r),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 4 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Starting server", zap.String("addr", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Error starting server", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Got signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("Trace exporter shutdown error", zap.Error(err))
	}

	logger.Info("Server shutdown complete")
}
