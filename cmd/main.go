package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dosada05/pong-arena/config"
	"github.com/Dosada05/pong-arena/db"
	"github.com/Dosada05/pong-arena/events"
	"github.com/Dosada05/pong-arena/handlers"
	"github.com/Dosada05/pong-arena/middleware"
	"github.com/Dosada05/pong-arena/repositories"
	api "github.com/Dosada05/pong-arena/routes"
	"github.com/Dosada05/pong-arena/services"
	"github.com/Dosada05/pong-arena/storage"
	"github.com/Dosada05/pong-arena/ws"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

const shutdownTimeout = 15 * time.Second

type repos struct {
	matches     repositories.MatchRepository
	tournaments repositories.TournamentRepository
	rooms       repositories.RoomRepository
	tx          repositories.TxRunner
}

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	// Настройка логгера
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.Int("port", cfg.ServerPort), slog.Int("tick_rate_hz", cfg.TickRateHz))

	if err := run(cfg, logger); err != nil {
		logger.Error("application failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("application exited")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rule, err := config.LoadRules(cfg.RulesFile)
	if err != nil {
		return fmt.Errorf("failed to load match rules: %w", err)
	}

	// Подключение к базе данных
	store, closeDB, err := openRepositories(cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	snapshots, sweeper, closeRedis, err := openSnapshotStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	sinks, closeSinks, err := openResultSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	// Инициализация WebSocket Hub
	hub := ws.NewHub(logger.With(slog.String("component", "hub")))

	// Инициализация сервисов
	engine := services.NewMatchEngine(store.matches, hub, rule, logger.With(slog.String("component", "engine")),
		services.WithTickRate(cfg.TickRateHz),
		services.WithSnapshotStore(snapshots),
	)
	orchestrator := services.NewTournamentOrchestrator(
		store.tournaments,
		store.matches,
		store.rooms,
		store.tx,
		hub,
		logger.With(slog.String("component", "orchestrator")),
		services.WithResultSinks(sinks...),
	)
	roomService := services.NewRoomService(
		store.rooms,
		store.matches,
		store.tx,
		orchestrator,
		engine,
		hub,
		cfg.MaxRoomPlayers,
		logger.With(slog.String("component", "rooms")),
	)
	logger.Info("services initialized")

	go orchestrator.Run(ctx, engine.Finished())
	go drainEngineErrors(ctx, engine, logger)

	// Запуск планировщика фоновых задач
	janitor, err := services.NewJanitor(services.JanitorConfig{
		RoomIdleTimeout: cfg.RoomIdleTimeout,
		StaleAfter:      ws.StaleAfter,
	}, hub, roomService, sweeper, logger.With(slog.String("component", "janitor")))
	if err != nil {
		return err
	}
	janitor.Start()
	defer func() {
		if err := janitor.Shutdown(); err != nil {
			logger.Error("failed to stop janitor", slog.Any("error", err))
		}
	}()

	// Инициализация обработчиков HTTP
	auth := middleware.NewAuthenticator(cfg.JWTSecretKey)
	router := chi.NewRouter()
	api.SetupRoutes(router, api.Handlers{
		Auth:       auth,
		Room:       handlers.NewRoomHandler(roomService),
		Match:      handlers.NewMatchHandler(orchestrator, engine),
		Tournament: handlers.NewTournamentHandler(orchestrator),
		Admin:      handlers.NewAdminHandler(engine, logger),
		WebSocket: handlers.NewWebSocketHandler(hub, auth, roomService, engine, orchestrator, snapshots,
			cfg.CORSAllowedOrigins, logger.With(slog.String("component", "ws"))),
	}, cfg.CORSAllowedOrigins)
	logger.Info("routes configured")

	// Настройка и запуск HTTP-сервера
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	// Ожидание сигнала завершения
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("shutting down server", slog.Duration("timeout", shutdownTimeout))
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("failed to force close server", slog.Any("error", closeErr))
		}
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Error("match engine did not stop in time", slog.Any("error", err))
	}
	if err := orchestrator.WaitSinks(shutdownCtx); err != nil {
		logger.Warn("result sinks still running at shutdown", slog.Any("error", err))
	}
	logger.Info("server shutdown complete")
	return nil
}

func openRepositories(cfg *config.Config, logger *slog.Logger) (repos, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL is not set, using in-memory repositories")
		return repos{
			matches:     repositories.NewMemoryMatchRepository(),
			tournaments: repositories.NewMemoryTournamentRepository(),
			rooms:       repositories.NewMemoryRoomRepository(),
			tx:          repositories.NewMemoryTxRunner(),
		}, func() {}, nil
	}

	if err := db.Migrate(cfg.DatabaseURL, logger); err != nil {
		return repos{}, nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	dbConn, err := db.Connect(cfg.DatabaseURL, 5*time.Second, logger)
	if err != nil {
		return repos{}, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.Info("database connection established")

	closeDB := func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		} else {
			logger.Info("database connection closed")
		}
	}
	return postgresRepos(dbConn), closeDB, nil
}

func postgresRepos(dbConn *sql.DB) repos {
	return repos{
		matches:     repositories.NewPostgresMatchRepository(dbConn),
		tournaments: repositories.NewPostgresTournamentRepository(dbConn),
		rooms:       repositories.NewPostgresRoomRepository(dbConn),
		tx:          repositories.NewSQLTxRunner(dbConn),
	}
}

// openSnapshotStore returns the snapshot store and, for the in-memory one,
// the sweeper the janitor runs.
func openSnapshotStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.SnapshotStore, services.Sweeper, func(), error) {
	if cfg.RedisURL == "" {
		logger.Warn("REDIS_URL is not set, keeping match snapshots in memory")
		mem := storage.NewMemorySnapshotStore(storage.DefaultSnapshotTTL)
		return mem, mem, func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info("redis snapshot store connected")

	closeRedis := func() {
		if err := client.Close(); err != nil {
			logger.Error("failed to close redis client", slog.Any("error", err))
		}
	}
	return storage.NewRedisSnapshotStore(client, storage.DefaultSnapshotTTL), nil, closeRedis, nil
}

func openResultSinks(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]services.ResultSink, func(), error) {
	sinks := []services.ResultSink{services.NewLogSink(logger)}
	var closers []func()

	if cfg.NATSURL != "" {
		publisher, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSResultsSubject, logger)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, publisher)
		closers = append(closers, func() {
			if err := publisher.Close(); err != nil {
				logger.Error("failed to close nats publisher", slog.Any("error", err))
			}
		})
	}

	if cfg.R2Enabled() {
		// Инициализация загрузчика файлов (Cloudflare R2)
		uploader, err := storage.NewCloudflareR2Uploader(ctx, storage.CloudflareR2UploaderConfig{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicBaseURL:   cfg.R2PublicBaseURL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize Cloudflare R2 uploader: %w", err)
		}
		sinks = append(sinks, storage.NewResultArchive(uploader))
		logger.Info("Cloudflare R2 result archive enabled")
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	return sinks, closeAll, nil
}

// drainEngineErrors logs escalated persistence failures until shutdown.
func drainEngineErrors(ctx context.Context, engine *services.MatchEngine, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-engine.Errors():
			logger.Error("sustained match persistence failure", slog.Any("error", err))
		}
	}
}
