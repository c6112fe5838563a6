package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/railgunhq/railgun/internal/config"
	"github.com/railgunhq/railgun/internal/delivery/httpd"
	"github.com/railgunhq/railgun/internal/homework"
	"github.com/railgunhq/railgun/internal/host"
	"github.com/railgunhq/railgun/internal/reporting"
	"github.com/railgunhq/railgun/internal/repository"
	"github.com/railgunhq/railgun/internal/service"
	"github.com/railgunhq/railgun/internal/storage"
	"github.com/railgunhq/railgun/internal/userhost"
	"github.com/railgunhq/railgun/internal/worker"
	"github.com/railgunhq/railgun/internal/worker/queue"
)

// App assembles the whole runner: the HTTP API, the queue consumers and
// the execution pipeline, sharing one configuration.
type App struct {
	server       *http.Server
	logger       zerolog.Logger
	config       *config.Config
	db           *sql.DB
	handinWorker worker.HandinWorker
	rabbitMQRepo repository.RabbitMQRepository
}

func New(cfg *config.Config, log zerolog.Logger, db *sql.DB) (*App, error) {
	rabbitMQRepo, err := repository.NewRabbitMQRepository(cfg.RabbitMQ.URL, log)
	if err != nil {
		return nil, err
	}

	for _, q := range []string{cfg.RabbitMQ.DefaultQueue, cfg.RabbitMQ.NetAPIQueue} {
		if err := rabbitMQRepo.SetupQueue(cfg.RabbitMQ.Exchange, q, q); err != nil {
			return nil, err
		}
	}

	publisher := queue.NewRabbitMQPublisher(rabbitMQRepo.Channel(), log)
	defaultConsumer := queue.NewRabbitMQConsumer(
		rabbitMQRepo.Channel(),
		cfg.RabbitMQ.DefaultQueue,
		cfg.RabbitMQ.ConsumerTag+"-default",
		log,
	)
	netapiConsumer := queue.NewRabbitMQConsumer(
		rabbitMQRepo.Channel(),
		cfg.RabbitMQ.NetAPIQueue,
		cfg.RabbitMQ.ConsumerTag+"-netapi",
		log,
	)

	homeworks, err := homework.LoadSet(cfg.Runner.HomeworkDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load homework definitions: %w", err)
	}
	log.Info().Int("count", len(homeworks.Items())).
		Str("dir", cfg.Runner.HomeworkDir).Msg("Homework definitions loaded")

	store, err := storage.NewMinIOStore(cfg.Storage, log)
	if err != nil {
		return nil, err
	}

	handinRepo := repository.NewHandinRepository(db, log)
	handinService := service.NewHandinService(handinRepo, log)
	submissionService := service.NewSubmissionService(
		homeworks,
		handinRepo,
		store,
		publisher,
		log,
		service.SubmissionConfig{
			Exchange:     cfg.RabbitMQ.Exchange,
			DefaultQueue: cfg.RabbitMQ.DefaultQueue,
			NetAPIQueue:  cfg.RabbitMQ.NetAPIQueue,
		},
	)

	reporter := reporting.NewClient(cfg.Runner.APIBaseURL, cfg.Runner.CommKey, 30*time.Second, log)

	if err := os.MkdirAll(cfg.Runner.TempDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	perm := &worker.PermissionCheck{}
	perm.Run(log, cfg.Runner.HomeworkDir, cfg.Runner.InstallRoot)

	var accounts host.AccountLeaser
	if cfg.UserHost.Address != "" {
		accounts = userhost.NewClient(cfg.UserHost.Address, cfg.UserHost.ClientTimeout)
	}

	executor := worker.NewExecutor(
		homeworks,
		store,
		reporter,
		perm,
		host.Options{
			TempRoot:        cfg.Runner.TempDir,
			InstallRoot:     cfg.Runner.InstallRoot,
			APIBaseURL:      cfg.Runner.APIBaseURL,
			DefaultTimeout:  cfg.Runner.DefaultTimeout,
			MaxArchiveFiles: cfg.Runner.MaxArchiveFile,
			LeaseSeconds:    cfg.UserHost.LeaseSeconds,
			Accounts:        accounts,
			Logger:          log,
		},
		log,
	)

	workerPool := worker.NewWorkerPool(cfg.Runner.MaxWorkers, log)
	handinWorker := worker.NewHandinWorker(workerPool, defaultConsumer, netapiConsumer, executor, log)

	pgRepo := repository.NewPostgresRepository(db, log)
	handler := httpd.NewHandler(
		handinService,
		submissionService,
		cfg.Runner.CommKey,
		httpd.Health{
			PingDB:      pgRepo.Ping,
			PingMQ:      rabbitMQRepo.Ping,
			PingStorage: store.Ping,
			Stats:       handinWorker.GetStats,
			StartTime:   time.Now(),
		},
		log,
	)

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           cfg.CORS.MaxAge,
	}))

	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &App{
		server:       server,
		logger:       log,
		config:       cfg,
		db:           db,
		handinWorker: handinWorker,
		rabbitMQRepo: rabbitMQRepo,
	}, nil
}

func (a *App) Run() error {
	ctx := context.Background()
	if err := a.handinWorker.Start(ctx); err != nil {
		a.logger.Error().Err(err).Msg("Failed to start handin worker")
		return err
	}

	a.logger.Info().Msgf("Starting railgun on %s", a.config.Server.Address)
	return a.server.ListenAndServe()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info().Msg("Shutting down railgun...")

	if err := a.handinWorker.Stop(); err != nil {
		a.logger.Error().Err(err).Msg("Failed to stop handin worker")
	}

	if a.rabbitMQRepo != nil {
		if err := a.rabbitMQRepo.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close RabbitMQ connection")
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close database connection")
		}
	}

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error().Err(err).Msg("Failed to shutdown HTTP server")
		return err
	}

	a.logger.Info().Msg("Railgun stopped")
	return nil
}
