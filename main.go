package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/railgunhq/railgun/internal/app"
	"github.com/railgunhq/railgun/internal/config"
	"github.com/railgunhq/railgun/internal/database"
	"github.com/railgunhq/railgun/internal/userhost"
	"github.com/railgunhq/railgun/pkg/logger"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "migrate":
			direction := "up"
			if len(os.Args) > 2 {
				direction = os.Args[2]
			}
			runMigrations(direction)
			return
		case "userhost":
			runUserHost()
			return
		}
	}

	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log = logger.NewWithConfig(cfg.Logging.Level, cfg.Logging.Pretty, cfg.Logging.NoColor)

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	log.Info().Msg("Database connection established")

	application, err := app.New(cfg, log, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	go func() {
		if err := application.Run(); err != nil {
			log.Fatal().Err(err).Msg("Failed to run application")
		}
	}()

	log.Info().Msgf("Railgun started on %s", cfg.Server.Address)

	<-ctx.Done()
	log.Info().Msg("Shutting down railgun...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown gracefully")
	}

	log.Info().Msg("Railgun stopped")
}

func runMigrations(direction string) {
	log := logger.New()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	migrator, err := database.NewMigrator(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create migrator")
	}

	switch direction {
	case "up":
		if err := migrator.Up(); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
		log.Info().Msg("Migrations applied successfully")
	case "down":
		if err := migrator.Down(); err != nil {
			log.Fatal().Err(err).Msg("Failed to rollback migrations")
		}
		log.Info().Msg("Migrations rolled back successfully")
	default:
		log.Fatal().Msg("Invalid migration direction. Use 'up' or 'down'")
	}
}

// runUserHost serves the execution account lease protocol standalone, so
// the account pool can live on the machine that owns the accounts.
func runUserHost() {
	log := logger.New()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.UserHost.Address == "" {
		log.Fatal().Msg("userhost.address is not configured")
	}
	if len(cfg.UserHost.Users) == 0 {
		log.Fatal().Msg("userhost.users is empty")
	}

	srv := userhost.NewServer(userhost.NewPool(cfg.UserHost.Users), log)
	if err := srv.Listen(cfg.UserHost.Address); err != nil {
		log.Fatal().Err(err).Msg("Failed to listen")
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	log.Info().Str("address", srv.Addr()).
		Int("accounts", len(cfg.UserHost.Users)).
		Msg("User host started")

	if err := srv.Serve(); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("User host failed")
	}

	log.Info().Msg("User host stopped")
}
