package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"taskboard/internal/domain/models"
	"taskboard/internal/logging"
	"taskboard/internal/ratelimit"
	"taskboard/internal/server"
	"taskboard/internal/service"
	"taskboard/repository/db"
	"taskboard/repository/inmemory"
)

func main() {
	cfg := server.ReadConfig()
	logging.Init(cfg.LogLevel)

	log.Info().Msg("starting taskboard service")

	if err := db.Migration(cfg.DBStr, cfg.MigratePath); err != nil {
		log.Warn().Err(err).Msg("migrations not applied")
	} else {
		log.Info().Msg("migrations applied")
	}

	var taskRepo service.TaskRepository
	var userRepo service.UserRepository
	var pinger server.Pinger

	storage, err := db.NewStorage(context.Background(), cfg.DBStr, cfg.DBDebug)
	if err != nil {
		log.Warn().Err(err).Msg("database unreachable, falling back to in-memory storage")
		inmem := inmemory.NewStorage()
		seedDevUsers(inmem)
		taskRepo, userRepo, pinger = inmem, inmem, inmem
	} else {
		defer storage.Close()
		taskRepo, userRepo, pinger = storage, storage, storage
	}

	var limiter *ratelimit.Limiter
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		limiter = ratelimit.NewLimiter(client, "ratelimit:", cfg.RateLimit, time.Duration(cfg.RateWindow)*time.Second)
		log.Info().Str("addr", cfg.RedisAddr).Msg("rate limiter enabled")
	}

	api := server.NewTaskAPI(
		service.NewAuthService(userRepo),
		service.NewTaskService(taskRepo),
		pinger,
		limiter,
		cfg,
	)
	if api == nil {
		log.Fatal().Msg("failed to initialize API")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Int("port", cfg.Port).Msg("service listening")
		if err := api.Start(); err != nil {
			serverErr <- err
		}
	}()

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := api.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
		} else {
			log.Info().Msg("graceful shutdown complete")
		}
	case err := <-serverErr:
		log.Error().Err(err).Msg("server error")
	}

	log.Info().Msg("service stopped")
}

// seedDevUsers provisions fixed credentials for the in-memory fallback so
// the API stays usable without a database.
func seedDevUsers(storage *inmemory.Storage) {
	adminHash, _ := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.DefaultCost)
	userHash, _ := bcrypt.GenerateFromPassword([]byte("user123"), bcrypt.DefaultCost)

	storage.SeedUser(models.User{
		Email:    "admin@example.com",
		Password: string(adminHash),
		Role:     models.RoleAdmin,
		APIToken: "dev-admin-token",
	})
	storage.SeedUser(models.User{
		Email:    "user@example.com",
		Password: string(userHash),
		Role:     models.RoleUser,
		APIToken: "dev-user-token",
	})

	log.Info().Msg("seeded development users")
}
