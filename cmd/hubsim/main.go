// Command hubsim is a reference backend for the kiosk pairing and liveness
// protocol, for local development and integration testing.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/soloras/hub-agent/internal/config"
	"github.com/soloras/hub-agent/internal/database"
	"github.com/soloras/hub-agent/internal/handler"
	"github.com/soloras/hub-agent/internal/jobs"
	"github.com/soloras/hub-agent/internal/middleware"
	"github.com/soloras/hub-agent/internal/redis"
	"github.com/soloras/hub-agent/internal/repository"
	"github.com/soloras/hub-agent/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.LoadSim()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	if err := db.Migrate(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	sessionRepo := repository.NewPairingSessionRepository(db.DB)
	hubRepo := repository.NewHubRepository(db.DB)
	deviceRepo := repository.NewDeviceRepository(db.DB)

	pairingService := service.NewPairingService(sessionRepo, hubRepo, deviceRepo, db, cfg.EncryptionKey, cfg.PairingTTL())
	hubService := service.NewHubService(hubRepo, redisClient)

	deviceAuthMiddleware := middleware.NewDeviceAuthMiddleware(deviceRepo)
	sessionLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client, cfg.SessionRateLimitPerMin, "pairing-session")
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)

	pairingHandler := handler.NewPairingHandler(pairingService)
	hubHandler := handler.NewHubHandler(hubService, db)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", hubHandler.Health)
	r.Mount("/pairing", pairingHandler.Routes(sessionLimitMiddleware.Handler, deviceAuthMiddleware.Handler))
	r.Mount("/hub", hubHandler.Routes(deviceAuthMiddleware.Handler))

	cleanupJob := jobs.NewCleanupJob(sessionRepo, config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting hubsim")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down hubsim")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("hubsim stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
