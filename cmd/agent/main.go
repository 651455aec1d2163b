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
	"github.com/soloras/hub-agent/internal/credstore"
	"github.com/soloras/hub-agent/internal/handler"
	"github.com/soloras/hub-agent/internal/health"
	"github.com/soloras/hub-agent/internal/hubapi"
	"github.com/soloras/hub-agent/internal/middleware"
	"github.com/soloras/hub-agent/internal/pairing"
	"github.com/soloras/hub-agent/internal/shell"
	"github.com/soloras/hub-agent/internal/sse"
	"github.com/soloras/hub-agent/internal/vault"
)

const (
	controlBodyLimit    = 64 << 10
	pairingStartsPerMin = 20
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("failed to create data dir")
	}

	var v vault.Vault = vault.Unavailable{}
	if cfg.VaultMode == config.VaultModeAuto {
		v = vault.NewKeyFileVault(vault.Options{
			SecretHex: cfg.EncryptionKey,
			KeyPath:   cfg.VaultKeyPath(),
		})
	}
	log.Info().Bool("vault", v.Available()).Str("dataDir", cfg.DataDir).Msg("credential store ready")

	store := credstore.New(cfg.TokenPath(), v)

	installationID, err := credstore.InstallationID(cfg.InstallationIDPath())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve installation id")
	}

	api := hubapi.NewClient(cfg.APIBaseURL, cfg.HTTPTimeout(), installationID, store)
	probe := hubapi.NewLivenessProbe(api, cfg.LivenessMode)

	pairingClient := pairing.New(api, cfg.PairingPollInterval())
	monitor := health.NewMonitor(probe, store, cfg.HealthInterval(), cfg.HealthFailSafe())

	broker := sse.NewBroker()

	agent := shell.New(store, pairingClient, monitor, broker)
	agent.OnRestart(probe.Forget)
	agent.Start()
	defer agent.Stop()

	controlHandler := handler.NewControlHandler(agent)
	eventsHandler := handler.NewEventsHandler(broker, agent)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(controlBodyLimit)
	pairingLimit := middleware.NewRateLimitMiddleware(pairingStartsPerMin, func(*http.Request) string {
		return "pairing-start"
	})

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", controlHandler.Health)
	r.Mount("/v1", controlHandler.Routes(eventsHandler, pairingLimit.Handler))

	server := &http.Server{
		Addr:         cfg.ControlAddr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().
			Str("addr", cfg.ControlAddr()).
			Str("apiBaseUrl", cfg.APIBaseURL).
			Str("route", string(agent.Route())).
			Msg("starting control api")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down agent")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	broker.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("agent stopped")
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
