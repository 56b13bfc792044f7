package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"wa-bridge/internal/config"
	mediadomain "wa-bridge/internal/domain/media"
	sessiondomain "wa-bridge/internal/domain/session"
	"wa-bridge/internal/infrastructure/logger"
	"wa-bridge/internal/infrastructure/notify"
	"wa-bridge/internal/infrastructure/observability"
	"wa-bridge/internal/infrastructure/storage"
	"wa-bridge/internal/interfaces/httpserver"
	"wa-bridge/internal/interfaces/httpserver/handlers"
)

type Application struct {
	httpServer *httpserver.HttpServer
	log        zerolog.Logger
}

func NewApplication(httpServer *httpserver.HttpServer, log zerolog.Logger) *Application {
	return &Application{
		httpServer: httpServer,
		log:        log,
	}
}

func (a *Application) Start(ctx context.Context) error {
	return a.httpServer.Run(ctx)
}

// store is the common surface of the storage backends.
type store interface {
	sessiondomain.Store
	mediadomain.Storage
	Health(ctx context.Context) error
}

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.Setup(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize observability")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	storageClient, err := newStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize storage")
	}
	if err := storageClient.Health(ctx); err != nil {
		log.Warn().Err(err).Msg("storage health check failed; persistence will degrade until the store recovers")
	}

	webhook := notify.NewWebhook(cfg, log)
	sessionService := sessiondomain.NewService(cfg, storageClient, webhook, log)
	mediaService := mediadomain.NewService(cfg, storageClient, log)

	// Restore must complete before the messaging session may read its
	// local directory; the session runner is launched externally and
	// gates on /readyz.
	sessionService.Restore(ctx)
	sessionService.AfterStart(ctx)
	defer sessionService.Close()

	provider := handlers.NewProvider(cfg, sessionService, mediaService, log)
	httpServer := httpserver.New(cfg, log, provider, sessionService)
	app := NewApplication(httpServer, log)

	if err := app.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("application stopped with error")
	}

	// One last snapshot so a clean shutdown never loses session state
	// written since the previous persist.
	persistCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	sessionService.Persist(persistCtx)

	log.Info().Msg("application exited cleanly")
}

func newStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store, error) {
	if cfg.IsLocalStorage() {
		return storage.NewLocalStorage(cfg.LocalStoragePath, log)
	}
	return storage.NewS3Storage(ctx, cfg, log)
}

func loadEnvFiles() {
	paths := []string{".env", "../.env"}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
