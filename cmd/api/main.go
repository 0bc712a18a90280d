package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/safetransit/internal/app"
	"github.com/angelmondragon/safetransit/pkg/config"
	"github.com/angelmondragon/safetransit/pkg/logger"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Env:         cfg.App.Env,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"gateway":     cfg.Payments.Gateway,
	})

	application, err := app.Build(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap application", err)
		os.Exit(1)
	}

	var startScheduler func(context.Context) error
	if cfg.FeatureFlags.EmbedScheduler {
		startScheduler = application.Scheduler.Start
	}
	if err := run(ctx, cfg, logg, application, startScheduler); err != nil {
		logg.Error(ctx, "api server failed", err)
		os.Exit(1)
	}
}

type application interface {
	Router() http.Handler
	Close() error
}

// run serves the API until ctx ends or the server fails. The application is
// closed on every return path.
func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, application application, startScheduler func(context.Context) error) error {
	defer func() {
		if err := application.Close(); err != nil {
			logg.Error(context.Background(), "error releasing resources", err)
		}
	}()

	if startScheduler != nil {
		if err := startScheduler(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	server := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           application.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server on :"+cfg.App.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("api server stopped unexpectedly: %w", err)
		}
	case <-ctx.Done():
	}

	logg.Info(ctx, "api server shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "graceful shutdown failed", err)
	}
	return nil
}
