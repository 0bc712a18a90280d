package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/safetransit/internal/app"
	"github.com/angelmondragon/safetransit/pkg/config"
	"github.com/angelmondragon/safetransit/pkg/logger"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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
	})

	application, err := app.Build(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap application", err)
		os.Exit(1)
	}

	logg.Info(ctx, "starting cron worker")
	err = application.Scheduler.Start(ctx)
	if err == nil {
		<-ctx.Done()
		logg.Info(ctx, "cron worker shutting down gracefully")
	} else {
		logg.Error(ctx, "failed to start scheduler", err)
	}
	if cerr := application.Close(); cerr != nil {
		logg.Error(context.Background(), "error releasing resources", cerr)
	}
	if err != nil {
		os.Exit(1)
	}
}
