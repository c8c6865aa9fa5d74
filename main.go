package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"pdfchat/internal/app"
	"pdfchat/internal/config"
	"pdfchat/internal/logger"
)

func main() {
	slog.SetDefault(slog.New(logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil))))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("app exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	a, err := app.New(cfg, deps)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
