package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	appconfig "github.com/wolfman30/clinic-booking-ai/internal/config"
	conversationworker "github.com/wolfman30/clinic-booking-ai/internal/worker/conversation"
	"github.com/wolfman30/clinic-booking-ai/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting conversation worker", "env", cfg.Env, "workers", cfg.WorkerCount)
	if err := conversationworker.Run(ctx, cfg, logger); err != nil {
		logger.Error("conversation worker failed", "error", err)
		os.Exit(1)
	}
}
