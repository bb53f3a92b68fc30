package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/clinic-booking-ai/cmd/mainconfig"
	"github.com/wolfman30/clinic-booking-ai/internal/api/router"
	appbootstrap "github.com/wolfman30/clinic-booking-ai/internal/app/bootstrap"
	"github.com/wolfman30/clinic-booking-ai/internal/bookings"
	"github.com/wolfman30/clinic-booking-ai/internal/clinic"
	appconfig "github.com/wolfman30/clinic-booking-ai/internal/config"
	"github.com/wolfman30/clinic-booking-ai/internal/conversation"
	httpmiddleware "github.com/wolfman30/clinic-booking-ai/internal/http/middleware"
	"github.com/wolfman30/clinic-booking-ai/internal/messaging"
	"github.com/wolfman30/clinic-booking-ai/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking-ai/pkg/logging"
)

type appMetrics struct {
	registry  *prometheus.Registry
	handler   http.Handler
	messaging *metrics.MessagingMetrics
	bookings  *metrics.BookingMetrics
}

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic-booking-ai API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"reply_mode", cfg.ReplyMode,
		"store_backend", cfg.StoreBackend,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if dbPool != nil {
		defer dbPool.Close()
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	m := setupMetrics()

	redisClient := appbootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}

	dialogue, err := appbootstrap.BuildDialogue(ctx, cfg, dbPool, redisClient, awsCfg, m.bookings, logger)
	if err != nil {
		logger.Error("failed to configure dialogue", "error", err)
		os.Exit(1)
	}
	defer func() { _ = dialogue.Close() }()

	dedupe, err := appbootstrap.BuildDedupe(cfg, dbPool, awsCfg, logger)
	if err != nil {
		logger.Error("failed to configure dedupe", "error", err)
		os.Exit(1)
	}

	handlerOpts := []messaging.HandlerOption{
		messaging.WithWebhookAuth(cfg.TwilioWebhookSecret, cfg.PublicBaseURL),
		messaging.WithWebhookMetrics(m.messaging),
	}
	if dialogue.Stores.Messages != nil {
		handlerOpts = append(handlerOpts, messaging.WithMessageLog(dialogue.Stores.Messages))
	}
	if dedupe != nil {
		handlerOpts = append(handlerOpts, messaging.WithProcessedStore(dedupe))
	}
	if cfg.TwilioWebhookSecret == "" {
		logger.Warn("TWILIO_WEBHOOK_SECRET not set; webhook signatures are not verified")
	}

	var inlineWorker *conversation.Worker
	if cfg.ReplyMode == messaging.ModeAsync {
		publisher, worker, err := setupAsync(ctx, cfg, awsCfg, dialogue.Orchestrator, m, dedupe, logger)
		if err != nil {
			logger.Error("failed to configure async replies", "error", err)
			os.Exit(1)
		}
		handlerOpts = append(handlerOpts, messaging.WithAsyncPublisher(publisher))
		inlineWorker = worker
	}
	messagingHandler := messaging.NewHandler(dialogue.Orchestrator, logger, handlerOpts...)

	statsRepo := setupStatsRepository(cfg.DatabaseURL, logger)
	var statsHandler *clinic.StatsHandler
	var dashboardHandler *clinic.DashboardHandler
	if statsRepo != nil {
		statsHandler = clinic.NewStatsHandler(statsRepo, logger)
		dashboardHandler = clinic.NewDashboardHandler(statsRepo, m.registry, logger)
	} else {
		statsHandler = clinic.NewStatsHandler(nil, logger)
		dashboardHandler = clinic.NewDashboardHandler(nil, m.registry, logger)
	}

	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go limiter.Run(ctx)

	if cfg.AdminJWTSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET not set; admin routes are disabled")
	}

	// Setup router
	routerCfg := &router.Config{
		Logger:              logger,
		MessagingHandler:    messagingHandler,
		ConversationHandler: conversation.NewHandler(dialogue.Orchestrator, logger),
		SlotsHandler:        bookings.NewHandler(dialogue.Stores.Bookings, appbootstrap.ScheduleTemplate(cfg), logger),
		StatsHandler:        statsHandler,
		DashboardHandler:    dashboardHandler,
		AdminAuthSecret:     cfg.AdminJWTSecret,
		MetricsHandler:      m.handler,
		WebhookLimiter:      limiter,
		Ready:               readiness(dbPool),
	}
	r := router.New(routerCfg)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	cancel()
	if inlineWorker != nil {
		inlineWorker.Wait()
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func setupMetrics() appMetrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return appMetrics{
		registry:  registry,
		handler:   promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		messaging: metrics.NewMessagingMetrics(registry),
		bookings:  metrics.NewBookingMetrics(registry),
	}
}

func connectPostgresPool(ctx context.Context, url string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(url) == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Warn("postgres ping failed; continuing", "error", err)
	}
	return pool
}

func setupStatsRepository(url string, logger *logging.Logger) *clinic.StatsRepository {
	if strings.TrimSpace(url) == "" {
		return nil
	}
	db, err := clinic.OpenStatsDB(url)
	if err != nil {
		logger.Warn("stats disabled", "error", err)
		return nil
	}
	return clinic.NewStatsRepository(db)
}

// setupAsync builds the queue publisher. With the in-memory queue the worker
// runs inside this process; with SQS it runs in cmd/conversation-worker.
func setupAsync(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, handler conversation.InboundHandler, m appMetrics, dedupe conversation.ProcessedEvents, logger *logging.Logger) (*conversation.Publisher, *conversation.Worker, error) {
	queue, err := appbootstrap.BuildQueue(cfg, awsCfg)
	if err != nil {
		return nil, nil, err
	}
	publisher := conversation.NewPublisher(queue, logger)
	if !cfg.UseMemoryQueue {
		return publisher, nil, nil
	}

	sender, reason := appbootstrap.BuildReplySender(cfg, m.messaging, logger)
	if sender == nil {
		return nil, nil, fmt.Errorf("async replies need a sender: %s", reason)
	}
	opts := []conversation.WorkerOption{
		conversation.WithWorkerCount(cfg.WorkerCount),
		conversation.WithMessagingMetrics(m.messaging),
	}
	if dedupe != nil {
		opts = append(opts, conversation.WithProcessedEventsStore(dedupe))
	}
	worker := conversation.NewWorker(handler, queue, sender, logger, opts...)
	worker.Start(ctx)
	logger.Info("inline conversation workers started", "workers", cfg.WorkerCount)
	return publisher, worker, nil
}

func readiness(pool *pgxpool.Pool) func(ctx context.Context) error {
	if pool == nil {
		return nil
	}
	return pool.Ping
}
