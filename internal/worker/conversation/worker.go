package conversationworker

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/clinic-booking-ai/cmd/mainconfig"
	appbootstrap "github.com/wolfman30/clinic-booking-ai/internal/app/bootstrap"
	appconfig "github.com/wolfman30/clinic-booking-ai/internal/config"
	"github.com/wolfman30/clinic-booking-ai/internal/conversation"
	"github.com/wolfman30/clinic-booking-ai/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking-ai/pkg/logging"
)

// Run starts the async conversation worker and blocks until ctx is canceled.
func Run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	if cfg == nil {
		return fmt.Errorf("conversation worker requires config")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if cfg.UseMemoryQueue {
		return fmt.Errorf("conversation worker cannot run when USE_MEMORY_QUEUE=true; run inline workers via the API process instead")
	}

	dbPool, err := appbootstrap.BuildPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("worker failed to connect to postgres: %w", err)
	}
	if dbPool != nil {
		defer dbPool.Close()
	}

	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	queue, err := appbootstrap.BuildQueue(cfg, awsConfig)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	bookingMetrics := metrics.NewBookingMetrics(registry)
	messagingMetrics := metrics.NewMessagingMetrics(registry)

	redisClient := appbootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	} else {
		logger.Warn("redis unavailable; session locks are local to this worker")
	}

	dialogue, err := appbootstrap.BuildDialogue(ctx, cfg, dbPool, redisClient, awsConfig, bookingMetrics, logger)
	if err != nil {
		return fmt.Errorf("failed to configure dialogue: %w", err)
	}
	defer func() {
		if err := dialogue.Close(); err != nil {
			logger.Warn("failed to close intent client", "error", err)
		}
	}()

	sender, reason := appbootstrap.BuildReplySender(cfg, messagingMetrics, logger)
	if sender == nil {
		return fmt.Errorf("conversation worker cannot send replies: %s", reason)
	}
	logger.Info("twilio sender initialized for async workers", "from", cfg.TwilioFromNumber)

	dedupe, err := appbootstrap.BuildDedupe(cfg, dbPool, awsConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to configure dedupe: %w", err)
	}

	opts := []conversation.WorkerOption{
		conversation.WithWorkerCount(cfg.WorkerCount),
		conversation.WithMessagingMetrics(messagingMetrics),
	}
	if dedupe != nil {
		opts = append(opts, conversation.WithProcessedEventsStore(dedupe))
	}
	worker := conversation.NewWorker(dialogue.Orchestrator, queue, sender, logger, opts...)

	worker.Start(ctx)
	logger.Info("conversation worker started", "workers", cfg.WorkerCount, "store_backend", dialogue.Stores.Backend)

	<-ctx.Done()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("conversation worker stopped")
	case <-doneCtx.Done():
		logger.Error("conversation worker shutdown timed out", "error", doneCtx.Err())
	}

	return nil
}
