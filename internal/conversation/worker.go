package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/clinic-booking-ai/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking-ai/pkg/logging"
)

// ReplySender delivers the reply text to the patient's address.
type ReplySender interface {
	Send(ctx context.Context, to, body string) error
}

// ProcessedEvents remembers which provider message ids were already handled.
type ProcessedEvents interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// Worker consumes inbound jobs, runs them through the dialogue and sends the reply.
type Worker struct {
	handler   InboundHandler
	queue     Queue
	sender    ReplySender
	processed ProcessedEvents
	metrics   *metrics.MessagingMetrics
	logger    *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	processed        ProcessedEvents
	metrics          *metrics.MessagingMetrics
}

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
	dedupeProvider       = "twilio_worker"
)

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the SQS long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithProcessedEventsStore skips jobs whose message SID was already handled,
// which covers queue redelivery.
func WithProcessedEventsStore(store ProcessedEvents) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.processed = store
	}
}

// WithMessagingMetrics records outbound send results.
func WithMessagingMetrics(m *metrics.MessagingMetrics) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.metrics = m
	}
}

// NewWorker creates a worker; call Start to begin polling.
func NewWorker(handler InboundHandler, queue Queue, sender ReplySender, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if handler == nil {
		panic("conversation: inbound handler cannot be nil")
	}
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if sender == nil {
		panic("conversation: reply sender cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		handler:   handler,
		queue:     queue,
		sender:    sender,
		processed: cfg.processed,
		metrics:   cfg.metrics,
		logger:    logger,
		cfg:       cfg,
	}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("conversation worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("conversation worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive conversation jobs", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

// handleMessage deletes the job once the dialogue ran, even when the send
// fails: replaying a message could book twice.
func (w *Worker) handleMessage(ctx context.Context, msg queueMessage) {
	defer w.deleteMessage(msg.ReceiptHandle)

	job, err := decodeJob(msg.Body)
	if err != nil {
		w.logger.Error("dropping malformed conversation job", "error", err, "message_id", msg.ID)
		return
	}

	if w.processed != nil && strings.TrimSpace(job.MessageSID) != "" {
		fresh, err := w.processed.MarkProcessed(ctx, dedupeProvider, job.MessageSID)
		if err != nil {
			w.logger.Warn("dedupe check failed; processing anyway", "error", err, "message_sid", job.MessageSID)
		} else if !fresh {
			w.logger.Info("skipping redelivered conversation job", "job_id", job.ID, "message_sid", job.MessageSID)
			return
		}
	}

	reply := w.handler.HandleInbound(ctx, job.From, job.Body)
	if strings.TrimSpace(reply) == "" {
		return
	}
	if err := w.sender.Send(ctx, job.From, reply); err != nil {
		w.metrics.ObserveOutbound("failed")
		w.logger.Error("failed to send conversation reply", "error", err, "job_id", job.ID)
		return
	}
	w.metrics.ObserveOutbound("sent")
	w.logger.Debug("conversation reply sent", "job_id", job.ID, "latency", time.Since(job.ReceivedAt).String())
}

func (w *Worker) deleteMessage(receiptHandle string) {
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Error("failed to delete conversation job", "error", err)
	}
}
