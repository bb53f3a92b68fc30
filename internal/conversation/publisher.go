package conversation

import (
	"context"
	"fmt"

	"github.com/wolfman30/clinic-booking-ai/pkg/logging"
)

// Publisher enqueues inbound messages for the conversation worker.
type Publisher struct {
	queue  Queue
	logger *logging.Logger
}

// NewPublisher creates a queue-backed publisher.
func NewPublisher(queue Queue, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger}
}

// EnqueueInbound publishes the job and returns it with its ID filled in.
func (p *Publisher) EnqueueInbound(ctx context.Context, job InboundJob) (InboundJob, error) {
	job, body, err := encodeJob(job)
	if err != nil {
		return InboundJob{}, err
	}
	if err := p.queue.Send(ctx, body); err != nil {
		return InboundJob{}, fmt.Errorf("conversation: failed to enqueue job: %w", err)
	}
	p.logger.Debug("conversation job enqueued", "job_id", job.ID, "message_sid", job.MessageSID)
	return job, nil
}
