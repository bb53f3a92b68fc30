package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Queue carries inbound jobs from the webhook to the worker.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// InboundJob is one patient message waiting for an asynchronous reply.
type InboundJob struct {
	ID         string    `json:"id"`
	MessageSID string    `json:"message_sid,omitempty"`
	From       string    `json:"from"`
	To         string    `json:"to,omitempty"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

func encodeJob(job InboundJob) (InboundJob, string, error) {
	if strings.TrimSpace(job.From) == "" {
		return InboundJob{}, "", fmt.Errorf("conversation: inbound job missing sender")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.ReceivedAt.IsZero() {
		job.ReceivedAt = time.Now().UTC()
	}

	body, err := json.Marshal(job)
	if err != nil {
		return InboundJob{}, "", fmt.Errorf("conversation: failed to encode job: %w", err)
	}
	return job, string(body), nil
}

func decodeJob(body string) (InboundJob, error) {
	var job InboundJob
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return InboundJob{}, fmt.Errorf("conversation: failed to decode job: %w", err)
	}
	if strings.TrimSpace(job.From) == "" {
		return InboundJob{}, fmt.Errorf("conversation: inbound job missing sender")
	}
	return job, nil
}
