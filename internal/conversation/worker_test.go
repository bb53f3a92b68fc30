package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wolfman30/clinic-booking-ai/pkg/logging"
)

type scriptedQueue struct {
	ch       chan queueMessage
	deleted  int
	delMutex sync.Mutex
}

func newScriptedQueue() *scriptedQueue {
	return &scriptedQueue{ch: make(chan queueMessage, 10)}
}

func (s *scriptedQueue) enqueue(msg queueMessage) {
	s.ch <- msg
}

func (s *scriptedQueue) Send(ctx context.Context, body string) error {
	return nil
}

func (s *scriptedQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-s.ch:
		return []queueMessage{msg}, nil
	case <-time.After(50 * time.Millisecond):
		return nil, nil
	}
}

func (s *scriptedQueue) Delete(ctx context.Context, receiptHandle string) error {
	s.delMutex.Lock()
	s.deleted++
	s.delMutex.Unlock()
	return nil
}

func (s *scriptedQueue) deletedCount() int {
	s.delMutex.Lock()
	defer s.delMutex.Unlock()
	return s.deleted
}

func waitFor(cond func() bool, timeout time.Duration, t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

type echoHandler struct {
	mu    sync.Mutex
	calls []SimulateRequest
}

func (e *echoHandler) HandleInbound(_ context.Context, address, text string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, SimulateRequest{From: address, Body: text})
	return "echo: " + text
}

func (e *echoHandler) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

type recordingSender struct {
	mu   sync.Mutex
	sent []SimulateRequest
	err  error
}

func (r *recordingSender) Send(_ context.Context, to, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, SimulateRequest{From: to, Body: body})
	return r.err
}

func (r *recordingSender) messages() []SimulateRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SimulateRequest(nil), r.sent...)
}

type memoryProcessed struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *memoryProcessed) AlreadyProcessed(_ context.Context, provider, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[provider+"/"+eventID], nil
}

func (m *memoryProcessed) MarkProcessed(_ context.Context, provider, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = map[string]bool{}
	}
	key := provider + "/" + eventID
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func jobMessage(t *testing.T, job InboundJob) queueMessage {
	t.Helper()
	job, body, err := encodeJob(job)
	if err != nil {
		t.Fatalf("encode job: %v", err)
	}
	return queueMessage{ID: job.ID, Body: body, ReceiptHandle: "rh-" + job.ID}
}

func startWorker(t *testing.T, handler InboundHandler, queue Queue, sender ReplySender, opts ...WorkerOption) (*Worker, context.CancelFunc) {
	t.Helper()
	opts = append([]WorkerOption{WithWorkerCount(1), WithReceiveBatchSize(1), WithReceiveWaitSeconds(0)}, opts...)
	worker := NewWorker(handler, queue, sender, logging.Default(), opts...)
	ctx, cancel := context.WithCancel(context.Background())
	worker.Start(ctx)
	return worker, cancel
}

func TestWorkerSendsReplies(t *testing.T) {
	queue := newScriptedQueue()
	handler := &echoHandler{}
	sender := &recordingSender{}
	worker, cancel := startWorker(t, handler, queue, sender)

	queue.enqueue(jobMessage(t, InboundJob{MessageSID: "SM1", From: "whatsapp:+15550001", Body: "book"}))

	waitFor(func() bool { return len(sender.messages()) == 1 }, time.Second, t)
	cancel()
	worker.Wait()

	sent := sender.messages()[0]
	if sent.From != "whatsapp:+15550001" || sent.Body != "echo: book" {
		t.Fatalf("unexpected send %#v", sent)
	}
	if queue.deletedCount() != 1 {
		t.Fatalf("expected delete once, got %d", queue.deletedCount())
	}
}

func TestWorkerSkipsRedeliveredMessages(t *testing.T) {
	queue := newScriptedQueue()
	handler := &echoHandler{}
	sender := &recordingSender{}
	worker, cancel := startWorker(t, handler, queue, sender, WithProcessedEventsStore(&memoryProcessed{}))

	job := InboundJob{ID: "job-1", MessageSID: "SM42", From: "+15550001", Body: "2"}
	queue.enqueue(jobMessage(t, job))
	queue.enqueue(jobMessage(t, job))

	waitFor(func() bool { return queue.deletedCount() == 2 }, time.Second, t)
	cancel()
	worker.Wait()

	if handler.count() != 1 {
		t.Fatalf("expected the dialogue to run once, ran %d times", handler.count())
	}
}

func TestWorkerDeletesOnSendFailure(t *testing.T) {
	queue := newScriptedQueue()
	handler := &echoHandler{}
	sender := &recordingSender{err: errors.New("twilio 500")}
	worker, cancel := startWorker(t, handler, queue, sender)

	queue.enqueue(jobMessage(t, InboundJob{From: "+15550001", Body: "1"}))

	waitFor(func() bool { return queue.deletedCount() == 1 }, time.Second, t)
	cancel()
	worker.Wait()

	if handler.count() != 1 {
		t.Fatalf("expected one dialogue run, got %d", handler.count())
	}
}

func TestWorkerDropsMalformedJobs(t *testing.T) {
	queue := newScriptedQueue()
	handler := &echoHandler{}
	sender := &recordingSender{}
	worker, cancel := startWorker(t, handler, queue, sender)

	queue.enqueue(queueMessage{ID: "bad", Body: "{not json", ReceiptHandle: "rh-bad"})
	queue.enqueue(queueMessage{ID: "empty", Body: `{"body":"hi"}`, ReceiptHandle: "rh-empty"})

	waitFor(func() bool { return queue.deletedCount() == 2 }, time.Second, t)
	cancel()
	worker.Wait()

	if handler.count() != 0 || len(sender.messages()) != 0 {
		t.Fatal("malformed jobs must not reach the dialogue")
	}
}

func TestPublisherAndMemoryQueue(t *testing.T) {
	queue := NewMemoryQueue(4)
	publisher := NewPublisher(queue, logging.Default())

	job, err := publisher.EnqueueInbound(context.Background(), InboundJob{MessageSID: "SM7", From: "+15550001", Body: "hi"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.ID == "" || job.ReceivedAt.IsZero() {
		t.Fatalf("expected id and timestamp to be filled, got %#v", job)
	}
	if queue.Len() != 1 {
		t.Fatalf("expected one buffered message, got %d", queue.Len())
	}

	if _, err := publisher.EnqueueInbound(context.Background(), InboundJob{Body: "no sender"}); err == nil {
		t.Fatal("expected jobs without a sender to be rejected")
	}

	msgs, err := queue.Receive(context.Background(), 10, 1)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}
	decoded, err := decodeJob(msgs[0].Body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != job.ID || decoded.MessageSID != "SM7" || decoded.Body != "hi" {
		t.Fatalf("unexpected decoded job %#v", decoded)
	}
}

func TestMemoryQueue_ReceiveTimesOutAndCancels(t *testing.T) {
	queue := NewMemoryQueue(1)

	msgs, err := queue.Receive(context.Background(), 1, 1)
	if err != nil || msgs != nil {
		t.Fatalf("expected an empty poll, got %v %v", msgs, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := queue.Receive(ctx, 1, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
