package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"

	appconfig "github.com/wolfman30/clinic-booking-ai/internal/config"
	"github.com/wolfman30/clinic-booking-ai/internal/conversation"
	"github.com/wolfman30/clinic-booking-ai/pkg/logging"
)

type replyEcho struct{}

func (replyEcho) HandleInbound(_ context.Context, _, text string) string { return text }

func TestSetupMetricsExposesMetrics(t *testing.T) {
	m := setupMetrics()
	if m.handler == nil || m.messaging == nil || m.bookings == nil {
		t.Fatalf("expected non-nil handler and metrics")
	}

	m.messaging.ObserveInbound("sms", "replied")
	m.bookings.ObserveReservation("reserve", "won")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	m.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "clinic_messaging_inbound_webhook_total") {
		t.Fatalf("expected inbound counter to be exported")
	}
	if !strings.Contains(body, "clinic_bookings_reservations_total") {
		t.Fatalf("expected reservation counter to be exported")
	}
}

func TestConnectPostgresPoolEmptyURLReturnsNil(t *testing.T) {
	logger := logging.New("error")
	if pool := connectPostgresPool(context.Background(), "", logger); pool != nil {
		t.Fatalf("expected nil pool for empty URL")
	}
	if repo := setupStatsRepository("", logger); repo != nil {
		t.Fatalf("expected nil stats repository for empty URL")
	}
	if readiness(nil) != nil {
		t.Fatalf("expected no readiness probe without a pool")
	}
}

func TestSetupAsyncSQSPath(t *testing.T) {
	logger := logging.New("error")
	cfg := &appconfig.Config{
		UseMemoryQueue:  false,
		AWSRegion:       "us-east-1",
		InboundQueueURL: "http://localhost:4566/000000000000/inbound",
	}

	pub, worker, err := setupAsync(context.Background(), cfg, aws.Config{Region: "us-east-1"}, replyEcho{}, setupMetrics(), nil, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pub == nil {
		t.Fatalf("expected publisher")
	}
	if worker != nil {
		t.Fatalf("expected no inline worker for SQS")
	}
}

func TestSetupAsyncMemoryQueueRequiresSender(t *testing.T) {
	logger := logging.New("error")
	cfg := &appconfig.Config{UseMemoryQueue: true, WorkerCount: 1}

	if _, _, err := setupAsync(context.Background(), cfg, aws.Config{}, replyEcho{}, setupMetrics(), nil, logger); err == nil {
		t.Fatalf("expected error without twilio credentials")
	}
}

func TestSetupAsyncMemoryQueueStartsWorker(t *testing.T) {
	logger := logging.New("error")
	cfg := &appconfig.Config{
		UseMemoryQueue:   true,
		WorkerCount:      1,
		TwilioAccountSID: "AC123",
		TwilioAuthToken:  "token",
		TwilioFromNumber: "+15550000",
	}

	ctx, cancel := context.WithCancel(context.Background())
	pub, worker, err := setupAsync(ctx, cfg, aws.Config{}, replyEcho{}, setupMetrics(), nil, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pub == nil || worker == nil {
		t.Fatalf("expected publisher and inline worker")
	}
	cancel()
	worker.Wait()
}

var _ conversation.InboundHandler = replyEcho{}
