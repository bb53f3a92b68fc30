package messaging

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking-ai/internal/conversation"
	"github.com/wolfman30/clinic-booking-ai/pkg/logging"
)

func TestValidateTwilioSignature(t *testing.T) {
	authToken := "test_token"
	webhookURL := "https://example.com/webhook"

	// Create a test request
	formData := url.Values{}
	formData.Set("MessageSid", "SM123")
	formData.Set("From", "+1234567890")
	formData.Set("Body", "Hello")

	req := httptest.NewRequest(http.MethodPost, webhookURL, strings.NewReader(formData.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	// Compute expected signature
	payload := buildSignaturePayload(webhookURL, formData)
	expectedSignature := computeSignature(payload, authToken)
	req.Header.Set("X-Twilio-Signature", expectedSignature)

	if !ValidateTwilioSignature(req, authToken, webhookURL) {
		t.Error("expected signature validation to pass")
	}
}

func TestValidateTwilioSignature_InvalidSignature(t *testing.T) {
	authToken := "test_token"
	webhookURL := "https://example.com/webhook"

	formData := url.Values{}
	formData.Set("MessageSid", "SM123")

	req := httptest.NewRequest(http.MethodPost, webhookURL, strings.NewReader(formData.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", "invalid_signature")

	if ValidateTwilioSignature(req, authToken, webhookURL) {
		t.Error("expected signature validation to fail")
	}
}

func TestValidateTwilioSignature_MissingSignature(t *testing.T) {
	authToken := "test_token"
	webhookURL := "https://example.com/webhook"

	formData := url.Values{}
	formData.Set("MessageSid", "SM123")

	req := httptest.NewRequest(http.MethodPost, webhookURL, strings.NewReader(formData.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if ValidateTwilioSignature(req, authToken, webhookURL) {
		t.Error("expected signature validation to fail without signature header")
	}
}

func TestParseTwilioWebhook(t *testing.T) {
	formData := url.Values{}
	formData.Set("MessageSid", "SM123")
	formData.Set("AccountSid", "AC456")
	formData.Set("From", "+1234567890")
	formData.Set("To", "+0987654321")
	formData.Set("Body", "Test message")
	formData.Set("NumMedia", "0")

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(formData.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	webhook, err := ParseTwilioWebhook(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if webhook.MessageSid != "SM123" {
		t.Errorf("expected MessageSid SM123, got %s", webhook.MessageSid)
	}

	if webhook.From != "+1234567890" {
		t.Errorf("expected From +1234567890, got %s", webhook.From)
	}

	if webhook.Body != "Test message" {
		t.Errorf("expected Body 'Test message', got %s", webhook.Body)
	}
}

type fakeInbound struct {
	mu     sync.Mutex
	calls  []string
	reply  string
	panics bool
}

func (f *fakeInbound) HandleInbound(_ context.Context, address, text string) string {
	f.mu.Lock()
	f.calls = append(f.calls, address+"|"+text)
	f.mu.Unlock()
	if f.panics {
		panic("machine exploded")
	}
	return f.reply
}

func (f *fakeInbound) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeProcessed struct {
	seen map[string]bool
	err  error
}

func (f *fakeProcessed) MarkProcessed(_ context.Context, provider, eventID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	key := provider + "/" + eventID
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

type fakePublisher struct {
	jobs []conversation.InboundJob
	err  error
}

func (f *fakePublisher) EnqueueInbound(_ context.Context, job conversation.InboundJob) (conversation.InboundJob, error) {
	if f.err != nil {
		return conversation.InboundJob{}, f.err
	}
	job.ID = "job-" + job.MessageSID
	f.jobs = append(f.jobs, job)
	return job, nil
}

type fakeLog struct {
	records []MessageRecord
}

func (f *fakeLog) InsertMessage(_ context.Context, rec MessageRecord) (uuid.UUID, error) {
	f.records = append(f.records, rec)
	return uuid.New(), nil
}

func (f *fakeLog) RecentMessages(_ context.Context, address string, _ int) ([]MessageRecord, error) {
	var out []MessageRecord
	for _, rec := range f.records {
		if rec.Address == address {
			out = append(out, rec)
		}
	}
	return out, nil
}

func webhookRequest(sid, from, body string) *http.Request {
	formData := url.Values{}
	formData.Set("MessageSid", sid)
	formData.Set("From", from)
	formData.Set("To", "+15557654321")
	formData.Set("Body", body)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio", strings.NewReader(formData.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestTwilioWebhookHandler_RepliesInline(t *testing.T) {
	inbound := &fakeInbound{reply: "Slots: 1) Mon & Tue <9am>"}
	log := &fakeLog{}
	handler := NewHandler(inbound, logging.Default(), WithMessageLog(log))

	w := httptest.NewRecorder()
	handler.TwilioWebhook(w, webhookRequest("SM123", "whatsapp:+15551234567", "book"))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/xml" {
		t.Errorf("expected Content-Type application/xml, got %s", ct)
	}
	want := "<Message>Slots: 1) Mon &amp; Tue &lt;9am&gt;</Message>"
	if !strings.Contains(w.Body.String(), want) {
		t.Fatalf("expected escaped reply %q in %s", want, w.Body.String())
	}
	if inbound.calls[0] != "whatsapp:+15551234567|book" {
		t.Fatalf("expected the raw address to reach the dialogue, got %v", inbound.calls)
	}
	if len(log.records) != 2 || log.records[0].Direction != DirectionInbound || log.records[1].Direction != DirectionOutbound {
		t.Fatalf("expected inbound and outbound transcript entries, got %#v", log.records)
	}
}

func TestTwilioWebhookHandler_RejectsMissingFields(t *testing.T) {
	handler := NewHandler(&fakeInbound{}, logging.Default())

	w := httptest.NewRecorder()
	handler.TwilioWebhook(w, webhookRequest("", "+15551234567", "hi"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without MessageSid, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	handler.TwilioWebhook(w, webhookRequest("SM1", "not-a-number", "hi"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a sender without digits, got %d", w.Code)
	}
}

func TestTwilioWebhookHandler_WithSignatureValidation(t *testing.T) {
	authToken := "test_secret"
	inbound := &fakeInbound{reply: "ok"}
	handler := NewHandler(inbound, logging.Default(), WithWebhookAuth(authToken, "https://clinic.example.com"))

	req := webhookRequest("SM123", "+15551234567", "hi")
	req.Header.Set("X-Twilio-Signature", "invalid")
	w := httptest.NewRecorder()
	handler.TwilioWebhook(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}

	req = webhookRequest("SM124", "+15551234567", "hi")
	formData := url.Values{}
	formData.Set("MessageSid", "SM124")
	formData.Set("From", "+15551234567")
	formData.Set("To", "+15557654321")
	formData.Set("Body", "hi")
	req.Header.Set("X-Twilio-Signature", computeSignature(buildSignaturePayload("https://clinic.example.com/webhooks/twilio", formData), authToken))
	w = httptest.NewRecorder()
	handler.TwilioWebhook(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected a signed request to pass, got %d", w.Code)
	}
	if inbound.count() != 1 {
		t.Fatalf("expected only the signed request to reach the dialogue, got %d", inbound.count())
	}
}

func TestTwilioWebhookHandler_DropsRedelivery(t *testing.T) {
	inbound := &fakeInbound{reply: "Booked"}
	handler := NewHandler(inbound, logging.Default(), WithProcessedStore(&fakeProcessed{}))

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.TwilioWebhook(w, webhookRequest("SM9", "+15551234567", "1"))
		if w.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", i, w.Code)
		}
		if i == 1 && strings.Contains(w.Body.String(), "<Message>") {
			t.Fatalf("expected an empty response for the redelivery, got %s", w.Body.String())
		}
	}
	if inbound.count() != 1 {
		t.Fatalf("expected one dialogue run, got %d", inbound.count())
	}
}

func TestTwilioWebhookHandler_DedupeFailureStillReplies(t *testing.T) {
	inbound := &fakeInbound{reply: "Hi"}
	handler := NewHandler(inbound, logging.Default(), WithProcessedStore(&fakeProcessed{err: errors.New("db down")}))

	w := httptest.NewRecorder()
	handler.TwilioWebhook(w, webhookRequest("SM10", "+15551234567", "hi"))
	if !strings.Contains(w.Body.String(), "<Message>Hi</Message>") {
		t.Fatalf("expected a reply, got %s", w.Body.String())
	}
}

func TestTwilioWebhookHandler_RecoversFromPanics(t *testing.T) {
	handler := NewHandler(&fakeInbound{panics: true}, logging.Default())

	w := httptest.NewRecorder()
	handler.TwilioWebhook(w, webhookRequest("SM11", "+15551234567", "hi"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "a system error occurred") {
		t.Fatalf("expected the system apology, got %s", w.Body.String())
	}
}

func TestTwilioWebhookHandler_AsyncEnqueues(t *testing.T) {
	inbound := &fakeInbound{reply: "unused"}
	publisher := &fakePublisher{}
	handler := NewHandler(inbound, logging.Default(), WithAsyncPublisher(publisher))
	if handler.Mode() != ModeAsync {
		t.Fatalf("expected async mode, got %s", handler.Mode())
	}

	w := httptest.NewRecorder()
	handler.TwilioWebhook(w, webhookRequest("SM12", "+15551234567", "cancel"))
	if w.Code != http.StatusOK || w.Body.String() != twimlEmpty {
		t.Fatalf("expected an empty TwiML ack, got %d %s", w.Code, w.Body.String())
	}
	if len(publisher.jobs) != 1 || publisher.jobs[0].MessageSID != "SM12" || publisher.jobs[0].Body != "cancel" {
		t.Fatalf("unexpected jobs %#v", publisher.jobs)
	}
	if inbound.count() != 0 {
		t.Fatal("async mode must not run the dialogue inline")
	}

	publisher.err = errors.New("queue down")
	w = httptest.NewRecorder()
	handler.TwilioWebhook(w, webhookRequest("SM13", "+15551234567", "hi"))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 so Twilio retries, got %d", w.Code)
	}
}

func TestHandlerTranscript(t *testing.T) {
	log := &fakeLog{}
	handler := NewHandler(&fakeInbound{reply: "Hello"}, logging.Default(), WithMessageLog(log))
	handler.TwilioWebhook(httptest.NewRecorder(), webhookRequest("SM20", "+15551234567", "hi"))

	w := httptest.NewRecorder()
	handler.Transcript(w, httptest.NewRequest(http.MethodGet, "/admin/conversations/messages?address=%2B15551234567", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"direction":"outbound"`) {
		t.Fatalf("expected the outbound reply in the transcript, got %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	handler.Transcript(w, httptest.NewRequest(http.MethodGet, "/admin/conversations/messages", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without an address, got %d", w.Code)
	}
}

func TestChannelAndNormalize(t *testing.T) {
	if Channel("whatsapp:+919876543210") != "whatsapp" || Channel("+15551234567") != "sms" {
		t.Fatal("unexpected channel detection")
	}
	if got := NormalizeE164(" +1 (555) 123-4567 "); got != "+15551234567" {
		t.Fatalf("unexpected normalized phone %q", got)
	}
	if got := NormalizeE164("abc"); got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}
