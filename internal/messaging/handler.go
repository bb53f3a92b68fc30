package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking-ai/internal/conversation"
	"github.com/wolfman30/clinic-booking-ai/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking-ai/pkg/logging"
)

var twilioTracer = otel.Tracer("clinic.internal.messaging.twilio")

const (
	ModeSync  = "sync"
	ModeAsync = "async"

	webhookProvider = "twilio_webhook"
	enqueueTimeout  = 3 * time.Second
	logTimeout      = 2 * time.Second
)

type inboundPublisher interface {
	EnqueueInbound(ctx context.Context, job conversation.InboundJob) (conversation.InboundJob, error)
}

type processedStore interface {
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// MessageLog stores the transcript of every inbound and outbound message.
type MessageLog interface {
	InsertMessage(ctx context.Context, rec MessageRecord) (uuid.UUID, error)
	RecentMessages(ctx context.Context, address string, limit int) ([]MessageRecord, error)
}

// Handler handles messaging webhook requests.
type Handler struct {
	inbound       conversation.InboundHandler
	publisher     inboundPublisher
	processed     processedStore
	messages      MessageLog
	metrics       *metrics.MessagingMetrics
	webhookSecret string
	publicBaseURL string
	logger        *logging.Logger
}

// HandlerOption customizes a Handler.
type HandlerOption func(*Handler)

// WithWebhookAuth enables X-Twilio-Signature validation. When publicBaseURL is set the
// signed URL is rebuilt from it instead of the request's Host headers.
func WithWebhookAuth(secret, publicBaseURL string) HandlerOption {
	return func(h *Handler) {
		h.webhookSecret = strings.TrimSpace(secret)
		h.publicBaseURL = strings.TrimRight(strings.TrimSpace(publicBaseURL), "/")
	}
}

// WithAsyncPublisher switches the webhook to queue inbound messages instead of replying inline.
func WithAsyncPublisher(p inboundPublisher) HandlerOption {
	return func(h *Handler) {
		h.publisher = p
	}
}

// WithProcessedStore drops webhook redeliveries of a MessageSid that was already answered.
func WithProcessedStore(store processedStore) HandlerOption {
	return func(h *Handler) {
		h.processed = store
	}
}

// WithMessageLog records inbound and outbound messages.
func WithMessageLog(log MessageLog) HandlerOption {
	return func(h *Handler) {
		h.messages = log
	}
}

// WithWebhookMetrics records webhook outcomes and latency.
func WithWebhookMetrics(m *metrics.MessagingMetrics) HandlerOption {
	return func(h *Handler) {
		h.metrics = m
	}
}

// NewHandler creates a new messaging handler.
func NewHandler(inbound conversation.InboundHandler, logger *logging.Logger, opts ...HandlerOption) *Handler {
	if inbound == nil {
		panic("messaging: inbound handler cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	h := &Handler{inbound: inbound, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Mode reports whether replies are produced inline or by the worker.
func (h *Handler) Mode() string {
	if h.publisher != nil {
		return ModeAsync
	}
	return ModeSync
}

// TwilioWebhook handles POST /webhooks/twilio for SMS and WhatsApp messages.
func (h *Handler) TwilioWebhook(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	ctx, span := twilioTracer.Start(r.Context(), "messaging.twilio.inbound")
	defer span.End()
	mode := h.Mode()
	defer func() {
		h.metrics.ObserveWebhookLatency(mode, time.Since(started))
	}()

	if h.webhookSecret != "" {
		if !ValidateTwilioSignature(r, h.webhookSecret, h.signedURL(r)) {
			h.logger.Warn("invalid twilio signature", "path", r.URL.Path)
			h.metrics.ObserveInbound("unknown", "rejected")
			span.RecordError(errors.New("invalid twilio signature"))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	webhook, err := ParseTwilioWebhook(r)
	if err != nil {
		h.logger.Error("failed to parse twilio webhook", "error", err)
		h.metrics.ObserveInbound("unknown", "invalid")
		span.RecordError(err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	channel := Channel(webhook.From)
	if webhook.MessageSid == "" || NormalizeE164(webhook.From) == "" {
		err := errors.New("missing required twilio fields")
		h.logger.Error("invalid twilio payload", "error", err)
		h.metrics.ObserveInbound(channel, "invalid")
		span.RecordError(err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	span.SetAttributes(
		attribute.String("clinic.twilio.message_sid", webhook.MessageSid),
		attribute.String("clinic.channel", channel),
		attribute.String("clinic.reply_mode", mode),
	)

	if mode == ModeAsync {
		h.enqueue(ctx, w, webhook, channel)
		return
	}

	if h.processed != nil {
		fresh, err := h.processed.MarkProcessed(ctx, webhookProvider, webhook.MessageSid)
		if err != nil {
			h.logger.Warn("dedupe check failed, handling message anyway", "error", err, "message_sid", webhook.MessageSid)
		} else if !fresh {
			h.logger.Info("duplicate twilio message ignored", "message_sid", webhook.MessageSid)
			h.metrics.ObserveInbound(channel, "duplicate")
			writeTwiML(w, twimlEmpty)
			return
		}
	}

	h.record(ctx, MessageRecord{Address: webhook.From, Direction: DirectionInbound, Body: webhook.Body, ProviderMessageID: webhook.MessageSid})
	reply := h.dialogue(ctx, webhook.From, webhook.Body)
	h.record(ctx, MessageRecord{Address: webhook.From, Direction: DirectionOutbound, Body: reply})

	h.metrics.ObserveInbound(channel, "replied")
	writeTwiML(w, twimlMessage(reply))
}

func (h *Handler) enqueue(ctx context.Context, w http.ResponseWriter, webhook *TwilioWebhookRequest, channel string) {
	publishCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()

	job, err := h.publisher.EnqueueInbound(publishCtx, conversation.InboundJob{
		MessageSID: webhook.MessageSid,
		From:       webhook.From,
		To:         webhook.To,
		Body:       webhook.Body,
	})
	if err != nil {
		h.logger.Error("failed to enqueue inbound message", "error", err, "message_sid", webhook.MessageSid)
		h.metrics.ObserveInbound(channel, "enqueue_failed")
		http.Error(w, "Failed to schedule reply", http.StatusInternalServerError)
		return
	}
	h.record(ctx, MessageRecord{Address: webhook.From, Direction: DirectionInbound, Body: webhook.Body, ProviderMessageID: webhook.MessageSid})
	h.logger.Info("twilio message queued", "job_id", job.ID, "message_sid", webhook.MessageSid)
	h.metrics.ObserveInbound(channel, "queued")
	writeTwiML(w, twimlEmpty)
}

// dialogue never lets a panic escape the webhook; the patient still gets an apology.
func (h *Handler) dialogue(ctx context.Context, from, body string) (reply string) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("dialogue panicked", "panic", fmt.Sprint(rec))
			reply = conversation.SystemErrorReply
		}
	}()
	return h.inbound.HandleInbound(ctx, from, body)
}

func (h *Handler) record(ctx context.Context, rec MessageRecord) {
	if h.messages == nil || strings.TrimSpace(rec.Body) == "" {
		return
	}
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logTimeout)
	defer cancel()
	if _, err := h.messages.InsertMessage(logCtx, rec); err != nil {
		h.logger.Warn("failed to record message", "error", err, "direction", rec.Direction)
	}
}

// Transcript handles GET /admin/conversations/messages?address=...&limit=...
func (h *Handler) Transcript(w http.ResponseWriter, r *http.Request) {
	if h.messages == nil {
		http.Error(w, "message log not configured", http.StatusServiceUnavailable)
		return
	}
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if address == "" {
		http.Error(w, "address is required", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	msgs, err := h.messages.RecentMessages(r.Context(), address, limit)
	if err != nil {
		h.logger.Error("failed to load transcript", "error", err)
		http.Error(w, "failed to load transcript", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []MessageRecord{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"address": address, "messages": msgs})
}

func (h *Handler) signedURL(r *http.Request) string {
	if h.publicBaseURL != "" && r.URL != nil {
		return h.publicBaseURL + r.URL.RequestURI()
	}
	return buildAbsoluteURL(r)
}

func writeTwiML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func buildAbsoluteURL(r *http.Request) string {
	if r.URL == nil {
		return ""
	}
	if r.URL.Scheme != "" {
		return r.URL.String()
	}
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "https"
		if r.TLS == nil {
			scheme = "http"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, r.URL.RequestURI())
}
