package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/clinic-booking-ai/internal/bookings"
	"github.com/wolfman30/clinic-booking-ai/internal/clinic"
	"github.com/wolfman30/clinic-booking-ai/internal/conversation"
	httpmiddleware "github.com/wolfman30/clinic-booking-ai/internal/http/middleware"
	"github.com/wolfman30/clinic-booking-ai/internal/messaging"
	"github.com/wolfman30/clinic-booking-ai/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	ServiceName         string
	MessagingHandler    *messaging.Handler
	ConversationHandler *conversation.Handler
	SlotsHandler        *bookings.Handler
	StatsHandler        *clinic.StatsHandler
	DashboardHandler    *clinic.DashboardHandler
	AdminAuthSecret     string
	MetricsHandler      http.Handler
	WebhookLimiter      *httpmiddleware.RateLimiter

	// Ready reports whether backing stores are reachable; nil means always ready.
	Ready func(ctx context.Context) error
	Now   func() time.Time
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	if cfg.MessagingHandler == nil {
		panic("router: messaging handler required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "clinic-booking-ai"
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	// Public endpoints (health checks, metrics)
	r.Group(func(public chi.Router) {
		public.Get("/", rootHandler(cfg))
		public.Get("/health", healthHandler(cfg))
		public.Get("/status", statusHandler(cfg))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Twilio webhooks; the WhatsApp sandbox posts to the legacy path.
	r.Group(func(webhooks chi.Router) {
		if cfg.WebhookLimiter != nil {
			webhooks.Use(httpmiddleware.RateLimit(cfg.WebhookLimiter))
		}
		webhooks.Post("/webhooks/twilio", cfg.MessagingHandler.TwilioWebhook)
		webhooks.Post("/whatsapp-webhook", cfg.MessagingHandler.TwilioWebhook)
	})

	// Admin routes (protected by JWT)
	if cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			if cfg.SlotsHandler != nil {
				admin.Get("/slots", cfg.SlotsHandler.ListSlots)
				admin.Post("/slots/seed", cfg.SlotsHandler.SeedSlots)
			}
			if cfg.StatsHandler != nil {
				admin.Get("/stats", cfg.StatsHandler.GetStats)
			}
			if cfg.DashboardHandler != nil {
				admin.Get("/dashboard", cfg.DashboardHandler.GetDashboard)
			}
			if cfg.ConversationHandler != nil {
				admin.Post("/conversations/simulate", cfg.ConversationHandler.Simulate)
			}
			admin.Get("/conversations/messages", cfg.MessagingHandler.Transcript)
		})
	}

	return r
}

func rootHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"service": cfg.ServiceName,
		})
	}
}

func healthHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := cfg.Ready(ctx); err != nil {
				if cfg.Logger != nil {
					cfg.Logger.Warn("readiness check failed", "error", err)
				}
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func statusHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":     "running",
			"service":    cfg.ServiceName,
			"reply_mode": cfg.MessagingHandler.Mode(),
			"timestamp":  cfg.Now().UTC().Format(time.RFC3339),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
