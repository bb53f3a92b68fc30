package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-booking-ai/internal/bookings"
	appconfig "github.com/wolfman30/clinic-booking-ai/internal/config"
	"github.com/wolfman30/clinic-booking-ai/internal/conversation"
	"github.com/wolfman30/clinic-booking-ai/internal/intent"
	"github.com/wolfman30/clinic-booking-ai/internal/notify"
	"github.com/wolfman30/clinic-booking-ai/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking-ai/pkg/logging"
)

// DialogueDeps are the collaborators of the dialogue orchestrator.
type DialogueDeps struct {
	Stores   Stores
	Resolver intent.Resolver
	Notifier notify.Notifier
	Locker   conversation.Locker
	Metrics  *metrics.BookingMetrics
}

// Policy maps clinic settings onto the dialogue policy.
func Policy(cfg *appconfig.Config) conversation.Policy {
	return conversation.Policy{
		ClinicName:          cfg.ClinicName,
		DoctorName:          cfg.DoctorName,
		Location:            cfg.Location(),
		OfferLimit:          cfg.OfferLimit,
		OfferWindow:         cfg.OfferWindow,
		RequireConfirmation: cfg.RequireConfirmation,
		MinConfidence:       cfg.IntentMinConfidence,
	}
}

// ScheduleTemplate maps clinic hours onto the slot generator template.
func ScheduleTemplate(cfg *appconfig.Config) bookings.ScheduleTemplate {
	return bookings.ScheduleTemplate{
		Doctor:     cfg.DoctorName,
		Location:   cfg.Location(),
		OpenHour:   cfg.ClinicOpenHour,
		CloseHour:  cfg.ClinicCloseHour,
		SlotLength: time.Duration(cfg.SlotMinutes) * time.Minute,
	}
}

// BuildOrchestrator wires the dialogue orchestrator from config and its stores.
func BuildOrchestrator(cfg *appconfig.Config, deps DialogueDeps, logger *logging.Logger) (*conversation.Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if deps.Stores.Patients == nil || deps.Stores.Sessions == nil || deps.Stores.Bookings == nil {
		return nil, fmt.Errorf("bootstrap: stores are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	resolver := deps.Resolver
	if resolver == nil {
		resolver = intent.NewRuleResolver()
	}

	opts := []conversation.OrchestratorOption{
		conversation.WithBookingMetrics(deps.Metrics),
		conversation.WithLocker(deps.Locker),
	}
	if deps.Notifier != nil {
		opts = append(opts, conversation.WithNotifier(deps.Notifier))
	}

	logger.Info("dialogue orchestrator configured",
		"store_backend", deps.Stores.Backend,
		"offer_limit", cfg.OfferLimit,
		"require_confirmation", cfg.RequireConfirmation,
		"timezone", cfg.Location().String(),
	)
	return conversation.NewOrchestrator(
		deps.Stores.Patients,
		deps.Stores.Sessions,
		deps.Stores.Bookings,
		resolver,
		conversation.NewMachine(Policy(cfg)),
		logger,
		opts...,
	), nil
}

// Dialogue is a fully wired orchestrator plus the stores behind it.
type Dialogue struct {
	Orchestrator *conversation.Orchestrator
	Stores       Stores
	// Close releases model clients; it is never nil.
	Close func() error
}

// BuildDialogue selects stores, intent resolver, notifier and locker from
// config and wires the orchestrator. Shared by the API (sync replies) and the
// conversation worker (async replies).
func BuildDialogue(ctx context.Context, cfg *appconfig.Config, pool *pgxpool.Pool, redisClient *redis.Client, awsCfg aws.Config, m *metrics.BookingMetrics, logger *logging.Logger) (Dialogue, error) {
	if logger == nil {
		logger = logging.Default()
	}
	stores, err := BuildStores(cfg, pool, logger)
	if err != nil {
		return Dialogue{}, err
	}
	resolver, closeFn, err := BuildIntentResolver(ctx, cfg, awsCfg, logger)
	if err != nil {
		return Dialogue{}, err
	}
	notifier, err := BuildNotifier(cfg, awsCfg, logger)
	if err != nil {
		_ = closeFn()
		return Dialogue{}, err
	}
	orch, err := BuildOrchestrator(cfg, DialogueDeps{
		Stores:   stores,
		Resolver: resolver,
		Notifier: notifier,
		Locker:   BuildLocker(redisClient, cfg, logger),
		Metrics:  m,
	}, logger)
	if err != nil {
		_ = closeFn()
		return Dialogue{}, err
	}
	return Dialogue{Orchestrator: orch, Stores: stores, Close: closeFn}, nil
}
