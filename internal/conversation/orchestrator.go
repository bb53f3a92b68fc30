package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking-ai/internal/bookings"
	"github.com/wolfman30/clinic-booking-ai/internal/intent"
	"github.com/wolfman30/clinic-booking-ai/internal/notify"
	"github.com/wolfman30/clinic-booking-ai/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking-ai/internal/patients"
	"github.com/wolfman30/clinic-booking-ai/pkg/logging"
)

var conversationTracer = otel.Tracer("clinic.internal.conversation")

// BookingStore is the part of the booking store the dialogue drives.
type BookingStore interface {
	bookings.Inventory
	bookings.Ledger
}

// InboundHandler turns one inbound message into the reply text.
type InboundHandler interface {
	HandleInbound(ctx context.Context, address, text string) string
}

const (
	maxEffectSteps        = 8
	defaultLockWait       = 5 * time.Second
	defaultResolveTimeout = 8 * time.Second
	defaultNotifyTimeout  = 10 * time.Second
)

type orchestratorConfig struct {
	notifier       notify.Notifier
	locker         Locker
	metrics        *metrics.BookingMetrics
	now            func() time.Time
	lockWait       time.Duration
	resolveTimeout time.Duration
	notifyTimeout  time.Duration
}

// OrchestratorOption configures the orchestrator.
type OrchestratorOption func(*orchestratorConfig)

// WithNotifier sends calendar invitations after a booking. Without one the
// confirmation is sent on its own.
func WithNotifier(n notify.Notifier) OrchestratorOption {
	return func(cfg *orchestratorConfig) {
		cfg.notifier = n
	}
}

// WithLocker replaces the in-process per-address lock.
func WithLocker(l Locker) OrchestratorOption {
	return func(cfg *orchestratorConfig) {
		if l != nil {
			cfg.locker = l
		}
	}
}

// WithBookingMetrics records intents, transitions and reservations.
func WithBookingMetrics(m *metrics.BookingMetrics) OrchestratorOption {
	return func(cfg *orchestratorConfig) {
		cfg.metrics = m
	}
}

// WithClock overrides the clock used for offer windows.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(cfg *orchestratorConfig) {
		if now != nil {
			cfg.now = now
		}
	}
}

// WithTimeouts bounds lock acquisition, intent resolution and notification.
// Zero values keep the defaults.
func WithTimeouts(lockWait, resolve, notifyWait time.Duration) OrchestratorOption {
	return func(cfg *orchestratorConfig) {
		if lockWait > 0 {
			cfg.lockWait = lockWait
		}
		if resolve > 0 {
			cfg.resolveTimeout = resolve
		}
		if notifyWait > 0 {
			cfg.notifyTimeout = notifyWait
		}
	}
}

// Orchestrator runs one inbound message through lock, load, resolve,
// transition, effects and save.
type Orchestrator struct {
	patients patients.Repository
	sessions SessionStore
	store    BookingStore
	resolver intent.Resolver
	machine  Machine
	logger   *logging.Logger
	cfg      orchestratorConfig
}

var _ InboundHandler = (*Orchestrator)(nil)

// NewOrchestrator wires the dialogue around its stores and resolver.
func NewOrchestrator(repo patients.Repository, sessions SessionStore, store BookingStore, resolver intent.Resolver, machine Machine, logger *logging.Logger, opts ...OrchestratorOption) *Orchestrator {
	if repo == nil {
		panic("conversation: patient repository required")
	}
	if sessions == nil {
		panic("conversation: session store required")
	}
	if store == nil {
		panic("conversation: booking store required")
	}
	if resolver == nil {
		panic("conversation: intent resolver required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := orchestratorConfig{
		now:            func() time.Time { return time.Now().UTC() },
		lockWait:       defaultLockWait,
		resolveTimeout: defaultResolveTimeout,
		notifyTimeout:  defaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.locker == nil {
		cfg.locker = NewLocalLocker()
	}

	return &Orchestrator{
		patients: repo,
		sessions: sessions,
		store:    store,
		resolver: resolver,
		machine:  machine,
		logger:   logger,
		cfg:      cfg,
	}
}

// HandleInbound always returns a reply; failures become a user-safe apology
// and are logged with their cause.
func (o *Orchestrator) HandleInbound(ctx context.Context, address, text string) string {
	started := time.Now()
	ctx, span := conversationTracer.Start(ctx, "conversation.handle_inbound")
	defer span.End()
	defer func() { o.cfg.metrics.ObserveHandle(time.Since(started)) }()

	reply, err := o.handle(ctx, address, text)
	if err != nil {
		span.RecordError(err)
		o.logger.Error("conversation: inbound message failed", "error", err, "address", address)
	}
	return reply
}

func (o *Orchestrator) handle(ctx context.Context, address, text string) (string, error) {
	phone := patients.NormalizePhone(address)
	if phone == "" {
		return replySystemError, patients.ErrInvalidPhone
	}

	lockCtx, cancel := context.WithTimeout(ctx, o.cfg.lockWait)
	unlock, err := o.cfg.locker.Lock(lockCtx, phone)
	cancel()
	if err != nil {
		return replySystemError, err
	}
	defer unlock()

	patient, err := o.patients.FindOrCreate(ctx, phone)
	if err != nil {
		return replySystemError, err
	}
	sess, err := o.sessions.Load(ctx, patient)
	if err != nil {
		return replySystemError, err
	}

	var res intent.Result
	if o.machine.NeedsIntent(sess) {
		res, err = o.resolve(ctx, sess, text)
		if err != nil {
			return replyResolverFailure, err
		}
	}

	dec := o.machine.Transition(sess, text, res)
	next, replies, committed := o.runEffects(ctx, dec)

	if next.Profile != sess.Profile || next.Onboarded != sess.Onboarded {
		if _, err := o.patients.SaveProfile(ctx, patient.ID, next.Profile, next.Onboarded); err != nil {
			return replySystemError, err
		}
	}

	o.cfg.metrics.ObserveTransition(string(sess.State.Kind()), string(next.State.Kind()))
	reply := strings.Join(replies, "\n\n")

	if _, err := o.sessions.Save(ctx, next); err != nil {
		if errors.Is(err, ErrSessionConflict) {
			o.logger.Warn("conversation: session changed concurrently", "patient_id", patient.ID, "version", next.Version)
			return reply, nil
		}
		if committed {
			return reply, err
		}
		return replySystemError, err
	}

	o.logger.Debug("conversation: message handled",
		"patient_id", patient.ID,
		"from", string(sess.State.Kind()),
		"to", string(next.State.Kind()),
		"intent", string(res.Kind),
	)
	return reply, nil
}

func (o *Orchestrator) resolve(ctx context.Context, sess Session, text string) (intent.Result, error) {
	rctx, cancel := context.WithTimeout(ctx, o.cfg.resolveTimeout)
	defer cancel()

	res, err := o.resolver.Resolve(rctx, text, intent.SessionContext{
		State:      string(sess.State.Kind()),
		Onboarded:  sess.Onboarded,
		OptionsLen: optionsLen(sess.State),
		FirstName:  firstName(sess.Profile.FullName),
	})
	if err != nil {
		return intent.Result{}, fmt.Errorf("conversation: resolve intent: %w", err)
	}
	o.cfg.metrics.ObserveIntent(string(res.Kind), res.Source)
	return res, nil
}

// runEffects executes effects depth-first, settling each outcome before the
// next runs. committed reports whether a booking change was written.
func (o *Orchestrator) runEffects(ctx context.Context, dec Decision) (Session, []string, bool) {
	next := dec.Next
	var replies []string
	if dec.Reply != "" {
		replies = append(replies, dec.Reply)
	}

	committed := false
	pending := dec.Effects
	for step := 0; len(pending) > 0; step++ {
		if step >= maxEffectSteps {
			o.logger.Warn("conversation: effect chain truncated", "pending", len(pending), "patient_id", next.PatientID)
			break
		}
		effect := pending[0]
		pending = pending[1:]

		if _, ok := effect.(NotifyCalendar); ok && o.cfg.notifier == nil {
			continue
		}

		out := o.execute(ctx, next, effect)
		if out.Err == nil && mutates(effect) {
			committed = true
		}
		settled := o.machine.Settle(next, effect, out)
		next = settled.Next
		if settled.Reply != "" {
			replies = append(replies, settled.Reply)
		}
		pending = append(settled.Effects, pending...)
	}
	return next, replies, committed
}

func (o *Orchestrator) execute(ctx context.Context, s Session, effect Effect) Outcome {
	ctx, span := conversationTracer.Start(ctx, "conversation.effect")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.effect", EffectName(effect)))

	var out Outcome
	switch e := effect.(type) {
	case OfferSlots:
		now := o.cfg.now()
		policy := o.machine.Policy()
		out.Slots, out.Err = o.store.ListAvailable(ctx, now, now.Add(policy.OfferWindow), policy.OfferLimit)

	case ReserveSlot:
		out.Appointment, out.Err = o.store.Reserve(ctx, e.Slot.ID, s.PatientID)
		o.cfg.metrics.ObserveReservation("reserve", outcomeLabel(out.Err))

	case RescheduleAppointment:
		out.Appointment, out.Err = o.store.Reschedule(ctx, e.AppointmentID, e.Slot.ID)
		o.cfg.metrics.ObserveReservation("reschedule", outcomeLabel(out.Err))

	case CancelAppointment:
		out.Appointment, out.Err = o.store.Cancel(ctx, e.AppointmentID)
		o.cfg.metrics.ObserveReservation("cancel", outcomeLabel(out.Err))

	case ListAppointments:
		out.Appointments, out.Err = o.store.ListUpcoming(ctx, s.PatientID, o.cfg.now())

	case NotifyCalendar:
		out.CalendarRef, out.Err = o.notify(ctx, s, e.Appointment)

	default:
		panic(fmt.Sprintf("conversation: unhandled effect %T", effect))
	}

	if out.Err != nil {
		span.RecordError(out.Err)
		if errors.Is(out.Err, bookings.ErrStoreUnavailable) {
			o.logger.Error("conversation: effect failed", "effect", EffectName(effect), "error", out.Err, "patient_id", s.PatientID)
		} else {
			o.logger.Info("conversation: effect rejected", "effect", EffectName(effect), "error", out.Err, "patient_id", s.PatientID)
		}
	}
	return out
}

func (o *Orchestrator) notify(ctx context.Context, s Session, appt bookings.Appointment) (string, error) {
	nctx, cancel := context.WithTimeout(ctx, o.cfg.notifyTimeout)
	defer cancel()

	ref, err := o.cfg.notifier.Notify(nctx, notify.Confirmation{
		AppointmentID: appt.ID,
		PatientName:   s.Profile.FullName,
		PatientEmail:  s.Profile.Email,
		Doctor:        appt.Doctor,
		Start:         appt.Time,
		End:           appt.EndTime,
	})
	if ref != "" {
		if attachErr := o.store.AttachCalendarRef(ctx, appt.ID, ref); attachErr != nil {
			o.logger.Warn("conversation: store calendar reference failed", "error", attachErr, "appointment_id", appt.ID)
		}
	}
	return ref, err
}

func mutates(e Effect) bool {
	switch e.(type) {
	case ReserveSlot, RescheduleAppointment, CancelAppointment:
		return true
	default:
		return false
	}
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, bookings.ErrSlotUnavailable):
		return "unavailable"
	case errors.Is(err, bookings.ErrSlotNotFound), errors.Is(err, bookings.ErrAppointmentNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func optionsLen(st State) int {
	switch v := st.(type) {
	case StateAwaitingSlotChoice:
		return len(v.Offer)
	case StateAwaitingAppointmentChoice:
		return len(v.Appointments)
	default:
		return 0
	}
}
