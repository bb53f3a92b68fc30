package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking-ai/internal/bookings"
	"github.com/wolfman30/clinic-booking-ai/internal/intent"
	"github.com/wolfman30/clinic-booking-ai/internal/notify"
	"github.com/wolfman30/clinic-booking-ai/internal/patients"
	"github.com/wolfman30/clinic-booking-ai/pkg/logging"
)

type stubNotifier struct {
	mu    sync.Mutex
	calls []notify.Confirmation
	ref   string
	err   error
}

func (s *stubNotifier) Notify(_ context.Context, c notify.Confirmation) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
	return s.ref, s.err
}

type failingResolver struct{}

func (failingResolver) Resolve(context.Context, string, intent.SessionContext) (intent.Result, error) {
	return intent.Result{}, intent.ErrResolutionFailed
}

type flakyListStore struct {
	*bookings.MemoryStore
}

func (flakyListStore) ListAvailable(context.Context, time.Time, time.Time, int) ([]bookings.Slot, error) {
	return nil, errors.Join(bookings.ErrStoreUnavailable, errors.New("connection refused"))
}

type conflictingSessions struct {
	*MemorySessionStore
}

func (conflictingSessions) Save(context.Context, Session) (Session, error) {
	return Session{}, ErrSessionConflict
}

type harness struct {
	orch     *Orchestrator
	store    *bookings.MemoryStore
	repo     *patients.InMemoryRepository
	sessions *MemorySessionStore
	notifier *stubNotifier
	slots    []bookings.Slot
}

func newHarness(t *testing.T, slotCount int) *harness {
	t.Helper()
	h := &harness{
		store:    bookings.NewMemoryStore(bookings.WithClock(func() time.Time { return testNow })),
		repo:     patients.NewInMemoryRepository(),
		sessions: NewMemorySessionStore(),
		notifier: &stubNotifier{ref: "https://calendar.google.com/calendar/render?action=TEMPLATE"},
	}
	for i := 0; i < slotCount; i++ {
		start := testNow.Add(time.Duration(i+1) * time.Hour)
		h.slots = append(h.slots, bookings.Slot{ID: uuid.New(), Doctor: "Dr. Test", Start: start, End: start.Add(30 * time.Minute)})
	}
	if _, err := h.store.Seed(context.Background(), h.slots); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h.orch = h.build(h.store, h.sessions, intent.NewRuleResolver())
	return h
}

func (h *harness) build(store BookingStore, sessions SessionStore, resolver intent.Resolver) *Orchestrator {
	return NewOrchestrator(h.repo, sessions, store, resolver, testMachine(), logging.Default(),
		WithNotifier(h.notifier),
		WithClock(func() time.Time { return testNow }),
	)
}

func (h *harness) onboarded(t *testing.T, phone string) patients.Patient {
	t.Helper()
	ctx := context.Background()
	p, err := h.repo.FindOrCreate(ctx, phone)
	if err != nil {
		t.Fatalf("find or create: %v", err)
	}
	p, err = h.repo.SaveProfile(ctx, p.ID, patients.Profile{FullName: "Asha Rao", Age: 30, Gender: "Female", Email: "asha@example.com"}, true)
	if err != nil {
		t.Fatalf("save profile: %v", err)
	}
	return p
}

func (h *harness) session(t *testing.T, p patients.Patient) Session {
	t.Helper()
	s, err := h.sessions.Load(context.Background(), p)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	return s
}

func expectContains(t *testing.T, reply string, parts ...string) {
	t.Helper()
	for _, part := range parts {
		if !strings.Contains(reply, part) {
			t.Fatalf("expected reply to contain %q, got:\n%s", part, reply)
		}
	}
}

func TestOrchestrator_OnboardThenBook(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()
	from := "whatsapp:+91 98765 43210"

	expectContains(t, h.orch.HandleInbound(ctx, from, "hi"), "Welcome to Test Clinic!", "full name")
	expectContains(t, h.orch.HandleInbound(ctx, from, "Asha Rao"), "Thanks, Asha!")
	expectContains(t, h.orch.HandleInbound(ctx, from, "30"), replyAskSex)
	expectContains(t, h.orch.HandleInbound(ctx, from, "Female"), replyAskEmail)
	expectContains(t, h.orch.HandleInbound(ctx, from, "asha@example.com"), "profile is complete")

	patient, err := h.repo.FindOrCreate(ctx, from)
	if err != nil {
		t.Fatal(err)
	}
	if !patient.Onboarded || patient.FullName != "Asha Rao" || patient.Age != 30 || patient.Gender != "Female" {
		t.Fatalf("profile not persisted: %#v", patient)
	}
	if patient.Phone != "+919876543210" {
		t.Fatalf("expected normalized phone, got %q", patient.Phone)
	}

	offer := h.orch.HandleInbound(ctx, from, "book appointment")
	expectContains(t, offer, "1️⃣", "2️⃣", "3️⃣", "Reply with the number")
	if st, ok := h.session(t, patient).State.(StateAwaitingSlotChoice); !ok || len(st.Offer) != 3 {
		t.Fatalf("expected a three-slot offer, got %#v", h.session(t, patient).State)
	}

	confirmed := h.orch.HandleInbound(ctx, from, "2")
	expectContains(t, confirmed, "✅ Confirmed!", "Dr. Test", "📅 *Add to Calendar:*")

	slot, _ := h.store.Slot(h.slots[1].ID)
	if !slot.Reserved {
		t.Fatal("expected the second slot to be reserved")
	}
	appts := h.store.Appointments(h.slots[1].ID)
	if len(appts) != 1 || appts[0].PatientID != patient.ID {
		t.Fatalf("unexpected appointments %#v", appts)
	}
	if appts[0].CalendarRef != h.notifier.ref {
		t.Fatalf("expected calendar ref to be stored, got %q", appts[0].CalendarRef)
	}
	if len(h.notifier.calls) != 1 || h.notifier.calls[0].PatientEmail != "asha@example.com" {
		t.Fatalf("unexpected notifier calls %#v", h.notifier.calls)
	}
	if h.session(t, patient).State != (StateIdle{}) {
		t.Fatalf("expected Idle after booking")
	}
}

func TestOrchestrator_LoserGetsFreshOffer(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()
	alice := h.onboarded(t, "+15550001")
	bob := h.onboarded(t, "+15550002")

	h.orch.HandleInbound(ctx, alice.Phone, "book")
	h.orch.HandleInbound(ctx, bob.Phone, "book")

	expectContains(t, h.orch.HandleInbound(ctx, alice.Phone, "1"), "✅ Confirmed!")

	reply := h.orch.HandleInbound(ctx, bob.Phone, "1")
	if !strings.HasPrefix(reply, replySlotTaken) {
		t.Fatalf("expected the just-taken apology first, got:\n%s", reply)
	}
	if strings.Contains(reply, "Confirmed") {
		t.Fatalf("loser must not be confirmed:\n%s", reply)
	}

	st, ok := h.session(t, bob).State.(StateAwaitingSlotChoice)
	if !ok {
		t.Fatalf("expected bob to be choosing again, got %#v", h.session(t, bob).State)
	}
	for _, id := range st.SlotIDs() {
		if id == h.slots[0].ID {
			t.Fatal("refreshed offer still lists the taken slot")
		}
	}
	if len(st.Offer) != 2 {
		t.Fatalf("expected two remaining slots, got %d", len(st.Offer))
	}
}

func TestOrchestrator_ConcurrentPicksHaveOneWinner(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()

	const callers = 8
	phones := make([]string, callers)
	for i := range phones {
		phones[i] = "+1555100" + string(rune('0'+i))
		h.onboarded(t, phones[i])
		h.orch.HandleInbound(ctx, phones[i], "book")
	}

	var wg sync.WaitGroup
	replies := make([]string, callers)
	for i := range phones {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			replies[i] = h.orch.HandleInbound(ctx, phones[i], "1")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, r := range replies {
		switch {
		case strings.Contains(r, "✅ Confirmed!"):
			winners++
		case strings.HasPrefix(r, replySlotTaken):
		default:
			t.Fatalf("unexpected reply:\n%s", r)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
	if n := len(h.store.Appointments(h.slots[0].ID)); n != 1 {
		t.Fatalf("expected one appointment on the slot, got %d", n)
	}
}

func TestOrchestrator_InvalidSelectionKeepsOffer(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()
	p := h.onboarded(t, "+15550003")

	h.orch.HandleInbound(ctx, p.Phone, "book")
	before := h.session(t, p).State

	reply := h.orch.HandleInbound(ctx, p.Phone, "banana")
	if reply != testMachine().slotHint(2) {
		t.Fatalf("expected the slot hint, got %q", reply)
	}
	after := h.session(t, p).State
	if after.Kind() != KindAwaitingSlotChoice {
		t.Fatalf("expected to keep waiting for a choice, got %s", after.Kind())
	}
	if got, want := after.(StateAwaitingSlotChoice).SlotIDs(), before.(StateAwaitingSlotChoice).SlotIDs(); len(got) != len(want) || got[0] != want[0] {
		t.Fatalf("offer changed: %v vs %v", got, want)
	}
	for _, slot := range h.slots {
		if s, _ := h.store.Slot(slot.ID); s.Reserved {
			t.Fatal("no slot should be reserved")
		}
	}
}

func TestOrchestrator_ResolverFailurePersistsNothing(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	p := h.onboarded(t, "+15550004")
	h.orch.HandleInbound(ctx, p.Phone, "book")
	before := h.session(t, p)

	broken := h.build(h.store, h.sessions, failingResolver{})
	reply := broken.HandleInbound(ctx, p.Phone, "1")
	if reply != replyResolverFailure {
		t.Fatalf("expected resolver apology, got %q", reply)
	}
	after := h.session(t, p)
	if after.Version != before.Version || after.State.Kind() != before.State.Kind() {
		t.Fatalf("session changed after resolver failure: %#v", after)
	}
}

func TestOrchestrator_NotifierFailureKeepsBooking(t *testing.T) {
	h := newHarness(t, 1)
	h.notifier.ref = ""
	h.notifier.err = errors.Join(notify.ErrNotificationFailed, errors.New("smtp down"))
	ctx := context.Background()
	p := h.onboarded(t, "+15550005")

	h.orch.HandleInbound(ctx, p.Phone, "book appointment")
	reply := h.orch.HandleInbound(ctx, p.Phone, "1")
	expectContains(t, reply, "✅ Confirmed!", replyInviteFailed)

	if s, _ := h.store.Slot(h.slots[0].ID); !s.Reserved {
		t.Fatal("booking must stand when the invite fails")
	}
}

func TestOrchestrator_CancelReleasesSlot(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()
	p := h.onboarded(t, "+15550006")

	h.orch.HandleInbound(ctx, p.Phone, "book")
	h.orch.HandleInbound(ctx, p.Phone, "1")

	list := h.orch.HandleInbound(ctx, p.Phone, "I need to cancel")
	expectContains(t, list, "Which one would you like to cancel?", "1️⃣")

	expectContains(t, h.orch.HandleInbound(ctx, p.Phone, "1"), "successfully cancelled")
	if s, _ := h.store.Slot(h.slots[0].ID); s.Reserved {
		t.Fatal("expected the slot to be released")
	}

	expectContains(t, h.orch.HandleInbound(ctx, p.Phone, "cancel"), "no upcoming appointments to cancel")
}

func TestOrchestrator_RescheduleMovesBooking(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()
	p := h.onboarded(t, "+15550007")

	h.orch.HandleInbound(ctx, p.Phone, "book")
	h.orch.HandleInbound(ctx, p.Phone, "1")

	expectContains(t, h.orch.HandleInbound(ctx, p.Phone, "reschedule"), "Which one would you like to reschedule?")
	expectContains(t, h.orch.HandleInbound(ctx, p.Phone, "1"), "new time")
	expectContains(t, h.orch.HandleInbound(ctx, p.Phone, "2"), "✅ Rescheduled!")

	if s, _ := h.store.Slot(h.slots[0].ID); s.Reserved {
		t.Fatal("original slot should be free")
	}
	upcoming, err := h.store.ListUpcoming(ctx, p.ID, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if len(upcoming) != 1 || upcoming[0].SlotID != h.slots[2].ID {
		t.Fatalf("unexpected upcoming appointments %#v", upcoming)
	}
}

func TestOrchestrator_StoreFailureApologizes(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	p := h.onboarded(t, "+15550008")

	broken := h.build(flakyListStore{h.store}, h.sessions, intent.NewRuleResolver())
	if reply := broken.HandleInbound(ctx, p.Phone, "book"); reply != replySystemError {
		t.Fatalf("expected system error, got %q", reply)
	}
	if h.session(t, p).State != (StateIdle{}) {
		t.Fatal("state should be unchanged")
	}
}

func TestOrchestrator_SessionConflictStillReplies(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	p := h.onboarded(t, "+15550009")

	racing := h.build(h.store, conflictingSessions{h.sessions}, intent.NewRuleResolver())
	reply := racing.HandleInbound(ctx, p.Phone, "hello")
	expectContains(t, reply, "Hello, Asha!")
}

func TestOrchestrator_InvalidAddress(t *testing.T) {
	h := newHarness(t, 0)
	if reply := h.orch.HandleInbound(context.Background(), "whatsapp:", "hi"); reply != replySystemError {
		t.Fatalf("expected system error, got %q", reply)
	}
}
