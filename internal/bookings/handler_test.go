package bookings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-booking-ai/pkg/logging"
)

func testTemplate() ScheduleTemplate {
	return ScheduleTemplate{Doctor: "Dr. Test", Location: time.UTC, OpenHour: 10, CloseHour: 12, SlotLength: 30 * time.Minute}
}

func newTestHandler(store SlotAdmin) *Handler {
	h := NewHandler(store, testTemplate(), logging.Default())
	h.now = fixedClock
	return h
}

func TestHandler_SeedThenList(t *testing.T) {
	store := NewMemoryStore(WithClock(fixedClock))
	h := newTestHandler(store)

	rec := httptest.NewRecorder()
	h.SeedSlots(rec, httptest.NewRequest(http.MethodPost, "/admin/slots/seed", strings.NewReader(`{"days":2}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var seeded SeedResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&seeded))
	assert.Equal(t, 8, seeded.Generated)
	assert.Equal(t, 8, seeded.Inserted)

	// Seeding the same window again is idempotent.
	rec = httptest.NewRecorder()
	h.SeedSlots(rec, httptest.NewRequest(http.MethodPost, "/admin/slots/seed", strings.NewReader(`{"days":2}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&seeded))
	assert.Equal(t, 0, seeded.Inserted)

	rec = httptest.NewRecorder()
	h.ListSlots(rec, httptest.NewRequest(http.MethodGet, "/admin/slots?days=1&limit=3", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Slots []Slot `json:"slots"`
		Count int    `json:"count"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listed))
	assert.Equal(t, 3, listed.Count)
	assert.True(t, listed.Slots[0].Start.Before(listed.Slots[1].Start))
}

func TestHandler_SeedDefaultsAndValidation(t *testing.T) {
	h := newTestHandler(NewMemoryStore(WithClock(fixedClock)))

	rec := httptest.NewRecorder()
	h.SeedSlots(rec, httptest.NewRequest(http.MethodPost, "/admin/slots/seed", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var seeded SeedResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&seeded))
	assert.Equal(t, defaultSeedDays*4, seeded.Generated)

	for name, body := range map[string]string{
		"malformed": `{"days":`,
		"too many":  `{"days":365}`,
		"negative":  `{"days":-1}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.SeedSlots(rec, httptest.NewRequest(http.MethodPost, "/admin/slots/seed", strings.NewReader(body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandler_ListValidation(t *testing.T) {
	h := newTestHandler(NewMemoryStore(WithClock(fixedClock)))

	for _, target := range []string{"/admin/slots?days=0", "/admin/slots?limit=abc", "/admin/slots?limit=100000"} {
		rec := httptest.NewRecorder()
		h.ListSlots(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}

	rec := httptest.NewRecorder()
	h.ListSlots(rec, httptest.NewRequest(http.MethodGet, "/admin/slots", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"slots":[]`)
}

type failingAdminStore struct{}

func (failingAdminStore) ListAvailable(context.Context, time.Time, time.Time, int) ([]Slot, error) {
	return nil, ErrStoreUnavailable
}
func (failingAdminStore) Reserve(context.Context, uuid.UUID, uuid.UUID) (Appointment, error) {
	return Appointment{}, ErrStoreUnavailable
}
func (failingAdminStore) Release(context.Context, uuid.UUID) error { return ErrStoreUnavailable }
func (failingAdminStore) Seed(context.Context, []Slot) (int, error) {
	return 0, errors.New("disk full")
}

func TestHandler_StoreFailures(t *testing.T) {
	h := newTestHandler(failingAdminStore{})

	rec := httptest.NewRecorder()
	h.ListSlots(rec, httptest.NewRequest(http.MethodGet, "/admin/slots", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	h.SeedSlots(rec, httptest.NewRequest(http.MethodPost, "/admin/slots/seed", strings.NewReader(`{"days":1}`)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
