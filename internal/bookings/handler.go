package bookings

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/clinic-booking-ai/pkg/logging"
)

const (
	maxSeedDays       = 90
	defaultSeedDays   = 14
	defaultListDays   = 7
	maxAdminListLimit = 500
)

// SlotAdmin is the store surface the slot admin endpoints need.
type SlotAdmin interface {
	Inventory
	Seeder
}

// Handler exposes slot inventory administration over HTTP.
type Handler struct {
	store    SlotAdmin
	template ScheduleTemplate
	logger   *logging.Logger
	now      func() time.Time
}

// NewHandler builds the slot admin handler. Seeding lays slots out with tpl.
func NewHandler(store SlotAdmin, tpl ScheduleTemplate, logger *logging.Logger) *Handler {
	if store == nil {
		panic("bookings: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, template: tpl, logger: logger, now: time.Now}
}

// SeedRequest is the body of POST /admin/slots/seed.
type SeedRequest struct {
	Days int       `json:"days"`
	From time.Time `json:"from,omitempty"`
}

// SeedResponse reports how many generated slots were new.
type SeedResponse struct {
	Generated int `json:"generated"`
	Inserted  int `json:"inserted"`
}

// ListSlots handles GET /admin/slots?days=7&limit=50.
func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days", defaultListDays, 1, maxSeedDays)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intParam(r, "limit", 50, 1, maxAdminListLimit)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := h.now().UTC()
	slots, err := h.store.ListAvailable(r.Context(), now, now.AddDate(0, 0, days), limit)
	if err != nil {
		h.logger.Error("failed to list slots", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to list slots")
		return
	}
	if slots == nil {
		slots = []Slot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": slots, "count": len(slots)})
}

// SeedSlots handles POST /admin/slots/seed. An empty body seeds the default window from now.
func (h *Handler) SeedSlots(w http.ResponseWriter, r *http.Request) {
	var req SeedRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json body")
			return
		}
	}
	if req.Days == 0 {
		req.Days = defaultSeedDays
	}
	if req.Days < 0 || req.Days > maxSeedDays {
		writeJSONError(w, http.StatusBadRequest, "days must be 1-90")
		return
	}
	from := req.From
	if from.IsZero() {
		from = h.now()
	}

	slots := GenerateSlots(h.template, from, req.Days)
	inserted, err := h.store.Seed(r.Context(), slots)
	if err != nil {
		h.logger.Error("failed to seed slots", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to seed slots")
		return
	}
	h.logger.Info("slots seeded", "generated", len(slots), "inserted", inserted, "days", req.Days)
	writeJSON(w, http.StatusOK, SeedResponse{Generated: len(slots), Inserted: inserted})
}

func intParam(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		return 0, &paramError{name: name, lo: lo, hi: hi}
	}
	return v, nil
}

type paramError struct {
	name   string
	lo, hi int
}

func (e *paramError) Error() string {
	return "invalid " + e.name + "; must be " + strconv.Itoa(e.lo) + "-" + strconv.Itoa(e.hi)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
