package clinic

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	"github.com/wolfman30/clinic-booking-ai/pkg/logging"
)

// Stats summarizes the slot inventory and the appointment ledger.
type Stats struct {
	UpcomingSlots         int64  `json:"upcoming_slots"`
	OpenSlots             int64  `json:"open_slots"`
	ReservedSlots         int64  `json:"reserved_slots"`
	AppointmentsConfirmed int64  `json:"appointments_confirmed"`
	AppointmentsCancelled int64  `json:"appointments_cancelled"`
	Reschedules           int64  `json:"reschedules"`
	Patients              int64  `json:"patients"`
	PatientsOnboarded     int64  `json:"patients_onboarded"`
	PeriodStart           string `json:"period_start"`
	PeriodEnd             string `json:"period_end"`
}

// StatsRepository queries clinic metrics from the database.
type StatsRepository struct {
	db  *sql.DB
	now func() time.Time
}

// OpenStatsDB opens a database/sql handle on the lib/pq driver for reporting queries.
func OpenStatsDB(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("clinic stats: open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// NewStatsRepository creates a new stats repository.
func NewStatsRepository(db *sql.DB) *StatsRepository {
	if db == nil {
		panic("clinic: sql db required for stats")
	}
	return &StatsRepository{db: db, now: time.Now}
}

// GetStats retrieves aggregated metrics. Appointment counts are limited to
// appointments created in [start, end) when both are set; slot counts always
// cover slots that have not started yet.
func (r *StatsRepository) GetStats(ctx context.Context, start, end *time.Time) (*Stats, error) {
	stats := &Stats{PeriodStart: "all-time", PeriodEnd: "now"}

	slotsQuery := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE reserved = false), COUNT(*) FILTER (WHERE reserved = true)
		FROM slots
		WHERE start_at >= $1`
	if err := r.db.QueryRowContext(ctx, slotsQuery, r.now().UTC()).Scan(&stats.UpcomingSlots, &stats.OpenSlots, &stats.ReservedSlots); err != nil {
		return nil, fmt.Errorf("clinic stats: count slots: %w", err)
	}

	var timeFilter string
	var args []any
	if start != nil && end != nil {
		timeFilter = ` WHERE created_at >= $1 AND created_at < $2`
		args = append(args, *start, *end)
		stats.PeriodStart = start.UTC().Format(time.RFC3339)
		stats.PeriodEnd = end.UTC().Format(time.RFC3339)
	}

	appointmentsQuery := `
		SELECT COUNT(*) FILTER (WHERE status = 'confirmed'),
		       COUNT(*) FILTER (WHERE status = 'cancelled'),
		       COUNT(*) FILTER (WHERE rescheduled_from IS NOT NULL)
		FROM appointments` + timeFilter
	if err := r.db.QueryRowContext(ctx, appointmentsQuery, args...).Scan(&stats.AppointmentsConfirmed, &stats.AppointmentsCancelled, &stats.Reschedules); err != nil {
		return nil, fmt.Errorf("clinic stats: count appointments: %w", err)
	}

	patientsQuery := `SELECT COUNT(*), COUNT(*) FILTER (WHERE onboarded) FROM patients` + timeFilter
	if err := r.db.QueryRowContext(ctx, patientsQuery, args...).Scan(&stats.Patients, &stats.PatientsOnboarded); err != nil {
		return nil, fmt.Errorf("clinic stats: count patients: %w", err)
	}

	return stats, nil
}

type statsReader interface {
	GetStats(ctx context.Context, start, end *time.Time) (*Stats, error)
}

// StatsHandler provides HTTP endpoints for clinic statistics.
type StatsHandler struct {
	repo   statsReader
	logger *logging.Logger
}

// NewStatsHandler creates a new stats HTTP handler. A nil repo answers 503.
func NewStatsHandler(repo statsReader, logger *logging.Logger) *StatsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &StatsHandler{
		repo:   repo,
		logger: logger,
	}
}

// GetStats returns aggregated slot and appointment counts.
// GET /admin/stats
// Query params:
//   - start: RFC3339 timestamp for period start (optional)
//   - end: RFC3339 timestamp for period end (optional)
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		http.Error(w, `{"error": "stats disabled (db not configured)"}`, http.StatusServiceUnavailable)
		return
	}
	start, end, err := parsePeriod(r)
	if err != nil {
		http.Error(w, `{"error": "`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}

	stats, err := h.repo.GetStats(r.Context(), start, end)
	if err != nil {
		h.logger.Error("failed to get clinic stats", "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		h.logger.Error("failed to encode clinic stats", "error", err)
	}
}

func parsePeriod(r *http.Request) (*time.Time, *time.Time, error) {
	var start, end *time.Time
	if s := r.URL.Query().Get("start"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid start time, use RFC3339 format")
		}
		start = &t
	}
	if e := r.URL.Query().Get("end"); e != "" {
		t, err := time.Parse(time.RFC3339, e)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid end time, use RFC3339 format")
		}
		end = &t
	}
	if (start == nil) != (end == nil) {
		return nil, nil, fmt.Errorf("both start and end must be provided, or neither")
	}
	if start != nil && !end.After(*start) {
		return nil, nil, fmt.Errorf("end must be after start")
	}
	return start, end, nil
}
