package conversation

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/wolfman30/clinic-booking-ai/pkg/logging"
)

// SimulateRequest is a chat turn sent without going through Twilio.
type SimulateRequest struct {
	From string `json:"from"`
	Body string `json:"body"`
}

// SimulateResponse carries the reply the patient would receive.
type SimulateResponse struct {
	Reply string `json:"reply"`
}

// Handler exposes the dialogue over JSON for operators and local testing.
type Handler struct {
	inbound InboundHandler
	logger  *logging.Logger
}

// NewHandler creates a conversation handler.
func NewHandler(inbound InboundHandler, logger *logging.Logger) *Handler {
	if inbound == nil {
		panic("conversation: inbound handler cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{inbound: inbound, logger: logger}
}

// Simulate handles POST /admin/conversations/simulate.
func (h *Handler) Simulate(w http.ResponseWriter, r *http.Request) {
	var req SimulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode simulate request", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.From) == "" {
		http.Error(w, "from is required", http.StatusBadRequest)
		return
	}

	reply := h.inbound.HandleInbound(r.Context(), req.From, req.Body)
	h.writeJSON(w, http.StatusOK, SimulateResponse{Reply: reply})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
