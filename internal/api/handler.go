package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gate-scanner/internal/auth"
	"gate-scanner/internal/cache"
	"gate-scanner/internal/logger"
	"gate-scanner/internal/models"
	"gate-scanner/internal/netwatch"
	"gate-scanner/internal/scanner"
	"gate-scanner/internal/syncer"
	"gate-scanner/internal/utils"
)

// Handler is the local HTTP surface the operator UI talks to. It holds no
// business rules; everything delegates to the session controller and sync
// engine.
type Handler struct {
	Session *scanner.Session
	Sync    *syncer.Engine
	Cache   *cache.Cache
	Watcher *netwatch.Watcher
	Logger  *logger.Logger
}

// ProcessScan handles one scan from the UI.
// Expected POST request body: {"code": "...", "method": "manual|qr|nfc"}
func (h *Handler) ProcessScan(w http.ResponseWriter, r *http.Request) {
	var requestBody struct {
		Code   string `json:"code"`
		Method string `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if requestBody.Code == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}
	if requestBody.Method == "" {
		requestBody.Method = models.MethodManual
	}

	staffID := auth.StaffIDFromRequest(r)
	outcome := h.Session.ProcessScan(r.Context(), requestBody.Code, requestBody.Method, staffID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(utils.SuccessResponse(outcome.Message, outcome))
}

// SyncNow drains the offline queue on operator demand.
func (h *Handler) SyncNow(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Sync.Sync(r.Context())
	if err != nil {
		if err == syncer.ErrSyncRunning {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(utils.ErrorResponse("Sync already in progress", err.Error()))
			return
		}
		http.Error(w, "Sync failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(utils.SuccessResponse("Sync complete", summary))
}

// SyncStatus feeds the pending badge and the online indicator.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := h.Session.SyncStatus(r.Context())
	if err != nil {
		http.Error(w, "Failed to read queue: "+err.Error(), http.StatusInternalServerError)
		return
	}

	status := map[string]interface{}{
		"pending": counts.Pending,
		"failed":  counts.Failed,
		"online":  h.Watcher != nil && h.Watcher.Online(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(utils.SuccessResponse("Sync status", status))
}

// History returns recent scan outcomes, most recent first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(utils.SuccessResponse("Scan history", h.Session.History()))
}

// EventStats returns snapshot size and checked-in count for one event from
// the local cache.
func (h *Handler) EventStats(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	total, err := h.Cache.TicketCount(r.Context(), eventID)
	if err != nil {
		http.Error(w, "Failed to count tickets: "+err.Error(), http.StatusInternalServerError)
		return
	}
	checkedIn, err := h.Cache.CheckedInCount(r.Context(), eventID)
	if err != nil {
		http.Error(w, "Failed to count checked-in tickets: "+err.Error(), http.StatusInternalServerError)
		return
	}

	stats := map[string]interface{}{
		"event_id":         eventID,
		"ticket_count":     total,
		"checked_in_count": checkedIn,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(utils.SuccessResponse("Event stats", stats))
}

// RefreshCache forces a snapshot refresh for one event.
func (h *Handler) RefreshCache(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	result := h.Cache.Refresh(r.Context(), eventID, true)
	if result.Status == cache.RefreshFailed {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(utils.ErrorResponse("Cache refresh failed", "backend unreachable"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(utils.SuccessResponse("Cache refreshed", result))
}

// Healthz answers the device UI's liveness poll.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
