package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/btaap/library-service/internal/domain"
	"github.com/btaap/library-service/internal/ledger"
)

type useCreditsRequest struct {
	Cost   int64  `json:"cost"`
	Reason string `json:"reason"`
}

// CreditSummaryHandler returns the caller's balance, expiry and recent history.
func (h *LibraryHandlers) CreditSummaryHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	limit := ledger.DefaultSummaryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, domain.KindInvalidInput.Code(), "Invalid limit")
			return
		}
		limit = n
	}

	summary, err := h.ledger.Summary(r.Context(), principal.ID, limit, h.now())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": summary})
}

// UseCreditsHandler spends credits for a caller-supplied reason.
func (h *LibraryHandlers) UseCreditsHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req useCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.KindInvalidInput.Code(), "Invalid request body")
		return
	}

	remaining, err := h.downloads.UseCredits(r.Context(), principal, req.Cost, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "remainingCredits": remaining})
}

// ListDownloadsHandler returns the caller's download history.
func (h *LibraryHandlers) ListDownloadsHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	records, err := h.downloads.ListDownloads(r.Context(), principal)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": records})
}
