package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/btaap/library-service/internal/domain"
)

type updatePaymentStatusRequest struct {
	Status          domain.PaymentStatus `json:"status"`
	RejectionReason string               `json:"rejectionReason"`
}

// SubmitPaymentHandler records a payment receipt for admin review.
func (h *LibraryHandlers) SubmitPaymentHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	var payload domain.SubmitPaymentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, domain.KindInvalidInput.Code(), "Invalid request body")
		return
	}

	payment, err := h.payments.Submit(r.Context(), principal, payload)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": "Payment submitted successfully. Awaiting admin approval.",
		"data":    payment,
	})
}

// MyPaymentsHandler lists the caller's own payment requests.
func (h *LibraryHandlers) MyPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	payments, err := h.payments.ListMine(r.Context(), principal)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": payments})
}

// AllPaymentsHandler lists every payment request, optionally filtered by ?status=.
func (h *LibraryHandlers) AllPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	status := domain.PaymentStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	payments, err := h.payments.ListAll(r.Context(), status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": payments})
}

// PendingPaymentsHandler lists requests awaiting a decision.
func (h *LibraryHandlers) PendingPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	payments, err := h.payments.ListPending(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": payments})
}

// UpdatePaymentStatusHandler approves or rejects a pending request.
func (h *LibraryHandlers) UpdatePaymentStatusHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "payment")
	if !ok {
		return
	}

	var req updatePaymentStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.KindInvalidInput.Code(), "Invalid request body")
		return
	}
	if req.Status != domain.PaymentStatusApproved && req.Status != domain.PaymentStatusRejected {
		writeError(w, http.StatusBadRequest, domain.KindInvalidInput.Code(), "Invalid status. Must be 'approved' or 'rejected'")
		return
	}

	decision, err := h.payments.Decide(r.Context(), principal, id, req.Status, req.RejectionReason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Payment %s successfully", req.Status),
		"data":    decision,
	})
}
