/**
 * @description
 * This file defines the payment request model: a user-submitted receipt for a
 * manual mobile-money payment that an admin approves or rejects exactly once.
 *
 * @dependencies
 * - github.com/google/uuid: For identifiers.
 * - github.com/shopspring/decimal: For the paid amount.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle state of a payment request.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusApproved PaymentStatus = "approved"
	PaymentStatusRejected PaymentStatus = "rejected"
)

// Valid reports whether s is a known status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusApproved, PaymentStatusRejected:
		return true
	}
	return false
}

// Terminal reports whether s is a decided state.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusApproved || s == PaymentStatusRejected
}

// DefaultRejectionReason is recorded when an admin rejects without a reason.
const DefaultRejectionReason = "Payment rejected by admin"

// PaymentRequest is a submitted receipt awaiting or past an admin decision.
type PaymentRequest struct {
	ID              uuid.UUID       `json:"id"`
	OwnerID         uuid.UUID       `json:"userId"`
	MobileNumber    string          `json:"mobileNumber"`
	TransactionID   string          `json:"transactionId"`
	Amount          decimal.Decimal `json:"amount"`
	PlanName        string          `json:"planName"`
	PlanCredits     int64           `json:"credits"`
	Reference       string          `json:"reference"`
	Status          PaymentStatus   `json:"status"`
	DecidedBy       *uuid.UUID      `json:"approvedBy,omitempty"`
	DecidedAt       *time.Time      `json:"approvedAt,omitempty"`
	RejectionReason string          `json:"rejectionReason,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// SubmitPaymentPayload is the body of a payment submission.
type SubmitPaymentPayload struct {
	MobileNumber  string          `json:"mobileNumber"`
	TransactionID string          `json:"transactionId"`
	Amount        decimal.Decimal `json:"amount"`
	PlanName      string          `json:"planName"`
	Credits       int64           `json:"credits"`
	Reference     string          `json:"reference"`
}

// PaymentFilter narrows payment listings. Zero values match everything.
type PaymentFilter struct {
	Status  PaymentStatus
	OwnerID *uuid.UUID
}

// PaymentDecision is the outcome returned by approve/reject.
type PaymentDecision struct {
	Payment    PaymentRequest `json:"payment"`
	NewBalance *int64         `json:"newBalance,omitempty"`
	NewExpiry  *time.Time     `json:"newExpiry,omitempty"`
	Granted    bool           `json:"granted"`
}
