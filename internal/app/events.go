/**
 * @description
 * Domain events published after a state change has committed. Publishing is best
 * effort: a broker failure is logged and never undoes or fails the operation.
 */

package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	RoutingKeyPaymentSubmitted = "payment.submitted"
	RoutingKeyPaymentApproved  = "payment.approved"
	RoutingKeyPaymentRejected  = "payment.rejected"
	RoutingKeyCreditsDeducted  = "credits.deducted"
	RoutingKeyCreditsExpired   = "credits.expired"
)

// EventPublisher is the interface implemented by types that can publish events.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// PaymentEvent is published on every payment state change.
type PaymentEvent struct {
	PaymentID       uuid.UUID       `json:"payment_id"`
	UserID          uuid.UUID       `json:"user_id"`
	TransactionID   string          `json:"transaction_id"`
	PlanName        string          `json:"plan_name"`
	PlanCredits     int64           `json:"plan_credits"`
	Amount          decimal.Decimal `json:"amount"`
	Status          string          `json:"status"`
	DecidedBy       *uuid.UUID      `json:"decided_by,omitempty"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	CreditsGranted  bool            `json:"credits_granted"`
	NewBalance      *int64          `json:"new_balance,omitempty"`
	NewExpiry       *time.Time      `json:"new_expiry,omitempty"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

// CreditsDeductedEvent is published after a paid download or credit use.
type CreditsDeductedEvent struct {
	UserID      uuid.UUID  `json:"user_id"`
	Cost        int64      `json:"cost"`
	Balance     int64      `json:"balance"`
	Description string     `json:"description"`
	DocumentID  *uuid.UUID `json:"document_id,omitempty"`
	OccurredAt  time.Time  `json:"occurred_at"`
}

// CreditsExpiredEvent is published by the expiry sweep for each lapsed account.
type CreditsExpiredEvent struct {
	UserID           uuid.UUID `json:"user_id"`
	RemainingCredits int64     `json:"remaining_credits"`
	ExpiredAt        time.Time `json:"expired_at"`
}

type eventBus struct {
	publisher EventPublisher
	exchange  string
	logger    *slog.Logger
}

func newEventBus(publisher EventPublisher, exchange string, logger *slog.Logger) *eventBus {
	if exchange == "" {
		exchange = "library.events"
	}
	return &eventBus{publisher: publisher, exchange: exchange, logger: logger}
}

func (b *eventBus) publish(ctx context.Context, routingKey string, body interface{}) {
	if b == nil || b.publisher == nil {
		return
	}
	if err := b.publisher.Publish(ctx, b.exchange, routingKey, body); err != nil {
		b.logger.Warn("event publish failed", "error", err, "exchange", b.exchange, "routing_key", routingKey)
	}
}
