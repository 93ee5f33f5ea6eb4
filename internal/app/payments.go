/**
 * @description
 * The payment approval workflow. A submitted receipt stays pending until an admin
 * approves or rejects it, exactly once. Approval grants the plan's credits inside
 * the same storage transaction that records the decision.
 *
 * @dependencies
 * - internal/ledger: Shared credit rule for the grant.
 * - internal/store: Repository and unit of work.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/btaap/library-service/internal/domain"
	"github.com/btaap/library-service/internal/ledger"
	"github.com/btaap/library-service/internal/metrics"
	"github.com/btaap/library-service/internal/store"
	"github.com/google/uuid"
)

// PaymentService manages payment requests.
type PaymentService struct {
	repo            store.Repository
	ledger          *ledger.Ledger
	events          *eventBus
	logger          *slog.Logger
	metrics         *metrics.Metrics
	now             func() time.Time
	extensionMonths int
}

// NewPaymentService creates a payment workflow over repo.
func NewPaymentService(repo store.Repository, l *ledger.Ledger, publisher EventPublisher, exchange string, logger *slog.Logger, m *metrics.Metrics) *PaymentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentService{
		repo:            repo,
		ledger:          l,
		events:          newEventBus(publisher, exchange, logger),
		logger:          logger,
		metrics:         m,
		now:             time.Now,
		extensionMonths: 1,
	}
}

// SetClock overrides the time source.
func (s *PaymentService) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SetPlanExtensionMonths sets how far an approval extends the expiry window.
func (s *PaymentService) SetPlanExtensionMonths(months int) {
	if months > 0 {
		s.extensionMonths = months
	}
}

// Submit records a new pending payment request for the principal.
func (s *PaymentService) Submit(ctx context.Context, principal domain.Principal, payload domain.SubmitPaymentPayload) (*domain.PaymentRequest, error) {
	payload.MobileNumber = strings.TrimSpace(payload.MobileNumber)
	payload.TransactionID = strings.TrimSpace(payload.TransactionID)
	payload.PlanName = strings.TrimSpace(payload.PlanName)
	payload.Reference = strings.TrimSpace(payload.Reference)

	if payload.MobileNumber == "" || payload.TransactionID == "" || payload.PlanName == "" ||
		payload.Reference == "" || !payload.Amount.IsPositive() || payload.Credits <= 0 {
		return nil, domain.NewError(domain.KindInvalidInput, "All fields are required")
	}

	if _, err := s.repo.FindPaymentRequestByTransactionID(ctx, payload.TransactionID); err == nil {
		return nil, duplicateReference()
	} else if !errors.Is(err, store.ErrPaymentNotFound) {
		return nil, fmt.Errorf("lookup transaction id: %w", err)
	}

	now := s.now()
	payment := &domain.PaymentRequest{
		ID:            uuid.New(),
		OwnerID:       principal.ID,
		MobileNumber:  payload.MobileNumber,
		TransactionID: payload.TransactionID,
		Amount:        payload.Amount,
		PlanName:      payload.PlanName,
		PlanCredits:   payload.Credits,
		Reference:     payload.Reference,
		Status:        domain.PaymentStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreatePaymentRequest(ctx, payment); err != nil {
		if errors.Is(err, store.ErrDuplicateTransactionID) {
			return nil, duplicateReference()
		}
		return nil, fmt.Errorf("create payment request: %w", err)
	}

	s.metrics.ObservePayment(string(domain.PaymentStatusPending))
	s.logger.Info("payment submitted", "payment_id", payment.ID, "user_id", principal.ID, "plan", payment.PlanName)
	s.events.publish(ctx, RoutingKeyPaymentSubmitted, paymentEvent(*payment, nil))
	return payment, nil
}

// Approve moves a pending request to approved and grants its credits.
// A request whose owner no longer exists is still approved, without a grant.
func (s *PaymentService) Approve(ctx context.Context, admin domain.Principal, paymentID uuid.UUID) (*domain.PaymentDecision, error) {
	now := s.now()
	var decision domain.PaymentDecision

	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		payment, err := lockPending(ctx, tx, paymentID)
		if err != nil {
			return err
		}

		description := fmt.Sprintf("%s plan approved (TxID: %s)", payment.PlanName, payment.TransactionID)
		acct, err := s.ledger.ExtendAndCreditIn(ctx, tx, payment.OwnerID, payment.PlanCredits, s.extensionMonths, description, now)
		switch {
		case errors.Is(err, store.ErrUserNotFound):
			s.logger.Warn("payment owner missing; approving without credit grant", "payment_id", payment.ID, "user_id", payment.OwnerID)
		case err != nil:
			return err
		default:
			balance := acct.Balance
			decision.Granted = true
			decision.NewBalance = &balance
			decision.NewExpiry = acct.Expiry
		}

		updated, err := tx.UpdatePaymentDecision(ctx, store.PaymentDecisionUpdate{
			PaymentID: payment.ID,
			Status:    domain.PaymentStatusApproved,
			DecidedBy: admin.ID,
			DecidedAt: now,
		})
		if err != nil {
			return decisionError(err)
		}
		decision.Payment = *updated
		return nil
	})
	if err != nil {
		s.logDecisionFailure("approve", paymentID, err)
		return nil, err
	}

	s.metrics.ObservePayment(string(domain.PaymentStatusApproved))
	if decision.Granted {
		s.metrics.AddCredits(string(domain.EntryKindPurchase), decision.Payment.PlanCredits)
	}
	s.logger.Info("payment approved", "payment_id", paymentID, "admin_id", admin.ID, "granted", decision.Granted)
	s.events.publish(ctx, RoutingKeyPaymentApproved, paymentEvent(decision.Payment, &decision))
	return &decision, nil
}

// Reject moves a pending request to rejected. The ledger is not touched.
func (s *PaymentService) Reject(ctx context.Context, admin domain.Principal, paymentID uuid.UUID, reason string) (*domain.PaymentDecision, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = domain.DefaultRejectionReason
	}
	now := s.now()
	var decision domain.PaymentDecision

	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		payment, err := lockPending(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		updated, err := tx.UpdatePaymentDecision(ctx, store.PaymentDecisionUpdate{
			PaymentID:       payment.ID,
			Status:          domain.PaymentStatusRejected,
			DecidedBy:       admin.ID,
			DecidedAt:       now,
			RejectionReason: reason,
		})
		if err != nil {
			return decisionError(err)
		}
		decision.Payment = *updated
		return nil
	})
	if err != nil {
		s.logDecisionFailure("reject", paymentID, err)
		return nil, err
	}

	s.metrics.ObservePayment(string(domain.PaymentStatusRejected))
	s.logger.Info("payment rejected", "payment_id", paymentID, "admin_id", admin.ID)
	s.events.publish(ctx, RoutingKeyPaymentRejected, paymentEvent(decision.Payment, &decision))
	return &decision, nil
}

// Decide applies an admin decision given as a status value.
func (s *PaymentService) Decide(ctx context.Context, admin domain.Principal, paymentID uuid.UUID, status domain.PaymentStatus, reason string) (*domain.PaymentDecision, error) {
	switch status {
	case domain.PaymentStatusApproved:
		return s.Approve(ctx, admin, paymentID)
	case domain.PaymentStatusRejected:
		return s.Reject(ctx, admin, paymentID, reason)
	default:
		return nil, domain.NewError(domain.KindInvalidInput, "Invalid status")
	}
}

// ListAll returns every request, optionally filtered by status, newest first.
func (s *PaymentService) ListAll(ctx context.Context, status domain.PaymentStatus) ([]domain.PaymentRequest, error) {
	if status != "" && !status.Valid() {
		return nil, domain.NewError(domain.KindInvalidInput, "Invalid status filter")
	}
	return s.repo.ListPaymentRequests(ctx, domain.PaymentFilter{Status: status})
}

// ListPending returns the requests awaiting a decision, newest first.
func (s *PaymentService) ListPending(ctx context.Context) ([]domain.PaymentRequest, error) {
	return s.repo.ListPaymentRequests(ctx, domain.PaymentFilter{Status: domain.PaymentStatusPending})
}

// ListMine returns the principal's own requests, newest first.
func (s *PaymentService) ListMine(ctx context.Context, principal domain.Principal) ([]domain.PaymentRequest, error) {
	owner := principal.ID
	return s.repo.ListPaymentRequests(ctx, domain.PaymentFilter{OwnerID: &owner})
}

// Get returns one request. Non-admins only see their own.
func (s *PaymentService) Get(ctx context.Context, principal domain.Principal, paymentID uuid.UUID) (*domain.PaymentRequest, error) {
	payment, err := s.repo.GetPaymentRequest(ctx, paymentID)
	if err != nil {
		return nil, paymentLookupError(err)
	}
	if !principal.IsAdmin() && payment.OwnerID != principal.ID {
		return nil, domain.NewError(domain.KindNotFound, "Payment not found")
	}
	return payment, nil
}

func lockPending(ctx context.Context, tx store.Tx, paymentID uuid.UUID) (*domain.PaymentRequest, error) {
	payment, err := tx.LockPaymentRequest(ctx, paymentID)
	if err != nil {
		return nil, paymentLookupError(err)
	}
	if payment.Status != domain.PaymentStatusPending {
		return nil, domain.NewError(domain.KindAlreadyDecided, fmt.Sprintf("Payment has already been %s", payment.Status))
	}
	return payment, nil
}

func (s *PaymentService) logDecisionFailure(action string, paymentID uuid.UUID, err error) {
	if domain.KindOf(err) == domain.KindInfraFailure {
		s.logger.Error("payment decision failed", "action", action, "payment_id", paymentID, "error", err)
		return
	}
	s.logger.Info("payment decision refused", "action", action, "payment_id", paymentID, "reason", err.Error())
}

func paymentLookupError(err error) error {
	if errors.Is(err, store.ErrPaymentNotFound) {
		return domain.WrapError(domain.KindNotFound, "Payment not found", err)
	}
	return err
}

func decisionError(err error) error {
	if errors.Is(err, store.ErrPaymentAlreadyDecided) {
		return domain.WrapError(domain.KindAlreadyDecided, "Payment has already been decided", err)
	}
	return paymentLookupError(err)
}

func duplicateReference() error {
	return domain.NewError(domain.KindDuplicateReference, "Transaction ID already submitted")
}

func paymentEvent(p domain.PaymentRequest, decision *domain.PaymentDecision) PaymentEvent {
	event := PaymentEvent{
		PaymentID:       p.ID,
		UserID:          p.OwnerID,
		TransactionID:   p.TransactionID,
		PlanName:        p.PlanName,
		PlanCredits:     p.PlanCredits,
		Amount:          p.Amount,
		Status:          string(p.Status),
		DecidedBy:       p.DecidedBy,
		RejectionReason: p.RejectionReason,
		OccurredAt:      p.UpdatedAt,
	}
	if decision != nil {
		event.CreditsGranted = decision.Granted
		event.NewBalance = decision.NewBalance
		event.NewExpiry = decision.NewExpiry
	}
	return event
}
