/**
 * @description
 * The credit ledger service. Every balance change locks the owner's account row,
 * applies the shared rule from rules.go, and persists the new balance together
 * with exactly one history entry. The *In variants run inside a caller-owned
 * transaction so the payment workflow can couple a grant to its decision.
 *
 * @dependencies
 * - log/slog: Structured logging.
 * - internal/store: Repository and unit of work.
 * - internal/metrics: Operation counters.
 */

package ledger

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/btaap/library-service/internal/domain"
	"github.com/btaap/library-service/internal/metrics"
	"github.com/btaap/library-service/internal/store"
	"github.com/google/uuid"
)

// DefaultSummaryLimit is how many recent entries a summary shows.
const DefaultSummaryLimit = 10

// Ledger owns credit balances and expiry windows.
type Ledger struct {
	repo    store.Repository
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a ledger over repo.
func New(repo store.Repository, logger *slog.Logger, m *metrics.Metrics) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{repo: repo, logger: logger, metrics: m}
}

// Deduct spends cost credits from the user's account and returns the new balance.
func (l *Ledger) Deduct(ctx context.Context, userID uuid.UUID, cost int64, description string, now time.Time) (int64, error) {
	if cost <= 0 {
		l.metrics.ObserveLedger("deduct", outcome(domain.ErrInvalidInput))
		return 0, domain.NewError(domain.KindInvalidInput, "Invalid credit cost")
	}

	var balance int64
	err := l.repo.InTx(ctx, func(tx store.Tx) error {
		var err error
		balance, err = l.DeductIn(ctx, tx, userID, cost, description, now)
		return err
	})
	l.metrics.ObserveLedger("deduct", outcome(err))
	if err != nil {
		if domain.KindOf(err) == domain.KindInfraFailure {
			l.logger.Error("credit deduction failed", "error", err, "user_id", userID, "cost", cost)
		}
		return 0, err
	}

	l.metrics.AddCredits(string(domain.EntryKindUsage), cost)
	l.logger.Info("credits deducted", "user_id", userID, "cost", cost, "balance", balance)
	return balance, nil
}

// DeductIn is Deduct inside an existing transaction.
func (l *Ledger) DeductIn(ctx context.Context, tx store.Tx, userID uuid.UUID, cost int64, description string, now time.Time) (int64, error) {
	acct, err := tx.LockCreditAccount(ctx, userID)
	if err != nil {
		return 0, accountError(err)
	}

	entry, err := ApplyUsage(acct, cost, description, now)
	if err != nil {
		return 0, err
	}

	updated, err := tx.ApplyCreditMutation(ctx, userID, store.CreditMutation{Entry: entry})
	if err != nil {
		if errors.Is(err, store.ErrNegativeBalance) {
			return 0, domain.WrapError(domain.KindInsufficientCredits, "Insufficient credits", err)
		}
		return 0, accountError(err)
	}
	return updated.Balance, nil
}

// ExtendAndCredit grants credits and extends the expiry window by months.
func (l *Ledger) ExtendAndCredit(ctx context.Context, userID uuid.UUID, credits int64, months int, description string, now time.Time) (*domain.CreditAccount, error) {
	var updated *domain.CreditAccount
	err := l.repo.InTx(ctx, func(tx store.Tx) error {
		var err error
		updated, err = l.ExtendAndCreditIn(ctx, tx, userID, credits, months, description, now)
		return err
	})
	l.metrics.ObserveLedger("extend_and_credit", outcome(err))
	if err != nil {
		return nil, err
	}
	l.metrics.AddCredits(string(domain.EntryKindPurchase), credits)
	return updated, nil
}

// ExtendAndCreditIn is ExtendAndCredit inside an existing transaction.
// A missing account is reported as store.ErrUserNotFound so callers can decide.
func (l *Ledger) ExtendAndCreditIn(ctx context.Context, tx store.Tx, userID uuid.UUID, credits int64, months int, description string, now time.Time) (*domain.CreditAccount, error) {
	acct, err := tx.LockCreditAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	entry, expiry, err := ApplyPurchase(acct, credits, months, description, now)
	if err != nil {
		return nil, err
	}

	return tx.ApplyCreditMutation(ctx, userID, store.CreditMutation{Entry: entry, NewExpiry: &expiry})
}

// Summary returns the account state with the most recent history entries, newest first.
func (l *Ledger) Summary(ctx context.Context, userID uuid.UUID, limit int, now time.Time) (*domain.CreditSummary, error) {
	if limit <= 0 {
		limit = DefaultSummaryLimit
	}
	acct, err := l.repo.GetCreditAccount(ctx, userID)
	if err != nil {
		return nil, accountError(err)
	}
	recent, err := l.repo.ListLedgerEntries(ctx, userID, limit)
	if err != nil {
		return nil, accountError(err)
	}
	return &domain.CreditSummary{
		Balance:   acct.Balance,
		Expiry:    acct.Expiry,
		Active:    HasActiveCredit(*acct, now),
		Recent:    recent,
		CheckedAt: now,
	}, nil
}

// Account returns the stored credit state for a user without history.
func (l *Ledger) Account(ctx context.Context, userID uuid.UUID) (*domain.CreditAccount, error) {
	acct, err := l.repo.GetCreditAccount(ctx, userID)
	if err != nil {
		return nil, accountError(err)
	}
	return acct, nil
}

func accountError(err error) error {
	if errors.Is(err, store.ErrUserNotFound) {
		return domain.WrapError(domain.KindNotFound, "User not found", err)
	}
	return err
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(domain.KindOf(err).Code())
}
