/**
 * @description
 * Pure credit rules. These functions decide and compute credit changes against an
 * in-memory CreditAccount and never touch storage, so the ledger service and the
 * payment workflow share one update rule.
 */

package ledger

import (
	"fmt"
	"time"

	"github.com/btaap/library-service/internal/domain"
	"github.com/google/uuid"
)

// HasActiveCredit reports whether the account can currently spend credits.
func HasActiveCredit(acct domain.CreditAccount, now time.Time) bool {
	return acct.Expiry != nil && acct.Expiry.After(now) && acct.Balance > 0
}

// EnsureActive checks that the account may spend cost credits at now.
// Expiry is checked before balance.
func EnsureActive(acct domain.CreditAccount, cost int64, now time.Time) error {
	if acct.Expiry == nil || !acct.Expiry.After(now) {
		return domain.NewError(domain.KindCreditExpired, "Your credits have expired. Please purchase a new plan to continue.")
	}
	if acct.Balance < cost {
		return domain.NewError(domain.KindInsufficientCredits,
			fmt.Sprintf("Insufficient credits. You need %d credits but have %d.", cost, acct.Balance))
	}
	return nil
}

// ExtendExpiry returns the new expiry after adding months to the current window.
// An expiry still in the future is extended; otherwise the window restarts at now.
func ExtendExpiry(current *time.Time, months int, now time.Time) time.Time {
	base := now
	if current != nil && current.After(now) {
		base = *current
	}
	return base.AddDate(0, months, 0)
}

// ApplyUsage spends cost credits from acct and returns the appended entry.
// acct is left untouched when the spend is refused.
func ApplyUsage(acct *domain.CreditAccount, cost int64, description string, now time.Time) (domain.LedgerEntry, error) {
	if cost <= 0 {
		return domain.LedgerEntry{}, domain.NewError(domain.KindInvalidInput, "Invalid credit cost")
	}
	if err := EnsureActive(*acct, cost, now); err != nil {
		return domain.LedgerEntry{}, err
	}

	entry := domain.LedgerEntry{
		ID:          uuid.New(),
		UserID:      acct.UserID,
		Amount:      -cost,
		Kind:        domain.EntryKindUsage,
		Description: description,
		OccurredAt:  now,
	}
	acct.Balance -= cost
	acct.History = append(acct.History, entry)
	return entry, nil
}

// ApplyPurchase adds credits and extends the expiry window by months.
func ApplyPurchase(acct *domain.CreditAccount, credits int64, months int, description string, now time.Time) (domain.LedgerEntry, time.Time, error) {
	if credits <= 0 {
		return domain.LedgerEntry{}, time.Time{}, domain.NewError(domain.KindInvalidInput, "Credits must be positive")
	}
	if months <= 0 {
		return domain.LedgerEntry{}, time.Time{}, domain.NewError(domain.KindInvalidInput, "Plan duration must be positive")
	}

	expiry := ExtendExpiry(acct.Expiry, months, now)
	entry := domain.LedgerEntry{
		ID:          uuid.New(),
		UserID:      acct.UserID,
		Amount:      credits,
		Kind:        domain.EntryKindPurchase,
		Description: description,
		OccurredAt:  now,
	}
	acct.Balance += credits
	acct.Expiry = &expiry
	acct.History = append(acct.History, entry)
	return entry, expiry, nil
}
