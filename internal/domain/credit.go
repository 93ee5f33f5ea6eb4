/**
 * @description
 * This file defines the credit models used by the ledger: the per-user credit
 * account (balance + expiry window) and its append-only history entries.
 *
 * @dependencies
 * - time: Standard Go library.
 * - github.com/google/uuid: For identifiers.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	EntryKindPurchase EntryKind = "purchase"
	EntryKindUsage    EntryKind = "usage"
	EntryKindRefund   EntryKind = "refund"
)

// Valid reports whether k is one of the known entry kinds.
func (k EntryKind) Valid() bool {
	switch k {
	case EntryKindPurchase, EntryKindUsage, EntryKindRefund:
		return true
	}
	return false
}

// LedgerEntry is one immutable record of a balance change.
// Amount is signed: negative for usage, positive for purchase and refund.
type LedgerEntry struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"userId"`
	Amount      int64     `json:"amount"`
	Kind        EntryKind `json:"type"`
	Description string    `json:"description"`
	OccurredAt  time.Time `json:"date"`
}

// CreditAccount is the credit state embedded in a user record.
type CreditAccount struct {
	UserID  uuid.UUID     `json:"userId"`
	Balance int64         `json:"credits"`
	Expiry  *time.Time    `json:"creditExpiry"`
	History []LedgerEntry `json:"creditHistory,omitempty"`
}

// CreditSummary is the read model returned to a user about their own credits.
type CreditSummary struct {
	Balance   int64         `json:"credits"`
	Expiry    *time.Time    `json:"creditExpiry"`
	Active    bool          `json:"isActive"`
	Recent    []LedgerEntry `json:"creditHistory"`
	CheckedAt time.Time     `json:"checkedAt"`
}
