/**
 * @description
 * This file defines the `Repository` interface, the contract for all data access
 * required by the library-service. Credit mutations and payment decisions run
 * inside a unit of work (`InTx`) that exposes row locks and field-level updates,
 * so the ledger never overwrites a whole user record.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/google/uuid: For identifiers.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/btaap/library-service/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrUserNotFound           = errors.New("user not found")
	ErrPaymentNotFound        = errors.New("payment request not found")
	ErrPaymentAlreadyDecided  = errors.New("payment request already decided")
	ErrDuplicateTransactionID = errors.New("payment transaction id already exists")
	ErrDocumentNotFound       = errors.New("document not found")
	ErrNegativeBalance        = errors.New("credit mutation would make balance negative")
)

// CreditMutation is one atomic change to a credit account. The balance moves by
// Entry.Amount and the same entry is appended to the history.
type CreditMutation struct {
	Entry     domain.LedgerEntry
	NewExpiry *time.Time // nil keeps the current expiry
}

// PaymentDecisionUpdate sets the terminal fields of a pending payment request.
type PaymentDecisionUpdate struct {
	PaymentID       uuid.UUID
	Status          domain.PaymentStatus
	DecidedBy       uuid.UUID
	DecidedAt       time.Time
	RejectionReason string
}

// Tx is the unit of work handed to InTx callbacks. Locks taken through it are
// held until the callback returns.
type Tx interface {
	LockCreditAccount(ctx context.Context, userID uuid.UUID) (*domain.CreditAccount, error)
	ApplyCreditMutation(ctx context.Context, userID uuid.UUID, mutation CreditMutation) (*domain.CreditAccount, error)
	LockPaymentRequest(ctx context.Context, paymentID uuid.UUID) (*domain.PaymentRequest, error)
	UpdatePaymentDecision(ctx context.Context, update PaymentDecisionUpdate) (*domain.PaymentRequest, error)
	// ToggleFavorite locks the document, flips the user's mark and moves the
	// document's favorites counter by one, never below zero.
	ToggleFavorite(ctx context.Context, userID, documentID uuid.UUID) (*domain.FavoriteToggle, error)
}

// Repository defines the set of methods for interacting with storage.
type Repository interface {
	// InTx runs fn in one transaction. A non-nil error from fn rolls back every
	// write made through the Tx and is returned unchanged.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// User methods
	// EnsureUser inserts a zero-credit user row for an authenticated caller seen
	// for the first time. Existing rows are left untouched.
	EnsureUser(ctx context.Context, userID uuid.UUID, role domain.Role) error

	// Credit methods
	GetCreditAccount(ctx context.Context, userID uuid.UUID) (*domain.CreditAccount, error)
	// ListLedgerEntries returns history newest first; limit <= 0 returns all.
	ListLedgerEntries(ctx context.Context, userID uuid.UUID, limit int) ([]domain.LedgerEntry, error)
	// ListLapsedCreditAccounts returns accounts whose expiry fell in (from, to] with balance left.
	ListLapsedCreditAccounts(ctx context.Context, from, to time.Time) ([]domain.CreditAccount, error)

	// Payment methods
	CreatePaymentRequest(ctx context.Context, payment *domain.PaymentRequest) error
	GetPaymentRequest(ctx context.Context, paymentID uuid.UUID) (*domain.PaymentRequest, error)
	FindPaymentRequestByTransactionID(ctx context.Context, transactionID string) (*domain.PaymentRequest, error)
	ListPaymentRequests(ctx context.Context, filter domain.PaymentFilter) ([]domain.PaymentRequest, error)

	// Document methods
	CreateDocument(ctx context.Context, doc *domain.StoredDocument) error
	GetDocument(ctx context.Context, documentID uuid.UUID) (*domain.StoredDocument, error)
	ListDocuments(ctx context.Context, filter domain.DocumentFilter) ([]domain.StoredDocument, error)
	ListSimilarDocuments(ctx context.Context, documentID uuid.UUID, tags []string, limit int) ([]domain.StoredDocument, error)
	ListDocumentTags(ctx context.Context) ([]string, error)
	IncrementDocumentDownloads(ctx context.Context, documentID uuid.UUID) error
	DeleteDocument(ctx context.Context, documentID uuid.UUID) (*domain.StoredDocument, error)
	IsFavorite(ctx context.Context, userID, documentID uuid.UUID) (bool, error)

	// Download history methods
	CreateDownloadRecord(ctx context.Context, record *domain.DownloadRecord) error
	ListDownloadRecords(ctx context.Context, userID uuid.UUID) ([]domain.DownloadRecord, error)
}
