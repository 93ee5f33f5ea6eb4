package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/btaap/library-service/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usage(amount int64) CreditMutation {
	return CreditMutation{Entry: domain.LedgerEntry{Amount: amount, Kind: domain.EntryKindUsage, Description: "test"}}
}

func TestInTx_RollsBackOnError(t *testing.T) {
	repo := NewMemoryRepository()
	userID := uuid.New()
	repo.PutUser(userID, domain.RoleStudent, 10, nil)

	boom := errors.New("boom")
	err := repo.InTx(context.Background(), func(tx Tx) error {
		acct, err := tx.ApplyCreditMutation(context.Background(), userID, usage(-4))
		require.NoError(t, err)
		assert.Equal(t, int64(6), acct.Balance)

		// Reads inside the same unit of work see staged writes.
		locked, err := tx.LockCreditAccount(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, int64(6), locked.Balance)
		return boom
	})
	require.ErrorIs(t, err, boom)

	acct, err := repo.GetCreditAccount(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), acct.Balance)
	entries, err := repo.ListLedgerEntries(context.Background(), userID, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInTx_CancelledContextDiscardsWrites(t *testing.T) {
	repo := NewMemoryRepository()
	userID := uuid.New()
	repo.PutUser(userID, domain.RoleStudent, 10, nil)

	ctx, cancel := context.WithCancel(context.Background())
	err := repo.InTx(ctx, func(tx Tx) error {
		_, err := tx.ApplyCreditMutation(ctx, userID, usage(-1))
		cancel()
		return err
	})
	require.ErrorIs(t, err, context.Canceled)

	acct, err := repo.GetCreditAccount(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), acct.Balance)
}

func TestApplyCreditMutation_RefusesNegativeBalance(t *testing.T) {
	repo := NewMemoryRepository()
	userID := uuid.New()
	repo.PutUser(userID, domain.RoleStudent, 3, nil)

	err := repo.InTx(context.Background(), func(tx Tx) error {
		_, err := tx.ApplyCreditMutation(context.Background(), userID, usage(-4))
		return err
	})
	assert.ErrorIs(t, err, ErrNegativeBalance)

	err = repo.InTx(context.Background(), func(tx Tx) error {
		_, err := tx.ApplyCreditMutation(context.Background(), uuid.New(), usage(-1))
		return err
	})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestApplyCreditMutation_KeepsExpiryUnlessGiven(t *testing.T) {
	repo := NewMemoryRepository()
	userID := uuid.New()
	expiry := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	repo.PutUser(userID, domain.RoleStudent, 3, &expiry)

	next := expiry.AddDate(0, 1, 0)
	require.NoError(t, repo.InTx(context.Background(), func(tx Tx) error {
		if _, err := tx.ApplyCreditMutation(context.Background(), userID, usage(-1)); err != nil {
			return err
		}
		_, err := tx.ApplyCreditMutation(context.Background(), userID, CreditMutation{
			Entry:     domain.LedgerEntry{Amount: 100, Kind: domain.EntryKindPurchase},
			NewExpiry: &next,
		})
		return err
	}))

	acct, err := repo.GetCreditAccount(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(102), acct.Balance)
	assert.Equal(t, next, *acct.Expiry)

	entries, err := repo.ListLedgerEntries(context.Background(), userID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.EntryKindPurchase, entries[0].Kind)
	assert.NotEqual(t, uuid.Nil, entries[1].ID)
}

func TestUpdatePaymentDecision_OnlyFromPending(t *testing.T) {
	repo := NewMemoryRepository()
	p := domain.PaymentRequest{ID: uuid.New(), TransactionID: "TX", Status: domain.PaymentStatusPending}
	require.NoError(t, repo.CreatePaymentRequest(context.Background(), &p))
	require.ErrorIs(t, repo.CreatePaymentRequest(context.Background(), &domain.PaymentRequest{TransactionID: "TX"}), ErrDuplicateTransactionID)

	decide := func(status domain.PaymentStatus) error {
		return repo.InTx(context.Background(), func(tx Tx) error {
			_, err := tx.UpdatePaymentDecision(context.Background(), PaymentDecisionUpdate{
				PaymentID: p.ID,
				Status:    status,
				DecidedBy: uuid.New(),
				DecidedAt: time.Now(),
			})
			return err
		})
	}
	require.NoError(t, decide(domain.PaymentStatusRejected))
	assert.ErrorIs(t, decide(domain.PaymentStatusApproved), ErrPaymentAlreadyDecided)

	stored, err := repo.GetPaymentRequest(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRejected, stored.Status)

	_, err = repo.FindPaymentRequestByTransactionID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestListLapsedCreditAccounts_Window(t *testing.T) {
	repo := NewMemoryRepository()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	inside := uuid.New()
	atEdge := uuid.New()
	repo.PutUser(inside, domain.RoleStudent, 5, timeAt(base.Add(-30*time.Minute)))
	repo.PutUser(atEdge, domain.RoleStudent, 5, timeAt(base))
	repo.PutUser(uuid.New(), domain.RoleStudent, 5, timeAt(base.Add(-time.Hour)))
	repo.PutUser(uuid.New(), domain.RoleStudent, 0, timeAt(base.Add(-10*time.Minute)))
	repo.PutUser(uuid.New(), domain.RoleStudent, 5, nil)

	lapsed, err := repo.ListLapsedCreditAccounts(context.Background(), base.Add(-time.Hour), base)
	require.NoError(t, err)
	require.Len(t, lapsed, 2)
	assert.Equal(t, inside, lapsed[0].UserID)
	assert.Equal(t, atEdge, lapsed[1].UserID)
}

func TestEnsureUser_LeavesExistingAlone(t *testing.T) {
	repo := NewMemoryRepository()
	userID := uuid.New()
	repo.PutUser(userID, domain.RoleStudent, 42, nil)

	require.NoError(t, repo.EnsureUser(context.Background(), userID, domain.RoleAdmin))
	acct, err := repo.GetCreditAccount(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), acct.Balance)

	fresh := uuid.New()
	require.NoError(t, repo.EnsureUser(context.Background(), fresh, domain.RoleStudent))
	acct, err = repo.GetCreditAccount(context.Background(), fresh)
	require.NoError(t, err)
	assert.Zero(t, acct.Balance)
	assert.Nil(t, acct.Expiry)
}

func TestToggleFavorite_StagedUntilCommit(t *testing.T) {
	repo := NewMemoryRepository()
	userID := uuid.New()
	repo.PutUser(userID, domain.RoleStudent, 0, nil)
	doc := domain.StoredDocument{ID: uuid.New(), FileName: "a.pdf"}
	require.NoError(t, repo.CreateDocument(context.Background(), &doc))

	boom := errors.New("boom")
	err := repo.InTx(context.Background(), func(tx Tx) error {
		first, err := tx.ToggleFavorite(context.Background(), userID, doc.ID)
		require.NoError(t, err)
		assert.True(t, first.Favorited)

		// A second toggle in the same unit of work sees the first.
		second, err := tx.ToggleFavorite(context.Background(), userID, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.FavoriteToggle{Favorited: false, FavoritesCount: 0}, *second)

		_, err = tx.ToggleFavorite(context.Background(), userID, doc.ID)
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	marked, err := repo.IsFavorite(context.Background(), userID, doc.ID)
	require.NoError(t, err)
	assert.False(t, marked)
	stored, err := repo.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.FavoritesCount)

	err = repo.InTx(context.Background(), func(tx Tx) error {
		_, err := tx.ToggleFavorite(context.Background(), uuid.New(), doc.ID)
		return err
	})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestDeleteDocument_DropsFavorites(t *testing.T) {
	repo := NewMemoryRepository()
	userID := uuid.New()
	repo.PutUser(userID, domain.RoleStudent, 0, nil)
	doc := domain.StoredDocument{ID: uuid.New(), FileName: "a.pdf"}
	require.NoError(t, repo.CreateDocument(context.Background(), &doc))
	require.NoError(t, repo.InTx(context.Background(), func(tx Tx) error {
		_, err := tx.ToggleFavorite(context.Background(), userID, doc.ID)
		return err
	}))

	_, err := repo.DeleteDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	marked, err := repo.IsFavorite(context.Background(), userID, doc.ID)
	require.NoError(t, err)
	assert.False(t, marked)
}

func TestListSimilarDocuments_UntaggedReturnsNewestOthers(t *testing.T) {
	repo := NewMemoryRepository()
	target := domain.StoredDocument{ID: uuid.New(), FileName: "target.pdf"}
	require.NoError(t, repo.CreateDocument(context.Background(), &target))
	older := domain.StoredDocument{ID: uuid.New(), FileName: "older.pdf", Tags: []string{"x"}}
	require.NoError(t, repo.CreateDocument(context.Background(), &older))
	newer := domain.StoredDocument{ID: uuid.New(), FileName: "newer.pdf"}
	require.NoError(t, repo.CreateDocument(context.Background(), &newer))

	similar, err := repo.ListSimilarDocuments(context.Background(), target.ID, nil, 12)
	require.NoError(t, err)
	require.Len(t, similar, 2)
	assert.Equal(t, newer.ID, similar[0].ID)
	assert.Equal(t, older.ID, similar[1].ID)
}

func TestMigrationNames(t *testing.T) {
	names, err := MigrationNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"migrations/001_init.sql", "migrations/002_favorites.sql"}, names)
}

func timeAt(t time.Time) *time.Time { return &t }
