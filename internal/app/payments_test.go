package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/btaap/library-service/internal/domain"
	"github.com/btaap/library-service/internal/ledger"
	"github.com/btaap/library-service/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, time.June, 15, 10, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func timePtr(t time.Time) *time.Time { return &t }

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return p.err
}

func (p *recordingPublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.routingKey)
	}
	return out
}

func newPaymentFixture(t *testing.T) (*PaymentService, *store.MemoryRepository, *recordingPublisher) {
	t.Helper()
	repo := store.NewMemoryRepository()
	pub := &recordingPublisher{}
	svc := NewPaymentService(repo, ledger.New(repo, testLogger(), nil), pub, "library.events", testLogger(), nil)
	svc.SetClock(func() time.Time { return testNow })
	return svc, repo, pub
}

func validPayload(txID string) domain.SubmitPaymentPayload {
	return domain.SubmitPaymentPayload{
		MobileNumber:  "01700000000",
		TransactionID: txID,
		Amount:        decimal.RequireFromString("500"),
		PlanName:      "Premium",
		Credits:       800,
		Reference:     "June plan",
	}
}

var admin = domain.Principal{ID: uuid.New(), Role: domain.RoleAdmin}

func TestSubmit_CreatesPendingRequest(t *testing.T) {
	svc, repo, pub := newPaymentFixture(t)
	student := domain.Principal{ID: uuid.New(), Role: domain.RoleStudent}

	payment, err := svc.Submit(context.Background(), student, validPayload("TX-100"))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, payment.Status)
	assert.Equal(t, student.ID, payment.OwnerID)
	assert.Equal(t, int64(800), payment.PlanCredits)
	assert.Nil(t, payment.DecidedAt)

	stored, err := repo.GetPaymentRequest(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.True(t, stored.Amount.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, []string{RoutingKeyPaymentSubmitted}, pub.keys())
}

func TestSubmit_RequiresAllFields(t *testing.T) {
	svc, _, _ := newPaymentFixture(t)
	student := domain.Principal{ID: uuid.New(), Role: domain.RoleStudent}

	mutations := []func(p *domain.SubmitPaymentPayload){
		func(p *domain.SubmitPaymentPayload) { p.MobileNumber = "" },
		func(p *domain.SubmitPaymentPayload) { p.TransactionID = "  " },
		func(p *domain.SubmitPaymentPayload) { p.Amount = decimal.Zero },
		func(p *domain.SubmitPaymentPayload) { p.PlanName = "" },
		func(p *domain.SubmitPaymentPayload) { p.Credits = 0 },
		func(p *domain.SubmitPaymentPayload) { p.Reference = "" },
	}
	for i, mutate := range mutations {
		payload := validPayload("TX-REQ")
		mutate(&payload)
		_, err := svc.Submit(context.Background(), student, payload)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "mutation %d", i)
	}
}

func TestSubmit_DuplicateReferenceRegardlessOfStatus(t *testing.T) {
	svc, repo, _ := newPaymentFixture(t)
	student := domain.Principal{ID: uuid.New(), Role: domain.RoleStudent}
	repo.PutUser(student.ID, domain.RoleStudent, 0, nil)

	first, err := svc.Submit(context.Background(), student, validPayload("TX-DUP"))
	require.NoError(t, err)
	_, err = svc.Reject(context.Background(), admin, first.ID, "")
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), student, validPayload("TX-DUP"))
	require.ErrorIs(t, err, domain.ErrDuplicateReference)

	all, err := repo.ListPaymentRequests(context.Background(), domain.PaymentFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

type racingRepo struct {
	*store.MemoryRepository
}

func (r racingRepo) FindPaymentRequestByTransactionID(ctx context.Context, transactionID string) (*domain.PaymentRequest, error) {
	return nil, store.ErrPaymentNotFound
}

func (r racingRepo) CreatePaymentRequest(ctx context.Context, payment *domain.PaymentRequest) error {
	return store.ErrDuplicateTransactionID
}

func TestSubmit_UniqueIndexViolationIsDuplicateReference(t *testing.T) {
	repo := racingRepo{store.NewMemoryRepository()}
	svc := NewPaymentService(repo, ledger.New(repo, testLogger(), nil), nil, "", testLogger(), nil)

	_, err := svc.Submit(context.Background(), domain.Principal{ID: uuid.New()}, validPayload("TX-RACE"))
	assert.ErrorIs(t, err, domain.ErrDuplicateReference)
}

func TestApprove_GrantsCreditsOntoExpiredBalance(t *testing.T) {
	svc, repo, pub := newPaymentFixture(t)
	student := domain.Principal{ID: uuid.New(), Role: domain.RoleStudent}
	repo.PutUser(student.ID, domain.RoleStudent, 3, timePtr(testNow.Add(-10*24*time.Hour)))

	payment, err := svc.Submit(context.Background(), student, validPayload("TX-800"))
	require.NoError(t, err)

	decision, err := svc.Approve(context.Background(), admin, payment.ID)
	require.NoError(t, err)
	assert.True(t, decision.Granted)
	require.NotNil(t, decision.NewBalance)
	assert.Equal(t, int64(803), *decision.NewBalance)
	require.NotNil(t, decision.NewExpiry)
	assert.Equal(t, testNow.AddDate(0, 1, 0), *decision.NewExpiry)
	assert.Equal(t, domain.PaymentStatusApproved, decision.Payment.Status)
	require.NotNil(t, decision.Payment.DecidedBy)
	assert.Equal(t, admin.ID, *decision.Payment.DecidedBy)
	assert.Equal(t, testNow, *decision.Payment.DecidedAt)

	entries, err := repo.ListLedgerEntries(context.Background(), student.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(800), entries[0].Amount)
	assert.Equal(t, domain.EntryKindPurchase, entries[0].Kind)
	assert.Equal(t, "Premium plan approved (TxID: TX-800)", entries[0].Description)

	assert.Equal(t, []string{RoutingKeyPaymentSubmitted, RoutingKeyPaymentApproved}, pub.keys())
}

func TestApprove_ExtendsActiveWindow(t *testing.T) {
	svc, repo, _ := newPaymentFixture(t)
	student := domain.Principal{ID: uuid.New(), Role: domain.RoleStudent}
	current := testNow.Add(20 * 24 * time.Hour)
	repo.PutUser(student.ID, domain.RoleStudent, 40, &current)

	payment, err := svc.Submit(context.Background(), student, validPayload("TX-EXT"))
	require.NoError(t, err)
	decision, err := svc.Approve(context.Background(), admin, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, current.AddDate(0, 1, 0), *decision.NewExpiry)
}

func TestApprove_TwiceFailsWithoutSecondGrant(t *testing.T) {
	svc, repo, _ := newPaymentFixture(t)
	student := domain.Principal{ID: uuid.New(), Role: domain.RoleStudent}
	repo.PutUser(student.ID, domain.RoleStudent, 0, nil)

	payment, err := svc.Submit(context.Background(), student, validPayload("TX-TWICE"))
	require.NoError(t, err)
	_, err = svc.Approve(context.Background(), admin, payment.ID)
	require.NoError(t, err)
	before, err := repo.GetPaymentRequest(context.Background(), payment.ID)
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), admin, payment.ID)
	require.ErrorIs(t, err, domain.ErrAlreadyDecided)
	_, err = svc.Reject(context.Background(), admin, payment.ID, "late")
	require.ErrorIs(t, err, domain.ErrAlreadyDecided)

	after, err := repo.GetPaymentRequest(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	acct, err := repo.GetCreditAccount(context.Background(), student.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(800), acct.Balance)
}

func TestApprove_ConcurrentDecisionsGrantOnce(t *testing.T) {
	svc, repo, _ := newPaymentFixture(t)
	student := domain.Principal{ID: uuid.New(), Role: domain.RoleStudent}
	repo.PutUser(student.ID, domain.RoleStudent, 0, nil)
	payment, err := svc.Submit(context.Background(), student, validPayload("TX-CONC"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Approve(context.Background(), admin, payment.ID); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	acct, err := repo.GetCreditAccount(context.Background(), student.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(800), acct.Balance)
}

func TestApprove_MissingOwnerStillApproves(t *testing.T) {
	svc, repo, _ := newPaymentFixture(t)
	student := domain.Principal{ID: uuid.New(), Role: domain.RoleStudent}
	repo.PutUser(student.ID, domain.RoleStudent, 0, nil)
	payment, err := svc.Submit(context.Background(), student, validPayload("TX-ORPHAN"))
	require.NoError(t, err)
	repo.DeleteUser(student.ID)

	decision, err := svc.Approve(context.Background(), admin, payment.ID)
	require.NoError(t, err)
	assert.False(t, decision.Granted)
	assert.Nil(t, decision.NewBalance)
	assert.Equal(t, domain.PaymentStatusApproved, decision.Payment.Status)
}

func TestReject_DefaultsReasonAndLeavesLedgerAlone(t *testing.T) {
	svc, repo, pub := newPaymentFixture(t)
	student := domain.Principal{ID: uuid.New(), Role: domain.RoleStudent}
	repo.PutUser(student.ID, domain.RoleStudent, 7, timePtr(testNow.Add(time.Hour)))
	payment, err := svc.Submit(context.Background(), student, validPayload("TX-REJ"))
	require.NoError(t, err)

	decision, err := svc.Reject(context.Background(), admin, payment.ID, "   ")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRejected, decision.Payment.Status)
	assert.Equal(t, domain.DefaultRejectionReason, decision.Payment.RejectionReason)

	acct, err := repo.GetCreditAccount(context.Background(), student.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), acct.Balance)
	entries, err := repo.ListLedgerEntries(context.Background(), student.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Contains(t, pub.keys(), RoutingKeyPaymentRejected)
}

func TestDecide_UnknownPaymentIsNotFound(t *testing.T) {
	svc, _, _ := newPaymentFixture(t)
	_, err := svc.Decide(context.Background(), admin, uuid.New(), domain.PaymentStatusApproved, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Decide(context.Background(), admin, uuid.New(), domain.PaymentStatusPending, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestApprove_PublishFailureDoesNotFailDecision(t *testing.T) {
	repo := store.NewMemoryRepository()
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc := NewPaymentService(repo, ledger.New(repo, testLogger(), nil), pub, "library.events", testLogger(), nil)
	student := domain.Principal{ID: uuid.New(), Role: domain.RoleStudent}
	repo.PutUser(student.ID, domain.RoleStudent, 0, nil)

	payment, err := svc.Submit(context.Background(), student, validPayload("TX-PUB"))
	require.NoError(t, err)
	_, err = svc.Approve(context.Background(), admin, payment.ID)
	assert.NoError(t, err)
}

func TestListings(t *testing.T) {
	svc, repo, _ := newPaymentFixture(t)
	alice := domain.Principal{ID: uuid.New(), Role: domain.RoleStudent}
	bob := domain.Principal{ID: uuid.New(), Role: domain.RoleStudent}
	repo.PutUser(alice.ID, domain.RoleStudent, 0, nil)
	repo.PutUser(bob.ID, domain.RoleStudent, 0, nil)

	a1, err := svc.Submit(context.Background(), alice, validPayload("A1"))
	require.NoError(t, err)
	a2, err := svc.Submit(context.Background(), alice, validPayload("A2"))
	require.NoError(t, err)
	_, err = svc.Submit(context.Background(), bob, validPayload("B1"))
	require.NoError(t, err)
	_, err = svc.Approve(context.Background(), admin, a1.ID)
	require.NoError(t, err)

	mine, err := svc.ListMine(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, a2.ID, mine[0].ID, "newest first")

	pending, err := svc.ListPending(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	approved, err := svc.ListAll(context.Background(), domain.PaymentStatusApproved)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, a1.ID, approved[0].ID)

	_, err = svc.ListAll(context.Background(), domain.PaymentStatus("bogus"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.Get(context.Background(), bob, a1.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	got, err := svc.Get(context.Background(), admin, a1.ID)
	require.NoError(t, err)
	assert.Equal(t, a1.ID, got.ID)
}
