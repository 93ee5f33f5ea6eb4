/**
 * @description
 * This file provides an in-memory implementation of the Repository interface. It
 * backs local development when DATABASE_URL is empty and the ledger/workflow tests.
 * InTx holds the repository mutex for the whole callback and stages writes, which
 * are committed together only when the callback succeeds.
 */

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/btaap/library-service/internal/domain"
	"github.com/google/uuid"
)

type memoryUser struct {
	role    domain.Role
	account domain.CreditAccount
	history []domain.LedgerEntry
}

// MemoryRepository is a process-local Repository.
type MemoryRepository struct {
	mu        sync.Mutex
	users     map[uuid.UUID]*memoryUser
	payments  map[uuid.UUID]domain.PaymentRequest
	documents map[uuid.UUID]domain.StoredDocument
	downloads []domain.DownloadRecord
	favorites map[favoriteKey]struct{}
	seq       int64
	created   map[uuid.UUID]int64
}

type favoriteKey struct {
	userID     uuid.UUID
	documentID uuid.UUID
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:     make(map[uuid.UUID]*memoryUser),
		payments:  make(map[uuid.UUID]domain.PaymentRequest),
		documents: make(map[uuid.UUID]domain.StoredDocument),
		favorites: make(map[favoriteKey]struct{}),
		created:   make(map[uuid.UUID]int64),
	}
}

// PutUser seeds or replaces a user's credit state. History is replaced as given.
func (r *MemoryRepository) PutUser(userID uuid.UUID, role domain.Role, balance int64, expiry *time.Time, history ...domain.LedgerEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[userID] = &memoryUser{
		role:    role,
		account: domain.CreditAccount{UserID: userID, Balance: balance, Expiry: copyTime(expiry)},
		history: append([]domain.LedgerEntry(nil), history...),
	}
}

// DeleteUser removes a user, used to exercise orphaned payment requests.
func (r *MemoryRepository) DeleteUser(userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, userID)
}

func (r *MemoryRepository) EnsureUser(ctx context.Context, userID uuid.UUID, role domain.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[userID]; ok {
		return nil
	}
	r.users[userID] = &memoryUser{role: role, account: domain.CreditAccount{UserID: userID}}
	return nil
}

func (r *MemoryRepository) InTx(ctx context.Context, fn func(tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memoryTx{
		repo:     r,
		accounts: make(map[uuid.UUID]domain.CreditAccount),
		entries:  make(map[uuid.UUID][]domain.LedgerEntry),
		payments: make(map[uuid.UUID]domain.PaymentRequest),
		marks:    make(map[favoriteKey]bool),
		counts:   make(map[uuid.UUID]int64),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for id, acct := range tx.accounts {
		u := r.users[id]
		u.account.Balance = acct.Balance
		u.account.Expiry = copyTime(acct.Expiry)
		u.history = append(u.history, tx.entries[id]...)
	}
	for id, p := range tx.payments {
		r.payments[id] = p
	}
	for key, marked := range tx.marks {
		if marked {
			r.favorites[key] = struct{}{}
		} else {
			delete(r.favorites, key)
		}
	}
	for id, count := range tx.counts {
		d := r.documents[id]
		d.FavoritesCount = count
		r.documents[id] = d
	}
	return nil
}

type memoryTx struct {
	repo     *MemoryRepository
	accounts map[uuid.UUID]domain.CreditAccount
	entries  map[uuid.UUID][]domain.LedgerEntry
	payments map[uuid.UUID]domain.PaymentRequest
	marks    map[favoriteKey]bool
	counts   map[uuid.UUID]int64
}

func (t *memoryTx) current(userID uuid.UUID) (domain.CreditAccount, bool) {
	if acct, ok := t.accounts[userID]; ok {
		return acct, true
	}
	u, ok := t.repo.users[userID]
	if !ok {
		return domain.CreditAccount{}, false
	}
	return domain.CreditAccount{UserID: userID, Balance: u.account.Balance, Expiry: copyTime(u.account.Expiry)}, true
}

func (t *memoryTx) LockCreditAccount(ctx context.Context, userID uuid.UUID) (*domain.CreditAccount, error) {
	acct, ok := t.current(userID)
	if !ok {
		return nil, ErrUserNotFound
	}
	acct.Expiry = copyTime(acct.Expiry)
	return &acct, nil
}

func (t *memoryTx) ApplyCreditMutation(ctx context.Context, userID uuid.UUID, mutation CreditMutation) (*domain.CreditAccount, error) {
	acct, ok := t.current(userID)
	if !ok {
		return nil, ErrUserNotFound
	}
	if acct.Balance+mutation.Entry.Amount < 0 {
		return nil, ErrNegativeBalance
	}
	acct.Balance += mutation.Entry.Amount
	if mutation.NewExpiry != nil {
		acct.Expiry = copyTime(mutation.NewExpiry)
	}

	entry := mutation.Entry
	entry.UserID = userID
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	t.accounts[userID] = acct
	t.entries[userID] = append(t.entries[userID], entry)

	out := acct
	out.Expiry = copyTime(acct.Expiry)
	return &out, nil
}

func (t *memoryTx) LockPaymentRequest(ctx context.Context, paymentID uuid.UUID) (*domain.PaymentRequest, error) {
	if p, ok := t.payments[paymentID]; ok {
		return copyPayment(p), nil
	}
	p, ok := t.repo.payments[paymentID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return copyPayment(p), nil
}

func (t *memoryTx) UpdatePaymentDecision(ctx context.Context, update PaymentDecisionUpdate) (*domain.PaymentRequest, error) {
	current, err := t.LockPaymentRequest(ctx, update.PaymentID)
	if err != nil {
		return nil, err
	}
	if current.Status != domain.PaymentStatusPending {
		return nil, ErrPaymentAlreadyDecided
	}

	decidedBy := update.DecidedBy
	decidedAt := update.DecidedAt
	current.Status = update.Status
	current.DecidedBy = &decidedBy
	current.DecidedAt = &decidedAt
	current.RejectionReason = update.RejectionReason
	current.UpdatedAt = update.DecidedAt

	t.payments[current.ID] = *current
	return copyPayment(*current), nil
}

func (t *memoryTx) ToggleFavorite(ctx context.Context, userID, documentID uuid.UUID) (*domain.FavoriteToggle, error) {
	doc, ok := t.repo.documents[documentID]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	if _, ok := t.repo.users[userID]; !ok {
		return nil, ErrUserNotFound
	}

	key := favoriteKey{userID: userID, documentID: documentID}
	marked, staged := t.marks[key]
	if !staged {
		_, marked = t.repo.favorites[key]
	}
	count, staged := t.counts[documentID]
	if !staged {
		count = doc.FavoritesCount
	}

	if marked {
		count = max(0, count-1)
	} else {
		count++
	}
	t.marks[key] = !marked
	t.counts[documentID] = count
	return &domain.FavoriteToggle{Favorited: !marked, FavoritesCount: count}, nil
}

// SetFavoritesCount overwrites a document's counter, used to seed drifted counts.
func (r *MemoryRepository) SetFavoritesCount(documentID uuid.UUID, count int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.documents[documentID]; ok {
		d.FavoritesCount = count
		r.documents[documentID] = d
	}
}

func (r *MemoryRepository) IsFavorite(ctx context.Context, userID, documentID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.favorites[favoriteKey{userID: userID, documentID: documentID}]
	return ok, nil
}

func (r *MemoryRepository) GetCreditAccount(ctx context.Context, userID uuid.UUID) (*domain.CreditAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &domain.CreditAccount{UserID: userID, Balance: u.account.Balance, Expiry: copyTime(u.account.Expiry)}, nil
}

func (r *MemoryRepository) ListLedgerEntries(ctx context.Context, userID uuid.UUID, limit int) ([]domain.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	out := make([]domain.LedgerEntry, 0, len(u.history))
	for i := len(u.history) - 1; i >= 0; i-- {
		out = append(out, u.history[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListLapsedCreditAccounts(ctx context.Context, from, to time.Time) ([]domain.CreditAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.CreditAccount
	for id, u := range r.users {
		exp := u.account.Expiry
		if exp == nil || u.account.Balance <= 0 {
			continue
		}
		if exp.After(from) && !exp.After(to) {
			out = append(out, domain.CreditAccount{UserID: id, Balance: u.account.Balance, Expiry: copyTime(exp)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Expiry.Before(*out[j].Expiry) })
	return out, nil
}

func (r *MemoryRepository) CreatePaymentRequest(ctx context.Context, payment *domain.PaymentRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.payments {
		if existing.TransactionID == payment.TransactionID {
			return ErrDuplicateTransactionID
		}
	}
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	r.payments[payment.ID] = *copyPayment(*payment)
	r.seq++
	r.created[payment.ID] = r.seq
	return nil
}

func (r *MemoryRepository) GetPaymentRequest(ctx context.Context, paymentID uuid.UUID) (*domain.PaymentRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[paymentID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return copyPayment(p), nil
}

func (r *MemoryRepository) FindPaymentRequestByTransactionID(ctx context.Context, transactionID string) (*domain.PaymentRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.TransactionID == transactionID {
			return copyPayment(p), nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (r *MemoryRepository) ListPaymentRequests(ctx context.Context, filter domain.PaymentFilter) ([]domain.PaymentRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.PaymentRequest, 0)
	for _, p := range r.payments {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.OwnerID != nil && p.OwnerID != *filter.OwnerID {
			continue
		}
		out = append(out, *copyPayment(p))
	}
	sort.Slice(out, func(i, j int) bool { return r.created[out[i].ID] > r.created[out[j].ID] })
	return out, nil
}

func (r *MemoryRepository) CreateDocument(ctx context.Context, doc *domain.StoredDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	r.documents[doc.ID] = copyDocument(*doc)
	r.seq++
	r.created[doc.ID] = r.seq
	return nil
}

func (r *MemoryRepository) GetDocument(ctx context.Context, documentID uuid.UUID) (*domain.StoredDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.documents[documentID]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	out := copyDocument(d)
	return &out, nil
}

func (r *MemoryRepository) ListDocuments(ctx context.Context, filter domain.DocumentFilter) ([]domain.StoredDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	needle := strings.ToLower(strings.TrimSpace(filter.Search))
	out := make([]domain.StoredDocument, 0)
	for _, d := range r.documents {
		if filter.OwnerID != nil && (d.OwnerID == nil || *d.OwnerID != *filter.OwnerID) {
			continue
		}
		if needle != "" && !documentMatches(d, needle) {
			continue
		}
		out = append(out, copyDocument(d))
	}
	r.sortNewestFirst(out)
	return out, nil
}

func (r *MemoryRepository) ListSimilarDocuments(ctx context.Context, documentID uuid.UUID, tags []string, limit int) ([]domain.StoredDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.StoredDocument, 0)
	wanted := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		wanted[t] = struct{}{}
	}
	for id, d := range r.documents {
		if id == documentID {
			continue
		}
		if len(wanted) == 0 {
			out = append(out, copyDocument(d))
			continue
		}
		for _, t := range d.Tags {
			if _, ok := wanted[t]; ok {
				out = append(out, copyDocument(d))
				break
			}
		}
	}
	r.sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) ListDocumentTags(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]struct{})
	for _, d := range r.documents {
		for _, t := range d.Tags {
			if t != "" {
				seen[t] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

func (r *MemoryRepository) IncrementDocumentDownloads(ctx context.Context, documentID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.documents[documentID]
	if !ok {
		return ErrDocumentNotFound
	}
	d.Downloads++
	r.documents[documentID] = d
	return nil
}

func (r *MemoryRepository) DeleteDocument(ctx context.Context, documentID uuid.UUID) (*domain.StoredDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.documents[documentID]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	delete(r.documents, documentID)
	delete(r.created, documentID)
	for key := range r.favorites {
		if key.documentID == documentID {
			delete(r.favorites, key)
		}
	}
	return &d, nil
}

func (r *MemoryRepository) CreateDownloadRecord(ctx context.Context, record *domain.DownloadRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	r.downloads = append(r.downloads, *record)
	return nil
}

func (r *MemoryRepository) ListDownloadRecords(ctx context.Context, userID uuid.UUID) ([]domain.DownloadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.DownloadRecord, 0)
	for i := len(r.downloads) - 1; i >= 0; i-- {
		if r.downloads[i].UserID == userID {
			out = append(out, r.downloads[i])
		}
	}
	return out, nil
}

func (r *MemoryRepository) sortNewestFirst(docs []domain.StoredDocument) {
	sort.Slice(docs, func(i, j int) bool { return r.created[docs[i].ID] > r.created[docs[j].ID] })
}

func documentMatches(d domain.StoredDocument, needle string) bool {
	if strings.Contains(strings.ToLower(d.Title), needle) ||
		strings.Contains(strings.ToLower(d.FileName), needle) ||
		strings.Contains(strings.ToLower(d.Description), needle) {
		return true
	}
	for _, t := range d.Tags {
		if strings.Contains(strings.ToLower(t), needle) {
			return true
		}
	}
	return false
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyPayment(p domain.PaymentRequest) *domain.PaymentRequest {
	out := p
	if p.DecidedBy != nil {
		v := *p.DecidedBy
		out.DecidedBy = &v
	}
	out.DecidedAt = copyTime(p.DecidedAt)
	return &out
}

func copyDocument(d domain.StoredDocument) domain.StoredDocument {
	out := d
	out.Tags = append([]string(nil), d.Tags...)
	if d.OwnerID != nil {
		v := *d.OwnerID
		out.OwnerID = &v
	}
	return out
}
