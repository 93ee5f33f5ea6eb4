/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Credit changes lock the user row with SELECT ... FOR UPDATE and then apply a
 * field-level delta, so concurrent ledger operations on one account serialize on
 * the row lock and history order follows commit order.
 *
 * @dependencies
 * - context, errors, fmt, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/btaap/library-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	paymentColumns = `id, owner_id, mobile_number, transaction_id, amount::text, plan_name, plan_credits,
		reference, status, decided_by, decided_at, COALESCE(rejection_reason, ''), created_at, updated_at`
	documentColumns = `id, file_name, title, description, locator, COALESCE(cover_locator, ''), tags, rating,
		size_bytes, downloads, favorites_count, owner_id, created_at, updated_at`
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23514"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// EnsureUser inserts a zero-credit user row if none exists.
func (r *PostgresRepository) EnsureUser(ctx context.Context, userID uuid.UUID, role domain.Role) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO users (id, role, credits)
		VALUES ($1, $2, 0)
		ON CONFLICT (id) DO NOTHING
	`, userID, string(role))
	return err
}

// InTx runs fn in a single database transaction.
func (r *PostgresRepository) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&postgresTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) LockCreditAccount(ctx context.Context, userID uuid.UUID) (*domain.CreditAccount, error) {
	acct := domain.CreditAccount{UserID: userID}
	// Use FOR UPDATE to lock the row, preventing race conditions.
	err := t.tx.QueryRow(ctx, "SELECT credits, credit_expiry FROM users WHERE id = $1 FOR UPDATE", userID).
		Scan(&acct.Balance, &acct.Expiry)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &acct, nil
}

func (t *postgresTx) ApplyCreditMutation(ctx context.Context, userID uuid.UUID, mutation CreditMutation) (*domain.CreditAccount, error) {
	acct := domain.CreditAccount{UserID: userID}
	err := t.tx.QueryRow(ctx, `
		UPDATE users
		SET credits = credits + $2,
			credit_expiry = COALESCE($3::timestamptz, credit_expiry),
			updated_at = NOW()
		WHERE id = $1
		RETURNING credits, credit_expiry
	`, userID, mutation.Entry.Amount, mutation.NewExpiry).Scan(&acct.Balance, &acct.Expiry)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		if isCheckViolation(err) {
			return nil, ErrNegativeBalance
		}
		return nil, err
	}

	entryID := mutation.Entry.ID
	if entryID == uuid.Nil {
		entryID = uuid.New()
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO credit_history (id, user_id, amount, kind, description, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entryID, userID, mutation.Entry.Amount, string(mutation.Entry.Kind), mutation.Entry.Description, mutation.Entry.OccurredAt)
	if err != nil {
		return nil, fmt.Errorf("insert credit history: %w", err)
	}
	return &acct, nil
}

func (t *postgresTx) LockPaymentRequest(ctx context.Context, paymentID uuid.UUID) (*domain.PaymentRequest, error) {
	row := t.tx.QueryRow(ctx, "SELECT "+paymentColumns+" FROM payment_requests WHERE id = $1 FOR UPDATE", paymentID)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return p, nil
}

func (t *postgresTx) UpdatePaymentDecision(ctx context.Context, update PaymentDecisionUpdate) (*domain.PaymentRequest, error) {
	var reason *string
	if update.RejectionReason != "" {
		reason = &update.RejectionReason
	}
	row := t.tx.QueryRow(ctx, `
		UPDATE payment_requests
		SET status = $2, decided_by = $3, decided_at = $4, rejection_reason = $5, updated_at = $4
		WHERE id = $1 AND status = 'pending'
		RETURNING `+paymentColumns,
		update.PaymentID, string(update.Status), update.DecidedBy, update.DecidedAt, reason)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentAlreadyDecided
		}
		return nil, err
	}
	return p, nil
}

func (t *postgresTx) ToggleFavorite(ctx context.Context, userID, documentID uuid.UUID) (*domain.FavoriteToggle, error) {
	var locked uuid.UUID
	err := t.tx.QueryRow(ctx, "SELECT id FROM documents WHERE id = $1 FOR UPDATE", documentID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}

	removed, err := t.tx.Exec(ctx, "DELETE FROM favorites WHERE user_id = $1 AND document_id = $2", userID, documentID)
	if err != nil {
		return nil, fmt.Errorf("remove favorite: %w", err)
	}
	toggle := domain.FavoriteToggle{Favorited: removed.RowsAffected() == 0}
	delta := int64(-1)
	if toggle.Favorited {
		delta = 1
		_, err = t.tx.Exec(ctx, "INSERT INTO favorites (user_id, document_id) VALUES ($1, $2)", userID, documentID)
		if err != nil {
			if isForeignKeyViolation(err) {
				return nil, ErrUserNotFound
			}
			return nil, fmt.Errorf("insert favorite: %w", err)
		}
	}

	err = t.tx.QueryRow(ctx, `
		UPDATE documents
		SET favorites_count = GREATEST(0, favorites_count + $2)
		WHERE id = $1
		RETURNING favorites_count
	`, documentID, delta).Scan(&toggle.FavoritesCount)
	if err != nil {
		return nil, fmt.Errorf("update favorites count: %w", err)
	}
	return &toggle, nil
}

func (r *PostgresRepository) GetCreditAccount(ctx context.Context, userID uuid.UUID) (*domain.CreditAccount, error) {
	acct := domain.CreditAccount{UserID: userID}
	err := r.db.QueryRow(ctx, "SELECT credits, credit_expiry FROM users WHERE id = $1", userID).
		Scan(&acct.Balance, &acct.Expiry)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &acct, nil
}

func (r *PostgresRepository) ListLedgerEntries(ctx context.Context, userID uuid.UUID, limit int) ([]domain.LedgerEntry, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)", userID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrUserNotFound
	}

	query := `
		SELECT id, user_id, amount, kind, description, occurred_at
		FROM credit_history
		WHERE user_id = $1
		ORDER BY seq DESC`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0)
	for rows.Next() {
		var e domain.LedgerEntry
		var kind string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &kind, &e.Description, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Kind = domain.EntryKind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *PostgresRepository) ListLapsedCreditAccounts(ctx context.Context, from, to time.Time) ([]domain.CreditAccount, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, credits, credit_expiry
		FROM users
		WHERE credit_expiry > $1 AND credit_expiry <= $2 AND credits > 0
		ORDER BY credit_expiry ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.CreditAccount
	for rows.Next() {
		var a domain.CreditAccount
		if err := rows.Scan(&a.UserID, &a.Balance, &a.Expiry); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *PostgresRepository) CreatePaymentRequest(ctx context.Context, payment *domain.PaymentRequest) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO payment_requests (
			id, owner_id, mobile_number, transaction_id, amount, plan_name, plan_credits,
			reference, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11)
	`,
		payment.ID, payment.OwnerID, payment.MobileNumber, payment.TransactionID, payment.Amount.String(),
		payment.PlanName, payment.PlanCredits, payment.Reference, string(payment.Status),
		payment.CreatedAt, payment.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateTransactionID
		}
		return err
	}
	return nil
}

func (r *PostgresRepository) GetPaymentRequest(ctx context.Context, paymentID uuid.UUID) (*domain.PaymentRequest, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, "SELECT "+paymentColumns+" FROM payment_requests WHERE id = $1", paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *PostgresRepository) FindPaymentRequestByTransactionID(ctx context.Context, transactionID string) (*domain.PaymentRequest, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, "SELECT "+paymentColumns+" FROM payment_requests WHERE transaction_id = $1", transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *PostgresRepository) ListPaymentRequests(ctx context.Context, filter domain.PaymentFilter) ([]domain.PaymentRequest, error) {
	var conditions []string
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.OwnerID != nil {
		args = append(args, *filter.OwnerID)
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", len(args)))
	}

	query := "SELECT " + paymentColumns + " FROM payment_requests"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.PaymentRequest, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func (r *PostgresRepository) CreateDocument(ctx context.Context, doc *domain.StoredDocument) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	var cover *string
	if doc.CoverLocator != "" {
		cover = &doc.CoverLocator
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO documents (
			id, file_name, title, description, locator, cover_locator, tags, rating,
			size_bytes, downloads, owner_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		doc.ID, doc.FileName, doc.Title, doc.Description, doc.Locator, cover, doc.Tags, doc.Rating,
		doc.SizeBytes, doc.Downloads, doc.OwnerID, doc.CreatedAt, doc.UpdatedAt,
	)
	return err
}

func (r *PostgresRepository) GetDocument(ctx context.Context, documentID uuid.UUID) (*domain.StoredDocument, error) {
	d, err := scanDocument(r.db.QueryRow(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = $1", documentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return d, nil
}

func (r *PostgresRepository) ListDocuments(ctx context.Context, filter domain.DocumentFilter) ([]domain.StoredDocument, error) {
	var conditions []string
	var args []any
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+escapeLike(search)+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf(`(title ILIKE $%[1]d OR file_name ILIKE $%[1]d OR description ILIKE $%[1]d
			OR EXISTS (SELECT 1 FROM unnest(tags) AS t(tag) WHERE t.tag ILIKE $%[1]d))`, n))
	}
	if filter.OwnerID != nil {
		args = append(args, *filter.OwnerID)
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", len(args)))
	}

	query := "SELECT " + documentColumns + " FROM documents"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	return r.queryDocuments(ctx, query, args...)
}

// ListSimilarDocuments returns other documents sharing a tag. Without tags it
// falls back to the newest other documents.
func (r *PostgresRepository) ListSimilarDocuments(ctx context.Context, documentID uuid.UUID, tags []string, limit int) ([]domain.StoredDocument, error) {
	if limit <= 0 {
		limit = 12
	}
	if len(tags) == 0 {
		return r.queryDocuments(ctx, "SELECT "+documentColumns+`
			FROM documents
			WHERE id <> $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`, documentID, limit)
	}
	return r.queryDocuments(ctx, "SELECT "+documentColumns+`
		FROM documents
		WHERE id <> $1 AND tags && $2::text[]
		ORDER BY created_at DESC, id DESC
		LIMIT $3`, documentID, tags, limit)
}

func (r *PostgresRepository) ListDocumentTags(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT t.tag
		FROM documents, unnest(tags) AS t(tag)
		WHERE t.tag <> ''
		ORDER BY t.tag
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tags := make([]string, 0)
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func (r *PostgresRepository) IncrementDocumentDownloads(ctx context.Context, documentID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "UPDATE documents SET downloads = downloads + 1, updated_at = NOW() WHERE id = $1", documentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteDocument(ctx context.Context, documentID uuid.UUID) (*domain.StoredDocument, error) {
	d, err := scanDocument(r.db.QueryRow(ctx, "DELETE FROM documents WHERE id = $1 RETURNING "+documentColumns, documentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return d, nil
}

func (r *PostgresRepository) IsFavorite(ctx context.Context, userID, documentID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM favorites WHERE user_id = $1 AND document_id = $2)",
		userID, documentID,
	).Scan(&exists)
	return exists, err
}

func (r *PostgresRepository) CreateDownloadRecord(ctx context.Context, record *domain.DownloadRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO download_records (id, user_id, document_id, file_name, downloaded_at)
		VALUES ($1, $2, $3, $4, $5)
	`, record.ID, record.UserID, record.DocumentID, record.FileName, record.DownloadedAt)
	return err
}

func (r *PostgresRepository) ListDownloadRecords(ctx context.Context, userID uuid.UUID) ([]domain.DownloadRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, document_id, file_name, downloaded_at
		FROM download_records
		WHERE user_id = $1
		ORDER BY downloaded_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.DownloadRecord, 0)
	for rows.Next() {
		var rec domain.DownloadRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.DocumentID, &rec.FileName, &rec.DownloadedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *PostgresRepository) queryDocuments(ctx context.Context, query string, args ...any) ([]domain.StoredDocument, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]domain.StoredDocument, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

func scanPayment(row pgx.Row) (*domain.PaymentRequest, error) {
	var p domain.PaymentRequest
	var amount, status string
	if err := row.Scan(
		&p.ID, &p.OwnerID, &p.MobileNumber, &p.TransactionID, &amount, &p.PlanName, &p.PlanCredits,
		&p.Reference, &status, &p.DecidedBy, &p.DecidedAt, &p.RejectionReason, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse payment amount %q: %w", amount, err)
	}
	p.Amount = parsed
	p.Status = domain.PaymentStatus(status)
	return &p, nil
}

func scanDocument(row pgx.Row) (*domain.StoredDocument, error) {
	var d domain.StoredDocument
	if err := row.Scan(
		&d.ID, &d.FileName, &d.Title, &d.Description, &d.Locator, &d.CoverLocator, &d.Tags, &d.Rating,
		&d.SizeBytes, &d.Downloads, &d.FavoritesCount, &d.OwnerID, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if d.Tags == nil {
		d.Tags = []string{}
	}
	d.HasCover = d.CoverLocator != ""
	return &d, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
