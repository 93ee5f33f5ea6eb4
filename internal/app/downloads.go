package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/btaap/library-service/internal/domain"
	"github.com/btaap/library-service/internal/ledger"
	"github.com/btaap/library-service/internal/store"
	"github.com/google/uuid"
)

// DefaultUsageReason labels credit spends made without a reason.
const DefaultUsageReason = "Usage"

// DownloadService charges credits for downloads and direct credit use.
type DownloadService struct {
	repo   store.Repository
	ledger *ledger.Ledger
	events *eventBus
	logger *slog.Logger
	cost   int64
	now    func() time.Time
}

// NewDownloadService creates the download flow with a fixed per-download cost.
func NewDownloadService(repo store.Repository, l *ledger.Ledger, publisher EventPublisher, exchange string, logger *slog.Logger, cost int64) *DownloadService {
	if logger == nil {
		logger = slog.Default()
	}
	if cost <= 0 {
		cost = 5
	}
	return &DownloadService{
		repo:   repo,
		ledger: l,
		events: newEventBus(publisher, exchange, logger),
		logger: logger,
		cost:   cost,
		now:    time.Now,
	}
}

// SetClock overrides the time source.
func (s *DownloadService) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Cost is the credit price of one download.
func (s *DownloadService) Cost() int64 { return s.cost }

// Download charges the principal for documentID and records the download.
// The charge stands even if the client never fetches the bytes.
func (s *DownloadService) Download(ctx context.Context, principal domain.Principal, documentID uuid.UUID) (*domain.DownloadResult, error) {
	doc, err := s.repo.GetDocument(ctx, documentID)
	if err != nil {
		return nil, documentError(err)
	}

	now := s.now()
	description := fmt.Sprintf("Download \"%s\"", doc.DisplayName())
	balance, err := s.ledger.Deduct(ctx, principal.ID, s.cost, description, now)
	if err != nil {
		return nil, err
	}

	// The credits are already spent; bookkeeping failures below are logged, not returned.
	if err := s.repo.IncrementDocumentDownloads(ctx, doc.ID); err != nil {
		s.logger.Error("failed to increment download count", "error", err, "document_id", doc.ID)
	} else {
		doc.Downloads++
	}
	record := &domain.DownloadRecord{
		ID:           uuid.New(),
		UserID:       principal.ID,
		DocumentID:   doc.ID,
		FileName:     doc.FileName,
		DownloadedAt: now,
	}
	if err := s.repo.CreateDownloadRecord(ctx, record); err != nil {
		s.logger.Error("failed to record download", "error", err, "document_id", doc.ID, "user_id", principal.ID)
	}

	docID := doc.ID
	s.events.publish(ctx, RoutingKeyCreditsDeducted, CreditsDeductedEvent{
		UserID:      principal.ID,
		Cost:        s.cost,
		Balance:     balance,
		Description: description,
		DocumentID:  &docID,
		OccurredAt:  now,
	})
	return &domain.DownloadResult{Document: *doc, RemainingCredits: balance, Cost: s.cost}, nil
}

// UseCredits spends cost credits for a caller-supplied reason.
func (s *DownloadService) UseCredits(ctx context.Context, principal domain.Principal, cost int64, reason string) (int64, error) {
	if cost <= 0 {
		return 0, domain.NewError(domain.KindInvalidInput, "Invalid credit cost")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultUsageReason
	}

	now := s.now()
	balance, err := s.ledger.Deduct(ctx, principal.ID, cost, reason, now)
	if err != nil {
		return 0, err
	}
	s.events.publish(ctx, RoutingKeyCreditsDeducted, CreditsDeductedEvent{
		UserID:      principal.ID,
		Cost:        cost,
		Balance:     balance,
		Description: reason,
		OccurredAt:  now,
	})
	return balance, nil
}

// ListDownloads returns the principal's downloads, newest first.
func (s *DownloadService) ListDownloads(ctx context.Context, principal domain.Principal) ([]domain.DownloadRecord, error) {
	return s.repo.ListDownloadRecords(ctx, principal.ID)
}
