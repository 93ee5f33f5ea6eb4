/**
 * @description
 * Scheduled job implementations. The expiry sweep finds accounts whose credit
 * window lapsed since the previous run while credits were still left, and publishes
 * a credits.expired notice for each. Balances are not touched: expired credits
 * simply stop being spendable until the next approved purchase.
 */
package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/btaap/library-service/internal/metrics"
	"github.com/btaap/library-service/internal/store"
)

// DefaultSweepLookback bounds how far back the first sweep after start looks.
const DefaultSweepLookback = 24 * time.Hour

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo    store.Repository
	events  *eventBus
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu        sync.Mutex
	lastSweep time.Time
	lookback  time.Duration
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo store.Repository, publisher EventPublisher, exchange string, logger *slog.Logger, m *metrics.Metrics) *Jobs {
	if logger == nil {
		logger = slog.Default()
	}
	return &Jobs{
		repo:     repo,
		events:   newEventBus(publisher, exchange, logger),
		logger:   logger,
		metrics:  m,
		now:      time.Now,
		lookback: DefaultSweepLookback,
	}
}

// SetClock overrides the time source.
func (j *Jobs) SetClock(now func() time.Time) {
	if now != nil {
		j.now = now
	}
}

// SweepExpiredCredits is the cron entry point.
func (j *Jobs) SweepExpiredCredits() {
	j.logger.Info("starting credit expiry sweep job")
	notified, err := j.RunExpirySweep(context.Background())
	if err != nil {
		j.logger.Error("credit expiry sweep failed", "error", err)
		return
	}
	j.logger.Info("credit expiry sweep job finished", "notified", notified)
}

// RunExpirySweep publishes one notice per account that lapsed in (lastSweep, now].
func (j *Jobs) RunExpirySweep(ctx context.Context) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	from := j.lastSweep
	if from.IsZero() {
		from = now.Add(-j.lookback)
	}

	accounts, err := j.repo.ListLapsedCreditAccounts(ctx, from, now)
	if err != nil {
		j.metrics.ObserveSweep("error")
		return 0, err
	}

	for _, acct := range accounts {
		j.events.publish(ctx, RoutingKeyCreditsExpired, CreditsExpiredEvent{
			UserID:           acct.UserID,
			RemainingCredits: acct.Balance,
			ExpiredAt:        *acct.Expiry,
		})
	}
	j.lastSweep = now
	j.metrics.ObserveSweep("ok")
	return len(accounts), nil
}
