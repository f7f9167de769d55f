package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stkpay/golang_services/internal/payment_service/domain"
)

var ErrSweepInProgress = errors.New("reconciliation pass already running")

// SweepReport summarises one reconciliation pass.
type SweepReport struct {
	StartedAt  time.Time
	Pending    int
	Stale      int
	ReportPath string
}

// Sweeper audits PENDING transactions. It reads only; it never changes a status.
type Sweeper struct {
	repo       domain.TransactionRepository
	reports    ReportWriter
	staleAfter time.Duration
	logger     *slog.Logger
	now        Clock
	running    atomic.Bool
}

func NewSweeper(repo domain.TransactionRepository, reports ReportWriter, staleAfter time.Duration, logger *slog.Logger, clock Clock) *Sweeper {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	if clock == nil {
		clock = systemClock
	}
	return &Sweeper{
		repo:       repo,
		reports:    reports,
		staleAfter: staleAfter,
		logger:     logger.With("component", "reconciliation_sweeper"),
		now:        clock,
	}
}

// Run performs one pass. Overlapping calls return ErrSweepInProgress.
func (s *Sweeper) Run(ctx context.Context) (*SweepReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.WarnContext(ctx, "Reconciliation pass skipped, previous pass still running")
		return nil, ErrSweepInProgress
	}
	defer s.running.Store(false)

	started := time.Now()
	defer func() { reconcileDurationHist.Observe(time.Since(started).Seconds()) }()

	report := &SweepReport{StartedAt: s.now()}
	pending, err := s.repo.ListByStatus(ctx, domain.StatusPending)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list pending transactions", "error", err)
		return nil, fmt.Errorf("listing pending transactions: %w", err)
	}
	report.Pending = len(pending)
	reconcilePendingGauge.Set(float64(report.Pending))

	if len(pending) == 0 {
		reconcileStaleGauge.Set(0)
		s.logger.InfoContext(ctx, "Reconciliation pass clean, no pending transactions")
		return report, nil
	}

	for _, tx := range pending {
		age := tx.Age(report.StartedAt)
		if age > s.staleAfter {
			report.Stale++
			s.logger.WarnContext(ctx, "Stale pending transaction",
				"transaction_id", tx.ID,
				"checkout_request_id", tx.CheckoutID(),
				"age", age.Round(time.Second).String(),
				"threshold", s.staleAfter.String())
		}
	}
	reconcileStaleGauge.Set(float64(report.Stale))

	path, err := s.reports.WriteReport(ctx, pending, report.StartedAt)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to write reconciliation report", "error", err)
		return report, fmt.Errorf("writing reconciliation report: %w", err)
	}
	report.ReportPath = path
	s.logger.InfoContext(ctx, "Reconciliation pass complete",
		"pending", report.Pending, "stale", report.Stale, "file_path", path)
	return report, nil
}

// Schedule registers Run on a cron schedule such as "@every 5m". A fire that
// overlaps a running pass is skipped. Each pass is bounded by timeout.
func (s *Sweeper) Schedule(spec string, timeout time.Duration) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.logger})))
	_, err := c.AddFunc(spec, func() {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		_, _ = s.Run(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("adding reconciliation schedule %q: %w", spec, err)
	}
	s.logger.Info("Reconciliation scheduled", "schedule", spec, "stale_after", s.staleAfter.String())
	return c, nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ logger *slog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
