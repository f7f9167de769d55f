package app

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stkpay/golang_services/internal/payment_service/domain"
	"github.com/stkpay/golang_services/internal/payment_service/repository/memory"
)

func TestSweeper_ReportAccuracy(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()
	repo := memory.NewTransactionRepository()

	stale1 := seedPending(t, repo, "ws_CO_old1", "10.00", now.Add(-30*time.Minute))
	stale2 := seedPending(t, repo, "ws_CO_old2", "20.00", now.Add(-11*time.Minute))
	seedPending(t, repo, "ws_CO_new", "30.50", now.Add(-2*time.Minute))

	done := seedPending(t, repo, "ws_CO_done", "40.00", now.Add(-time.Hour))
	_, _, err := repo.TransitionStatus(ctx, done.ID, domain.StatusUpdate{To: domain.StatusSuccess, At: now})
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, domain.NewPaymentTransaction("254700000000", mustAmount("1"), now.Add(-time.Hour))))

	dir := t.TempDir()
	logger, capture := newCaptureLogger()
	sweeper := NewSweeper(repo, NewCSVReportWriter(dir, discardLogger()), 10*time.Minute, logger, fixedClock(now))

	report, err := sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Pending)
	assert.Equal(t, 2, report.Stale)
	assert.Equal(t, filepath.Join(dir, "reconciliation_report_20240501T100000Z.csv"), report.ReportPath)

	warnings := capture.Warnings("Stale pending transaction")
	require.Len(t, warnings, 2)
	warned := map[string]bool{}
	for _, w := range warnings {
		warned[w.Attrs["transaction_id"]] = true
	}
	assert.True(t, warned[stale1.ID.String()])
	assert.True(t, warned[stale2.ID.String()])

	f, err := os.Open(report.ReportPath)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, ReportHeader, records[0])
	for _, rec := range records[1:] {
		assert.Equal(t, "PENDING", rec[3])
	}
	assert.Equal(t, "10.00", records[1][2])
	assert.Equal(t, "ws_CO_old1", records[1][4])
}

func TestSweeper_CleanPass(t *testing.T) {
	dir := t.TempDir()
	logger, capture := newCaptureLogger()
	sweeper := NewSweeper(memory.NewTransactionRepository(), NewCSVReportWriter(dir, discardLogger()), 0, logger, nil)

	report, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Pending)
	assert.Empty(t, report.ReportPath)
	assert.Contains(t, capture.Messages(), "Reconciliation pass clean, no pending transactions")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// blockingReports holds a pass open until released.
type blockingReports struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingReports) WriteReport(ctx context.Context, rows []*domain.PaymentTransaction, at time.Time) (string, error) {
	close(b.entered)
	<-b.release
	return "blocked.csv", nil
}

func TestSweeper_OverlappingRunIsSkipped(t *testing.T) {
	now := time.Now().UTC()
	repo := memory.NewTransactionRepository()
	seedPending(t, repo, "ws_CO_1", "1", now)

	reports := &blockingReports{entered: make(chan struct{}), release: make(chan struct{})}
	sweeper := NewSweeper(repo, reports, time.Minute, discardLogger(), nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := sweeper.Run(context.Background())
		errCh <- err
	}()
	<-reports.entered

	_, err := sweeper.Run(context.Background())
	assert.ErrorIs(t, err, ErrSweepInProgress)

	close(reports.release)
	assert.NoError(t, <-errCh)
}

func TestSweeper_Schedule(t *testing.T) {
	sweeper := NewSweeper(memory.NewTransactionRepository(), NewCSVReportWriter(t.TempDir(), discardLogger()), 0, discardLogger(), nil)

	c, err := sweeper.Schedule("@every 5m", time.Minute)
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)

	_, err = sweeper.Schedule("not a schedule", time.Minute)
	assert.Error(t, err)
}
