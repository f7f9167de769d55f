package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stkpay/golang_services/internal/payment_service/domain"
	"github.com/stkpay/golang_services/internal/payment_service/repository/memory"
)

func noWait(context.Context, time.Duration) error { return nil }

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Second, MaxBackoff: 5 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 5*time.Second, p.Backoff(4))
	assert.Equal(t, 5*time.Second, p.Backoff(60))
}

func TestReprocessor_TerminalConvergence(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	repo := memory.NewTransactionRepository()
	tx := seedPending(t, repo, "ws_CO_1", "100.00", now)

	dead := &recordingDeadLetters{}
	r := NewReprocessor(NewTransitioner(repo, discardLogger(), fixedClock(now)), dead, DefaultRetryPolicy(), discardLogger(), fixedClock(now))
	msg := domain.NewCallbackMessage(domain.SourceWebhook, callbackBody("ws_CO_1", 0, "100.00"), now)

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Process(context.Background(), msg))
	}

	stored, err := repo.GetByID(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, stored.Status)
	assert.Empty(t, dead.msgs)
}

func TestReprocessor_AfterSynchronousCommitIsNoOp(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	f := newIngestFixture(now)
	tx := seedPending(t, f.txRepo, "ws_CO_1", "100.00", now)

	require.Equal(t, domain.DispositionProcessed, f.ingestor.Ingest(context.Background(), callbackBody("ws_CO_1", 0, "100.00")).Status)
	updatedAt := mustGet(t, f.txRepo, tx).UpdatedAt

	later := now.Add(time.Minute)
	r := NewReprocessor(NewTransitioner(f.txRepo, discardLogger(), fixedClock(later)), &recordingDeadLetters{}, DefaultRetryPolicy(), discardLogger(), nil)
	for _, msg := range f.queue.Messages() {
		require.NoError(t, r.Process(context.Background(), msg))
	}

	stored := mustGet(t, f.txRepo, tx)
	assert.Equal(t, domain.StatusSuccess, stored.Status)
	assert.Equal(t, updatedAt, stored.UpdatedAt)
}

func TestReprocessor_UnknownCheckoutIsDropped(t *testing.T) {
	dead := &recordingDeadLetters{}
	logger, capture := newCaptureLogger()
	repo := memory.NewTransactionRepository()
	r := NewReprocessor(NewTransitioner(repo, discardLogger(), nil), dead, DefaultRetryPolicy(), logger, nil)
	r.wait = noWait

	err := r.Process(context.Background(), domain.NewCallbackMessage(domain.SourceReplay, callbackBody("ws_CO_missing", 0, ""), time.Now()))
	require.NoError(t, err)
	assert.Empty(t, dead.msgs)
	assert.Len(t, capture.Warnings("Dropping callback message"), 1)
}

func TestReprocessor_TransientFaultRetriesThenSucceeds(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	tx := domain.NewPaymentTransaction("254712345678", mustAmount("10"), now)
	tx.Status = domain.StatusPending
	co := "ws_CO_1"
	tx.CheckoutRequestID = &co

	repo := new(MockTransactionRepository)
	repo.On("GetByCheckoutRequestID", mock.Anything, co).
		Return(nil, fmt.Errorf("read: %w", domain.ErrTransientStore)).Twice()
	repo.On("GetByCheckoutRequestID", mock.Anything, co).Return(tx, nil).Once()
	settled := *tx
	settled.Status = domain.StatusSuccess
	repo.On("TransitionStatus", mock.Anything, tx.ID, mock.MatchedBy(func(u domain.StatusUpdate) bool {
		return u.To == domain.StatusSuccess
	})).Return(&settled, true, nil).Once()

	var waits []time.Duration
	policy := RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Second, MaxBackoff: time.Minute, Multiplier: 2}
	dead := &recordingDeadLetters{}
	r := NewReprocessor(NewTransitioner(repo, discardLogger(), fixedClock(now)), dead, policy, discardLogger(), fixedClock(now))
	r.wait = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	require.NoError(t, r.Process(context.Background(), domain.NewCallbackMessage(domain.SourceWebhook, callbackBody(co, 0, "10"), now)))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, waits)
	assert.Empty(t, dead.msgs)
	repo.AssertExpectations(t)
}

func TestReprocessor_ExhaustionDeadLetters(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	repo := new(MockTransactionRepository)
	repo.On("GetByCheckoutRequestID", mock.Anything, "ws_CO_1").
		Return(nil, fmt.Errorf("read: %w", domain.ErrTransientStore))

	dead := &recordingDeadLetters{}
	r := NewReprocessor(NewTransitioner(repo, discardLogger(), nil), dead, DefaultRetryPolicy(), discardLogger(), fixedClock(now))
	r.wait = noWait

	msg := domain.NewCallbackMessage(domain.SourceWebhook, callbackBody("ws_CO_1", 0, ""), now)
	require.NoError(t, r.Process(context.Background(), msg))

	require.Len(t, dead.msgs, 1)
	assert.Equal(t, 5, dead.msgs[0].Attempts)
	assert.Equal(t, msg.ID, dead.msgs[0].Message.ID)
	assert.Contains(t, dead.msgs[0].LastError, domain.ErrTransientStore.Error())
	repo.AssertNumberOfCalls(t, "GetByCheckoutRequestID", 5)
}

func TestReprocessor_CancelledWhileBackingOff(t *testing.T) {
	repo := new(MockTransactionRepository)
	repo.On("GetByCheckoutRequestID", mock.Anything, "ws_CO_1").
		Return(nil, fmt.Errorf("read: %w", domain.ErrTransientStore))

	dead := &recordingDeadLetters{}
	r := NewReprocessor(NewTransitioner(repo, discardLogger(), nil), dead, DefaultRetryPolicy(), discardLogger(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Process(ctx, domain.NewCallbackMessage(domain.SourceWebhook, callbackBody("ws_CO_1", 0, ""), time.Now()))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, dead.msgs)
}

func mustGet(t *testing.T, repo *memory.TransactionRepository, tx *domain.PaymentTransaction) *domain.PaymentTransaction {
	t.Helper()
	stored, err := repo.GetByID(context.Background(), tx.ID)
	require.NoError(t, err)
	return stored
}
