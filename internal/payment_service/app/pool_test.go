package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stkpay/golang_services/internal/payment_service/domain"
	"github.com/stkpay/golang_services/internal/payment_service/repository/memory"
)

type countingHandler struct {
	mu   sync.Mutex
	seen []domain.CallbackMessage
}

func (h *countingHandler) Process(_ context.Context, msg domain.CallbackMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, msg)
	return nil
}

func TestWorkerPool_DrainsOnShutdown(t *testing.T) {
	handler := &countingHandler{}
	pool := NewWorkerPool(4, handler, discardLogger())
	pool.Start(2)

	for i := 0; i < 20; i++ {
		require.NoError(t, pool.Enqueue(context.Background(), domain.NewCallbackMessage(domain.SourceWebhook, []byte(`{}`), time.Now())))
	}
	require.NoError(t, pool.Shutdown(context.Background()))
	assert.Len(t, handler.seen, 20)

	err := pool.Enqueue(context.Background(), domain.NewCallbackMessage(domain.SourceWebhook, []byte(`{}`), time.Now()))
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestWorkerPool_EnqueueHonoursContext(t *testing.T) {
	pool := NewWorkerPool(1, &countingHandler{}, discardLogger())
	require.NoError(t, pool.Enqueue(context.Background(), domain.NewCallbackMessage(domain.SourceWebhook, nil, time.Now())))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := pool.Enqueue(ctx, domain.NewCallbackMessage(domain.SourceWebhook, nil, time.Now()))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// End to end through the pool: webhook commit, queued reprocessing and a replay
// against the now terminal transaction.
func TestWorkerPool_WebhookAndReplayConverge(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	txRepo := memory.NewTransactionRepository()
	logRepo := memory.NewCallbackLogRepository()
	tx := seedPending(t, txRepo, "ws_CO_1", "100.00", now)

	transitions := NewTransitioner(txRepo, discardLogger(), nil)
	reprocessor := NewReprocessor(transitions, &recordingDeadLetters{}, DefaultRetryPolicy(), discardLogger(), nil)
	pool := NewWorkerPool(8, reprocessor, discardLogger())
	pool.Start(3)

	ingestor := NewCallbackIngestor(transitions, logRepo, pool, discardLogger(), nil)
	replay := NewReplayService(txRepo, pool, discardLogger(), nil)

	res := ingestor.Ingest(context.Background(), callbackBody("ws_CO_1", 1, ""))
	assert.Equal(t, domain.DispositionProcessed, res.Status)
	for i := 0; i < 3; i++ {
		_, err := replay.ReplayCheckout(context.Background(), "ws_CO_1")
		require.NoError(t, err)
	}
	require.NoError(t, pool.Shutdown(context.Background()))

	assert.Equal(t, domain.StatusFailed, mustGet(t, txRepo, tx).Status)
}
