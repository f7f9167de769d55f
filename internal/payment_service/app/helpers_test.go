package app

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/stkpay/golang_services/internal/payment_service/domain"
	"github.com/stkpay/golang_services/internal/payment_service/repository/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// recordingQueue captures enqueued messages instead of processing them.
type recordingQueue struct {
	mu   sync.Mutex
	msgs []domain.CallbackMessage
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, msg domain.CallbackMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.msgs = append(q.msgs, msg)
	return nil
}

func (q *recordingQueue) Messages() []domain.CallbackMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.CallbackMessage(nil), q.msgs...)
}

type recordingDeadLetters struct {
	mu   sync.Mutex
	msgs []domain.DeadLetterMessage
}

func (d *recordingDeadLetters) DeadLetter(_ context.Context, msg domain.DeadLetterMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, msg)
	return nil
}

// logRecord is one captured slog record.
type logRecord struct {
	Level   slog.Level
	Message string
	Attrs   map[string]string
}

// captureHandler is an slog.Handler that keeps records for assertions.
type captureHandler struct {
	mu      *sync.Mutex
	records *[]logRecord
	attrs   []slog.Attr
}

func newCaptureLogger() (*slog.Logger, *captureHandler) {
	h := &captureHandler{mu: &sync.Mutex{}, records: &[]logRecord{}}
	return slog.New(h), h
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	rec := logRecord{Level: r.Level, Message: r.Message, Attrs: map[string]string{}}
	for _, a := range h.attrs {
		rec.Attrs[a.Key] = a.Value.String()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.Attrs[a.Key] = a.Value.String()
		return true
	})
	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &captureHandler{mu: h.mu, records: h.records, attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...)}
}

func (h *captureHandler) WithGroup(string) slog.Handler { return h }

func (h *captureHandler) Warnings(message string) []logRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []logRecord
	for _, r := range *h.records {
		if r.Level == slog.LevelWarn && r.Message == message {
			out = append(out, r)
		}
	}
	return out
}

func (h *captureHandler) Messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, r := range *h.records {
		out = append(out, r.Message)
	}
	return out
}

// seedPending stores a PENDING transaction carrying checkoutID.
func seedPending(t *testing.T, repo *memory.TransactionRepository, checkoutID, amount string, createdAt time.Time) *domain.PaymentTransaction {
	t.Helper()
	ctx := context.Background()
	tx := domain.NewPaymentTransaction("254712345678", decimal.RequireFromString(amount), createdAt)
	require.NoError(t, repo.Create(ctx, tx))
	co := checkoutID
	updated, applied, err := repo.TransitionStatus(ctx, tx.ID, domain.StatusUpdate{To: domain.StatusPending, CheckoutRequestID: &co, At: createdAt})
	require.NoError(t, err)
	require.True(t, applied)
	return updated
}

func callbackBody(checkoutID string, resultCode int, amount string) []byte {
	meta := ""
	if amount != "" {
		meta = `,"CallbackMetadata":{"Item":[{"Name":"Amount","Value":` + amount + `},{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"}]}`
	}
	return []byte(`{"Body":{"stkCallback":{"MerchantRequestID":"m-1","CheckoutRequestID":"` + checkoutID +
		`","ResultCode":` + strconv.Itoa(resultCode) + `,"ResultDesc":"desc"` + meta + `}}}`)
}

func mustAmount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
