package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/stkpay/golang_services/internal/payment_service/domain"
)

// DeadLetterSink logs dead letters and keeps them for inspection. Used with
// QUEUE_DRIVER=memory.
type DeadLetterSink struct {
	mu     sync.Mutex
	items  []domain.DeadLetterMessage
	logger *slog.Logger
}

func NewDeadLetterSink(logger *slog.Logger) *DeadLetterSink {
	return &DeadLetterSink{logger: logger.With("component", "dead_letter_sink")}
}

func (s *DeadLetterSink) DeadLetter(ctx context.Context, msg domain.DeadLetterMessage) error {
	s.mu.Lock()
	s.items = append(s.items, msg)
	s.mu.Unlock()
	s.logger.ErrorContext(ctx, "Callback message dead-lettered",
		"message_id", msg.Message.ID,
		"source", msg.Message.Source,
		"attempts", msg.Attempts,
		"last_error", msg.LastError,
	)
	return nil
}

func (s *DeadLetterSink) Items() []domain.DeadLetterMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.DeadLetterMessage(nil), s.items...)
}
