package queue

import (
	"context"

	"github.com/stkpay/golang_services/internal/payment_service/app"
	"github.com/stkpay/golang_services/internal/payment_service/domain"
)

// InlineQueue processes each message synchronously in the caller's goroutine.
// paymentctl uses it when no broker is configured.
type InlineQueue struct {
	handler app.MessageHandler
}

func NewInlineQueue(handler app.MessageHandler) *InlineQueue {
	return &InlineQueue{handler: handler}
}

func (q *InlineQueue) Enqueue(ctx context.Context, msg domain.CallbackMessage) error {
	return q.handler.Process(ctx, msg)
}
