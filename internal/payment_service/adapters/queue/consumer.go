package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/stkpay/golang_services/internal/payment_service/app"
	"github.com/stkpay/golang_services/internal/payment_service/domain"
)

// CallbackConsumer feeds JetStream deliveries to the reprocessor.
type CallbackConsumer struct {
	ctx        context.Context
	handler    app.MessageHandler
	redelivery time.Duration
	logger     *slog.Logger
}

// NewCallbackConsumer returns a consumer whose handlers run under ctx; cancelling ctx
// aborts in-flight retries and leaves those messages for redelivery.
func NewCallbackConsumer(ctx context.Context, handler app.MessageHandler, redeliveryDelay time.Duration, logger *slog.Logger) *CallbackConsumer {
	return &CallbackConsumer{
		ctx:        ctx,
		handler:    handler,
		redelivery: redeliveryDelay,
		logger:     logger.With("component", "callback_consumer"),
	}
}

// HandleMsg is a jetstream.MessageHandler. Undecodable messages are terminated,
// handler failures are nak'd for redelivery and everything else is acked.
func (c *CallbackConsumer) HandleMsg(msg jetstream.Msg) {
	logger := c.logger.With("subject", msg.Subject())
	if meta, err := msg.Metadata(); err == nil {
		logger = logger.With("delivery", meta.NumDelivered, "stream_seq", meta.Sequence.Stream)
	}

	var cm domain.CallbackMessage
	if err := json.Unmarshal(msg.Data(), &cm); err != nil {
		logger.Error("Undecodable callback message, terminating", "error", err)
		if termErr := msg.Term(); termErr != nil {
			logger.Warn("Failed to terminate message", "error", termErr)
		}
		return
	}
	logger = logger.With("message_id", cm.ID)

	if err := c.handler.Process(c.ctx, cm); err != nil {
		logger.Error("Callback message processing failed, requesting redelivery", "error", err)
		if nakErr := msg.NakWithDelay(c.redelivery); nakErr != nil {
			logger.Warn("Failed to nak message", "error", nakErr)
		}
		return
	}
	if err := msg.Ack(); err != nil {
		logger.Warn("Failed to ack message", "error", err)
	}
}
