package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/stkpay/golang_services/internal/payment_service/domain"
)

// defaultEnqueueWait bounds how long the webhook waits for room in the callback
// queue before acknowledging without a reprocessing message.
const defaultEnqueueWait = time.Second

// IngestResult is the acknowledgment body returned to the gateway.
type IngestResult struct {
	Status  domain.CallbackDisposition `json:"status"`
	Details string                     `json:"details,omitempty"`
}

// CallbackIngestor is the synchronous webhook path. Ingest never returns an error:
// every path ends in a CallbackLog entry and an acknowledgment.
type CallbackIngestor struct {
	transitions *Transitioner
	logs        domain.CallbackLogRepository
	queue       domain.CallbackQueue
	logger      *slog.Logger
	now         Clock
	enqueueWait time.Duration
}

func NewCallbackIngestor(transitions *Transitioner, logs domain.CallbackLogRepository, queue domain.CallbackQueue, logger *slog.Logger, clock Clock) *CallbackIngestor {
	if clock == nil {
		clock = systemClock
	}
	return &CallbackIngestor{
		transitions: transitions,
		logs:        logs,
		queue:       queue,
		logger:      logger.With("component", "callback_ingestor"),
		now:         clock,
		enqueueWait: defaultEnqueueWait,
	}
}

func (c *CallbackIngestor) Ingest(ctx context.Context, raw []byte) IngestResult {
	cb, err := domain.ParseCallback(raw)
	if err != nil {
		return c.recordFault(ctx, raw, "", err)
	}
	checkoutID := cb.CheckoutRequestID
	logger := c.logger.With("checkout_request_id", checkoutID)

	if checkoutID == "" {
		logger.WarnContext(ctx, "Callback without CheckoutRequestID ignored")
		return c.record(ctx, raw, "", domain.DispositionIgnored, false, "missing CheckoutRequestID")
	}

	settled, err := c.transitions.Settle(ctx, cb)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		logger.InfoContext(ctx, "Callback for unknown checkout request id ignored")
		return c.record(ctx, raw, checkoutID, domain.DispositionIgnored, true, "no matching transaction")
	case errors.Is(err, domain.ErrTransientStore):
		// The reprocessor retries the same payload with backoff.
		result := c.recordFault(ctx, raw, checkoutID, err)
		c.enqueue(ctx, raw, checkoutID)
		return result
	case err != nil:
		return c.recordFault(ctx, raw, checkoutID, err)
	case settled.AlreadyTerminal:
		logger.InfoContext(ctx, "Callback for terminal transaction, nothing to do",
			"transaction_id", settled.Transaction.ID, "status", settled.Transaction.Status)
		c.record(ctx, raw, checkoutID, domain.DispositionAlreadyProcessed, true,
			"transaction already "+string(settled.Transaction.Status))
		return IngestResult{Status: domain.DispositionAlreadyProcessed}
	}

	c.record(ctx, raw, checkoutID, domain.CallbackDisposition(settled.Outcome.Status), true, settled.Outcome.Details)
	c.enqueue(ctx, raw, checkoutID)

	result := IngestResult{Status: domain.DispositionProcessed}
	if settled.Outcome.AmountMismatch {
		result.Details = "amount mismatch"
	}
	return result
}

// enqueue hands the raw payload to the reprocessor, waiting at most enqueueWait for
// room. A queue failure does not change the acknowledgment: a committed transition
// needs no further work and a PENDING row is still listed by the sweeper.
func (c *CallbackIngestor) enqueue(ctx context.Context, raw []byte, checkoutID string) {
	msg := domain.NewCallbackMessage(domain.SourceWebhook, raw, c.now())
	waitCtx, cancel := context.WithTimeout(ctx, c.enqueueWait)
	defer cancel()
	if err := c.queue.Enqueue(waitCtx, msg); err != nil {
		callbackEnqueueDropsCounter.Inc()
		c.logger.ErrorContext(ctx, "Callback not enqueued for reprocessing",
			"checkout_request_id", checkoutID, "message_id", msg.ID, "error", err)
	}
}

// recordFault is the single conversion of an unexpected fault into an "error"
// disposition. The raw body is logged as received when it could not be decoded.
func (c *CallbackIngestor) recordFault(ctx context.Context, raw []byte, checkoutID string, err error) IngestResult {
	c.logger.ErrorContext(ctx, "Callback processing failed", "checkout_request_id", checkoutID, "error", err)
	return c.record(ctx, raw, checkoutID, domain.DispositionError, false, err.Error())
}

func (c *CallbackIngestor) record(ctx context.Context, raw []byte, checkoutID string, status domain.CallbackDisposition, processed bool, details string) IngestResult {
	entry := domain.NewCallbackLog(raw, checkoutID, c.now())
	entry.Mark(status, processed, details)
	callbacksReceivedCounter.WithLabelValues(string(status)).Inc()
	if err := c.logs.Append(context.WithoutCancel(ctx), entry); err != nil {
		c.logger.ErrorContext(ctx, "Failed to append callback log",
			"checkout_request_id", checkoutID, "disposition", status, "error", err)
	}
	return IngestResult{Status: status}
}
