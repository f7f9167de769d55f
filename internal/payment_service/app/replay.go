package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/stkpay/golang_services/internal/payment_service/domain"
)

// ReplayService synthesizes success callbacks for operators. Replayed payloads go
// through the queue and the normal settlement, so a terminal transaction is unaffected.
type ReplayService struct {
	repo   domain.TransactionRepository
	queue  domain.CallbackQueue
	logger *slog.Logger
	now    Clock
}

func NewReplayService(repo domain.TransactionRepository, queue domain.CallbackQueue, logger *slog.Logger, clock Clock) *ReplayService {
	if clock == nil {
		clock = systemClock
	}
	return &ReplayService{repo: repo, queue: queue, logger: logger.With("component", "replay"), now: clock}
}

// ReplayCheckout enqueues a synthetic success callback for checkoutRequestID.
func (s *ReplayService) ReplayCheckout(ctx context.Context, checkoutRequestID string) (*domain.CallbackMessage, error) {
	if checkoutRequestID == "" {
		return nil, domain.NewValidationError("checkout_request_id", "is required")
	}
	tx, err := s.repo.GetByCheckoutRequestID(ctx, checkoutRequestID)
	if err != nil {
		return nil, err
	}

	payload, err := domain.NewSyntheticSuccessPayload(checkoutRequestID)
	if err != nil {
		return nil, fmt.Errorf("building replay payload: %w", err)
	}
	msg := domain.NewCallbackMessage(domain.SourceReplay, payload, s.now())
	if err := s.queue.Enqueue(ctx, msg); err != nil {
		return nil, fmt.Errorf("enqueueing replay for %s: %w", checkoutRequestID, err)
	}
	s.logger.InfoContext(ctx, "Replay enqueued",
		"checkout_request_id", checkoutRequestID, "transaction_id", tx.ID, "current_status", tx.Status, "message_id", msg.ID)
	return &msg, nil
}

// RetryTransaction replays the checkout id recorded on transaction id.
func (s *ReplayService) RetryTransaction(ctx context.Context, id uuid.UUID) (*domain.CallbackMessage, error) {
	tx, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.CheckoutID() == "" {
		return nil, domain.NewValidationError("transaction", "has no checkout request id to replay")
	}
	return s.ReplayCheckout(ctx, tx.CheckoutID())
}
