package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stkpay/golang_services/internal/payment_service/domain"
)

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

// Transitioner is the only writer of transaction status. Every caller goes through
// the repository's conditional write, so a row that already holds a terminal status
// is never changed again.
type Transitioner struct {
	repo   domain.TransactionRepository
	logger *slog.Logger
	now    Clock
}

func NewTransitioner(repo domain.TransactionRepository, logger *slog.Logger, clock Clock) *Transitioner {
	if clock == nil {
		clock = systemClock
	}
	return &Transitioner{repo: repo, logger: logger.With("component", "transitioner"), now: clock}
}

// Transition moves transaction id to the target status. applied is false when a
// concurrent writer got there first; that is not an error.
func (t *Transitioner) Transition(ctx context.Context, id uuid.UUID, to domain.TransactionStatus, checkoutRequestID *string) (*domain.PaymentTransaction, bool, error) {
	update := domain.StatusUpdate{To: to, CheckoutRequestID: checkoutRequestID, At: t.now()}
	tx, applied, err := t.repo.TransitionStatus(ctx, id, update)
	if err != nil {
		return nil, false, fmt.Errorf("transition %s to %s: %w", id, to, err)
	}
	if !applied {
		statusTransitionsCounter.WithLabelValues(string(to), "skipped").Inc()
		t.logger.InfoContext(ctx, "Status transition skipped, transaction already moved",
			"transaction_id", id, "current_status", tx.Status, "target_status", to)
		return tx, false, nil
	}
	statusTransitionsCounter.WithLabelValues(string(to), "applied").Inc()
	t.logger.InfoContext(ctx, "Transaction status updated", "transaction_id", id, "status", to)
	return tx, true, nil
}

// Settlement is the result of applying one callback to its transaction.
type Settlement struct {
	Transaction *domain.PaymentTransaction
	Outcome     domain.Outcome
	// AlreadyTerminal is set when the transaction was terminal before this callback,
	// either on read or because a concurrent writer won the conditional write.
	AlreadyTerminal bool
}

// Settle looks up the callback's transaction, resolves the outcome against the
// recorded amount and commits it. Both the webhook path and the reprocessor use it.
func (t *Transitioner) Settle(ctx context.Context, cb *domain.STKCallback) (*Settlement, error) {
	tx, err := t.repo.GetByCheckoutRequestID(ctx, cb.CheckoutRequestID)
	if err != nil {
		return nil, err
	}
	if tx.Status.IsTerminal() {
		return &Settlement{Transaction: tx, AlreadyTerminal: true}, nil
	}

	outcome := domain.ResolveOutcome(cb, tx.Amount)
	if outcome.AmountMismatch {
		t.logger.WarnContext(ctx, "Callback amount does not match transaction",
			"transaction_id", tx.ID, "checkout_request_id", cb.CheckoutRequestID, "details", outcome.Details)
	}

	updated, applied, err := t.Transition(ctx, tx.ID, outcome.Status, nil)
	if err != nil {
		return nil, err
	}
	if !applied && !updated.Status.IsTerminal() {
		return nil, fmt.Errorf("transaction %s is %s, cannot settle to %s yet: %w",
			tx.ID, updated.Status, outcome.Status, domain.ErrTransientStore)
	}
	return &Settlement{Transaction: updated, Outcome: outcome, AlreadyTerminal: !applied}, nil
}
