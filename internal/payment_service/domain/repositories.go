package domain

import (
	"context"

	"github.com/google/uuid"
)

// TransactionRepository persists payment transactions.
type TransactionRepository interface {
	Create(ctx context.Context, tx *PaymentTransaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*PaymentTransaction, error)
	// GetByCheckoutRequestID returns ErrNotFound when no row carries the id and
	// ErrDuplicateCheckoutRequestID when more than one does.
	GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*PaymentTransaction, error)
	// TransitionStatus writes update only if the stored status is still one of
	// SourcesFor(update.To). It returns the row as stored after the call and whether
	// this call changed it.
	TransitionStatus(ctx context.Context, id uuid.UUID, update StatusUpdate) (*PaymentTransaction, bool, error)
	ListByStatus(ctx context.Context, status TransactionStatus) ([]*PaymentTransaction, error)
}

// CallbackLogRepository is the append-only audit trail of received callbacks.
type CallbackLogRepository interface {
	Append(ctx context.Context, entry *CallbackLog) error
	ListByCheckoutRequestID(ctx context.Context, checkoutRequestID string) ([]*CallbackLog, error)
}
