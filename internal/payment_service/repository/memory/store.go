// Package memory holds in-process repositories used by the memory store driver and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/stkpay/golang_services/internal/payment_service/domain"
)

type TransactionRepository struct {
	mu         sync.Mutex
	byID       map[uuid.UUID]*domain.PaymentTransaction
	byCheckout map[string][]uuid.UUID
}

func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{
		byID:       make(map[uuid.UUID]*domain.PaymentTransaction),
		byCheckout: make(map[string][]uuid.UUID),
	}
}

func (r *TransactionRepository) Create(_ context.Context, tx *domain.PaymentTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[tx.ID]; exists {
		return fmt.Errorf("transaction %s already exists", tx.ID)
	}
	stored := clone(tx)
	r.byID[tx.ID] = stored
	if co := stored.CheckoutID(); co != "" {
		r.byCheckout[co] = append(r.byCheckout[co], stored.ID)
	}
	return nil
}

func (r *TransactionRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.PaymentTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, domain.ErrNotFound)
	}
	return clone(tx), nil
}

func (r *TransactionRepository) GetByCheckoutRequestID(_ context.Context, checkoutRequestID string) (*domain.PaymentTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.byCheckout[checkoutRequestID]
	switch len(ids) {
	case 0:
		return nil, fmt.Errorf("checkout request id %q: %w", checkoutRequestID, domain.ErrNotFound)
	case 1:
		return clone(r.byID[ids[0]]), nil
	default:
		return nil, fmt.Errorf("checkout request id %q: %w", checkoutRequestID, domain.ErrDuplicateCheckoutRequestID)
	}
}

func (r *TransactionRepository) TransitionStatus(_ context.Context, id uuid.UUID, update domain.StatusUpdate) (*domain.PaymentTransaction, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.byID[id]
	if !ok {
		return nil, false, fmt.Errorf("transaction %s: %w", id, domain.ErrNotFound)
	}
	if !domain.CanTransition(tx.Status, update.To) {
		return clone(tx), false, nil
	}
	previous := tx.CheckoutID()
	update.Apply(tx)
	if co := tx.CheckoutID(); co != previous {
		r.byCheckout[co] = append(r.byCheckout[co], tx.ID)
	}
	return clone(tx), true, nil
}

func (r *TransactionRepository) ListByStatus(_ context.Context, status domain.TransactionStatus) ([]*domain.PaymentTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.PaymentTransaction
	for _, tx := range r.byID {
		if tx.Status == status {
			out = append(out, clone(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func clone(tx *domain.PaymentTransaction) *domain.PaymentTransaction {
	c := *tx
	if tx.CheckoutRequestID != nil {
		id := *tx.CheckoutRequestID
		c.CheckoutRequestID = &id
	}
	return &c
}

type CallbackLogRepository struct {
	mu      sync.Mutex
	entries []*domain.CallbackLog
}

func NewCallbackLogRepository() *CallbackLogRepository {
	return &CallbackLogRepository{}
}

func (r *CallbackLogRepository) Append(_ context.Context, entry *domain.CallbackLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *entry
	r.entries = append(r.entries, &c)
	return nil
}

func (r *CallbackLogRepository) ListByCheckoutRequestID(_ context.Context, checkoutRequestID string) ([]*domain.CallbackLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.CallbackLog
	for _, e := range r.entries {
		if e.CheckoutRequestID != nil && *e.CheckoutRequestID == checkoutRequestID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

// All returns every appended entry in append order.
func (r *CallbackLogRepository) All() []*domain.CallbackLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.CallbackLog, len(r.entries))
	for i, e := range r.entries {
		c := *e
		out[i] = &c
	}
	return out
}
