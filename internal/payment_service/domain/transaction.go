package domain

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionStatus is the lifecycle state of a payment transaction.
type TransactionStatus string

const (
	StatusInitiated TransactionStatus = "INITIATED"
	StatusPending   TransactionStatus = "PENDING"
	StatusSuccess   TransactionStatus = "SUCCESS"
	StatusFailed    TransactionStatus = "FAILED"
)

// IsTerminal reports whether the status can never be left again.
// Every writer goes through this predicate; do not inline status comparisons elsewhere.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

func (s TransactionStatus) IsValid() bool {
	switch s {
	case StatusInitiated, StatusPending, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

func (s TransactionStatus) String() string { return string(s) }

// Value implements the driver.Valuer interface for TransactionStatus.
func (s TransactionStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// Scan implements the sql.Scanner interface for TransactionStatus.
func (s *TransactionStatus) Scan(value interface{}) error {
	var strVal string
	switch v := value.(type) {
	case string:
		strVal = v
	case []byte:
		strVal = string(v)
	default:
		return fmt.Errorf("failed to scan TransactionStatus: value is not string or []byte, it is %T", value)
	}
	st := TransactionStatus(strVal)
	if !st.IsValid() {
		return fmt.Errorf("unknown TransactionStatus value: %s", strVal)
	}
	*s = st
	return nil
}

// transitionSources lists, for each target status, the statuses it may be reached from.
// Terminal statuses never appear as a source.
var transitionSources = map[TransactionStatus][]TransactionStatus{
	StatusPending: {StatusInitiated},
	StatusSuccess: {StatusPending},
	StatusFailed:  {StatusInitiated, StatusPending},
}

// SourcesFor returns the statuses from which a transition to target is allowed.
func SourcesFor(target TransactionStatus) []TransactionStatus {
	src := transitionSources[target]
	out := make([]TransactionStatus, len(src))
	copy(out, src)
	return out
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to TransactionStatus) bool {
	if from.IsTerminal() {
		return false
	}
	for _, s := range transitionSources[to] {
		if s == from {
			return true
		}
	}
	return false
}

// PaymentTransaction is a single push payment and its reconciliation state.
type PaymentTransaction struct {
	ID                uuid.UUID         `json:"id"`
	PhoneNumber       string            `json:"phone_number"`
	Amount            decimal.Decimal   `json:"amount"`
	Status            TransactionStatus `json:"status"`
	CheckoutRequestID *string           `json:"checkout_request_id,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// NewPaymentTransaction builds a transaction in the INITIATED state.
func NewPaymentTransaction(phoneNumber string, amount decimal.Decimal, now time.Time) *PaymentTransaction {
	return &PaymentTransaction{
		ID:          uuid.New(),
		PhoneNumber: phoneNumber,
		Amount:      amount,
		Status:      StatusInitiated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// CheckoutID returns the gateway correlation id or "" when none has been assigned.
func (t *PaymentTransaction) CheckoutID() string {
	if t.CheckoutRequestID == nil {
		return ""
	}
	return *t.CheckoutRequestID
}

// Age is the time elapsed since the transaction was created.
func (t *PaymentTransaction) Age(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}

// StatusUpdate describes a conditional status write. CheckoutRequestID, when set,
// is stored in the same write as the status.
type StatusUpdate struct {
	To                TransactionStatus
	CheckoutRequestID *string
	At                time.Time
}

// Apply mutates t as the store would after a successful conditional write.
func (u StatusUpdate) Apply(t *PaymentTransaction) {
	t.Status = u.To
	if u.CheckoutRequestID != nil {
		id := *u.CheckoutRequestID
		t.CheckoutRequestID = &id
	}
	t.UpdatedAt = u.At
}
