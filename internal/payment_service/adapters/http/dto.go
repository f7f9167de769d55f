package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stkpay/golang_services/internal/payment_service/domain"
)

// InitiatePaymentRequestDTO is the body of the push initiation endpoint.
type InitiatePaymentRequestDTO struct {
	PhoneNumber string      `json:"phone_number" validate:"required,max=20"`
	Amount      AmountInput `json:"amount" validate:"required,numeric"`
}

// AmountInput accepts the amount either as a JSON string ("100") or a JSON number
// (100) and keeps its literal text, so it reaches the decimal parser unrounded.
type AmountInput string

func (a *AmountInput) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = AmountInput(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("amount must be a number or a numeric string: %w", err)
	}
	*a = AmountInput(n.String())
	return nil
}

type InitiatePaymentResponseDTO struct {
	TransactionID       string `json:"transaction_id"`
	Status              string `json:"status"`
	MerchantRequestID   string `json:"MerchantRequestID,omitempty"`
	CheckoutRequestID   string `json:"CheckoutRequestID,omitempty"`
	ResponseCode        string `json:"ResponseCode,omitempty"`
	ResponseDescription string `json:"ResponseDescription,omitempty"`
	CustomerMessage     string `json:"CustomerMessage,omitempty"`
}

type TransactionResponseDTO struct {
	ID                string    `json:"id"`
	PhoneNumber       string    `json:"phone_number"`
	Amount            string    `json:"amount"`
	Status            string    `json:"status"`
	CheckoutRequestID *string   `json:"checkout_request_id"`
	CreatedAt         time.Time `json:"created_at"`
}

func toTransactionResponse(tx *domain.PaymentTransaction) TransactionResponseDTO {
	return TransactionResponseDTO{
		ID:                tx.ID.String(),
		PhoneNumber:       tx.PhoneNumber,
		Amount:            tx.Amount.StringFixed(2),
		Status:            string(tx.Status),
		CheckoutRequestID: tx.CheckoutRequestID,
		CreatedAt:         tx.CreatedAt,
	}
}

type ReplayResponseDTO struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id,omitempty"`
}

type ErrorResponseDTO struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
