package domain

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PushRequest asks the gateway to prompt a customer's handset for payment.
type PushRequest struct {
	TransactionID    uuid.UUID
	PhoneNumber      string
	Amount           decimal.Decimal
	AccountReference string
	Description      string
}

// PushResponse is the gateway's synchronous answer to a push request.
type PushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// Accepted reports whether the gateway accepted the push.
func (r *PushResponse) Accepted() bool {
	return r != nil && r.ResponseCode == "0"
}

// PaymentGatewayAdapter is implemented by every gateway integration.
type PaymentGatewayAdapter interface {
	RequestPush(ctx context.Context, req PushRequest) (*PushResponse, error)
}
