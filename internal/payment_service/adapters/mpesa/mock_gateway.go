package mpesa

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/stkpay/golang_services/internal/payment_service/domain"
)

// MockBehaviour selects the failure a MockGateway simulates. The zero value accepts
// every push.
type MockBehaviour struct {
	SimulateError    error
	SimulateRejected bool
}

// MockGateway is used with GATEWAY_DRIVER=mock for local runs.
type MockGateway struct {
	logger    *slog.Logger
	behaviour MockBehaviour
}

func NewMockGateway(logger *slog.Logger, behaviour MockBehaviour) *MockGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockGateway{logger: logger.With("adapter", "mock_payment_gateway"), behaviour: behaviour}
}

func (m *MockGateway) RequestPush(ctx context.Context, req domain.PushRequest) (*domain.PushResponse, error) {
	m.logger.InfoContext(ctx, "MockGateway: RequestPush called",
		"transaction_id", req.TransactionID, "amount", req.Amount.String())

	if m.behaviour.SimulateError != nil {
		m.logger.WarnContext(ctx, "MockGateway: simulated push failure", "error", m.behaviour.SimulateError)
		return nil, m.behaviour.SimulateError
	}
	if m.behaviour.SimulateRejected {
		return &domain.PushResponse{
			ResponseCode:        "1",
			ResponseDescription: "Rejected by mock gateway",
		}, nil
	}

	// Deterministic per transaction so repeated local runs correlate.
	suffix := strings.ReplaceAll(req.TransactionID.String(), "-", "")
	return &domain.PushResponse{
		MerchantRequestID:   "mock-mr-" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(suffix)).String(),
		CheckoutRequestID:   "ws_CO_mock_" + suffix,
		ResponseCode:        "0",
		ResponseDescription: "Success. Request accepted for processing",
		CustomerMessage:     "Success. Request accepted for processing",
	}, nil
}
