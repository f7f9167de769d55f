package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stkpay/golang_services/internal/payment_service/domain"
	"github.com/stkpay/golang_services/internal/payment_service/repository/memory"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) RequestPush(ctx context.Context, req domain.PushRequest) (*domain.PushResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PushResponse), args.Error(1)
}

// cancellableRepo fails every call on a done context, as pgx does.
type cancellableRepo struct {
	*memory.TransactionRepository
}

func (r cancellableRepo) Create(ctx context.Context, tx *domain.PaymentTransaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.TransactionRepository.Create(ctx, tx)
}

func (r cancellableRepo) TransitionStatus(ctx context.Context, id uuid.UUID, update domain.StatusUpdate) (*domain.PaymentTransaction, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	return r.TransactionRepository.TransitionStatus(ctx, id, update)
}

func newTestInitiator(repo domain.TransactionRepository, gw domain.PaymentGatewayAdapter, timeout time.Duration) *Initiator {
	cfg := InitiatorConfig{GatewayTimeout: timeout, CountryCode: "254", AccountReference: "Test", Description: "Payment"}
	return NewInitiator(repo, gw, NewTransitioner(repo, discardLogger(), nil), cfg, discardLogger(), nil)
}

func TestInitiator_AcceptedBecomesPending(t *testing.T) {
	repo := memory.NewTransactionRepository()
	gw := new(MockGateway)
	gw.On("RequestPush", mock.Anything, mock.MatchedBy(func(r domain.PushRequest) bool {
		return r.PhoneNumber == "254712345678" && r.Amount.Equal(mustAmount("100")) && r.AccountReference == "Test"
	})).Return(&domain.PushResponse{
		MerchantRequestID: "m-1",
		CheckoutRequestID: "ws_CO_1",
		ResponseCode:      "0",
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil)

	res, err := newTestInitiator(repo, gw, time.Second).Initiate(context.Background(), InitiateRequest{PhoneNumber: "0712345678", Amount: "100.00"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, res.Transaction.Status)
	assert.Equal(t, "ws_CO_1", res.Transaction.CheckoutID())
	assert.Equal(t, "m-1", res.Response.MerchantRequestID)

	stored, err := repo.GetByCheckoutRequestID(context.Background(), "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, res.Transaction.ID, stored.ID)
	gw.AssertExpectations(t)
}

func TestInitiator_AcceptedPushSurvivesCallerDisconnect(t *testing.T) {
	repo := cancellableRepo{memory.NewTransactionRepository()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := new(MockGateway)
	gw.On("RequestPush", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(&domain.PushResponse{CheckoutRequestID: "ws_CO_gone", ResponseCode: "0"}, nil)

	res, err := newTestInitiator(repo, gw, time.Second).Initiate(ctx, InitiateRequest{PhoneNumber: "254712345678", Amount: "100"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, res.Transaction.Status)

	stored, err := repo.GetByCheckoutRequestID(context.Background(), "ws_CO_gone")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
	initiated, _ := repo.ListByStatus(context.Background(), domain.StatusInitiated)
	assert.Empty(t, initiated)

	// The gateway's callback now settles the transaction instead of being ignored.
	ingestor := NewCallbackIngestor(NewTransitioner(repo, discardLogger(), nil), memory.NewCallbackLogRepository(), &recordingQueue{}, discardLogger(), nil)
	result := ingestor.Ingest(context.Background(), callbackBody("ws_CO_gone", 0, "100"))
	assert.Equal(t, domain.DispositionProcessed, result.Status)
}

func TestParseAmount(t *testing.T) {
	amount, err := ParseAmount(" 250.00 ")
	require.NoError(t, err)
	assert.True(t, amount.Equal(mustAmount("250")))

	for _, raw := range []string{"10.75", "0.5", "0.01"} {
		_, err := ParseAmount(raw)
		assert.ErrorIs(t, err, domain.ErrValidation, raw)
	}
}

func TestInitiator_GatewayFailuresEndFailed(t *testing.T) {
	tests := []struct {
		name     string
		resp     *domain.PushResponse
		err      error
		wantKind domain.GatewayErrorKind
	}{
		{"Rejected", &domain.PushResponse{ResponseCode: "1", ResponseDescription: "Rejected"}, nil, domain.GatewayErrorRejected},
		{"AcceptedWithoutCheckout", &domain.PushResponse{ResponseCode: "0"}, nil, domain.GatewayErrorRejected},
		{"Auth", nil, &domain.GatewayError{Kind: domain.GatewayErrorAuth, Message: "invalid credentials"}, domain.GatewayErrorAuth},
		{"Network", nil, errors.New("connection refused"), domain.GatewayErrorNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := memory.NewTransactionRepository()
			gw := new(MockGateway)
			gw.On("RequestPush", mock.Anything, mock.Anything).Return(tt.resp, tt.err)

			res, err := newTestInitiator(repo, gw, time.Second).Initiate(context.Background(), InitiateRequest{PhoneNumber: "254712345678", Amount: "10"})
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrGateway)
			var gwErr *domain.GatewayError
			require.ErrorAs(t, err, &gwErr)
			assert.Equal(t, tt.wantKind, gwErr.Kind)

			require.NotNil(t, res)
			assert.Equal(t, domain.StatusFailed, res.Transaction.Status)
			initiated, _ := repo.ListByStatus(context.Background(), domain.StatusInitiated)
			assert.Empty(t, initiated)
			failed, _ := repo.ListByStatus(context.Background(), domain.StatusFailed)
			assert.Len(t, failed, 1)
		})
	}
}

func TestInitiator_TimeoutEndsFailed(t *testing.T) {
	repo := memory.NewTransactionRepository()
	gw := new(MockGateway)
	gw.On("RequestPush", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	res, err := newTestInitiator(repo, gw, 20*time.Millisecond).Initiate(context.Background(), InitiateRequest{PhoneNumber: "254712345678", Amount: "10"})
	var gwErr *domain.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, domain.GatewayErrorTimeout, gwErr.Kind)
	assert.Equal(t, domain.StatusFailed, res.Transaction.Status)
}

func TestInitiator_ValidationCreatesNothing(t *testing.T) {
	for _, req := range []InitiateRequest{
		{PhoneNumber: "254712345678", Amount: "0"},
		{PhoneNumber: "254712345678", Amount: "-5"},
		{PhoneNumber: "254712345678", Amount: "abc"},
		{PhoneNumber: "254712345678", Amount: "10.75"},
		{PhoneNumber: "254712345678", Amount: "0.5"},
		{PhoneNumber: "", Amount: "10"},
	} {
		repo := memory.NewTransactionRepository()
		gw := new(MockGateway)
		_, err := newTestInitiator(repo, gw, time.Second).Initiate(context.Background(), req)
		assert.ErrorIs(t, err, domain.ErrValidation)
		all, _ := repo.ListByStatus(context.Background(), domain.StatusInitiated)
		assert.Empty(t, all)
		gw.AssertNotCalled(t, "RequestPush", mock.Anything, mock.Anything)
	}
}
