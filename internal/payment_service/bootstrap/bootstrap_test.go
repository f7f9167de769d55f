package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stkpay/golang_services/internal/payment_service/adapters/mpesa"
	"github.com/stkpay/golang_services/internal/payment_service/repository/memory"
	"github.com/stkpay/golang_services/internal/platform/config"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestOpenStores_Memory(t *testing.T) {
	stores, err := OpenStores(context.Background(), &config.Config{StoreDriver: "memory"}, discardLogger())
	require.NoError(t, err)
	defer stores.Close()
	assert.IsType(t, &memory.TransactionRepository{}, stores.Transactions)
	assert.IsType(t, &memory.CallbackLogRepository{}, stores.CallbackLogs)
}

func TestOpenStores_UnknownDriver(t *testing.T) {
	_, err := OpenStores(context.Background(), &config.Config{StoreDriver: "mysql"}, discardLogger())
	assert.Error(t, err)
}

func TestNewGateway(t *testing.T) {
	gw, err := NewGateway(&config.Config{GatewayDriver: "mock"}, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &mpesa.MockGateway{}, gw)

	_, err = NewGateway(&config.Config{GatewayDriver: "daraja", MpesaEnv: "sandbox"}, discardLogger())
	assert.Error(t, err, "daraja without credentials must fail")

	gw, err = NewGateway(&config.Config{
		GatewayDriver: "daraja", MpesaEnv: "production",
		MpesaConsumerKey: "k", MpesaConsumerSecret: "s", MpesaShortCode: "174379",
		MpesaPassKey: "p", MpesaCallbackURL: "https://example.test/cb", GatewayTimeout: time.Second,
	}, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &mpesa.DarajaClient{}, gw)
}

func TestRetryPolicy(t *testing.T) {
	p := RetryPolicy(&config.Config{ReprocessMaxAttempts: 3, ReprocessInitialBackoff: time.Second})
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, time.Second, p.InitialBackoff)
	assert.Equal(t, 5*time.Minute, p.MaxBackoff)
}
