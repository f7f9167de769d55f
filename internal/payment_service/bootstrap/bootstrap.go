// Package bootstrap builds the payment engine's drivers from configuration. It is
// shared by the service binary and paymentctl.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/stkpay/golang_services/internal/payment_service/adapters/mpesa"
	"github.com/stkpay/golang_services/internal/payment_service/adapters/queue"
	"github.com/stkpay/golang_services/internal/payment_service/app"
	"github.com/stkpay/golang_services/internal/payment_service/domain"
	"github.com/stkpay/golang_services/internal/payment_service/repository/memory"
	"github.com/stkpay/golang_services/internal/payment_service/repository/postgres"
	"github.com/stkpay/golang_services/internal/platform/config"
	"github.com/stkpay/golang_services/internal/platform/database"
	"github.com/stkpay/golang_services/internal/platform/messagebroker"
)

// Stores are the repositories selected by STORE_DRIVER.
type Stores struct {
	Transactions domain.TransactionRepository
	CallbackLogs domain.CallbackLogRepository
	Close        func()
}

func OpenStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stores, error) {
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("Using in-memory store; data is lost on restart")
		return &Stores{
			Transactions: memory.NewTransactionRepository(),
			CallbackLogs: memory.NewCallbackLogRepository(),
			Close:        func() {},
		}, nil
	case "postgres":
		pool, err := database.NewDBPool(ctx, cfg.PostgresDSN, cfg.DBMaxConns)
		if err != nil {
			return nil, err
		}
		logger.Info("Successfully connected to PostgreSQL")
		return &Stores{
			Transactions: postgres.NewPgTransactionRepository(pool, logger),
			CallbackLogs: postgres.NewPgCallbackLogRepository(pool, logger),
			Close:        pool.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// OpenBroker connects to NATS and ensures the payments stream exists.
func OpenBroker(ctx context.Context, cfg *config.Config, appName string, logger *slog.Logger) (*messagebroker.NatsClient, error) {
	client, err := messagebroker.NewNatsClient(cfg.NATSUrl, appName, logger)
	if err != nil {
		return nil, err
	}
	if _, err := client.EnsureStream(ctx, cfg.NATSStream, cfg.NATSCallbackSubject, cfg.NATSDeadLetterSubject); err != nil {
		client.Close()
		return nil, err
	}
	logger.Info("Connected to NATS JetStream", "url", cfg.NATSUrl, "stream", cfg.NATSStream)
	return client, nil
}

// NewGateway builds the gateway selected by GATEWAY_DRIVER.
func NewGateway(cfg *config.Config, logger *slog.Logger) (domain.PaymentGatewayAdapter, error) {
	switch cfg.GatewayDriver {
	case "mock":
		logger.Warn("Using mock payment gateway")
		return mpesa.NewMockGateway(logger, mpesa.MockBehaviour{}), nil
	case "daraja":
		baseURL, err := mpesa.BaseURLFor(cfg.MpesaEnv)
		if err != nil {
			return nil, err
		}
		return mpesa.NewDarajaClient(mpesa.Config{
			BaseURL:          baseURL,
			ConsumerKey:      cfg.MpesaConsumerKey,
			ConsumerSecret:   cfg.MpesaConsumerSecret,
			ShortCode:        cfg.MpesaShortCode,
			PassKey:          cfg.MpesaPassKey,
			CallbackURL:      cfg.MpesaCallbackURL,
			TransactionType:  cfg.MpesaTransactionType,
			AccountReference: cfg.MpesaAccountReference,
		}, &http.Client{Timeout: cfg.GatewayTimeout}, logger)
	default:
		return nil, fmt.Errorf("unknown gateway driver %q", cfg.GatewayDriver)
	}
}

func RetryPolicy(cfg *config.Config) app.RetryPolicy {
	policy := app.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.ReprocessMaxAttempts
	if cfg.ReprocessInitialBackoff > 0 {
		policy.InitialBackoff = cfg.ReprocessInitialBackoff
	}
	if cfg.ReprocessMaxBackoff > 0 {
		policy.MaxBackoff = cfg.ReprocessMaxBackoff
	}
	return policy
}

func InitiatorConfig(cfg *config.Config) app.InitiatorConfig {
	return app.InitiatorConfig{
		GatewayTimeout:   cfg.GatewayTimeout,
		CountryCode:      cfg.PhoneCountryCode,
		AccountReference: cfg.MpesaAccountReference,
		Description:      cfg.MpesaDescription,
	}
}

// NatsQueue returns the JetStream callback queue, which is also the dead-letter sink.
func NatsQueue(client *messagebroker.NatsClient, cfg *config.Config, logger *slog.Logger) *queue.NatsCallbackQueue {
	return queue.NewNatsCallbackQueue(client, cfg.NATSCallbackSubject, cfg.NATSDeadLetterSubject, logger)
}
