package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stkpay/golang_services/internal/payment_service/domain"
)

// InitiatorConfig holds the push request settings that do not vary per call.
type InitiatorConfig struct {
	GatewayTimeout   time.Duration
	CountryCode      string
	AccountReference string
	Description      string
}

type InitiateRequest struct {
	PhoneNumber string
	Amount      string
}

type InitiateResult struct {
	Transaction *domain.PaymentTransaction
	Response    *domain.PushResponse
}

// Initiator creates transactions and submits the push request to the gateway.
type Initiator struct {
	repo        domain.TransactionRepository
	gateway     domain.PaymentGatewayAdapter
	transitions *Transitioner
	cfg         InitiatorConfig
	logger      *slog.Logger
	now         Clock
}

func NewInitiator(repo domain.TransactionRepository, gateway domain.PaymentGatewayAdapter, transitions *Transitioner, cfg InitiatorConfig, logger *slog.Logger, clock Clock) *Initiator {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 15 * time.Second
	}
	if clock == nil {
		clock = systemClock
	}
	return &Initiator{
		repo:        repo,
		gateway:     gateway,
		transitions: transitions,
		cfg:         cfg,
		logger:      logger.With("component", "initiator"),
		now:         clock,
	}
}

// ParseAmount accepts a positive whole amount. The gateway charges whole shillings,
// so a fractional amount could never match the amount reported back in the callback.
func ParseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, domain.NewValidationError("amount", "must be a decimal number")
	}
	if !amount.IsPositive() {
		return decimal.Zero, domain.NewValidationError("amount", "must be greater than zero")
	}
	if !amount.Equal(amount.Truncate(0)) {
		return decimal.Zero, domain.NewValidationError("amount", "must be a whole number of shillings")
	}
	return amount, nil
}

// Initiate validates the request, creates one INITIATED transaction and asks the
// gateway for a push. The transaction ends PENDING on acceptance and FAILED otherwise.
func (i *Initiator) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	amount, err := ParseAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	phone, err := domain.NormalizePhoneNumber(req.PhoneNumber, i.cfg.CountryCode)
	if err != nil {
		return nil, err
	}

	tx := domain.NewPaymentTransaction(phone, amount, i.now())
	if err := i.repo.Create(ctx, tx); err != nil {
		i.logger.ErrorContext(ctx, "Failed to create transaction", "error", err)
		return nil, fmt.Errorf("creating transaction: %w", err)
	}
	i.logger.InfoContext(ctx, "Transaction created", "transaction_id", tx.ID, "amount", amount.String())

	resp, gwErr := i.requestPush(ctx, tx)
	if gwErr != nil {
		i.logger.WarnContext(ctx, "Push request failed", "transaction_id", tx.ID, "error", gwErr)
		failed, _, err := i.transitions.Transition(context.WithoutCancel(ctx), tx.ID, domain.StatusFailed, nil)
		if err != nil {
			i.logger.ErrorContext(ctx, "Failed to mark transaction FAILED after gateway error", "transaction_id", tx.ID, "error", err)
			return nil, errors.Join(gwErr, err)
		}
		return &InitiateResult{Transaction: failed, Response: resp}, gwErr
	}

	// The customer is already being prompted, so the checkout id must be stored even
	// if the caller has gone away.
	checkout := resp.CheckoutRequestID
	pending, applied, err := i.transitions.Transition(context.WithoutCancel(ctx), tx.ID, domain.StatusPending, &checkout)
	if err != nil {
		i.logger.ErrorContext(ctx, "Failed to record accepted push", "transaction_id", tx.ID, "checkout_request_id", checkout, "error", err)
		return nil, err
	}
	if !applied {
		return nil, fmt.Errorf("transaction %s left INITIATED concurrently (now %s)", tx.ID, pending.Status)
	}
	i.logger.InfoContext(ctx, "Push request accepted", "transaction_id", tx.ID, "checkout_request_id", checkout)
	return &InitiateResult{Transaction: pending, Response: resp}, nil
}

// requestPush calls the gateway under GatewayTimeout and turns every failure,
// including a rejection or a missing checkout id, into a *domain.GatewayError.
func (i *Initiator) requestPush(ctx context.Context, tx *domain.PaymentTransaction) (*domain.PushResponse, *domain.GatewayError) {
	callCtx, cancel := context.WithTimeout(ctx, i.cfg.GatewayTimeout)
	defer cancel()

	start := time.Now()
	resp, err := i.gateway.RequestPush(callCtx, domain.PushRequest{
		TransactionID:    tx.ID,
		PhoneNumber:      tx.PhoneNumber,
		Amount:           tx.Amount,
		AccountReference: i.cfg.AccountReference,
		Description:      i.cfg.Description,
	})
	elapsed := time.Since(start).Seconds()

	if err != nil {
		gatewayRequestDurationHist.WithLabelValues("error").Observe(elapsed)
		var gwErr *domain.GatewayError
		if errors.As(err, &gwErr) {
			return resp, gwErr
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return resp, &domain.GatewayError{Kind: domain.GatewayErrorTimeout, Message: "push request timed out", Err: err}
		}
		return resp, &domain.GatewayError{Kind: domain.GatewayErrorNetwork, Err: err}
	}
	if !resp.Accepted() {
		gatewayRequestDurationHist.WithLabelValues("rejected").Observe(elapsed)
		gwErr := &domain.GatewayError{Kind: domain.GatewayErrorRejected, Message: "push request rejected"}
		if resp != nil {
			gwErr.Code = resp.ResponseCode
			gwErr.Message = resp.ResponseDescription
		}
		return resp, gwErr
	}
	if resp.CheckoutRequestID == "" {
		gatewayRequestDurationHist.WithLabelValues("rejected").Observe(elapsed)
		return resp, &domain.GatewayError{Kind: domain.GatewayErrorRejected, Code: resp.ResponseCode, Message: "accepted response carried no CheckoutRequestID"}
	}
	gatewayRequestDurationHist.WithLabelValues("accepted").Observe(elapsed)
	return resp, nil
}
