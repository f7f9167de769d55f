package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware" // For GetReqID
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/stkpay/golang_services/internal/payment_service/app"
	"github.com/stkpay/golang_services/internal/payment_service/domain"
)

const MaxRequestBodySize = 1 << 20 // 1 MB

// PaymentInitiator is implemented by *app.Initiator.
type PaymentInitiator interface {
	Initiate(ctx context.Context, req app.InitiateRequest) (*app.InitiateResult, error)
}

// CallbackProcessor is implemented by *app.CallbackIngestor.
type CallbackProcessor interface {
	Ingest(ctx context.Context, raw []byte) app.IngestResult
}

// Replayer is implemented by *app.ReplayService.
type Replayer interface {
	ReplayCheckout(ctx context.Context, checkoutRequestID string) (*domain.CallbackMessage, error)
	RetryTransaction(ctx context.Context, id uuid.UUID) (*domain.CallbackMessage, error)
}

// TransactionReader is the read side of the transaction repository.
type TransactionReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error)
}

type PaymentHandler struct {
	initiator    PaymentInitiator
	callbacks    CallbackProcessor
	replayer     Replayer
	transactions TransactionReader
	validate     *validator.Validate
	logger       *slog.Logger
}

func NewPaymentHandler(initiator PaymentInitiator, callbacks CallbackProcessor, replayer Replayer, transactions TransactionReader, validate *validator.Validate, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		initiator:    initiator,
		callbacks:    callbacks,
		replayer:     replayer,
		transactions: transactions,
		validate:     validate,
		logger:       logger.With("component", "payment_handler"),
	}
}

// InitiatePayment starts an STK push.
func (h *PaymentHandler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	var reqDTO InitiatePaymentRequestDTO
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBodySize)).Decode(&reqDTO); err != nil {
		logger.WarnContext(ctx, "Failed to decode payment request body", "error", err)
		jsonError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if err := h.validate.StructCtx(ctx, reqDTO); err != nil {
		logger.WarnContext(ctx, "Validation failed for payment request", "error", err)
		jsonError(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}

	res, err := h.initiator.Initiate(ctx, app.InitiateRequest{PhoneNumber: reqDTO.PhoneNumber, Amount: string(reqDTO.Amount)})
	switch {
	case errors.Is(err, domain.ErrValidation):
		jsonError(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	case errors.Is(err, domain.ErrGateway):
		logger.ErrorContext(ctx, "Payment gateway error", "error", err)
		jsonError(w, http.StatusBadGateway, "Payment gateway error", err.Error())
		return
	case err != nil:
		logger.ErrorContext(ctx, "Failed to initiate payment", "error", err)
		jsonError(w, http.StatusInternalServerError, "Internal server error", "")
		return
	}

	resp := InitiatePaymentResponseDTO{
		TransactionID: res.Transaction.ID.String(),
		Status:        string(res.Transaction.Status),
	}
	if res.Response != nil {
		resp.MerchantRequestID = res.Response.MerchantRequestID
		resp.CheckoutRequestID = res.Response.CheckoutRequestID
		resp.ResponseCode = res.Response.ResponseCode
		resp.ResponseDescription = res.Response.ResponseDescription
		resp.CustomerMessage = res.Response.CustomerMessage
	}
	writeJSON(w, http.StatusOK, resp, logger)
}

// HandleCallback is the gateway webhook. It always answers 200.
func (h *PaymentHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestBodySize))
	if err != nil {
		// Whatever was read is still recorded so the delivery leaves an audit entry.
		logger.WarnContext(ctx, "Failed to read full callback body", "error", err, "bytes_read", len(raw))
	}
	logger.InfoContext(ctx, "Received payment callback", "remote_addr", r.RemoteAddr, "payload_size", len(raw))

	result := h.callbacks.Ingest(ctx, raw)
	writeJSON(w, http.StatusOK, result, logger)
}

// ReplayCallback synthesizes a success callback for a checkout id.
func (h *PaymentHandler) ReplayCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))
	checkoutID := chi.URLParam(r, "checkoutRequestID")

	msg, err := h.replayer.ReplayCheckout(ctx, checkoutID)
	if err != nil {
		h.writeOperatorError(ctx, w, logger, err)
		return
	}
	logger.InfoContext(ctx, "Callback replay requested", "checkout_request_id", checkoutID)
	writeJSON(w, http.StatusOK, ReplayResponseDTO{Status: "replayed", MessageID: msg.ID.String()}, logger)
}

// RetryTransaction replays the checkout id recorded on a transaction.
func (h *PaymentHandler) RetryTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	id, err := uuid.Parse(chi.URLParam(r, "transactionID"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid transaction id", err.Error())
		return
	}
	msg, err := h.replayer.RetryTransaction(ctx, id)
	if err != nil {
		h.writeOperatorError(ctx, w, logger, err)
		return
	}
	logger.InfoContext(ctx, "Transaction retry requested", "transaction_id", id)
	writeJSON(w, http.StatusOK, ReplayResponseDTO{Status: "replayed", MessageID: msg.ID.String()}, logger)
}

// GetTransaction returns one transaction.
func (h *PaymentHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	id, err := uuid.Parse(chi.URLParam(r, "transactionID"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid transaction id", err.Error())
		return
	}
	tx, err := h.transactions.GetByID(ctx, id)
	if err != nil {
		h.writeOperatorError(ctx, w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(tx), logger)
}

func (h *PaymentHandler) writeOperatorError(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		jsonError(w, http.StatusNotFound, "Not found", err.Error())
	case errors.Is(err, domain.ErrValidation):
		jsonError(w, http.StatusBadRequest, "Validation failed", err.Error())
	default:
		logger.ErrorContext(ctx, "Operator request failed", "error", err)
		jsonError(w, http.StatusInternalServerError, "Internal server error", "")
	}
}

func jsonError(w http.ResponseWriter, status int, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponseDTO{Error: message, Details: details})
}

func writeJSON(w http.ResponseWriter, status int, body any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("Failed to write response", "error", err)
	}
}
