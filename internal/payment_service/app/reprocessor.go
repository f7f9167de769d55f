package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/stkpay/golang_services/internal/payment_service/domain"
)

// RetryPolicy bounds how often a transient fault is retried.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, InitialBackoff: 5 * time.Second, MaxBackoff: 5 * time.Minute, Multiplier: 2}
}

// Backoff returns the wait before the attempt following attempt n (1-based).
func (p RetryPolicy) Backoff(n int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}
	d := time.Duration(float64(p.InitialBackoff) * math.Pow(mult, float64(n-1)))
	if p.MaxBackoff > 0 && (d > p.MaxBackoff || d < 0) {
		return p.MaxBackoff
	}
	return d
}

// Reprocessor re-applies queued callbacks through the same settlement as the
// webhook path, retrying transient faults and dead-lettering what never succeeds.
type Reprocessor struct {
	transitions *Transitioner
	deadLetters domain.DeadLetterSink
	policy      RetryPolicy
	logger      *slog.Logger
	now         Clock
	wait        func(ctx context.Context, d time.Duration) error
}

func NewReprocessor(transitions *Transitioner, deadLetters domain.DeadLetterSink, policy RetryPolicy, logger *slog.Logger, clock Clock) *Reprocessor {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	if clock == nil {
		clock = systemClock
	}
	return &Reprocessor{
		transitions: transitions,
		deadLetters: deadLetters,
		policy:      policy,
		logger:      logger.With("component", "reprocessor"),
		now:         clock,
		wait:        sleepContext,
	}
}

// Process handles one message to completion. It returns an error only when the
// message could be neither applied nor dead-lettered, so the transport may redeliver.
func (r *Reprocessor) Process(ctx context.Context, msg domain.CallbackMessage) error {
	logger := r.logger.With("message_id", msg.ID, "source", msg.Source)

	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		lastErr = r.apply(ctx, msg, logger)
		if lastErr == nil {
			reprocessAttemptsCounter.WithLabelValues("ok").Inc()
			return nil
		}
		if domain.IsPermanent(lastErr) {
			reprocessAttemptsCounter.WithLabelValues("dropped").Inc()
			logger.WarnContext(ctx, "Dropping callback message", "attempt", attempt, "error", lastErr)
			return nil
		}

		reprocessAttemptsCounter.WithLabelValues("retry").Inc()
		if attempt == r.policy.MaxAttempts {
			break
		}
		backoff := r.policy.Backoff(attempt)
		logger.WarnContext(ctx, "Reprocessing failed, will retry", "attempt", attempt, "backoff", backoff, "error", lastErr)
		if err := r.wait(ctx, backoff); err != nil {
			return fmt.Errorf("reprocessing %s interrupted: %w", msg.ID, err)
		}
	}

	deadLettersCounter.Inc()
	logger.ErrorContext(ctx, "Retries exhausted, dead-lettering callback message",
		"attempts", r.policy.MaxAttempts, "error", lastErr)
	dl := domain.DeadLetterMessage{
		Message:   msg,
		Attempts:  r.policy.MaxAttempts,
		LastError: lastErr.Error(),
		FailedAt:  r.now(),
	}
	if err := r.deadLetters.DeadLetter(context.WithoutCancel(ctx), dl); err != nil {
		return fmt.Errorf("dead-lettering %s: %w", msg.ID, errors.Join(err, lastErr))
	}
	return nil
}

func (r *Reprocessor) apply(ctx context.Context, msg domain.CallbackMessage, logger *slog.Logger) error {
	cb, err := domain.ParseCallback(msg.Payload)
	if err != nil {
		return err
	}
	if cb.CheckoutRequestID == "" {
		return fmt.Errorf("%w: missing CheckoutRequestID", domain.ErrMalformedPayload)
	}

	settled, err := r.transitions.Settle(ctx, cb)
	if err != nil {
		return err
	}
	if settled.AlreadyTerminal {
		logger.InfoContext(ctx, "Transaction already terminal, nothing to reprocess",
			"checkout_request_id", cb.CheckoutRequestID, "status", settled.Transaction.Status)
		return nil
	}
	logger.InfoContext(ctx, "Callback reprocessed",
		"checkout_request_id", cb.CheckoutRequestID, "status", settled.Transaction.Status, "details", settled.Outcome.Details)
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
