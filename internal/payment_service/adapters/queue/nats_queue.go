package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/stkpay/golang_services/internal/payment_service/domain"
)

// Publisher is the subset of the NATS client the queue needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, msgID string) error
}

// NatsCallbackQueue publishes callback work and dead letters to JetStream subjects.
type NatsCallbackQueue struct {
	publisher         Publisher
	subject           string
	deadLetterSubject string
	logger            *slog.Logger
}

func NewNatsCallbackQueue(publisher Publisher, subject, deadLetterSubject string, logger *slog.Logger) *NatsCallbackQueue {
	if subject == "" {
		subject = domain.SubjectCallbackProcess
	}
	if deadLetterSubject == "" {
		deadLetterSubject = domain.SubjectCallbackDead
	}
	return &NatsCallbackQueue{
		publisher:         publisher,
		subject:           subject,
		deadLetterSubject: deadLetterSubject,
		logger:            logger.With("component", "nats_callback_queue"),
	}
}

// Enqueue publishes msg with its id as the JetStream dedupe id.
func (q *NatsCallbackQueue) Enqueue(ctx context.Context, msg domain.CallbackMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding callback message: %w", err)
	}
	if err := q.publisher.Publish(ctx, q.subject, data, msg.ID.String()); err != nil {
		return err
	}
	q.logger.DebugContext(ctx, "Callback message published", "message_id", msg.ID, "source", msg.Source)
	return nil
}

func (q *NatsCallbackQueue) DeadLetter(ctx context.Context, msg domain.DeadLetterMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding dead letter: %w", err)
	}
	if err := q.publisher.Publish(ctx, q.deadLetterSubject, data, "dead-"+msg.Message.ID.String()); err != nil {
		return err
	}
	q.logger.WarnContext(ctx, "Callback message dead-lettered",
		"message_id", msg.Message.ID, "attempts", msg.Attempts, "last_error", msg.LastError)
	return nil
}
