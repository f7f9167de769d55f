package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	SubjectCallbackProcess = "payments.callbacks.process"
	SubjectCallbackDead    = "payments.callbacks.dead"
)

// CallbackSource tells where a queued callback came from.
type CallbackSource string

const (
	SourceWebhook CallbackSource = "webhook"
	SourceReplay  CallbackSource = "replay"
)

// CallbackMessage is the unit of work handed to the reprocessor.
type CallbackMessage struct {
	ID         uuid.UUID       `json:"id"`
	Source     CallbackSource  `json:"source"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

func NewCallbackMessage(source CallbackSource, payload []byte, now time.Time) CallbackMessage {
	return CallbackMessage{ID: uuid.New(), Source: source, Payload: json.RawMessage(payload), EnqueuedAt: now}
}

// DeadLetterMessage is a callback the reprocessor gave up on.
type DeadLetterMessage struct {
	Message   CallbackMessage `json:"message"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error"`
	FailedAt  time.Time       `json:"failed_at"`
}

// CallbackQueue hands callback work to the reprocessor.
type CallbackQueue interface {
	Enqueue(ctx context.Context, msg CallbackMessage) error
}

// DeadLetterSink receives work that exhausted its retries.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, msg DeadLetterMessage) error
}
