package domain

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
)

// CallbackDisposition records what the engine did with a received callback.
type CallbackDisposition string

const (
	DispositionIgnored          CallbackDisposition = "ignored"
	DispositionAlreadyProcessed CallbackDisposition = "already processed"
	DispositionProcessed        CallbackDisposition = "processed"
	DispositionError            CallbackDisposition = "error"
)

// CallbackLog is the append-only audit record of one received callback.
type CallbackLog struct {
	ID                uuid.UUID           `json:"id"`
	ReceivedAt        time.Time           `json:"received_at"`
	CheckoutRequestID *string             `json:"checkout_request_id,omitempty"`
	Payload           json.RawMessage     `json:"payload"`
	PayloadDigest     string              `json:"payload_digest"`
	Processed         bool                `json:"processed"`
	ProcessingStatus  CallbackDisposition `json:"processing_status"`
	Details           string              `json:"details,omitempty"`
}

// NewCallbackLog builds a log entry for raw. Bodies that are not valid JSON are
// stored wrapped as {"raw_body": "..."} so the payload column always holds JSON.
func NewCallbackLog(raw []byte, checkoutRequestID string, now time.Time) *CallbackLog {
	payload := json.RawMessage(raw)
	if !json.Valid(raw) {
		wrapped, _ := json.Marshal(map[string]string{"raw_body": string(raw)})
		payload = wrapped
	}
	entry := &CallbackLog{
		ID:            uuid.New(),
		ReceivedAt:    now,
		Payload:       payload,
		PayloadDigest: PayloadDigest(raw),
	}
	if checkoutRequestID != "" {
		id := checkoutRequestID
		entry.CheckoutRequestID = &id
	}
	return entry
}

// PayloadDigest is the hex SHA3-256 of the raw body as received.
func PayloadDigest(raw []byte) string {
	sum := sha3.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Mark sets the disposition of the entry.
func (l *CallbackLog) Mark(status CallbackDisposition, processed bool, details string) {
	l.ProcessingStatus = status
	l.Processed = processed
	l.Details = details
}
