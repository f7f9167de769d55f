package postgres

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/stkpay/golang_services/internal/payment_service/domain"
)

type PgCallbackLogRepository struct {
	db     DBTX
	logger *slog.Logger
}

func NewPgCallbackLogRepository(db DBTX, logger *slog.Logger) *PgCallbackLogRepository {
	return &PgCallbackLogRepository{db: db, logger: logger.With("component", "callback_log_repository_pg")}
}

func (r *PgCallbackLogRepository) Append(ctx context.Context, entry *domain.CallbackLog) error {
	query := `
		INSERT INTO callback_logs (id, received_at, checkout_request_id, payload, payload_digest, processed, processing_status, details)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8)
	`
	_, err := r.db.Exec(ctx, query,
		entry.ID, entry.ReceivedAt, nullString(entry.CheckoutRequestID), string(entry.Payload),
		entry.PayloadDigest, entry.Processed, string(entry.ProcessingStatus), entry.Details,
	)
	return classify("appending callback log", err)
}

func (r *PgCallbackLogRepository) ListByCheckoutRequestID(ctx context.Context, checkoutRequestID string) ([]*domain.CallbackLog, error) {
	query := `
		SELECT id, received_at, checkout_request_id, payload::text, payload_digest, processed, processing_status, details
		FROM callback_logs WHERE checkout_request_id = $1 ORDER BY received_at ASC
	`
	rows, err := r.db.Query(ctx, query, checkoutRequestID)
	if err != nil {
		return nil, classify("listing callback logs", err)
	}
	defer rows.Close()

	var out []*domain.CallbackLog
	for rows.Next() {
		var (
			entry    domain.CallbackLog
			checkout sql.NullString
			payload  string
			status   string
		)
		if err := rows.Scan(&entry.ID, &entry.ReceivedAt, &checkout, &payload, &entry.PayloadDigest,
			&entry.Processed, &status, &entry.Details); err != nil {
			return nil, classify("scanning callback log", err)
		}
		if checkout.Valid {
			v := checkout.String
			entry.CheckoutRequestID = &v
		}
		entry.Payload = []byte(payload)
		entry.ProcessingStatus = domain.CallbackDisposition(status)
		out = append(out, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("listing callback logs", err)
	}
	return out, nil
}
