package postgres

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stkpay/golang_services/internal/payment_service/domain"
)

func TestPgCallbackLogRepository_Append(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()
	repo := NewPgCallbackLogRepository(mockPool, logger)

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	entry := domain.NewCallbackLog([]byte("not json"), "", now)
	entry.Mark(domain.DispositionError, false, "malformed")

	mockPool.ExpectExec(`INSERT INTO callback_logs`).
		WithArgs(entry.ID, now, sql.NullString{}, `{"raw_body":"not json"}`, entry.PayloadDigest, false, "error", "malformed").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Append(context.Background(), entry))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPgCallbackLogRepository_ListByCheckoutRequestID(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()
	repo := NewPgCallbackLogRepository(mockPool, logger)

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rows := mockPool.NewRows([]string{"id", "received_at", "checkout_request_id", "payload", "payload_digest", "processed", "processing_status", "details"}).
		AddRow(uuid.New(), now, sql.NullString{String: "ws_CO_1", Valid: true}, `{"Body":{}}`, "abc", true, "processed", "ok")
	mockPool.ExpectQuery(`SELECT .* FROM callback_logs WHERE checkout_request_id = \$1`).
		WithArgs("ws_CO_1").
		WillReturnRows(rows)

	logs, err := repo.ListByCheckoutRequestID(context.Background(), "ws_CO_1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.DispositionProcessed, logs[0].ProcessingStatus)
	assert.True(t, logs[0].Processed)
	assert.JSONEq(t, `{"Body":{}}`, string(logs[0].Payload))
}
