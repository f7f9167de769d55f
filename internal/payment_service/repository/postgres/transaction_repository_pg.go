package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/stkpay/golang_services/internal/payment_service/domain"
)

const transactionColumns = `id, phone_number, amount::text, status, checkout_request_id, created_at, updated_at`

type PgTransactionRepository struct {
	db     DBTX
	logger *slog.Logger
}

func NewPgTransactionRepository(db DBTX, logger *slog.Logger) *PgTransactionRepository {
	return &PgTransactionRepository{db: db, logger: logger.With("component", "transaction_repository_pg")}
}

func (r *PgTransactionRepository) Create(ctx context.Context, tx *domain.PaymentTransaction) error {
	query := `
		INSERT INTO payment_transactions (id, phone_number, amount, status, checkout_request_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		tx.ID, tx.PhoneNumber, tx.Amount.String(), string(tx.Status),
		nullString(tx.CheckoutRequestID), tx.CreatedAt, tx.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("creating transaction: transaction %s already exists: %w", tx.ID, err)
		}
		return classify("creating transaction", err)
	}
	return nil
}

func (r *PgTransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE id = $1`
	tx, err := scanTransaction(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("transaction %s: %w", id, domain.ErrNotFound)
		}
		return nil, classify("getting transaction by id", err)
	}
	return tx, nil
}

// GetByCheckoutRequestID reads at most two rows so that a duplicated correlation id
// is reported instead of silently picking one.
func (r *PgTransactionRepository) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*domain.PaymentTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE checkout_request_id = $1 LIMIT 2`
	rows, err := r.db.Query(ctx, query, checkoutRequestID)
	if err != nil {
		return nil, classify("getting transaction by checkout request id", err)
	}
	found, err := collectTransactions(rows)
	if err != nil {
		return nil, classify("scanning transaction", err)
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("checkout request id %q: %w", checkoutRequestID, domain.ErrNotFound)
	case 1:
		return found[0], nil
	default:
		r.logger.ErrorContext(ctx, "Checkout request id maps to more than one transaction", "checkout_request_id", checkoutRequestID)
		return nil, fmt.Errorf("checkout request id %q: %w", checkoutRequestID, domain.ErrDuplicateCheckoutRequestID)
	}
}

// TransitionStatus performs the write as a single conditional UPDATE. When the guard
// rejects it the current row is read back and returned with applied=false. Storing a
// checkout id another row already carries fails with ErrDuplicateCheckoutRequestID.
func (r *PgTransactionRepository) TransitionStatus(ctx context.Context, id uuid.UUID, update domain.StatusUpdate) (*domain.PaymentTransaction, bool, error) {
	sources := make([]string, 0, 2)
	for _, s := range domain.SourcesFor(update.To) {
		sources = append(sources, string(s))
	}
	query := `
		UPDATE payment_transactions
		SET status = $2, checkout_request_id = COALESCE($3, checkout_request_id), updated_at = $4
		WHERE id = $1 AND status = ANY($5)
		RETURNING ` + transactionColumns
	tx, err := scanTransaction(r.db.QueryRow(ctx, query,
		id, string(update.To), nullString(update.CheckoutRequestID), update.At, sources,
	))
	if err == nil {
		return tx, true, nil
	}
	if isUniqueViolation(err) {
		return nil, false, fmt.Errorf("transitioning transaction %s: %w: %w", id, domain.ErrDuplicateCheckoutRequestID, err)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, classify("transitioning transaction status", err)
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	r.logger.DebugContext(ctx, "Conditional status write not applied",
		"transaction_id", id, "current_status", current.Status, "target_status", update.To)
	return current, false, nil
}

func (r *PgTransactionRepository) ListByStatus(ctx context.Context, status domain.TransactionStatus) ([]*domain.PaymentTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE status = $1 ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query, string(status))
	if err != nil {
		return nil, classify("listing transactions by status", err)
	}
	found, err := collectTransactions(rows)
	if err != nil {
		return nil, classify("scanning transaction", err)
	}
	return found, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func collectTransactions(rows pgx.Rows) ([]*domain.PaymentTransaction, error) {
	defer rows.Close()
	var out []*domain.PaymentTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanTransaction(row pgx.Row) (*domain.PaymentTransaction, error) {
	var (
		tx       domain.PaymentTransaction
		amount   string
		status   string
		checkout sql.NullString
	)
	if err := row.Scan(&tx.ID, &tx.PhoneNumber, &amount, &status, &checkout, &tx.CreatedAt, &tx.UpdatedAt); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parsing stored amount %q: %w", amount, err)
	}
	tx.Amount = d
	tx.Status = domain.TransactionStatus(status)
	if !tx.Status.IsValid() {
		return nil, fmt.Errorf("unknown stored status %q", status)
	}
	if checkout.Valid {
		v := checkout.String
		tx.CheckoutRequestID = &v
	}
	return &tx, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
