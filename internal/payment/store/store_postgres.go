package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"domainpay/internal/payment/models"
	"domainpay/pkg/sentinel"
)

const uniqueViolation = "23505"

// PostgresStore persists transactions in PostgreSQL.
// This store is pure I/O — status mapping and idempotency rules belong to the
// reconciliation service; the store only guarantees the conditional advance.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed transaction store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const transactionColumns = `
	id, merchant_order_id, order_id, amount, payment_method, status,
	external_reference, status_code, status_message, expires_at, paid_at,
	created_at, updated_at
`

func (s *PostgresStore) Create(ctx context.Context, t *models.Transaction) error {
	query := `
		INSERT INTO transactions (merchant_order_id, order_id, amount, payment_method, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		t.MerchantOrderID,
		t.OrderID,
		t.Amount,
		t.PaymentMethod,
		models.StatusPending,
		t.ExpiresAt,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("merchant order id %s: %w", t.MerchantOrderID, sentinel.ErrConflict)
		}
		return fmt.Errorf("create transaction: %w", err)
	}
	t.Status = models.StatusPending
	return nil
}

func (s *PostgresStore) FindByMerchantOrderID(ctx context.Context, merchantOrderID string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE merchant_order_id = $1`
	t, err := scanTransaction(s.db.QueryRowContext(ctx, query, merchantOrderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("transaction %s: %w", merchantOrderID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find transaction: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) ListPending(ctx context.Context, limit int) ([]*models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, models.StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending transaction: %w", err)
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending transactions: %w", err)
	}
	return transactions, nil
}

// AdvanceFromPending applies the transition atomically. The WHERE clause is
// the idempotency guard: a row that is no longer pending matches nothing and
// the caller learns it lost the race (or is a duplicate delivery).
func (s *PostgresStore) AdvanceFromPending(ctx context.Context, merchantOrderID string, adv Advance) (*models.Transaction, bool, error) {
	query := `
		UPDATE transactions
		SET status = $2,
		    status_code = $3,
		    status_message = $4,
		    external_reference = COALESCE(NULLIF($5, ''), external_reference),
		    paid_at = $6,
		    updated_at = NOW()
		WHERE merchant_order_id = $1
		  AND status = $7
		RETURNING ` + transactionColumns + `
	`
	t, err := scanTransaction(s.db.QueryRowContext(ctx, query,
		merchantOrderID,
		adv.Next,
		adv.StatusCode,
		adv.StatusMessage,
		adv.Reference,
		adv.PaidAt,
		models.StatusPending,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("advance transaction: %w", err)
	}
	return t, true, nil
}

type transactionRow interface {
	Scan(dest ...any) error
}

func scanTransaction(row transactionRow) (*models.Transaction, error) {
	var (
		t         models.Transaction
		reference sql.NullString
		code      sql.NullString
		message   sql.NullString
		expiresAt sql.NullTime
		paidAt    sql.NullTime
	)
	err := row.Scan(
		&t.ID,
		&t.MerchantOrderID,
		&t.OrderID,
		&t.Amount,
		&t.PaymentMethod,
		&t.Status,
		&reference,
		&code,
		&message,
		&expiresAt,
		&paidAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.ExternalReference = reference.String
	t.StatusCode = code.String
	t.StatusMessage = message.String
	if expiresAt.Valid {
		t.ExpiresAt = &expiresAt.Time
	}
	if paidAt.Valid {
		t.PaidAt = &paidAt.Time
	}
	return &t, nil
}
