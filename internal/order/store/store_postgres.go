package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"domainpay/internal/order/models"
	"domainpay/pkg/sentinel"
	txcontext "domainpay/pkg/tx"
)

// PostgresStore persists orders in PostgreSQL. Pure I/O; fulfillment rules
// live in the orchestrator.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) conn(ctx context.Context) dbConn {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const orderColumns = `
	id, status, action, domain_name, registry_customer_id, registry_domain_id,
	auth_code, period_years, whois_protection, notes, rdash_response,
	rdash_error, completed_at, created_at, updated_at
`

func (s *PostgresStore) Create(ctx context.Context, o *models.Order) error {
	query := `
		INSERT INTO orders (status, action, domain_name, registry_customer_id, registry_domain_id,
			auth_code, period_years, whois_protection, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`
	err := s.conn(ctx).QueryRowContext(ctx, query,
		models.StatusPending,
		o.Action,
		o.DomainName,
		o.RegistryCustomerID,
		o.RegistryDomainID,
		o.AuthCode,
		o.PeriodYears,
		o.WhoisProtection,
		o.Notes,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	o.Status = models.StatusPending
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id int64) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	o, err := scanOrder(s.conn(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("order %d: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find order: %w", err)
	}
	return o, nil
}

func (s *PostgresStore) MarkPaid(ctx context.Context, id int64) (bool, error) {
	return s.transition(ctx, id, models.StatusPending, models.StatusPaid, "mark order paid")
}

func (s *PostgresStore) MarkProcessing(ctx context.Context, id int64) (bool, error) {
	return s.transition(ctx, id, models.StatusPaid, models.StatusProcessing, "mark order processing")
}

func (s *PostgresStore) Complete(ctx context.Context, id int64, completedAt time.Time, response []byte) (bool, error) {
	query := `
		UPDATE orders
		SET status = $2, completed_at = $3, rdash_response = $4, rdash_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $5
	`
	result, err := s.conn(ctx).ExecContext(ctx, query, id, models.StatusCompleted, completedAt, response, models.StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("complete order: %w", err)
	}
	return oneRowAffected(result, "complete order")
}

func (s *PostgresStore) RevertToPaid(ctx context.Context, id int64, providerError []byte) (bool, error) {
	query := `
		UPDATE orders
		SET status = $2, rdash_error = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`
	result, err := s.conn(ctx).ExecContext(ctx, query, id, models.StatusPaid, providerError, models.StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("revert order to paid: %w", err)
	}
	return oneRowAffected(result, "revert order to paid")
}

func (s *PostgresStore) CancelIfPending(ctx context.Context, id int64) (bool, error) {
	return s.transition(ctx, id, models.StatusPending, models.StatusCancelled, "cancel order")
}

func (s *PostgresStore) AppendNote(ctx context.Context, id int64, note string) error {
	query := `
		UPDATE orders
		SET notes = CASE WHEN notes = '' THEN $2 ELSE notes || E'\n' || $2 END,
		    updated_at = NOW()
		WHERE id = $1
	`
	result, err := s.conn(ctx).ExecContext(ctx, query, id, note)
	if err != nil {
		return fmt.Errorf("append order note: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("append order note rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("order %d: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) transition(ctx context.Context, id int64, from, to models.Status, op string) (bool, error) {
	query := `UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3`
	result, err := s.conn(ctx).ExecContext(ctx, query, id, to, from)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return oneRowAffected(result, op)
}

func oneRowAffected(result sql.Result, op string) (bool, error) {
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows affected: %w", op, err)
	}
	return affected > 0, nil
}

type orderRow interface {
	Scan(dest ...any) error
}

func scanOrder(row orderRow) (*models.Order, error) {
	var (
		o           models.Order
		domainID    sql.NullString
		authCode    sql.NullString
		response    []byte
		provErr     []byte
		completedAt sql.NullTime
	)
	err := row.Scan(
		&o.ID,
		&o.Status,
		&o.Action,
		&o.DomainName,
		&o.RegistryCustomerID,
		&domainID,
		&authCode,
		&o.PeriodYears,
		&o.WhoisProtection,
		&o.Notes,
		&response,
		&provErr,
		&completedAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.RegistryDomainID = domainID.String
	o.AuthCode = authCode.String
	o.RdashResponse = response
	o.RdashError = provErr
	if completedAt.Valid {
		o.CompletedAt = &completedAt.Time
	}
	return &o, nil
}
