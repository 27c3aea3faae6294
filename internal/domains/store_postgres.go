package domains

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"domainpay/pkg/sentinel"
	txcontext "domainpay/pkg/tx"
)

// PostgresStore persists domain records in PostgreSQL.
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

func (s *PostgresStore) Upsert(ctx context.Context, d *Domain) error {
	query := `
		INSERT INTO domains (registry_id, customer_id, name, status, nameservers, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (registry_id) DO UPDATE SET
			customer_id = EXCLUDED.customer_id,
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			nameservers = EXCLUDED.nameservers,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
	`
	_, err := s.conn(ctx).ExecContext(ctx, query,
		d.RegistryID,
		d.CustomerID,
		d.Name,
		d.Status,
		pq.Array(d.Nameservers),
		d.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("upsert domain: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByRegistryID(ctx context.Context, registryID string) (*Domain, error) {
	query := `
		SELECT registry_id, customer_id, name, status, nameservers, expires_at, created_at, updated_at
		FROM domains
		WHERE registry_id = $1
	`
	var (
		d         Domain
		expiresAt sql.NullTime
	)
	err := s.conn(ctx).QueryRowContext(ctx, query, registryID).Scan(
		&d.RegistryID,
		&d.CustomerID,
		&d.Name,
		&d.Status,
		pq.Array(&d.Nameservers),
		&expiresAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("domain %s: %w", registryID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find domain: %w", err)
	}
	if expiresAt.Valid {
		d.ExpiresAt = &expiresAt.Time
	}
	return &d, nil
}
