package store

import (
	"context"
	"time"

	"domainpay/internal/payment/models"
)

// Advance carries the fields written alongside a status transition.
type Advance struct {
	Next          models.Status
	StatusCode    string
	StatusMessage string
	Reference     string
	PaidAt        *time.Time
}

// Store persists transactions. Implementations are pure I/O; the
// reconciliation rules (code mapping, amount checks, order side effects) live
// in the service.
type Store interface {
	Create(ctx context.Context, transaction *models.Transaction) error
	FindByMerchantOrderID(ctx context.Context, merchantOrderID string) (*models.Transaction, error)
	// ListPending returns transactions still awaiting a terminal gateway
	// status, oldest first.
	ListPending(ctx context.Context, limit int) ([]*models.Transaction, error)
	// AdvanceFromPending applies a status transition if and only if the row is
	// still pending — one conditional UPDATE, not read-then-write, so
	// concurrent webhook and poller deliveries cannot both advance the same
	// transaction. Returns the updated row and whether this caller won.
	AdvanceFromPending(ctx context.Context, merchantOrderID string, adv Advance) (*models.Transaction, bool, error)
}
