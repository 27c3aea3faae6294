package store

import (
	"context"
	"time"

	"domainpay/internal/order/models"
)

// Store persists orders. Transition methods are conditional on the expected
// from-state and report whether they applied, mirroring the transaction
// store's compare-and-set discipline.
type Store interface {
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id int64) (*models.Order, error)
	// MarkPaid transitions pending → paid.
	MarkPaid(ctx context.Context, id int64) (bool, error)
	// MarkProcessing transitions paid → processing for the duration of a
	// registry call.
	MarkProcessing(ctx context.Context, id int64) (bool, error)
	// Complete transitions processing → completed and stores the raw provider
	// response. completed is terminal.
	Complete(ctx context.Context, id int64, completedAt time.Time, response []byte) (bool, error)
	// RevertToPaid transitions processing → paid and stores the raw provider
	// error, leaving the order for a manual retry.
	RevertToPaid(ctx context.Context, id int64, providerError []byte) (bool, error)
	// CancelIfPending transitions pending → cancelled; paid or completed
	// orders are never touched by an expiry.
	CancelIfPending(ctx context.Context, id int64) (bool, error)
	// AppendNote adds a line to the order's append-only notes.
	AppendNote(ctx context.Context, id int64, note string) error
}
