package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"domainpay/internal/order/models"
	"domainpay/pkg/sentinel"
)

// InMemory mirrors the PostgresStore contract for unit tests.
type InMemory struct {
	mu     sync.Mutex
	nextID int64
	orders map[int64]*models.Order
}

func NewInMemory() *InMemory {
	return &InMemory{orders: make(map[int64]*models.Order)}
}

func (s *InMemory) Create(_ context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	o.ID = s.nextID
	o.Status = models.StatusPending
	now := time.Now()
	o.CreatedAt = now
	o.UpdatedAt = now
	clone := *o
	s.orders[o.ID] = &clone
	return nil
}

// Seed inserts an order in an arbitrary state, for tests that need an order
// already paid or completed.
func (s *InMemory) Seed(o *models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == 0 {
		s.nextID++
		o.ID = s.nextID
	} else if o.ID > s.nextID {
		s.nextID = o.ID
	}
	clone := *o
	s.orders[o.ID] = &clone
}

func (s *InMemory) FindByID(_ context.Context, id int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, sentinel.ErrNotFound)
	}
	clone := *o
	return &clone, nil
}

func (s *InMemory) MarkPaid(_ context.Context, id int64) (bool, error) {
	return s.transition(id, models.StatusPending, models.StatusPaid)
}

func (s *InMemory) MarkProcessing(_ context.Context, id int64) (bool, error) {
	return s.transition(id, models.StatusPaid, models.StatusProcessing)
}

func (s *InMemory) Complete(_ context.Context, id int64, completedAt time.Time, response []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Status != models.StatusProcessing {
		return false, nil
	}
	o.Status = models.StatusCompleted
	o.CompletedAt = &completedAt
	o.RdashResponse = response
	o.RdashError = nil
	o.UpdatedAt = time.Now()
	return true, nil
}

func (s *InMemory) RevertToPaid(_ context.Context, id int64, providerError []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Status != models.StatusProcessing {
		return false, nil
	}
	o.Status = models.StatusPaid
	o.RdashError = providerError
	o.UpdatedAt = time.Now()
	return true, nil
}

func (s *InMemory) CancelIfPending(_ context.Context, id int64) (bool, error) {
	return s.transition(id, models.StatusPending, models.StatusCancelled)
}

func (s *InMemory) AppendNote(_ context.Context, id int64, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("order %d: %w", id, sentinel.ErrNotFound)
	}
	if o.Notes == "" {
		o.Notes = note
	} else {
		o.Notes += "\n" + note
	}
	o.UpdatedAt = time.Now()
	return nil
}

func (s *InMemory) transition(id int64, from, to models.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = time.Now()
	return true, nil
}
