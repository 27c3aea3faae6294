package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"domainpay/internal/payment/models"
	"domainpay/pkg/sentinel"
)

// InMemory mirrors the PostgresStore contract for unit tests. The mutex plays
// the role of the database's row lock: AdvanceFromPending is check-and-set
// under one critical section.
type InMemory struct {
	mu           sync.Mutex
	nextID       int64
	transactions map[string]*models.Transaction
}

func NewInMemory() *InMemory {
	return &InMemory{transactions: make(map[string]*models.Transaction)}
}

func (s *InMemory) Create(_ context.Context, t *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.transactions[t.MerchantOrderID]; exists {
		return fmt.Errorf("merchant order id %s: %w", t.MerchantOrderID, sentinel.ErrConflict)
	}
	s.nextID++
	t.ID = s.nextID
	t.Status = models.StatusPending
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	clone := *t
	s.transactions[t.MerchantOrderID] = &clone
	return nil
}

func (s *InMemory) FindByMerchantOrderID(_ context.Context, merchantOrderID string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[merchantOrderID]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", merchantOrderID, sentinel.ErrNotFound)
	}
	clone := *t
	return &clone, nil
}

func (s *InMemory) ListPending(_ context.Context, limit int) ([]*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []*models.Transaction
	for _, t := range s.transactions {
		if t.Status == models.StatusPending {
			clone := *t
			pending = append(pending, &clone)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *InMemory) AdvanceFromPending(_ context.Context, merchantOrderID string, adv Advance) (*models.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[merchantOrderID]
	if !ok || t.Status != models.StatusPending {
		return nil, false, nil
	}
	t.Status = adv.Next
	t.StatusCode = adv.StatusCode
	t.StatusMessage = adv.StatusMessage
	if adv.Reference != "" {
		t.ExternalReference = adv.Reference
	}
	t.PaidAt = adv.PaidAt
	t.UpdatedAt = time.Now()
	clone := *t
	return &clone, true, nil
}
