package domains

import (
	"context"
	"fmt"
	"sync"
	"time"

	"domainpay/pkg/sentinel"
)

// InMemory mirrors the PostgresStore contract for unit tests.
type InMemory struct {
	mu      sync.Mutex
	byID    map[string]*Domain
	upserts int
}

func NewInMemory() *InMemory {
	return &InMemory{byID: make(map[string]*Domain)}
}

func (s *InMemory) Upsert(_ context.Context, d *Domain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	now := time.Now()
	if existing, ok := s.byID[d.RegistryID]; ok {
		d.CreatedAt = existing.CreatedAt
	} else {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	clone := *d
	s.byID[d.RegistryID] = &clone
	return nil
}

func (s *InMemory) FindByRegistryID(_ context.Context, registryID string) (*Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[registryID]
	if !ok {
		return nil, fmt.Errorf("domain %s: %w", registryID, sentinel.ErrNotFound)
	}
	clone := *d
	return &clone, nil
}

// UpsertCount reports how many upserts ran, for at-most-once assertions.
func (s *InMemory) UpsertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}
