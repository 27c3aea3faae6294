package memory

import (
	"context"
	"sync"

	"domainpay/pkg/audit"
)

// Store is an in-memory audit sink for unit tests.
type Store struct {
	mu     sync.Mutex
	events []audit.Event
	// FailWith, when set, makes Append return this error. Used to verify the
	// recorder's best-effort contract.
	FailWith error
}

func New() *Store {
	return &Store{}
}

func (s *Store) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of everything appended so far.
func (s *Store) Events() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Event, len(s.events))
	copy(out, s.events)
	return out
}

// ByAction filters recorded events by action.
func (s *Store) ByAction(action audit.Action) []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Event
	for _, e := range s.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
