package realtime

import (
	"context"
	"sync"
)

// Scope holds the subscriptions of one view. A view subscribes to a given table and filter at most once.
type Scope struct {
	manager *Manager

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool
}

// Subscribe opens a channel for filter. It returns ErrAlreadySubscribed if the scope already holds
// a channel for the same table and filter.
func (s *Scope) Subscribe(ctx context.Context, filter Filter, handler Handler) (*Subscription, error) {
	key := filter.key()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrScopeClosed
	}

	if _, ok := s.subs[key]; ok {
		s.mu.Unlock()
		return nil, ErrAlreadySubscribed
	}

	// reserve the key while joining.
	s.subs[key] = nil
	s.mu.Unlock()

	sub, err := s.manager.subscribe(ctx, filter, handler, s)

	s.mu.Lock()
	if err != nil {
		delete(s.subs, key)
		s.mu.Unlock()
		return nil, err
	}

	if s.closed {
		s.mu.Unlock()
		sub.Unsubscribe()
		return nil, ErrScopeClosed
	}

	s.subs[key] = sub
	s.mu.Unlock()

	return sub, nil
}

// Len returns the number of open subscriptions.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, sub := range s.subs {
		if sub != nil {
			n++
		}
	}

	return n
}

// Close unsubscribes everything the scope holds, later calls to Subscribe fail.
func (s *Scope) Close() {
	s.mu.Lock()
	s.closed = true

	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if sub != nil {
			subs = append(subs, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

func (s *Scope) forget(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sub.filter.key()
	if s.subs[key] == sub {
		delete(s.subs, key)
	}
}
