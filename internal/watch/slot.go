// Package watch keeps the scheduling menu's presence in sync with the draft.
package watch

import (
	"sync"

	"github.com/BTreeMap/SendLater/internal/host"
)

// Slot owns at most one live subscription. Replacing the occupant always
// disposes the previous subscription before the new one is created, so two
// subscriptions never overlap.
type Slot struct {
	mu      sync.Mutex
	current host.Subscription
}

// Replace disposes the current subscription and stores the one returned by
// subscribe.
func (s *Slot) Replace(subscribe func() host.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.Unsubscribe()
		s.current = nil
	}
	s.current = subscribe()
}

// Release disposes the current subscription, if any.
func (s *Slot) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.Unsubscribe()
		s.current = nil
	}
}

// Occupied reports whether the slot holds a subscription.
func (s *Slot) Occupied() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}
