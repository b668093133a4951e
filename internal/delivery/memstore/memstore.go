// Package memstore provides an in-memory implementation of delivery.Store.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/linnemanlabs/lookout/internal/delivery"
)

// Store holds deliveries in memory. Suitable for dev/testing.
type Store struct {
	mu          sync.RWMutex
	deliveries  map[string]*delivery.Delivery // delivery ID -> delivery
	byRecipient map[string][]string           // recipient ID -> delivery IDs in insertion order
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		deliveries:  make(map[string]*delivery.Delivery),
		byRecipient: make(map[string][]string),
	}
}

// Get retrieves a delivery by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*delivery.Delivery, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deliveries[id]
	if !ok {
		return nil, false, nil
	}
	return d.Clone(), true, nil
}

// Put stores a copy of the delivery.
func (s *Store) Put(_ context.Context, d *delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.deliveries[d.ID]; !exists {
		s.byRecipient[d.RecipientID] = append(s.byRecipient[d.RecipientID], d.ID)
	}
	s.deliveries[d.ID] = d.Clone()
	return nil
}

// ListByStatus returns copies of every delivery in status, earliest
// scheduled first.
func (s *Store) ListByStatus(_ context.Context, status delivery.Status, limit int) ([]*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*delivery.Delivery
	for _, d := range s.deliveries {
		if d.Status == status {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListByRecipient returns copies of the recipient's deliveries, newest
// first. A non-positive limit returns all of them.
func (s *Store) ListByRecipient(_ context.Context, recipientID string, limit int) ([]*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byRecipient[recipientID]
	out := make([]*delivery.Delivery, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.deliveries[id].Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
