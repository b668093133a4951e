// Package memstore provides an in-memory implementation of prefs.Store.
package memstore

import (
	"context"
	"sync"

	"github.com/linnemanlabs/lookout/internal/prefs"
)

// Store holds recipient preferences in memory. Suitable for dev/testing.
type Store struct {
	mu    sync.RWMutex
	prefs map[string]*prefs.Preferences // recipient ID -> preferences
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{prefs: make(map[string]*prefs.Preferences)}
}

// Get retrieves preferences by recipient ID. Returns a copy.
func (s *Store) Get(_ context.Context, recipientID string) (*prefs.Preferences, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prefs[recipientID]
	if !ok {
		return nil, false, nil
	}
	return p.Clone(), true, nil
}

// Put stores a copy of the preferences.
func (s *Store) Put(_ context.Context, p *prefs.Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[p.RecipientID] = p.Clone()
	return nil
}
