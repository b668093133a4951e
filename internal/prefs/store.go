package prefs

import "context"

// Store is the persistence interface for recipient preferences.
type Store interface {
	Get(ctx context.Context, recipientID string) (*Preferences, bool, error)
	Put(ctx context.Context, p *Preferences) error
}

// Load returns the stored preferences for recipientID, or Default when none exist.
func Load(ctx context.Context, s Store, recipientID string) (*Preferences, error) {
	p, ok, err := s.Get(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return Default(recipientID), nil
	}
	return p, nil
}
