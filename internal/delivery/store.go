package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/linnemanlabs/lookout/internal/priority"
)

// ErrNoTarget is returned by a Notifier that has no address to send to.
var ErrNoTarget = errors.New("no delivery target configured")

// Store is the persistence interface for deliveries.
type Store interface {
	Get(ctx context.Context, id string) (*Delivery, bool, error)
	Put(ctx context.Context, d *Delivery) error
	// ListByRecipient returns the newest deliveries first, at most limit.
	ListByRecipient(ctx context.Context, recipientID string, limit int) ([]*Delivery, error)
	// ListByStatus returns deliveries in status, earliest scheduled first.
	// A non-positive limit means no limit.
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Delivery, error)
}

// Queue holds delivery IDs until their scheduled time.
type Queue interface {
	Enqueue(ctx context.Context, id string, at time.Time) error
	// PopDue removes and returns up to limit IDs scheduled at or before now,
	// earliest first. An ID is returned to at most one caller.
	PopDue(ctx context.Context, now time.Time, limit int) ([]string, error)
	Len(ctx context.Context) (int, error)
}

// Notifier sends deliveries over one channel. target is the recipient's
// address for that channel and may be empty.
type Notifier interface {
	Channel() priority.Channel
	Notify(ctx context.Context, target string, d *Delivery) error
	NotifyCluster(ctx context.Context, target string, cd *ClusterDigest) error
}

// Briefer writes a short analyst briefing for a cluster.
type Briefer interface {
	Brief(ctx context.Context, c *priority.AlertCluster) (string, error)
}
