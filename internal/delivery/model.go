package delivery

import (
	"time"

	"github.com/linnemanlabs/lookout/internal/priority"
)

// Status tracks where a delivery is in its lifecycle.
type Status string

const (
	// StatusPending means created and due, not yet sent
	StatusPending Status = "pending"

	// StatusScheduled means parked on the queue until its scheduled time
	StatusScheduled Status = "scheduled"

	// StatusDelivered means every channel accepted the notification
	StatusDelivered Status = "delivered"

	// StatusPartial means at least one channel failed and at least one succeeded
	StatusPartial Status = "partial"

	// StatusFailed means no channel accepted the notification
	StatusFailed Status = "failed"
)

// Done reports whether the delivery has been attempted.
func (s Status) Done() bool {
	return s == StatusDelivered || s == StatusPartial || s == StatusFailed
}

// Attempt is the outcome of sending one delivery over one channel.
type Attempt struct {
	Channel   priority.Channel `json:"channel"`
	Delivered bool             `json:"delivered"`
	Error     string           `json:"error,omitempty"`
	At        time.Time        `json:"at"`
}

// Delivery is a prioritized alert addressed to one recipient.
type Delivery struct {
	ID          string                    `json:"id"`
	RecipientID string                    `json:"recipientId"`
	Status      Status                    `json:"status"`
	Alert       priority.PrioritizedAlert `json:"alert"`
	Attempts    []Attempt                 `json:"attempts,omitempty"`
	CreatedAt   time.Time                 `json:"createdAt"`
	ScheduledAt time.Time                 `json:"scheduledAt"`
	DeliveredAt time.Time                 `json:"deliveredAt,omitempty"`
}

// Clone returns a deep copy of d.
func (d *Delivery) Clone() *Delivery {
	cp := *d
	cp.Alert.Alert = d.Alert.Clone()
	cp.Alert.DeliveryChannel = append([]priority.Channel(nil), d.Alert.DeliveryChannel...)
	if d.Alert.ScheduledDelivery != nil {
		at := *d.Alert.ScheduledDelivery
		cp.Alert.ScheduledDelivery = &at
	}
	cp.Attempts = append([]Attempt(nil), d.Attempts...)
	return &cp
}

// ClusterDigest is a cluster addressed to one recipient.
type ClusterDigest struct {
	RecipientID string                `json:"recipientId"`
	Cluster     priority.AlertCluster `json:"cluster"`
	Level       priority.Level        `json:"level"`
	Channels    []priority.Channel    `json:"channels"`
	// Briefing is the analyst summary; it falls back to Cluster.Summary.
	Briefing string `json:"briefing"`
}

// outcome folds attempts into a final status.
func outcome(attempts []Attempt) Status {
	var ok, failed int
	for _, a := range attempts {
		if a.Delivered {
			ok++
		} else {
			failed++
		}
	}
	switch {
	case ok > 0 && failed == 0:
		return StatusDelivered
	case ok > 0:
		return StatusPartial
	default:
		return StatusFailed
	}
}
