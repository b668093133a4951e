package priority

import (
	"time"

	"github.com/linnemanlabs/lookout/internal/alert"
)

// Level is the discrete priority tier derived from a score.
type Level string

const (
	LevelCritical Level = "critical"
	LevelHigh     Level = "high"
	LevelMedium   Level = "medium"
	LevelLow      Level = "low"
)

// Ordinal ranks levels for threshold comparisons. Unknown levels rank 0.
func (l Level) Ordinal() int {
	switch l {
	case LevelCritical:
		return 4
	case LevelHigh:
		return 3
	case LevelMedium:
		return 2
	case LevelLow:
		return 1
	}
	return 0
}

// ParseLevel converts a preference string into a Level.
func ParseLevel(s string) (Level, bool) {
	l := Level(s)
	return l, l.Ordinal() > 0
}

// Channel is a notification transport.
type Channel string

const (
	ChannelDashboard Channel = "dashboard"
	ChannelEmail     Channel = "email"
	ChannelSlack     Channel = "slack"
	ChannelSMS       Channel = "sms"
)

// Resource is the effort needed to act on an alert.
type Resource string

const (
	ResourceLow    Resource = "low"
	ResourceMedium Resource = "medium"
	ResourceHigh   Resource = "high"
)

// BusinessContext is strategic metadata derived from an alert.
type BusinessContext struct {
	StrategicImpact       float64  `json:"strategicImpact"`
	ResourceRequirement   Resource `json:"resourceRequirement"`
	TimeToAction          float64  `json:"timeToAction"` // hours
	CompetitorThreatLevel float64  `json:"competitorThreatLevel"`
}

// PrioritizedAlert is an alert plus everything the engine derived from it.
// Values are snapshots; re-scoring produces a new value.
type PrioritizedAlert struct {
	alert.Alert

	PriorityScore     float64         `json:"priorityScore"`
	PriorityLevel     Level           `json:"priorityLevel"`
	DeliveryChannel   []Channel       `json:"deliveryChannel"`
	ScheduledDelivery *time.Time      `json:"scheduledDelivery,omitempty"`
	EscalationLevel   int             `json:"escalationLevel"`
	BusinessContext   BusinessContext `json:"businessContext"`
}

// HasChannel reports whether c is among the alert's delivery channels.
func (p *PrioritizedAlert) HasChannel(c Channel) bool {
	for _, ch := range p.DeliveryChannel {
		if ch == c {
			return true
		}
	}
	return false
}

// Category buckets a cluster by the kind of alerts it holds.
type Category string

const (
	CategoryContent     Category = "content"
	CategorySEO         Category = "seo"
	CategoryPerformance Category = "performance"
	CategoryMarket      Category = "market"
	CategoryMixed       Category = "mixed"
)

// TimeWindow spans the earliest and latest member timestamps of a cluster.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// AlertCluster groups two or more related alerts for batched notification.
type AlertCluster struct {
	ID                 string             `json:"id"`
	Category           Category           `json:"category"`
	Alerts             []PrioritizedAlert `json:"alerts"`
	Competitors        []string           `json:"competitors"`
	Summary            string             `json:"summary"`
	RecommendedAction  string             `json:"recommendedAction"`
	AggregatedPriority float64            `json:"aggregatedPriority"`
	TimeWindow         TimeWindow         `json:"timeWindow"`
}
