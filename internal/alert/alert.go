// Package alert defines the competitive-intelligence alert handed to Lookout
// by the upstream collector, plus ingestion-boundary validation.
package alert

import "time"

// Type classifies the competitive event an alert describes.
type Type string

const (
	TypeThreatDetected         Type = "threat-detected"
	TypeRankingChange          Type = "ranking-change"
	TypeBacklinkGained         Type = "backlink-gained"
	TypeStrategyShift          Type = "strategy-shift"
	TypePerformanceImprovement Type = "performance-improvement"
	TypeContentPublished       Type = "content-published"
	TypeOpportunityIdentified  Type = "opportunity-identified"
	TypeMarketMovement         Type = "market-movement"
)

// Valid reports whether t is one of the known alert types.
func (t Type) Valid() bool {
	switch t {
	case TypeThreatDetected, TypeRankingChange, TypeBacklinkGained, TypeStrategyShift,
		TypePerformanceImprovement, TypeContentPublished, TypeOpportunityIdentified, TypeMarketMovement:
		return true
	}
	return false
}

// Severity is the collector-assigned urgency tag, distinct from the computed priority.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}

// Effort is the estimated effort of acting on a recommendation.
type Effort string

const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
)

// Valid reports whether e is a known effort value.
func (e Effort) Valid() bool {
	return e == EffortLow || e == EffortMedium || e == EffortHigh
}

// Signals holds the optional typed signals attached by the collector.
// A nil field means the signal was not observed.
type Signals struct {
	CompetitorRanking *int `json:"competitorRanking,omitempty"`
	SearchVolume      *int `json:"searchVolume,omitempty"`
}

// Metadata carries the collector's numeric assessment of an alert, each on a 0-100 scale.
type Metadata struct {
	Impact          float64  `json:"impact"`
	Urgency         float64  `json:"urgency"`
	Confidence      float64  `json:"confidence"`
	RelatedEntities []string `json:"relatedEntities,omitempty"`
	Data            Signals  `json:"data"`
}

// Recommendation is a suggested follow-up action.
type Recommendation struct {
	Title  string `json:"title,omitempty"`
	Effort Effort `json:"effort"`
}

// Alert is a single competitive-intelligence event requiring triage.
type Alert struct {
	ID              string           `json:"id"`
	Type            Type             `json:"type"`
	Severity        Severity         `json:"severity"`
	Timestamp       time.Time        `json:"timestamp"`
	CompetitorID    string           `json:"competitorId"`
	Title           string           `json:"title,omitempty"`
	ActionRequired  bool             `json:"actionRequired"`
	Metadata        Metadata         `json:"metadata"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
}

// IntPtr is a convenience for building Signals literals.
func IntPtr(v int) *int { return &v }

// Clone returns a copy of a that shares no slices or pointers with it.
func (a Alert) Clone() Alert {
	cp := a
	cp.Metadata.RelatedEntities = append([]string(nil), a.Metadata.RelatedEntities...)
	cp.Recommendations = append([]Recommendation(nil), a.Recommendations...)
	if v := a.Metadata.Data.CompetitorRanking; v != nil {
		cp.Metadata.Data.CompetitorRanking = IntPtr(*v)
	}
	if v := a.Metadata.Data.SearchVolume; v != nil {
		cp.Metadata.Data.SearchVolume = IntPtr(*v)
	}
	return cp
}
