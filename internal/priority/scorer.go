package priority

import (
	"math"
	"time"

	"github.com/linnemanlabs/lookout/internal/alert"
)

const (
	freshBonus     = 0.20
	stalePenalty   = 0.10
	actionBonus    = 0.10
	freshAge       = time.Hour
	staleAge       = 24 * time.Hour
	maxScore       = 100.0
	maxMetricValue = 100.0
)

var typeBonus = map[alert.Type]float64{
	alert.TypeThreatDetected:        0.15,
	alert.TypeRankingChange:         0.10,
	alert.TypeOpportunityIdentified: 0.05,
	alert.TypeContentPublished:      0.02,
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// For returns the configured base score for sev, or 0 when the
// severity is unknown.
func (s SeverityScores) For(sev alert.Severity) float64 {
	switch sev {
	case alert.SeverityCritical:
		return s.Critical
	case alert.SeverityHigh:
		return s.High
	case alert.SeverityMedium:
		return s.Medium
	case alert.SeverityLow:
		return s.Low
	case alert.SeverityInfo:
		return s.Info
	}
	return 0
}

// Score computes the priority score of a in [0,100]. Age is measured from
// a.Timestamp to now; future timestamps count as fresh.
func Score(a alert.Alert, cfg Config, now time.Time) float64 {
	w := cfg.Weights
	md := a.Metadata
	base := cfg.SeverityScores.For(a.Severity)*w.Severity +
		md.Impact*w.Impact +
		md.Urgency*w.Urgency +
		md.Confidence*w.Confidence

	modifier := 1.0
	age := now.Sub(a.Timestamp)
	if age < freshAge && a.Severity == alert.SeverityCritical {
		modifier += freshBonus
	}
	if age > staleAge {
		modifier -= stalePenalty
	}
	modifier += typeBonus[a.Type]
	if a.ActionRequired {
		modifier += actionBonus
	}

	return clamp(base*modifier, 0, maxScore)
}

// LevelFor maps a score onto the threshold ladder, top-down. Scores below
// LowPriorityAlert are still LevelLow.
func LevelFor(score float64, t Thresholds) Level {
	switch {
	case score >= t.CriticalAlert:
		return LevelCritical
	case score >= t.HighPriorityAlert:
		return LevelHigh
	case score >= t.MediumPriorityAlert:
		return LevelMedium
	default:
		return LevelLow
	}
}
