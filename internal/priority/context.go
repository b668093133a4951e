package priority

import "github.com/linnemanlabs/lookout/internal/alert"

var impactMultiplier = map[alert.Type]float64{
	alert.TypeThreatDetected:        1.3,
	alert.TypeMarketMovement:        1.2,
	alert.TypeOpportunityIdentified: 1.1,
}

// hours until action is needed at zero urgency
var actionWindow = map[alert.Severity]float64{
	alert.SeverityCritical: 2,
	alert.SeverityHigh:     8,
	alert.SeverityMedium:   24,
	alert.SeverityLow:      72,
}

const defaultActionWindow = 72

var threatBase = map[alert.Type]float64{
	alert.TypeThreatDetected:         90,
	alert.TypeStrategyShift:          75,
	alert.TypeRankingChange:          70,
	alert.TypePerformanceImprovement: 65,
	alert.TypeBacklinkGained:         60,
	alert.TypeContentPublished:       40,
	alert.TypeOpportunityIdentified:  30,
}

const defaultThreatBase = 50

// AnalyzeBusinessContext derives strategic metadata from a. Missing or
// unknown fields fall back to defaults; it never fails.
func AnalyzeBusinessContext(a alert.Alert) BusinessContext {
	return BusinessContext{
		StrategicImpact:       strategicImpact(a),
		ResourceRequirement:   resourceRequirement(a.Recommendations),
		TimeToAction:          timeToAction(a),
		CompetitorThreatLevel: threatLevel(a),
	}
}

func strategicImpact(a alert.Alert) float64 {
	m, ok := impactMultiplier[a.Type]
	if !ok {
		m = 1.0
	}
	return clamp(a.Metadata.Impact*m, 0, maxMetricValue)
}

func resourceRequirement(recs []alert.Recommendation) Resource {
	var medium bool
	for _, r := range recs {
		switch r.Effort {
		case alert.EffortHigh:
			return ResourceHigh
		case alert.EffortMedium:
			medium = true
		}
	}
	if medium {
		return ResourceMedium
	}
	return ResourceLow
}

func timeToAction(a alert.Alert) float64 {
	base, ok := actionWindow[a.Severity]
	if !ok {
		base = defaultActionWindow
	}
	urgency := clamp(a.Metadata.Urgency, 0, maxMetricValue)
	return base * (maxMetricValue - urgency) / maxMetricValue
}

func threatLevel(a alert.Alert) float64 {
	level, ok := threatBase[a.Type]
	if !ok {
		level = defaultThreatBase
	}

	sig := a.Metadata.Data
	if r := sig.CompetitorRanking; r != nil {
		switch {
		case *r <= 3:
			level += 20
		case *r <= 10:
			level += 10
		}
	}
	if v := sig.SearchVolume; v != nil {
		switch {
		case *v > 50000:
			level += 15
		case *v > 10000:
			level += 10
		case *v > 1000:
			level += 5
		}
	}
	return clamp(level, 0, maxMetricValue)
}
