package priority

import (
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/lookout/internal/alert"
)

// DefaultClusterWindow is the relatedness window used when none is given.
const DefaultClusterWindow = time.Hour

var typeCategory = map[alert.Type]Category{
	alert.TypeContentPublished:       CategoryContent,
	alert.TypeRankingChange:          CategorySEO,
	alert.TypeBacklinkGained:         CategorySEO,
	alert.TypePerformanceImprovement: CategoryPerformance,
	alert.TypeMarketMovement:         CategoryMarket,
	alert.TypeThreatDetected:         CategoryMarket,
}

var categoryNoun = map[Category]string{
	CategoryContent:     "content",
	CategorySEO:         "SEO",
	CategoryPerformance: "performance",
	CategoryMarket:      "market",
	CategoryMixed:       "competitive",
}

// Related reports whether a and b are within window of each other and share
// a competitor, a type or at least one related entity.
func Related(a, b PrioritizedAlert, window time.Duration) bool {
	d := a.Timestamp.Sub(b.Timestamp)
	if d < 0 {
		d = -d
	}
	if d > window {
		return false
	}
	if a.CompetitorID != "" && a.CompetitorID == b.CompetitorID {
		return true
	}
	if a.Type == b.Type {
		return true
	}
	return sharesEntity(a.Metadata.RelatedEntities, b.Metadata.RelatedEntities)
}

func sharesEntity(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	seen := make(map[string]struct{}, len(a))
	for _, e := range a {
		seen[e] = struct{}{}
	}
	for _, e := range b {
		if _, ok := seen[e]; ok {
			return true
		}
	}
	return false
}

// Clusterer groups prioritized alerts into related batches.
type Clusterer struct {
	window time.Duration
	newID  func() string
}

// NewClusterer returns a Clusterer using window for relatedness. A
// non-positive window means DefaultClusterWindow; a nil newID generates ULIDs.
func NewClusterer(window time.Duration, newID func() string) *Clusterer {
	if window <= 0 {
		window = DefaultClusterWindow
	}
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	return &Clusterer{window: window, newID: newID}
}

// Cluster partitions alerts into clusters of two or more and the remaining
// singletons. Grouping is anchored on each seed: an alert joins the seed's
// cluster only when it is related to the seed itself. Every input alert
// appears exactly once across the two results. Clusters are ordered by
// descending aggregated priority.
func (c *Clusterer) Cluster(alerts []PrioritizedAlert) ([]AlertCluster, []PrioritizedAlert) {
	processed := make([]bool, len(alerts))
	var (
		clusters    []AlertCluster
		unclustered []PrioritizedAlert
	)

	for i := range alerts {
		if processed[i] {
			continue
		}
		processed[i] = true
		members := []int{i}
		for j := i + 1; j < len(alerts); j++ {
			if !processed[j] && Related(alerts[i], alerts[j], c.window) {
				members = append(members, j)
			}
		}
		if len(members) < 2 {
			unclustered = append(unclustered, alerts[i])
			continue
		}

		group := make([]PrioritizedAlert, 0, len(members))
		for _, j := range members {
			processed[j] = true
			group = append(group, alerts[j])
		}
		clusters = append(clusters, c.build(group))
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		return clusters[i].AggregatedPriority > clusters[j].AggregatedPriority
	})
	return clusters, unclustered
}

func (c *Clusterer) build(group []PrioritizedAlert) AlertCluster {
	cl := AlertCluster{
		ID:                 c.newID(),
		Category:           categorize(group),
		Alerts:             group,
		Competitors:        competitors(group),
		AggregatedPriority: AggregatePriority(group),
		TimeWindow:         span(group),
	}
	cl.Summary, cl.RecommendedAction = describe(cl)
	return cl
}

func categorize(group []PrioritizedAlert) Category {
	t := group[0].Type
	for _, a := range group[1:] {
		if a.Type != t {
			return CategoryMixed
		}
	}
	if cat, ok := typeCategory[t]; ok {
		return cat
	}
	return CategoryMixed
}

func competitors(group []PrioritizedAlert) []string {
	seen := make(map[string]struct{}, len(group))
	var out []string
	for _, a := range group {
		if a.CompetitorID == "" {
			continue
		}
		if _, ok := seen[a.CompetitorID]; ok {
			continue
		}
		seen[a.CompetitorID] = struct{}{}
		out = append(out, a.CompetitorID)
	}
	return out
}

// AggregatePriority is the score-weighted mean of the member scores, with
// each member weighted by score/100. It is 0 when every member scores 0.
func AggregatePriority(group []PrioritizedAlert) float64 {
	var num, den float64
	for _, a := range group {
		w := a.PriorityScore / maxScore
		num += a.PriorityScore * w
		den += w
	}
	if den == 0 {
		return 0
	}
	return num / den
}

func span(group []PrioritizedAlert) TimeWindow {
	tw := TimeWindow{Start: group[0].Timestamp, End: group[0].Timestamp}
	for _, a := range group[1:] {
		if a.Timestamp.Before(tw.Start) {
			tw.Start = a.Timestamp
		}
		if a.Timestamp.After(tw.End) {
			tw.End = a.Timestamp
		}
	}
	return tw
}

func escalated(group []PrioritizedAlert) bool {
	for _, a := range group {
		if a.PriorityLevel == LevelCritical || a.PriorityLevel == LevelHigh {
			return true
		}
	}
	return false
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func describe(cl AlertCluster) (summary, action string) {
	n := len(cl.Alerts)
	nc := len(cl.Competitors)
	noun := categoryNoun[cl.Category]
	who := fmt.Sprintf("%d %s", nc, plural(nc, "competitor", "competitors"))

	if escalated(cl.Alerts) {
		summary = fmt.Sprintf("High-priority cluster: %d related %s alerts from %s need attention", n, noun, who)
		action = fmt.Sprintf("Review these %s developments immediately and coordinate a response across the affected teams", noun)
		return summary, action
	}
	summary = fmt.Sprintf("%d related %s alerts from %s", n, noun, who)
	action = fmt.Sprintf("Review the %s activity in the next planning cycle", noun)
	return summary, action
}
