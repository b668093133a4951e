package priority

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/lookout/internal/alert"
	"github.com/linnemanlabs/lookout/internal/prefs"
)

// weightTolerance is how far the weights may stray from 1.0 before the
// engine warns at construction.
const weightTolerance = 0.01

// EngineHooks are optional callbacks fired by the engine. Nil fields are skipped.
type EngineHooks struct {
	OnPrioritized func(level Level)
	OnCluster     func(category Category, size int)
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source used for alert age and scheduling.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator sets the cluster ID generator.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		if newID != nil {
			e.newID = newID
		}
	}
}

// Engine scores, routes, schedules and clusters alerts against an immutable
// configuration. It is safe for concurrent use.
type Engine struct {
	cfg    Config
	hooks  EngineHooks
	logger log.Logger
	now    func() time.Time
	newID  func() string
}

// NewEngine validates cfg and returns an engine bound to it. An invalid
// configuration is returned as a *ConfigError before any alert is processed.
func NewEngine(cfg Config, logger log.Logger, hooks EngineHooks, opts ...Option) (*Engine, error) {
	if logger == nil {
		logger = log.Nop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:    cfg,
		hooks:  hooks,
		logger: logger,
		now:    time.Now,
	}
	for _, o := range opts {
		o(e)
	}

	if sum := cfg.Weights.Sum(); math.Abs(sum-1) > weightTolerance {
		logger.Warn(context.Background(), "scoring weights do not sum to 1.0",
			"sum", sum,
			"severity", cfg.Weights.Severity,
			"impact", cfg.Weights.Impact,
			"urgency", cfg.Weights.Urgency,
			"confidence", cfg.Weights.Confidence,
		)
	}
	return e, nil
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time {
	return e.now()
}

// Score computes a's priority score at the engine's current time.
func (e *Engine) Score(a alert.Alert) float64 {
	return Score(a, e.cfg, e.now())
}

// Level maps score onto the configured threshold ladder.
func (e *Engine) Level(score float64) Level {
	return LevelFor(score, e.cfg.Thresholds)
}

// AnalyzeBusinessContext derives the business context of a.
func (e *Engine) AnalyzeBusinessContext(a alert.Alert) BusinessContext {
	return AnalyzeBusinessContext(a)
}

// DeliveryChannels selects channels for level under p.
func (e *Engine) DeliveryChannels(level Level, p *prefs.Preferences) []Channel {
	return DeliveryChannels(level, p)
}

// ScheduleDelivery picks the delivery time of pa at the engine's current time.
func (e *Engine) ScheduleDelivery(pa PrioritizedAlert, p *prefs.Preferences) time.Time {
	return ScheduleDelivery(pa, p, e.now())
}

// PrioritizeAlerts derives a PrioritizedAlert for every input and returns
// them by descending score. Equal scores keep their input order. All alerts
// in the batch are evaluated against a single clock reading.
func (e *Engine) PrioritizeAlerts(alerts []alert.Alert, p *prefs.Preferences) []PrioritizedAlert {
	now := e.now()
	out := make([]PrioritizedAlert, 0, len(alerts))

	for _, a := range alerts {
		score := Score(a, e.cfg, now)
		pa := PrioritizedAlert{
			Alert:           a.Clone(),
			PriorityScore:   score,
			PriorityLevel:   LevelFor(score, e.cfg.Thresholds),
			BusinessContext: AnalyzeBusinessContext(a),
		}
		pa.DeliveryChannel = DeliveryChannels(pa.PriorityLevel, p)
		at := ScheduleDelivery(pa, p, now)
		pa.ScheduledDelivery = &at

		if e.hooks.OnPrioritized != nil {
			e.hooks.OnPrioritized(pa.PriorityLevel)
		}
		out = append(out, pa)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PriorityScore > out[j].PriorityScore
	})
	return out
}

// ClusterAlerts groups prioritized alerts that fall within windowHours of
// each other. A non-positive window uses the one hour default.
func (e *Engine) ClusterAlerts(prioritized []PrioritizedAlert, windowHours float64) ([]AlertCluster, []PrioritizedAlert) {
	clusters, rest := NewClusterer(windowDuration(windowHours), e.newID).Cluster(prioritized)

	if e.hooks.OnCluster != nil {
		for _, c := range clusters {
			e.hooks.OnCluster(c.Category, len(c.Alerts))
		}
	}
	return clusters, rest
}

// windowDuration converts hours to a Duration. Non-positive and NaN hours
// yield 0 (the clusterer default); hours beyond the Duration range saturate.
func windowDuration(hours float64) time.Duration {
	if !(hours > 0) {
		return 0
	}
	if hours >= float64(math.MaxInt64)/float64(time.Hour) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(hours * float64(time.Hour))
}
