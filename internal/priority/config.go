package priority

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/lookout/internal/prefs"
)

// ErrInvalidConfig is matched by every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid priority config")

// ConfigError reports every problem found in a Config.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %v", ErrInvalidConfig, e.Err)
}

func (e *ConfigError) Unwrap() []error {
	return []error{ErrInvalidConfig, e.Err}
}

// Weights combine the four scoring inputs. They are meant to sum to 1.0.
type Weights struct {
	Severity   float64 `yaml:"severity" json:"severity"`
	Impact     float64 `yaml:"impact" json:"impact"`
	Urgency    float64 `yaml:"urgency" json:"urgency"`
	Confidence float64 `yaml:"confidence" json:"confidence"`
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Severity + w.Impact + w.Urgency + w.Confidence
}

// SeverityScores maps each alert severity to a base score.
type SeverityScores struct {
	Critical float64 `yaml:"critical" json:"critical"`
	High     float64 `yaml:"high" json:"high"`
	Medium   float64 `yaml:"medium" json:"medium"`
	Low      float64 `yaml:"low" json:"low"`
	Info     float64 `yaml:"info" json:"info"`
}

// Thresholds are the descending score cut points of the level ladder.
type Thresholds struct {
	CriticalAlert       float64 `yaml:"criticalAlert" json:"criticalAlert"`
	HighPriorityAlert   float64 `yaml:"highPriorityAlert" json:"highPriorityAlert"`
	MediumPriorityAlert float64 `yaml:"mediumPriorityAlert" json:"mediumPriorityAlert"`
	LowPriorityAlert    float64 `yaml:"lowPriorityAlert" json:"lowPriorityAlert"`
}

// BusinessHours is carried for reporting; no computation consumes it yet.
type BusinessHours struct {
	Start    string `yaml:"start" json:"start"`
	End      string `yaml:"end" json:"end"`
	Timezone string `yaml:"timezone" json:"timezone"`
}

// Config is the engine configuration.
type Config struct {
	Weights        Weights        `yaml:"weights" json:"weights"`
	SeverityScores SeverityScores `yaml:"severityScores" json:"severityScores"`
	Thresholds     Thresholds     `yaml:"thresholds" json:"thresholds"`
	BusinessHours  BusinessHours  `yaml:"businessHours" json:"businessHours"`
}

// DefaultConfig returns the stock scoring configuration.
func DefaultConfig() Config {
	return Config{
		Weights:        Weights{Severity: 0.4, Impact: 0.3, Urgency: 0.2, Confidence: 0.1},
		SeverityScores: SeverityScores{Critical: 100, High: 80, Medium: 60, Low: 40, Info: 20},
		Thresholds:     Thresholds{CriticalAlert: 85, HighPriorityAlert: 70, MediumPriorityAlert: 50, LowPriorityAlert: 30},
		BusinessHours:  BusinessHours{Start: "09:00", End: "17:00", Timezone: "UTC"},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig, so the file only
// needs the keys it changes. The result is validated.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator flags
	if err != nil {
		return c, fmt.Errorf("read scoring config: %w", err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parse scoring config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Validate checks all fields for correctness and returns a *ConfigError
// listing every problem, or nil.
func (c Config) Validate() error {
	var errs []error

	for _, w := range []struct {
		name string
		v    float64
	}{
		{"weights.severity", c.Weights.Severity},
		{"weights.impact", c.Weights.Impact},
		{"weights.urgency", c.Weights.Urgency},
		{"weights.confidence", c.Weights.Confidence},
	} {
		if !finite(w.v) || w.v < 0 || w.v > 1 {
			errs = append(errs, fmt.Errorf("%s %v must be within 0..1", w.name, w.v))
		}
	}

	for _, s := range []struct {
		name string
		v    float64
	}{
		{"severityScores.critical", c.SeverityScores.Critical},
		{"severityScores.high", c.SeverityScores.High},
		{"severityScores.medium", c.SeverityScores.Medium},
		{"severityScores.low", c.SeverityScores.Low},
		{"severityScores.info", c.SeverityScores.Info},
	} {
		if !finite(s.v) || s.v <= 0 {
			errs = append(errs, fmt.Errorf("%s %v must be a positive number", s.name, s.v))
		}
	}

	t := c.Thresholds
	for _, v := range []float64{t.CriticalAlert, t.HighPriorityAlert, t.MediumPriorityAlert, t.LowPriorityAlert} {
		if !finite(v) {
			errs = append(errs, errors.New("thresholds must be finite numbers"))
			break
		}
	}
	if !(t.CriticalAlert > t.HighPriorityAlert && t.HighPriorityAlert > t.MediumPriorityAlert && t.MediumPriorityAlert > t.LowPriorityAlert) {
		errs = append(errs, fmt.Errorf("thresholds %v/%v/%v/%v must be strictly descending (critical > high > medium > low)",
			t.CriticalAlert, t.HighPriorityAlert, t.MediumPriorityAlert, t.LowPriorityAlert))
	}
	if t.LowPriorityAlert < 0 {
		errs = append(errs, fmt.Errorf("thresholds.lowPriorityAlert %v must not be negative", t.LowPriorityAlert))
	}
	if t.CriticalAlert > 100 {
		errs = append(errs, fmt.Errorf("thresholds.criticalAlert %v must not exceed 100", t.CriticalAlert))
	}

	if _, err := prefs.ParseClock(c.BusinessHours.Start); err != nil {
		errs = append(errs, fmt.Errorf("businessHours.start: %w", err))
	}
	if _, err := prefs.ParseClock(c.BusinessHours.End); err != nil {
		errs = append(errs, fmt.Errorf("businessHours.end: %w", err))
	}
	if tz := strings.TrimSpace(c.BusinessHours.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("businessHours.timezone %q: %w", tz, err))
		}
	}

	if len(errs) > 0 {
		return &ConfigError{Err: errors.Join(errs...)}
	}
	return nil
}
