// Package prefs holds per-recipient delivery preferences. The prioritization
// core reads them; the Store implementations live in subpackages.
package prefs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DigestFrequency controls batching of non-urgent email.
type DigestFrequency string

const (
	FrequencyImmediate DigestFrequency = "immediate"
	FrequencyHourly    DigestFrequency = "hourly"
	FrequencyDaily     DigestFrequency = "daily"
)

// ChannelPreference toggles a channel and sets the lowest priority level
// ("critical", "high", "medium", "low") that may use it.
type ChannelPreference struct {
	Enabled         bool   `json:"enabled"`
	MinimumPriority string `json:"minimumPriority"`
	// Target is the channel address: email address, phone number or Slack webhook.
	Target string `json:"target,omitempty"`
}

// DashboardPreference toggles in-app dashboard delivery.
type DashboardPreference struct {
	Enabled bool `json:"enabled"`
}

// Keywords are allow/block lists applied by upstream filtering.
type Keywords struct {
	Include []string `json:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
}

// Preferences is the full delivery configuration for one recipient.
type Preferences struct {
	RecipientID    string              `json:"recipientId"`
	Dashboard      DashboardPreference `json:"dashboard"`
	Email          ChannelPreference   `json:"email"`
	Slack          ChannelPreference   `json:"slack"`
	SMS            ChannelPreference   `json:"sms"`
	QuietHours     QuietHours          `json:"quietHours"`
	EmailFrequency DigestFrequency     `json:"emailFrequency"`
	Keywords       Keywords            `json:"keywords"`
	UpdatedAt      time.Time           `json:"updatedAt,omitempty"`
}

// Default returns the preferences applied to recipients that never saved any.
func Default(recipientID string) *Preferences {
	return &Preferences{
		RecipientID:    recipientID,
		Dashboard:      DashboardPreference{Enabled: true},
		Email:          ChannelPreference{Enabled: true, MinimumPriority: "medium"},
		Slack:          ChannelPreference{MinimumPriority: "high"},
		SMS:            ChannelPreference{MinimumPriority: "critical"},
		QuietHours:     QuietHours{Start: "22:00", End: "07:00", Timezone: "UTC"},
		EmailFrequency: FrequencyImmediate,
	}
}

// Location returns the recipient's time zone, taken from the quiet-hours
// window. Unknown or empty zones resolve to UTC.
func (p *Preferences) Location() *time.Location {
	return p.QuietHours.location()
}

// ErrInvalid is matched by every Validate failure.
var ErrInvalid = errors.New("invalid preferences")

var knownPriorities = map[string]bool{"critical": true, "high": true, "medium": true, "low": true}

// Validate checks all fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (p *Preferences) Validate() error {
	var errs []error

	if p.RecipientID == "" {
		errs = append(errs, errors.New("recipientId is required"))
	}

	for name, ch := range map[string]ChannelPreference{"email": p.Email, "slack": p.Slack, "sms": p.SMS} {
		if ch.Enabled && !knownPriorities[ch.MinimumPriority] {
			errs = append(errs, fmt.Errorf("%s.minimumPriority %q must be one of critical, high, medium, low", name, ch.MinimumPriority))
		}
	}

	switch p.EmailFrequency {
	case FrequencyImmediate, FrequencyHourly, FrequencyDaily, "":
	default:
		errs = append(errs, fmt.Errorf("emailFrequency %q must be immediate, hourly or daily", p.EmailFrequency))
	}

	if p.QuietHours.Enabled {
		if _, err := ParseClock(p.QuietHours.Start); err != nil {
			errs = append(errs, fmt.Errorf("quietHours.start: %w", err))
		}
		if _, err := ParseClock(p.QuietHours.End); err != nil {
			errs = append(errs, fmt.Errorf("quietHours.end: %w", err))
		}
	}
	if tz := strings.TrimSpace(p.QuietHours.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("quietHours.timezone %q: %w", tz, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Allows reports whether text passes the keyword lists: no excluded keyword
// may appear, and when include keywords exist at least one must appear.
// Matching is case-insensitive.
func (k Keywords) Allows(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range k.Exclude {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return false
		}
	}
	if len(k.Include) == 0 {
		return true
	}
	for _, kw := range k.Include {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of p.
func (p *Preferences) Clone() *Preferences {
	cp := *p
	cp.Keywords.Include = append([]string(nil), p.Keywords.Include...)
	cp.Keywords.Exclude = append([]string(nil), p.Keywords.Exclude...)
	return &cp
}
