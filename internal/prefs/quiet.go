package prefs

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// QuietHours is a daily window during which only urgent alerts are delivered
// immediately. Start and End are "HH:MM" wall-clock times in Timezone; a
// window whose start is after its end wraps past midnight.
type QuietHours struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

func (q QuietHours) location() *time.Location {
	if q.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Contains reports whether t falls inside the window. A disabled or
// unparseable window contains nothing, and so does one with start == end.
func (q QuietHours) Contains(t time.Time) bool {
	if !q.Enabled {
		return false
	}
	start, err := ParseClock(q.Start)
	if err != nil {
		return false
	}
	end, err := ParseClock(q.End)
	if err != nil {
		return false
	}

	local := t.In(q.location())
	now := local.Hour()*60 + local.Minute()

	switch {
	case start < end:
		return now >= start && now < end
	case start > end:
		return now >= start || now < end
	default:
		return false
	}
}

// NextEnd returns the first instant after t whose local time equals End.
// It returns t unchanged when End cannot be parsed.
func (q QuietHours) NextEnd(t time.Time) time.Time {
	end, err := ParseClock(q.End)
	if err != nil {
		return t
	}
	loc := q.location()
	local := t.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), end/60, end%60, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, end/60, end%60, 0, 0, loc)
	}
	return next
}
