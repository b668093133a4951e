package priority

import (
	"time"

	"github.com/linnemanlabs/lookout/internal/prefs"
)

const dailyDigestHour = 9

// ScheduleDelivery decides when pa should be delivered given the recipient's
// quiet hours and email digest cadence. Critical alerts always go out at now.
// The result is never earlier than the alert's own timestamp.
func ScheduleDelivery(pa PrioritizedAlert, p *prefs.Preferences, now time.Time) time.Time {
	at := schedule(pa, p, now)
	if at.Before(pa.Timestamp) {
		return pa.Timestamp
	}
	return at
}

func schedule(pa PrioritizedAlert, p *prefs.Preferences, now time.Time) time.Time {
	if pa.PriorityLevel == LevelCritical || p == nil {
		return now
	}

	if p.QuietHours.Contains(now) {
		if pa.PriorityLevel == LevelHigh {
			return now
		}
		return p.QuietHours.NextEnd(now)
	}

	if pa.HasChannel(ChannelEmail) {
		switch p.EmailFrequency {
		case prefs.FrequencyHourly:
			return nextHour(now, p.Location())
		case prefs.FrequencyDaily:
			return nextDailyDigest(now, p.Location())
		}
	}
	return now
}

// nextHour returns the top of the hour following now in loc.
func nextHour(now time.Time, loc *time.Location) time.Time {
	l := now.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), l.Hour()+1, 0, 0, 0, loc)
}

// nextDailyDigest returns 09:00 on the day after now in loc.
func nextDailyDigest(now time.Time, loc *time.Location) time.Time {
	l := now.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day()+1, dailyDigestHour, 0, 0, 0, loc)
}
