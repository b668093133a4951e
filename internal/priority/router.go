package priority

import "github.com/linnemanlabs/lookout/internal/prefs"

// allows reports whether level clears the channel's enable flag and
// minimum priority. An unparseable minimum never passes.
func allows(level Level, ch prefs.ChannelPreference) bool {
	if !ch.Enabled {
		return false
	}
	floor, ok := ParseLevel(ch.MinimumPriority)
	if !ok {
		return false
	}
	return level.Ordinal() >= floor.Ordinal()
}

// DeliveryChannels selects the channels an alert of the given level goes to,
// in the fixed order dashboard, email, slack, sms. SMS is only considered for
// critical and high alerts.
func DeliveryChannels(level Level, p *prefs.Preferences) []Channel {
	if p == nil {
		return nil
	}
	var out []Channel
	if p.Dashboard.Enabled {
		out = append(out, ChannelDashboard)
	}
	if allows(level, p.Email) {
		out = append(out, ChannelEmail)
	}
	if allows(level, p.Slack) {
		out = append(out, ChannelSlack)
	}
	if (level == LevelCritical || level == LevelHigh) && allows(level, p.SMS) {
		out = append(out, ChannelSMS)
	}
	return out
}
