package priority

import (
	"slices"
	"testing"

	"github.com/linnemanlabs/lookout/internal/prefs"
)

func allChannelsPrefs(minimum string) *prefs.Preferences {
	p := prefs.Default("r-1")
	p.Email = prefs.ChannelPreference{Enabled: true, MinimumPriority: minimum}
	p.Slack = prefs.ChannelPreference{Enabled: true, MinimumPriority: minimum}
	p.SMS = prefs.ChannelPreference{Enabled: true, MinimumPriority: minimum}
	return p
}

func TestDeliveryChannels(t *testing.T) {
	t.Parallel()

	slackHigh := prefs.Default("r-2")
	slackHigh.Slack.Enabled = true

	noDashboard := prefs.Default("r-3")
	noDashboard.Dashboard.Enabled = false

	badMinimum := allChannelsPrefs("urgent")

	tests := []struct {
		name  string
		level Level
		prefs *prefs.Preferences
		want  []Channel
	}{
		{"defaults critical", LevelCritical, prefs.Default("r"), []Channel{ChannelDashboard, ChannelEmail}},
		{"defaults medium", LevelMedium, prefs.Default("r"), []Channel{ChannelDashboard, ChannelEmail}},
		{"defaults low", LevelLow, prefs.Default("r"), []Channel{ChannelDashboard}},
		{"slack at high", LevelHigh, slackHigh, []Channel{ChannelDashboard, ChannelEmail, ChannelSlack}},
		{"slack below threshold", LevelMedium, slackHigh, []Channel{ChannelDashboard, ChannelEmail}},
		{"all channels critical", LevelCritical, allChannelsPrefs("low"), []Channel{ChannelDashboard, ChannelEmail, ChannelSlack, ChannelSMS}},
		{"all channels high", LevelHigh, allChannelsPrefs("low"), []Channel{ChannelDashboard, ChannelEmail, ChannelSlack, ChannelSMS}},
		{"sms never below high", LevelMedium, allChannelsPrefs("low"), []Channel{ChannelDashboard, ChannelEmail, ChannelSlack}},
		{"dashboard disabled", LevelLow, noDashboard, nil},
		{"unparseable minimum never passes", LevelCritical, badMinimum, []Channel{ChannelDashboard}},
		{"nil preferences", LevelCritical, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := DeliveryChannels(tt.level, tt.prefs)
			if !slices.Equal(got, tt.want) {
				t.Errorf("DeliveryChannels = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeliveryChannels_NoSMSForMediumOrLow(t *testing.T) {
	t.Parallel()

	for _, minimum := range []string{"critical", "high", "medium", "low"} {
		p := allChannelsPrefs(minimum)
		for _, level := range []Level{LevelMedium, LevelLow} {
			if slices.Contains(DeliveryChannels(level, p), ChannelSMS) {
				t.Errorf("sms selected for %s with minimum %s", level, minimum)
			}
		}
	}
}
