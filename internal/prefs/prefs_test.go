package prefs

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseClock(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"07:30", 450, false},
		{"23:59", 1439, false},
		{" 22:00 ", 1320, false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"7:30", 0, true},
		{"noon", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseClock(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseClock(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseClock(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 10, hour, minute, 0, 0, time.UTC)
}

func TestQuietHoursContains(t *testing.T) {
	t.Parallel()

	overnight := QuietHours{Enabled: true, Start: "22:00", End: "07:00", Timezone: "UTC"}
	daytime := QuietHours{Enabled: true, Start: "12:00", End: "14:00", Timezone: "UTC"}

	tests := []struct {
		name string
		q    QuietHours
		t    time.Time
		want bool
	}{
		{"overnight before start", overnight, at(21, 59), false},
		{"overnight at start", overnight, at(22, 0), true},
		{"overnight late evening", overnight, at(23, 0), true},
		{"overnight after midnight", overnight, at(2, 0), true},
		{"overnight at end", overnight, at(7, 0), false},
		{"overnight midday", overnight, at(12, 0), false},
		{"daytime inside", daytime, at(13, 0), true},
		{"daytime before", daytime, at(11, 59), false},
		{"daytime at end", daytime, at(14, 0), false},
		{"disabled", QuietHours{Start: "00:00", End: "23:59"}, at(12, 0), false},
		{"empty window", QuietHours{Enabled: true, Start: "10:00", End: "10:00"}, at(10, 0), false},
		{"unparseable", QuietHours{Enabled: true, Start: "late", End: "07:00"}, at(23, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.q.Contains(tt.t); got != tt.want {
				t.Errorf("Contains(%s) = %v, want %v", tt.t.Format("15:04"), got, tt.want)
			}
		})
	}
}

func TestQuietHoursContains_Timezone(t *testing.T) {
	t.Parallel()

	q := QuietHours{Enabled: true, Start: "22:00", End: "07:00", Timezone: "America/New_York"}
	// 03:00 UTC on 10 March 2026 is 23:00 EDT on 9 March.
	if !q.Contains(at(3, 0)) {
		t.Error("03:00 UTC should be inside New York quiet hours")
	}
	// 15:00 UTC is 11:00 EDT.
	if q.Contains(at(15, 0)) {
		t.Error("15:00 UTC should be outside New York quiet hours")
	}
}

func TestQuietHoursNextEnd(t *testing.T) {
	t.Parallel()

	q := QuietHours{Enabled: true, Start: "22:00", End: "07:00", Timezone: "UTC"}

	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{"late evening rolls to next day", at(23, 0), time.Date(2026, 3, 11, 7, 0, 0, 0, time.UTC)},
		{"early morning same day", at(2, 0), time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)},
		{"exactly at end rolls over", at(7, 0), time.Date(2026, 3, 11, 7, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := q.NextEnd(tt.from); !got.Equal(tt.want) {
				t.Errorf("NextEnd(%s) = %s, want %s", tt.from, got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(p *Preferences)
		errSubstr string
	}{
		{"default is valid", func(*Preferences) {}, ""},
		{"missing recipient", func(p *Preferences) { p.RecipientID = "" }, "recipientId"},
		{"bad email threshold", func(p *Preferences) { p.Email.MinimumPriority = "urgent" }, "email.minimumPriority"},
		{"disabled channel threshold ignored", func(p *Preferences) { p.SMS.MinimumPriority = "" }, ""},
		{"bad frequency", func(p *Preferences) { p.EmailFrequency = "weekly" }, "emailFrequency"},
		{"bad quiet start", func(p *Preferences) {
			p.QuietHours.Enabled = true
			p.QuietHours.Start = "25:00"
		}, "quietHours.start"},
		{"bad timezone", func(p *Preferences) { p.QuietHours.Timezone = "Mars/Olympus" }, "quietHours.timezone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := Default("r-1")
			tt.mutate(p)
			err := p.Validate()
			if tt.errSubstr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.errSubstr)
			}
			if !strings.Contains(err.Error(), tt.errSubstr) {
				t.Errorf("error %q missing %q", err, tt.errSubstr)
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("error %v does not match ErrInvalid", err)
			}
		})
	}
}

func TestLocation(t *testing.T) {
	t.Parallel()

	p := Default("r-1")
	if p.Location() != time.UTC {
		t.Errorf("default location = %v, want UTC", p.Location())
	}
	p.QuietHours.Timezone = "Europe/Berlin"
	if p.Location().String() != "Europe/Berlin" {
		t.Errorf("location = %v, want Europe/Berlin", p.Location())
	}
	p.QuietHours.Timezone = "nowhere"
	if p.Location() != time.UTC {
		t.Errorf("invalid zone location = %v, want UTC", p.Location())
	}
}

func TestKeywordsAllows(t *testing.T) {
	t.Parallel()

	k := Keywords{Include: []string{"pricing", "launch"}, Exclude: []string{"rumor"}}

	if !k.Allows("Competitor changes Pricing page") {
		t.Error("include keyword should match case-insensitively")
	}
	if k.Allows("pricing rumor on forums") {
		t.Error("exclude keyword should win")
	}
	if k.Allows("new blog post") {
		t.Error("text without include keyword should be rejected")
	}
	if !(Keywords{}).Allows("anything") {
		t.Error("empty lists should allow everything")
	}
}

type stubStore struct {
	p   *Preferences
	err error
}

func (s stubStore) Get(context.Context, string) (*Preferences, bool, error) {
	return s.p, s.p != nil, s.err
}

func (s stubStore) Put(context.Context, *Preferences) error { return s.err }

func TestLoad(t *testing.T) {
	t.Parallel()

	got, err := Load(context.Background(), stubStore{}, "r-9")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.RecipientID != "r-9" || !got.Dashboard.Enabled {
		t.Errorf("Load without stored prefs = %+v, want defaults", got)
	}

	stored := Default("r-9")
	stored.Slack.Enabled = true
	got, err = Load(context.Background(), stubStore{p: stored}, "r-9")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.Slack.Enabled {
		t.Error("Load should return stored prefs")
	}

	boom := errors.New("boom")
	if _, err := Load(context.Background(), stubStore{err: boom}, "r-9"); !errors.Is(err, boom) {
		t.Errorf("Load err = %v, want boom", err)
	}
}
