package cfg

import (
	"flag"
	"math"
	"strings"
	"testing"
	"time"
)

// validBase returns a Config with all required fields set to valid values.
func validBase() Config {
	return Config{
		DrainSeconds:          60,
		ShutdownBudgetSeconds: 90,
		APIPort:               8080,
		APIToken:              "test-token-123",
		ClusterWindowHours:    1,
		DispatchSchedule:      "@every 1m",
		ClaudeModel:           "claude-sonnet-4-20250514",
	}
}

// with applies fn to a copy of validBase.
func with(fn func(*Config)) Config {
	c := validBase()
	fn(&c)
	return c
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c.DrainSeconds != 60 {
		t.Errorf("DrainSeconds = %d, want 60", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 90 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 90", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", c.APIPort)
	}
	if c.ClusterWindowHours != 1 {
		t.Errorf("ClusterWindowHours = %v, want 1", c.ClusterWindowHours)
	}
	if c.DispatchSchedule != "@every 1m" {
		t.Errorf("DispatchSchedule = %q, want @every 1m", c.DispatchSchedule)
	}
	if c.ClaudeModel != "claude-sonnet-4-20250514" {
		t.Errorf("ClaudeModel = %q, want %q", c.ClaudeModel, "claude-sonnet-4-20250514")
	}
	if c.DBLogMinDuration != 0 {
		t.Errorf("DBLogMinDuration = %s, want 0", c.DBLogMinDuration)
	}
	if c.DatabaseURL != "" || c.RedisURL != "" {
		t.Errorf("storage URLs should default to empty, got %q / %q", c.DatabaseURL, c.RedisURL)
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-drain-seconds", "30",
		"-shutdown-budget-seconds", "120",
		"-http-port", "9090",
		"-api-token", "a,b",
		"-redis-url", "redis://localhost:6379/0",
		"-scoring-config", "/etc/lookout/scoring.yaml",
		"-cluster-window-hours", "2.5",
		"-dispatch-schedule", "*/5 * * * *",
		"-smtp-addr", "smtp.example.com:587",
		"-smtp-from", "lookout@example.com",
		"-sms-gateway-url", "https://sms.example.com/send",
		"-claude-api-key", "sk-override",
		"-claude-model", "claude-opus-4-20250514",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.DrainSeconds != 30 {
		t.Errorf("DrainSeconds = %d, want 30", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 120 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 120", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", c.APIPort)
	}
	if c.APIToken != "a,b" {
		t.Errorf("APIToken = %q, want a,b", c.APIToken)
	}
	if c.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("RedisURL = %q", c.RedisURL)
	}
	if c.ScoringConfig != "/etc/lookout/scoring.yaml" {
		t.Errorf("ScoringConfig = %q", c.ScoringConfig)
	}
	if c.ClusterWindowHours != 2.5 {
		t.Errorf("ClusterWindowHours = %v, want 2.5", c.ClusterWindowHours)
	}
	if c.DispatchSchedule != "*/5 * * * *" {
		t.Errorf("DispatchSchedule = %q", c.DispatchSchedule)
	}
	if c.SMTPAddr != "smtp.example.com:587" || c.SMTPFrom != "lookout@example.com" {
		t.Errorf("SMTP = %q from %q", c.SMTPAddr, c.SMTPFrom)
	}
	if c.SMSGatewayURL != "https://sms.example.com/send" {
		t.Errorf("SMSGatewayURL = %q", c.SMSGatewayURL)
	}
	if c.ClaudeAPIKey != "sk-override" {
		t.Errorf("ClaudeAPIKey = %q, want %q", c.ClaudeAPIKey, "sk-override")
	}
	if c.ClaudeModel != "claude-opus-4-20250514" {
		t.Errorf("ClaudeModel = %q, want %q", c.ClaudeModel, "claude-opus-4-20250514")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{
			name:    "defaults are valid",
			cfg:     validBase(),
			wantErr: false,
		},
		{
			name: "minimum valid values",
			cfg: with(func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = 1, 2, 1
				c.ClusterWindowHours = 0.01
			}),
			wantErr: false,
		},
		{
			name: "maximum valid values",
			cfg: with(func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = 299, 300, 65535
				c.ClusterWindowHours = 168
			}),
			wantErr: false,
		},
		{
			name: "all notifiers configured",
			cfg: with(func(c *Config) {
				c.SlackWebhookURL = "https://hooks.slack.com/services/x"
				c.SMTPAddr, c.SMTPFrom, c.SMTPUsername, c.SMTPPassword = "smtp:587", "l@example.com", "u", "p"
				c.SMSGatewayURL, c.SMSGatewayToken = "https://sms", "tok"
				c.ClaudeAPIKey = "sk"
			}),
			wantErr: false,
		},
		// DrainSeconds boundaries
		{
			name:      "drain zero",
			cfg:       with(func(c *Config) { c.DrainSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain negative",
			cfg:       with(func(c *Config) { c.DrainSeconds = -1 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain above max",
			cfg:       with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds = 301, 302 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:    "drain at upper bound",
			cfg:     with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds = 300, 300 }),
			wantErr: true, // budget must be greater than drain
		},
		// ShutdownBudgetSeconds boundaries
		{
			name:      "budget zero",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		{
			name:      "budget above max",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = 301 }),
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		// Cross-field: budget vs drain
		{
			name:      "budget equals drain",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = 60 }),
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		{
			name:    "budget is drain plus one",
			cfg:     with(func(c *Config) { c.ShutdownBudgetSeconds = 61 }),
			wantErr: false,
		},
		// APIPort boundaries
		{
			name:      "port zero",
			cfg:       with(func(c *Config) { c.APIPort = 0 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		{
			name:      "port above max",
			cfg:       with(func(c *Config) { c.APIPort = 65536 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		// Token
		{
			name:      "empty api token",
			cfg:       with(func(c *Config) { c.APIToken = "" }),
			wantErr:   true,
			errSubstr: []string{"API_TOKEN"},
		},
		{
			name:      "api token list of blanks",
			cfg:       with(func(c *Config) { c.APIToken = " , ," }),
			wantErr:   true,
			errSubstr: []string{"API_TOKEN"},
		},
		// Cluster window
		{
			name:      "cluster window zero",
			cfg:       with(func(c *Config) { c.ClusterWindowHours = 0 }),
			wantErr:   true,
			errSubstr: []string{"CLUSTER_WINDOW_HOURS"},
		},
		{
			name:      "cluster window above a week",
			cfg:       with(func(c *Config) { c.ClusterWindowHours = 168.5 }),
			wantErr:   true,
			errSubstr: []string{"CLUSTER_WINDOW_HOURS"},
		},
		{
			name:      "cluster window NaN",
			cfg:       with(func(c *Config) { c.ClusterWindowHours = math.NaN() }),
			wantErr:   true,
			errSubstr: []string{"CLUSTER_WINDOW_HOURS"},
		},
		{
			name:      "empty dispatch schedule",
			cfg:       with(func(c *Config) { c.DispatchSchedule = " " }),
			wantErr:   true,
			errSubstr: []string{"DISPATCH_SCHEDULE"},
		},
		// Notifier coherence
		{
			name:      "smtp without sender",
			cfg:       with(func(c *Config) { c.SMTPAddr = "smtp:25" }),
			wantErr:   true,
			errSubstr: []string{"SMTP_FROM"},
		},
		{
			name:      "smtp credentials without server",
			cfg:       with(func(c *Config) { c.SMTPUsername = "u" }),
			wantErr:   true,
			errSubstr: []string{"SMTP_USERNAME"},
		},
		{
			name:      "sms token without gateway",
			cfg:       with(func(c *Config) { c.SMSGatewayToken = "t" }),
			wantErr:   true,
			errSubstr: []string{"SMS_GATEWAY_TOKEN"},
		},
		{
			name:      "claude key without model",
			cfg:       with(func(c *Config) { c.ClaudeAPIKey, c.ClaudeModel = "sk", "" }),
			wantErr:   true,
			errSubstr: []string{"CLAUDE_MODEL"},
		},
		{
			name:      "negative query log threshold",
			cfg:       with(func(c *Config) { c.DBLogMinDuration = -time.Millisecond }),
			wantErr:   true,
			errSubstr: []string{"DB_LOG_MIN_DURATION"},
		},
		{
			name:    "no model needed without key",
			cfg:     with(func(c *Config) { c.ClaudeModel = "" }),
			wantErr: false,
		},
		// Error accumulation: all fields invalid
		{
			name:      "all fields invalid",
			cfg:       Config{},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT", "API_TOKEN", "CLUSTER_WINDOW_HOURS", "DISPATCH_SCHEDULE"},
		},
		// Extreme values
		{
			name: "extreme negative values",
			cfg: with(func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = math.MinInt32, math.MinInt32, math.MinInt32
			}),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				errMsg := err.Error()
				for _, sub := range tt.errSubstr {
					if !strings.Contains(errMsg, sub) {
						t.Errorf("error %q does not contain %q", errMsg, sub)
					}
				}
			}
		})
	}
}

func FuzzValidate(f *testing.F) {
	// Seeds: defaults, boundaries, extremes
	seeds := []struct {
		drain, budget, port int
		window              float64
		token, schedule     string
	}{
		{60, 90, 8080, 1, "tok", "@every 1m"},
		{1, 2, 1, 0.01, "t", "@hourly"},
		{299, 300, 65535, 168, "t", "* * * * *"},
		{0, 0, 0, 0, "", ""},
		{-1, -1, -1, -1, ",", " "},
		{300, 300, 65535, 169, "t", "@every 1m"},
		{150, 100, 8080, 1, "t", "@every 1m"},
		{math.MinInt32, math.MinInt32, math.MinInt32, math.Inf(-1), "", ""},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32, math.Inf(1), "", ""},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port, s.window, s.token, s.schedule)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port int, window float64, token, schedule string) {
		c := Config{
			DrainSeconds:          drain,
			ShutdownBudgetSeconds: budget,
			APIPort:               port,
			APIToken:              token,
			ClusterWindowHours:    window,
			DispatchSchedule:      schedule,
		}
		err := c.Validate()

		drainOK := drain >= 1 && drain <= 300
		budgetOK := budget >= 1 && budget <= 300
		portOK := port >= 1 && port <= 65535
		crossOK := budget > drain
		tokenOK := strings.Trim(token, ", ") != ""
		windowOK := window > 0 && window <= 168
		scheduleOK := strings.TrimSpace(schedule) != ""

		allValid := drainOK && budgetOK && portOK && crossOK && tokenOK && windowOK && scheduleOK

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}
