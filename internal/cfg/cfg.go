package cfg

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"strings"
	"time"
)

// Config holds the application flags that are not owned by a go-core
// package. It follows the common cfg.Registerable and cfg.Validatable shape.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	DatabaseURL        string
	DBLogMinDuration   time.Duration
	RedisURL           string
	ScoringConfig      string
	ClusterWindowHours float64
	DispatchSchedule   string

	SlackWebhookURL string
	SMTPAddr        string
	SMTPFrom        string
	SMTPUsername    string
	SMTPPassword    string
	SMSGatewayURL   string
	SMSGatewayToken string

	ClaudeAPIKey string
	ClaudeModel  string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token(s) for the API, comma-separated to allow rotation")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory stores)")
	fs.DurationVar(&c.DBLogMinDuration, "db-log-min-duration", 0, "log successful queries only when slower than this (0 = log all)")
	fs.StringVar(&c.RedisURL, "redis-url", "", "Redis URL for the scheduled-delivery queue (empty = in-memory queue)")
	fs.StringVar(&c.ScoringConfig, "scoring-config", "", "YAML file with scoring weights, severity scores and thresholds (empty = built-in defaults)")
	fs.Float64Var(&c.ClusterWindowHours, "cluster-window-hours", 1, "default clustering window in hours (0 < h <= 168)")
	fs.StringVar(&c.DispatchSchedule, "dispatch-schedule", "@every 1m", "cron schedule for releasing queued deliveries")

	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "default Slack webhook URL, used when a recipient has none")
	fs.StringVar(&c.SMTPAddr, "smtp-addr", "", "SMTP server host:port (empty = email disabled)")
	fs.StringVar(&c.SMTPFrom, "smtp-from", "", "sender address for email notifications")
	fs.StringVar(&c.SMTPUsername, "smtp-username", "", "SMTP PLAIN auth username")
	fs.StringVar(&c.SMTPPassword, "smtp-password", "", "SMTP PLAIN auth password")
	fs.StringVar(&c.SMSGatewayURL, "sms-gateway-url", "", "SMS gateway endpoint (empty = sms disabled)")
	fs.StringVar(&c.SMSGatewayToken, "sms-gateway-token", "", "bearer token for the SMS gateway")

	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "Anthropic API key for cluster briefings (empty = template summaries)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model used for cluster briefings")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// The API is always authenticated
	if strings.Trim(c.APIToken, ", ") == "" {
		errs = append(errs, errors.New("API_TOKEN is required"))
	}

	if c.DBLogMinDuration < 0 {
		errs = append(errs, fmt.Errorf("invalid DB_LOG_MIN_DURATION %s (must not be negative)", c.DBLogMinDuration))
	}

	if math.IsNaN(c.ClusterWindowHours) || c.ClusterWindowHours <= 0 || c.ClusterWindowHours > 168 {
		errs = append(errs, fmt.Errorf("invalid CLUSTER_WINDOW_HOURS %v (must be > 0 and <= 168)", c.ClusterWindowHours))
	}

	if strings.TrimSpace(c.DispatchSchedule) == "" {
		errs = append(errs, errors.New("DISPATCH_SCHEDULE is required"))
	}

	// Email needs a sender once a server is configured, and credentials need a server
	if c.SMTPAddr != "" && c.SMTPFrom == "" {
		errs = append(errs, errors.New("SMTP_FROM is required when SMTP_ADDR is set"))
	}
	if c.SMTPAddr == "" && c.SMTPUsername != "" {
		errs = append(errs, errors.New("SMTP_USERNAME is set but SMTP_ADDR is empty"))
	}
	if c.SMSGatewayURL == "" && c.SMSGatewayToken != "" {
		errs = append(errs, errors.New("SMS_GATEWAY_TOKEN is set but SMS_GATEWAY_URL is empty"))
	}

	// A briefing model is only needed when briefings are enabled
	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
