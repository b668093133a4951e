// Package slack sends alert and cluster notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/lookout/internal/delivery"
	"github.com/linnemanlabs/lookout/internal/priority"
)

const (
	maxTextLen     = 3000
	maxHeaderLen   = 150
	maxClusterRows = 10
	httpTimeout    = 10 * time.Second
)

// Notifier posts deliveries to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a Slack notifier. webhookURL is the fallback used when a
// recipient has no webhook of their own; it may be empty.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Channel implements delivery.Notifier.
func (n *Notifier) Channel() priority.Channel { return priority.ChannelSlack }

// Notify posts a single prioritized alert.
func (n *Notifier) Notify(ctx context.Context, target string, d *delivery.Delivery) error {
	return n.post(ctx, target, buildAlertMessage(d))
}

// NotifyCluster posts a cluster digest.
func (n *Notifier) NotifyCluster(ctx context.Context, target string, cd *delivery.ClusterDigest) error {
	return n.post(ctx, target, buildClusterMessage(cd))
}

func (n *Notifier) post(ctx context.Context, target string, msg map[string]any) error {
	url := target
	if url == "" {
		url = n.webhookURL
	}
	if url == "" {
		return fmt.Errorf("slack: %w", delivery.ErrNoTarget)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhook URLs come from operator config or validated preferences
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildAlertMessage(d *delivery.Delivery) map[string]any {
	a := &d.Alert
	title := a.Title
	if title == "" {
		title = string(a.Type)
	}
	return map[string]any{
		"blocks": []map[string]any{
			header(fmt.Sprintf("%s %s priority: %s", levelEmoji(a.PriorityLevel), titleCase(string(a.PriorityLevel)), title)),
			{"type": "divider"},
			fields(
				fmt.Sprintf("*Score:* %.1f", a.PriorityScore),
				fmt.Sprintf("*Severity:* %s", a.Severity),
				fmt.Sprintf("*Type:* %s", a.Type),
				fmt.Sprintf("*Competitor:* %s", orDash(a.CompetitorID)),
				fmt.Sprintf("*Act within:* %.0fh", a.BusinessContext.TimeToAction),
				fmt.Sprintf("*Effort:* %s", a.BusinessContext.ResourceRequirement),
			),
			{"type": "divider"},
			text(recommendationsText(a)),
			{"type": "divider"},
			contextLine(fmt.Sprintf("lookout • delivery %s • %s", d.ID, stamp(a.Timestamp))),
		},
	}
}

func buildClusterMessage(cd *delivery.ClusterDigest) map[string]any {
	c := &cd.Cluster
	briefing := cd.Briefing
	if briefing == "" {
		briefing = c.Summary
	}
	return map[string]any{
		"blocks": []map[string]any{
			header(fmt.Sprintf("%s Cluster of %d %s alerts", levelEmoji(cd.Level), len(c.Alerts), c.Category)),
			{"type": "divider"},
			fields(
				fmt.Sprintf("*Aggregated priority:* %.1f", c.AggregatedPriority),
				fmt.Sprintf("*Level:* %s", cd.Level),
				fmt.Sprintf("*Competitors:* %s", orDash(strings.Join(c.Competitors, ", "))),
				fmt.Sprintf("*Window:* %s to %s", stamp(c.TimeWindow.Start), stamp(c.TimeWindow.End)),
			),
			{"type": "divider"},
			text(fmt.Sprintf("*Briefing*\n\n%s\n\n*Recommended action*\n%s", truncate(briefing, maxTextLen/2), c.RecommendedAction)),
			text(memberList(c)),
			contextLine(fmt.Sprintf("lookout • cluster %s • %s", c.ID, stamp(c.TimeWindow.End))),
		},
	}
}

func header(s string) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": truncate(s, maxHeaderLen),
		},
	}
}

func fields(texts ...string) map[string]any {
	fs := make([]map[string]any, 0, len(texts))
	for _, t := range texts {
		fs = append(fs, map[string]any{"type": "mrkdwn", "text": t})
	}
	return map[string]any{
		"type":   "section",
		"fields": fs,
	}
}

func text(s string) map[string]any {
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": truncate(s, maxTextLen),
		},
	}
}

func contextLine(s string) map[string]any {
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{"type": "mrkdwn", "text": s},
		},
	}
}

func recommendationsText(a *priority.PrioritizedAlert) string {
	if len(a.Recommendations) == 0 {
		return "*Recommendations*\n\n_No recommendations._"
	}
	var b strings.Builder
	b.WriteString("*Recommendations*\n")
	for _, r := range a.Recommendations {
		title := r.Title
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(&b, "\n• %s (%s effort)", title, r.Effort)
	}
	return b.String()
}

func memberList(c *priority.AlertCluster) string {
	var b strings.Builder
	b.WriteString("*Alerts*\n")
	for i, a := range c.Alerts {
		if i == maxClusterRows {
			fmt.Fprintf(&b, "\n_…and %d more_", len(c.Alerts)-maxClusterRows)
			break
		}
		title := a.Title
		if title == "" {
			title = string(a.Type)
		}
		fmt.Fprintf(&b, "\n%s %s (%.0f)", levelEmoji(a.PriorityLevel), title, a.PriorityScore)
	}
	return b.String()
}

func levelEmoji(l priority.Level) string {
	switch l {
	case priority.LevelCritical:
		return "\U0001f534" // red circle
	case priority.LevelHigh:
		return "\U0001f7e0" // orange circle
	case priority.LevelMedium:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func stamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04 UTC")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
