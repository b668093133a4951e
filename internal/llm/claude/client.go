// Package claude writes short analyst briefings for alert clusters using the
// Anthropic Messages API.
package claude

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/lookout/internal/priority"
)

const (
	// DefaultModel is used when New is given an empty model name.
	DefaultModel = "claude-sonnet-4-20250514"

	maxTokens      = 400
	requestTimeout = 60 * time.Second
	maxListed      = 20
)

const systemPrompt = `You are a competitive-intelligence analyst. You receive a cluster of related
alerts about competitors. Write a briefing of two or three sentences for a busy
marketing lead: what is happening, why it matters, and the single most useful
next step. Plain text only, no headings, no bullet points.`

// ErrEmptyBriefing is returned when the model answers without any text.
var ErrEmptyBriefing = errors.New("claude: empty briefing")

// Briefer implements delivery.Briefer on top of the Anthropic SDK.
type Briefer struct {
	client anthropic.Client
	model  string
}

// New creates a Briefer. Extra request options (base URL, retries) are
// passed through to the SDK client.
func New(apiKey, model string, opts ...option.RequestOption) *Briefer {
	if model == "" {
		model = DefaultModel
	}
	opts = append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(requestTimeout),
	}, opts...)
	return &Briefer{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

// Brief asks the model for a briefing on c and returns its text.
func (b *Briefer) Brief(ctx context.Context, c *priority.AlertCluster) (string, error) {
	msg, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(b.model),
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt(c))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude: create message: %w", err)
	}
	return briefingText(msg)
}

// prompt renders the cluster as the user turn.
func prompt(c *priority.AlertCluster) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Cluster category: %s\n", c.Category)
	fmt.Fprintf(&sb, "Aggregated priority: %.1f of 100\n", c.AggregatedPriority)
	if len(c.Competitors) > 0 {
		fmt.Fprintf(&sb, "Competitors: %s\n", strings.Join(c.Competitors, ", "))
	}
	fmt.Fprintf(&sb, "Window: %s to %s\n",
		c.TimeWindow.Start.UTC().Format(time.RFC3339), c.TimeWindow.End.UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "Summary: %s\n", c.Summary)
	fmt.Fprintf(&sb, "Suggested action: %s\n\nAlerts:\n", c.RecommendedAction)
	for i, a := range c.Alerts {
		if i == maxListed {
			fmt.Fprintf(&sb, "- and %d more\n", len(c.Alerts)-maxListed)
			break
		}
		title := a.Title
		if title == "" {
			title = string(a.Type)
		}
		fmt.Fprintf(&sb, "- [%s, score %.0f, %s] %s\n", a.Severity, a.PriorityScore, a.Type, title)
	}
	return sb.String()
}

// briefingText joins the text blocks of a response.
func briefingText(msg *anthropic.Message) (string, error) {
	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" {
			if t := strings.TrimSpace(block.Text); t != "" {
				parts = append(parts, t)
			}
		}
	}
	if len(parts) == 0 {
		return "", ErrEmptyBriefing
	}
	return strings.Join(parts, "\n\n"), nil
}
