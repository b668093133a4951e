// Package sms sends short alert notifications through an HTTP SMS gateway.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/lookout/internal/delivery"
	"github.com/linnemanlabs/lookout/internal/priority"
)

// MaxLen is the longest message body sent, in characters.
const MaxLen = 160

const httpTimeout = 10 * time.Second

// Notifier posts messages to an SMS gateway.
type Notifier struct {
	gatewayURL string
	token      string
	client     *http.Client
	logger     log.Logger
}

// New creates an SMS notifier. token is sent as a bearer token when non-empty.
func New(gatewayURL, token string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		gatewayURL: gatewayURL,
		token:      token,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

type message struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// Channel implements delivery.Notifier.
func (n *Notifier) Channel() priority.Channel { return priority.ChannelSMS }

// Notify texts a one-line summary of the alert to target.
func (n *Notifier) Notify(ctx context.Context, target string, d *delivery.Delivery) error {
	a := &d.Alert
	title := a.Title
	if title == "" {
		title = string(a.Type)
	}
	text := fmt.Sprintf("[%s %.0f] %s", a.PriorityLevel, a.PriorityScore, title)
	if a.CompetitorID != "" {
		text += " (" + a.CompetitorID + ")"
	}
	return n.post(ctx, target, text)
}

// NotifyCluster texts the cluster briefing to target.
func (n *Notifier) NotifyCluster(ctx context.Context, target string, cd *delivery.ClusterDigest) error {
	summary := cd.Briefing
	if summary == "" {
		summary = cd.Cluster.Summary
	}
	return n.post(ctx, target, fmt.Sprintf("[%s cluster] %s", cd.Level, summary))
}

func (n *Notifier) post(ctx context.Context, to, text string) error {
	if to == "" {
		return fmt.Errorf("sms: %w", delivery.ErrNoTarget)
	}

	body, err := json.Marshal(message{To: to, Text: truncate(text, MaxLen)})
	if err != nil {
		return fmt.Errorf("sms: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.gatewayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sms: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.client.Do(req) //nolint:gosec // G704: gateway URL is from trusted config
	if err != nil {
		return fmt.Errorf("sms: post gateway: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms: gateway returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// truncate cuts s to at most limit runes, ending with an ellipsis when cut.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-1]) + "…"
}
