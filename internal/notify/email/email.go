// Package email sends alert and cluster notifications over SMTP.
package email

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/lookout/internal/delivery"
	"github.com/linnemanlabs/lookout/internal/priority"
)

var headerSafe = strings.NewReplacer("\r", " ", "\n", " ")

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Notifier delivers notifications as plain-text email.
type Notifier struct {
	addr   string
	host   string
	from   string
	auth   smtp.Auth
	send   SendFunc
	logger log.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithSendFunc replaces smtp.SendMail, mainly for tests.
func WithSendFunc(fn SendFunc) Option {
	return func(n *Notifier) { n.send = fn }
}

// New creates an SMTP notifier for the server at addr (host:port). PLAIN
// auth is used when username is non-empty.
func New(addr, from, username, password string, logger log.Logger, opts ...Option) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	n := &Notifier{
		addr:   addr,
		host:   host,
		from:   from,
		send:   smtp.SendMail,
		logger: logger,
	}
	if username != "" {
		n.auth = smtp.PlainAuth("", username, password, host)
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Channel implements delivery.Notifier.
func (n *Notifier) Channel() priority.Channel { return priority.ChannelEmail }

// Notify mails a single prioritized alert to target.
func (n *Notifier) Notify(ctx context.Context, target string, d *delivery.Delivery) error {
	a := &d.Alert
	title := a.Title
	if title == "" {
		title = string(a.Type)
	}
	subject := fmt.Sprintf("[Lookout %s] %s", strings.ToUpper(string(a.PriorityLevel)), title)

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", title)
	fmt.Fprintf(&b, "Priority:   %s (score %.1f)\n", a.PriorityLevel, a.PriorityScore)
	fmt.Fprintf(&b, "Severity:   %s\n", a.Severity)
	fmt.Fprintf(&b, "Type:       %s\n", a.Type)
	if a.CompetitorID != "" {
		fmt.Fprintf(&b, "Competitor: %s\n", a.CompetitorID)
	}
	fmt.Fprintf(&b, "Act within: %.0f hours\n", a.BusinessContext.TimeToAction)
	fmt.Fprintf(&b, "Observed:   %s\n", a.Timestamp.UTC().Format(time.RFC1123))
	if len(a.Recommendations) > 0 {
		b.WriteString("\nRecommendations:\n")
		for _, r := range a.Recommendations {
			fmt.Fprintf(&b, "  - %s (%s effort)\n", r.Title, r.Effort)
		}
	}
	fmt.Fprintf(&b, "\nDelivery %s\n", d.ID)

	return n.mail(ctx, target, subject, b.String())
}

// NotifyCluster mails a cluster digest to target.
func (n *Notifier) NotifyCluster(ctx context.Context, target string, cd *delivery.ClusterDigest) error {
	c := &cd.Cluster
	subject := fmt.Sprintf("[Lookout %s] %d related %s alerts", strings.ToUpper(string(cd.Level)), len(c.Alerts), c.Category)

	briefing := cd.Briefing
	if briefing == "" {
		briefing = c.Summary
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", briefing)
	fmt.Fprintf(&b, "Recommended action: %s\n", c.RecommendedAction)
	fmt.Fprintf(&b, "Aggregated priority: %.1f\n", c.AggregatedPriority)
	if len(c.Competitors) > 0 {
		fmt.Fprintf(&b, "Competitors: %s\n", strings.Join(c.Competitors, ", "))
	}
	b.WriteString("\nAlerts:\n")
	for _, a := range c.Alerts {
		title := a.Title
		if title == "" {
			title = string(a.Type)
		}
		fmt.Fprintf(&b, "  - [%s %.0f] %s\n", a.PriorityLevel, a.PriorityScore, title)
	}

	return n.mail(ctx, target, subject, b.String())
}

func (n *Notifier) mail(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return fmt.Errorf("email: %w", delivery.ErrNoTarget)
	}
	if strings.ContainsAny(to, "\r\n") {
		return errors.New("email: recipient address contains a line break")
	}
	subject = headerSafe.Replace(subject)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("email: %w", err)
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		n.from, to, subject, crlf(body))

	if err := n.send(n.addr, n.auth, n.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("email: send to %s: %w", n.host, err)
	}
	return nil
}

// crlf converts every line ending in body, including bare CRs, to CRLF.
func crlf(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")
	return strings.ReplaceAll(body, "\n", "\r\n")
}
