package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/lookout/internal/alert"
	"github.com/linnemanlabs/lookout/internal/postgres"
	"github.com/linnemanlabs/lookout/internal/prefs"
	"github.com/linnemanlabs/lookout/internal/priority"
)

var tracer = otel.Tracer("github.com/linnemanlabs/lookout/internal/delivery")

// flushBatch bounds how many IDs a single PopDue call claims.
const flushBatch = 100

// retryDelay is how long a claimed delivery waits before another attempt
// when it could not be read from the store.
const retryDelay = time.Minute

const (
	kindAlert   = "alert"
	kindCluster = "cluster"
)

// ErrRecipientRequired is returned when an operation is called without a recipient.
var ErrRecipientRequired = errors.New("recipient id is required")

// Accepted describes one alert accepted for delivery.
type Accepted struct {
	DeliveryID  string             `json:"deliveryId"`
	AlertID     string             `json:"alertId"`
	Score       float64            `json:"priorityScore"`
	Level       priority.Level     `json:"priorityLevel"`
	Channels    []priority.Channel `json:"channels"`
	ScheduledAt time.Time          `json:"scheduledAt"`
	Status      Status             `json:"status"`
}

// SubmitResult is the outcome of submitting a batch of alerts.
type SubmitResult struct {
	Accepted []Accepted `json:"accepted"`
	// Rejected lists ingestion diagnostics; fatal ones dropped their alert.
	Rejected []alert.Diagnostic `json:"rejected,omitempty"`
	// Filtered lists alert IDs dropped by the recipient's keyword lists.
	Filtered []string `json:"filtered,omitempty"`
}

// ClusterOutcome is one cluster digest and how its notifications went.
// A digest held back by quiet hours or the email cadence has status
// scheduled; its members are then stored and queued as single deliveries.
type ClusterOutcome struct {
	Digest      *ClusterDigest `json:"digest"`
	Attempts    []Attempt      `json:"attempts,omitempty"`
	Status      Status         `json:"status"`
	ScheduledAt time.Time      `json:"scheduledAt"`
}

// ClusterResult is the outcome of a clustered submission.
type ClusterResult struct {
	Clusters []ClusterOutcome `json:"clusters"`
	// Singletons are alerts that joined no cluster, plus the members of
	// held digests, all routed through the per-alert path.
	Singletons *SubmitResult `json:"singletons"`
}

// PreviewResult is a dry run of prioritization and clustering.
type PreviewResult struct {
	Alerts      []priority.PrioritizedAlert `json:"alerts"`
	Clusters    []priority.AlertCluster     `json:"clusters"`
	Unclustered []priority.PrioritizedAlert `json:"unclustered"`
	Rejected    []alert.Diagnostic          `json:"rejected,omitempty"`
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier registers n for its channel, replacing any earlier notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifiers[n.Channel()] = n
		}
	}
}

// WithBriefer sets the cluster briefing writer.
func WithBriefer(b Briefer) Option {
	return func(s *Service) {
		s.briefer = b
	}
}

// WithClock sets the service time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service is the business boundary for alert delivery.
type Service struct {
	engine    *priority.Engine
	prefs     prefs.Store
	store     Store
	queue     Queue
	notifiers map[priority.Channel]Notifier
	briefer   Briefer
	logger    log.Logger
	hooks     ServiceHooks
	now       func() time.Time

	wg sync.WaitGroup
}

// NewService creates a new delivery service. metrics may be nil.
func NewService(engine *priority.Engine, prefsStore prefs.Store, store Store, queue Queue, logger log.Logger, metrics *Metrics, opts ...Option) *Service {
	if engine == nil {
		panic(xerrors.New("priority engine is required"))
	}
	if prefsStore == nil || store == nil || queue == nil {
		panic(xerrors.New("preference store, delivery store and queue are required"))
	}
	if logger == nil {
		logger = log.Nop()
	}

	s := &Service{
		engine:    engine,
		prefs:     prefsStore,
		store:     store,
		queue:     queue,
		notifiers: make(map[priority.Channel]Notifier),
		logger:    logger,
		now:       time.Now,
	}
	if metrics != nil {
		s.hooks = metrics.Hooks()
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Engine returns the prioritization engine the service runs on.
func (s *Service) Engine() *priority.Engine {
	return s.engine
}

// Wait blocks until every asynchronous dispatch started so far has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Submit prioritizes alerts for recipientID and records one Delivery each.
// Deliveries due now are sent asynchronously; the rest are queued.
func (s *Service) Submit(ctx context.Context, recipientID string, alerts []alert.Alert) (*SubmitResult, error) {
	ctx, span := tracer.Start(ctx, "delivery.Submit", trace.WithAttributes(
		attribute.String("lookout.recipient_id", recipientID),
		attribute.Int("lookout.alerts", len(alerts)),
	))
	defer span.End()

	p, valid, res, err := s.prepare(ctx, recipientID, alerts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	prioritized := s.engine.PrioritizeAlerts(valid, p)
	if err := s.accept(ctx, recipientID, prioritized, res); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return res, nil
}

// Cluster prioritizes and clusters alerts, notifies a digest per cluster
// and routes the unclustered remainder through the per-alert path.
func (s *Service) Cluster(ctx context.Context, recipientID string, alerts []alert.Alert, windowHours float64) (*ClusterResult, error) {
	ctx, span := tracer.Start(ctx, "delivery.Cluster", trace.WithAttributes(
		attribute.String("lookout.recipient_id", recipientID),
		attribute.Int("lookout.alerts", len(alerts)),
	))
	defer span.End()

	p, valid, res, err := s.prepare(ctx, recipientID, alerts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	prioritized := s.engine.PrioritizeAlerts(valid, p)
	clusters, rest := s.engine.ClusterAlerts(prioritized, windowHours)
	span.SetAttributes(attribute.Int("lookout.clusters", len(clusters)))

	out := &ClusterResult{Clusters: make([]ClusterOutcome, 0, len(clusters))}
	single := append([]priority.PrioritizedAlert(nil), rest...)
	for i := range clusters {
		co := s.deliverCluster(ctx, p, &clusters[i])
		if co.Status == StatusScheduled {
			single = append(single, clusters[i].Alerts...)
		}
		out.Clusters = append(out.Clusters, co)
	}

	if err := s.accept(ctx, recipientID, single, res); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	out.Singletons = res
	return out, nil
}

// Preview runs prioritization and clustering for p without persisting or
// notifying anything.
func (s *Service) Preview(p *prefs.Preferences, alerts []alert.Alert, windowHours float64) *PreviewResult {
	if p == nil {
		p = prefs.Default("")
	}
	valid, diags := alert.Partition(alerts)
	prioritized := s.engine.PrioritizeAlerts(valid, p)
	clusters, rest := s.engine.ClusterAlerts(prioritized, windowHours)
	return &PreviewResult{
		Alerts:      prioritized,
		Clusters:    clusters,
		Unclustered: rest,
		Rejected:    diags,
	}
}

// Get retrieves a delivery by ID.
func (s *Service) Get(ctx context.Context, id string) (*Delivery, bool, error) {
	return s.store.Get(ctx, id)
}

// List returns the newest deliveries for recipientID.
func (s *Service) List(ctx context.Context, recipientID string, limit int) ([]*Delivery, error) {
	if recipientID == "" {
		return nil, ErrRecipientRequired
	}
	return s.store.ListByRecipient(ctx, recipientID, limit)
}

// Preferences returns the stored preferences for recipientID, or the defaults.
func (s *Service) Preferences(ctx context.Context, recipientID string) (*prefs.Preferences, error) {
	if recipientID == "" {
		return nil, ErrRecipientRequired
	}
	return prefs.Load(postgres.WithRecipient(ctx, recipientID), s.prefs, recipientID)
}

// SetPreferences validates and stores p.
func (s *Service) SetPreferences(ctx context.Context, p *prefs.Preferences) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return s.prefs.Put(postgres.WithRecipient(ctx, p.RecipientID), p)
}

// Requeue puts every stored delivery in status scheduled back on the queue
// at its scheduled time. It is meant for process start with a queue that
// does not survive restarts. It returns how many were queued.
func (s *Service) Requeue(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "delivery.Requeue")
	defer span.End()

	list, err := s.store.ListByStatus(ctx, StatusScheduled, 0)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("list scheduled deliveries: %w", err)
	}
	for i, d := range list {
		if err := s.queue.Enqueue(ctx, d.ID, d.ScheduledAt); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return i, fmt.Errorf("enqueue delivery %s: %w", d.ID, err)
		}
	}
	span.SetAttributes(attribute.Int("lookout.requeued", len(list)))
	return len(list), nil
}

// Flush releases every queued delivery whose time has come and sends it.
// It returns how many deliveries were sent.
func (s *Service) Flush(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "delivery.Flush")
	defer span.End()

	var total int
	for {
		ids, err := s.queue.PopDue(ctx, s.now(), flushBatch)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return total, fmt.Errorf("pop due deliveries: %w", err)
		}
		for _, id := range ids {
			s.dispatch(ctx, id)
		}
		total += len(ids)
		if len(ids) < flushBatch || ctx.Err() != nil {
			break
		}
	}

	span.SetAttributes(attribute.Int("lookout.flushed", total))
	if total > 0 && s.hooks.OnFlush != nil {
		s.hooks.OnFlush(total)
	}
	return total, nil
}

// prepare loads preferences, splits off invalid alerts and applies the
// recipient's keyword lists.
func (s *Service) prepare(ctx context.Context, recipientID string, alerts []alert.Alert) (*prefs.Preferences, []alert.Alert, *SubmitResult, error) {
	if recipientID == "" {
		return nil, nil, nil, ErrRecipientRequired
	}
	p, err := prefs.Load(postgres.WithRecipient(ctx, recipientID), s.prefs, recipientID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load preferences: %w", err)
	}

	valid, diags := alert.Partition(alerts)
	res := &SubmitResult{Rejected: diags}
	for range len(alerts) - len(valid) {
		s.submitted("rejected")
	}

	kept := make([]alert.Alert, 0, len(valid))
	for _, a := range valid {
		if !p.Keywords.Allows(keywordText(a)) {
			res.Filtered = append(res.Filtered, a.ID)
			s.submitted("filtered")
			continue
		}
		kept = append(kept, a)
	}
	return p, kept, res, nil
}

func keywordText(a alert.Alert) string {
	parts := append([]string{a.Title, a.CompetitorID, string(a.Type)}, a.Metadata.RelatedEntities...)
	return strings.Join(parts, " ")
}

func (s *Service) submitted(result string) {
	if s.hooks.OnSubmit != nil {
		s.hooks.OnSubmit(result)
	}
}

// accept persists a Delivery per prioritized alert, queues future ones and
// kicks off async dispatch of the rest.
func (s *Service) accept(ctx context.Context, recipientID string, prioritized []priority.PrioritizedAlert, res *SubmitResult) error {
	now := s.now()
	var due []string

	for _, pa := range prioritized {
		d := &Delivery{
			ID:          ulid.Make().String(),
			RecipientID: recipientID,
			Status:      StatusPending,
			Alert:       pa,
			CreatedAt:   now,
			ScheduledAt: now,
		}
		if pa.ScheduledDelivery != nil {
			d.ScheduledAt = *pa.ScheduledDelivery
		}
		if d.ScheduledAt.After(now) {
			d.Status = StatusScheduled
		}

		if err := s.store.Put(ctx, d); err != nil {
			return fmt.Errorf("store delivery for alert %s: %w", pa.ID, err)
		}
		if d.Status == StatusScheduled {
			if err := s.queue.Enqueue(ctx, d.ID, d.ScheduledAt); err != nil {
				return fmt.Errorf("enqueue delivery %s: %w", d.ID, err)
			}
			s.submitted("scheduled")
		} else {
			due = append(due, d.ID)
			s.submitted("accepted")
		}

		res.Accepted = append(res.Accepted, Accepted{
			DeliveryID:  d.ID,
			AlertID:     pa.ID,
			Score:       pa.PriorityScore,
			Level:       pa.PriorityLevel,
			Channels:    pa.DeliveryChannel,
			ScheduledAt: d.ScheduledAt,
			Status:      d.Status,
		})
	}

	// pass only IDs so the goroutines never share a Delivery with the caller
	for _, id := range due {
		s.wg.Add(1)
		go func(id string) {
			defer s.wg.Done()
			s.dispatch(context.WithoutCancel(ctx), id)
		}(id)
	}
	return nil
}

// dispatch sends one stored delivery over each of its channels and records
// the outcome.
func (s *Service) dispatch(ctx context.Context, id string) {
	ctx, span := tracer.Start(ctx, "delivery.dispatch", trace.WithAttributes(
		attribute.String("lookout.delivery_id", id),
	))
	defer span.End()

	L := s.logger.With("delivery_id", id)

	d, ok, err := s.store.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		retry := s.now().Add(retryDelay)
		if qerr := s.queue.Enqueue(ctx, id, retry); qerr != nil {
			L.Error(ctx, errors.Join(err, qerr), "failed to fetch delivery for dispatch, could not requeue")
			return
		}
		L.Warn(ctx, "failed to fetch delivery for dispatch, requeued", "error", err, "retry_at", retry)
		return
	}
	if !ok {
		err = fmt.Errorf("delivery %s not found", id)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		L.Error(ctx, err, "dropping queued delivery")
		return
	}
	if d.Status.Done() {
		return
	}
	ctx = postgres.WithRecipient(ctx, d.RecipientID)
	L = L.With("recipient_id", d.RecipientID, "alert_id", d.Alert.ID)

	p, err := prefs.Load(ctx, s.prefs, d.RecipientID)
	if err != nil {
		L.Warn(ctx, "failed to load preferences, using defaults", "error", err)
		p = prefs.Default(d.RecipientID)
	}

	now := s.now()
	if s.hooks.OnDispatch != nil {
		s.hooks.OnDispatch(now.Sub(d.ScheduledAt).Seconds())
	}

	for _, ch := range d.Alert.DeliveryChannel {
		d.Attempts = append(d.Attempts, s.send(ctx, ch, kindAlert, func(n Notifier) error {
			return n.Notify(ctx, targetFor(p, ch), d)
		}))
	}
	d.Status = outcome(d.Attempts)
	if d.Status != StatusFailed {
		d.DeliveredAt = s.now()
	}
	span.SetAttributes(attribute.String("lookout.status", string(d.Status)))

	if err := s.store.Put(ctx, d); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		L.Error(ctx, err, "failed to persist delivery outcome")
		return
	}

	L.Info(ctx, "delivery dispatched",
		"status", d.Status,
		"level", d.Alert.PriorityLevel,
		"channels", len(d.Alert.DeliveryChannel),
	)
}

// deliverCluster sends the digest for c now if its level and the
// recipient's quiet hours and email cadence allow it. Otherwise nothing is
// sent and the outcome is scheduled.
func (s *Service) deliverCluster(ctx context.Context, p *prefs.Preferences, c *priority.AlertCluster) ClusterOutcome {
	level := s.engine.Level(c.AggregatedPriority)
	cd := &ClusterDigest{
		RecipientID: p.RecipientID,
		Cluster:     *c,
		Level:       level,
		Channels:    s.engine.DeliveryChannels(level, p),
		Briefing:    c.Summary,
	}

	L := s.logger.With("cluster_id", c.ID, "recipient_id", p.RecipientID)

	now := s.now()
	at := priority.ScheduleDelivery(priority.PrioritizedAlert{
		Alert:           alert.Alert{Timestamp: c.TimeWindow.End},
		PriorityLevel:   level,
		DeliveryChannel: cd.Channels,
	}, p, now)
	if at.After(now) {
		L.Info(ctx, "cluster digest held, members queued individually",
			"level", level,
			"alerts", len(c.Alerts),
			"scheduled_at", at,
		)
		return ClusterOutcome{Digest: cd, Status: StatusScheduled, ScheduledAt: at}
	}

	if s.briefer != nil {
		b, err := s.briefer.Brief(ctx, c)
		switch {
		case err != nil:
			L.Warn(ctx, "cluster briefing failed, using template summary", "error", err)
		case strings.TrimSpace(b) != "":
			cd.Briefing = strings.TrimSpace(b)
		}
	}

	co := ClusterOutcome{Digest: cd, ScheduledAt: now}
	for _, ch := range cd.Channels {
		co.Attempts = append(co.Attempts, s.send(ctx, ch, kindCluster, func(n Notifier) error {
			return n.NotifyCluster(ctx, targetFor(p, ch), cd)
		}))
	}
	co.Status = outcome(co.Attempts)

	L.Info(ctx, "cluster digest dispatched",
		"status", co.Status,
		"category", c.Category,
		"alerts", len(c.Alerts),
		"level", level,
	)
	return co
}

// send runs fn against the notifier registered for ch and records the attempt.
func (s *Service) send(ctx context.Context, ch priority.Channel, kind string, fn func(Notifier) error) Attempt {
	n, ok := s.notifiers[ch]
	var err error
	start := time.Now()
	if !ok {
		err = fmt.Errorf("no notifier registered for channel %s", ch)
	} else {
		err = fn(n)
	}
	dur := time.Since(start).Seconds()

	at := Attempt{Channel: ch, Delivered: err == nil, At: s.now()}
	if err != nil {
		at.Error = err.Error()
		s.logger.Warn(ctx, "notification failed", "channel", ch, "kind", kind, "error", err)
	}
	if s.hooks.OnNotify != nil {
		s.hooks.OnNotify(string(ch), kind, err == nil, dur)
	}
	return at
}

// targetFor returns the recipient's address on ch. The dashboard is
// addressed by recipient ID.
func targetFor(p *prefs.Preferences, ch priority.Channel) string {
	switch ch {
	case priority.ChannelDashboard:
		return p.RecipientID
	case priority.ChannelEmail:
		return p.Email.Target
	case priority.ChannelSlack:
		return p.Slack.Target
	case priority.ChannelSMS:
		return p.SMS.Target
	}
	return ""
}
