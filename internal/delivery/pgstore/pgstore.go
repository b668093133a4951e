// Package pgstore provides a PostgreSQL implementation of delivery.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/lookout/internal/delivery"
)

var tracer = otel.Tracer("github.com/linnemanlabs/lookout/internal/delivery/pgstore")

//go:embed schema.sql
var schema string

// defaultListLimit caps ListByRecipient when the caller passes no limit.
const defaultListLimit = 1000

// Store persists deliveries in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const deliveryColumns = `id, recipient_id, status, alert, attempts, created_at, scheduled_at, delivered_at`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Get retrieves a delivery by ID.
func (s *Store) Get(ctx context.Context, id string) (*delivery.Delivery, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	d, err := scanDelivery(s.pool.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		fail(span, err)
		return nil, false, err
	}
	return d, true, nil
}

// Put inserts or replaces a delivery.
func (s *Store) Put(ctx context.Context, d *delivery.Delivery) error {
	ctx, span := startSpan(ctx, "pgstore.Put", "UPSERT")
	defer span.End()

	alertJSON, err := json.Marshal(d.Alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	attempts := d.Attempts
	if attempts == nil {
		attempts = []delivery.Attempt{}
	}
	attemptsJSON, err := json.Marshal(attempts)
	if err != nil {
		return fmt.Errorf("marshal attempts: %w", err)
	}

	var deliveredAt *time.Time
	if !d.DeliveredAt.IsZero() {
		deliveredAt = &d.DeliveredAt
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO deliveries (id, recipient_id, status, alert_id, priority_score, priority_level,
			alert, attempts, created_at, scheduled_at, delivered_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
			status       = EXCLUDED.status,
			alert        = EXCLUDED.alert,
			attempts     = EXCLUDED.attempts,
			scheduled_at = EXCLUDED.scheduled_at,
			delivered_at = EXCLUDED.delivered_at`,
		d.ID, d.RecipientID, string(d.Status), d.Alert.ID, d.Alert.PriorityScore, string(d.Alert.PriorityLevel),
		alertJSON, attemptsJSON, d.CreatedAt, d.ScheduledAt, deliveredAt,
	)
	if err != nil {
		fail(span, err)
		return fmt.Errorf("upsert delivery: %w", err)
	}
	return nil
}

// ListByRecipient returns the recipient's newest deliveries first.
func (s *Store) ListByRecipient(ctx context.Context, recipientID string, limit int) ([]*delivery.Delivery, error) {
	ctx, span := startSpan(ctx, "pgstore.ListByRecipient", "SELECT")
	defer span.End()

	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries
		 WHERE recipient_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		recipientID, limit,
	)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var out []*delivery.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			fail(span, err)
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		fail(span, err)
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}
	return out, nil
}

// ListByStatus returns deliveries in status, earliest scheduled first.
func (s *Store) ListByStatus(ctx context.Context, status delivery.Status, limit int) ([]*delivery.Delivery, error) {
	ctx, span := startSpan(ctx, "pgstore.ListByStatus", "SELECT")
	defer span.End()
	span.SetAttributes(attribute.String("lookout.status", string(status)))

	query := `SELECT ` + deliveryColumns + ` FROM deliveries
		 WHERE status = $1
		 ORDER BY scheduled_at, id`
	args := []any{string(status)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("query deliveries by status: %w", err)
	}
	defer rows.Close()

	var out []*delivery.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			fail(span, err)
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		fail(span, err)
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}
	return out, nil
}

func scanDelivery(row pgx.Row) (*delivery.Delivery, error) {
	var (
		d            delivery.Delivery
		status       string
		alertJSON    []byte
		attemptsJSON []byte
		deliveredAt  *time.Time
	)
	if err := row.Scan(&d.ID, &d.RecipientID, &status, &alertJSON, &attemptsJSON,
		&d.CreatedAt, &d.ScheduledAt, &deliveredAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan delivery: %w", err)
	}

	d.Status = delivery.Status(status)
	if deliveredAt != nil {
		d.DeliveredAt = *deliveredAt
	}
	if err := json.Unmarshal(alertJSON, &d.Alert); err != nil {
		return nil, fmt.Errorf("unmarshal alert: %w", err)
	}
	if err := json.Unmarshal(attemptsJSON, &d.Attempts); err != nil {
		return nil, fmt.Errorf("unmarshal attempts: %w", err)
	}
	if len(d.Attempts) == 0 {
		d.Attempts = nil
	}
	return &d, nil
}
