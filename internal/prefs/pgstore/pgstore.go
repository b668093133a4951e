// Package pgstore provides a PostgreSQL implementation of prefs.Store.
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

	"github.com/linnemanlabs/lookout/internal/prefs"
)

var tracer = otel.Tracer("github.com/linnemanlabs/lookout/internal/prefs/pgstore")

//go:embed schema.sql
var schema string

// Store persists recipient preferences in PostgreSQL as JSONB documents.
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

// Get retrieves preferences by recipient ID.
func (s *Store) Get(ctx context.Context, recipientID string) (*prefs.Preferences, bool, error) {
	ctx, span := tracer.Start(ctx, "prefs.pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var (
		raw       []byte
		updatedAt time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT preferences, updated_at FROM recipient_preferences WHERE recipient_id = $1`,
		recipientID,
	).Scan(&raw, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("select preferences: %w", err)
	}

	var p prefs.Preferences
	if err := json.Unmarshal(raw, &p); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("unmarshal preferences: %w", err)
	}
	p.RecipientID = recipientID
	p.UpdatedAt = updatedAt
	return &p, true, nil
}

// Put inserts or replaces the preferences for p.RecipientID.
func (s *Store) Put(ctx context.Context, p *prefs.Preferences) error {
	ctx, span := tracer.Start(ctx, "prefs.pgstore.Put", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO recipient_preferences (recipient_id, preferences, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (recipient_id) DO UPDATE SET
			preferences = EXCLUDED.preferences,
			updated_at  = EXCLUDED.updated_at`,
		p.RecipientID, raw,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert preferences: %w", err)
	}
	return nil
}
