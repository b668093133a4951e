// Package redisqueue provides a Redis sorted-set implementation of
// delivery.Queue shared by every Lookout replica.
package redisqueue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/linnemanlabs/lookout/internal/delivery/redisqueue")

// DefaultKey is the sorted set holding scheduled delivery IDs.
const DefaultKey = "lookout:deliveries:scheduled"

// Queue stores delivery IDs in a sorted set scored by scheduled Unix
// milliseconds. Claims are made with ZREM so concurrent flushers never
// release the same ID twice.
type Queue struct {
	client redis.UniversalClient
	key    string
}

// New connects to the Redis server at url (redis:// or rediss://) and
// returns a Queue on key. An empty key uses DefaultKey.
func New(ctx context.Context, url, key string) (*Queue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewWithClient(client, key), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, key string) *Queue {
	if key == "" {
		key = DefaultKey
	}
	return &Queue{client: client, key: key}
}

// Close closes the underlying client.
func (q *Queue) Close() error {
	return q.client.Close()
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Enqueue schedules id for at. Re-enqueueing an ID moves it.
func (q *Queue) Enqueue(ctx context.Context, id string, at time.Time) error {
	ctx, span := startSpan(ctx, "redisqueue.Enqueue", "ZADD")
	defer span.End()

	if err := q.client.ZAdd(ctx, q.key, redis.Z{Score: score(at), Member: id}).Err(); err != nil {
		fail(span, err)
		return fmt.Errorf("zadd: %w", err)
	}
	return nil
}

// PopDue claims up to limit IDs scheduled at or before now, earliest first.
// A non-positive limit means no limit.
func (q *Queue) PopDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ctx, span := startSpan(ctx, "redisqueue.PopDue", "ZRANGEBYSCORE")
	defer span.End()

	rng := &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}
	if limit > 0 {
		rng.Count = int64(limit)
	}
	candidates, err := q.client.ZRangeByScore(ctx, q.key, rng).Result()
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("zrangebyscore: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	// another replica may claim some of these first; ZREM tells us who won
	pipe := q.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(candidates))
	for i, id := range candidates {
		cmds[i] = pipe.ZRem(ctx, q.key, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		fail(span, err)
		return nil, fmt.Errorf("zrem: %w", err)
	}

	claimed := make([]string, 0, len(candidates))
	for i, cmd := range cmds {
		if cmd.Val() == 1 {
			claimed = append(claimed, candidates[i])
		}
	}
	span.SetAttributes(attribute.Int("lookout.claimed", len(claimed)))
	return claimed, nil
}

// Len returns the number of queued IDs.
func (q *Queue) Len(ctx context.Context) (int, error) {
	ctx, span := startSpan(ctx, "redisqueue.Len", "ZCARD")
	defer span.End()

	n, err := q.client.ZCard(ctx, q.key).Result()
	if err != nil {
		fail(span, err)
		return 0, fmt.Errorf("zcard: %w", err)
	}
	return int(n), nil
}
