package redisqueue_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/lookout/internal/delivery/redisqueue"
)

func openQueue(t *testing.T) *redisqueue.Queue {
	t.Helper()
	url := os.Getenv("LOOKOUT_TEST_REDIS_URL")
	if url == "" {
		t.Skip("LOOKOUT_TEST_REDIS_URL not set, skipping integration test")
	}
	// a unique key per test keeps parallel runs apart
	q, err := redisqueue.New(context.Background(), url, "lookout:test:"+ulid.Make().String())
	if err != nil {
		t.Fatalf("redisqueue.New: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestPopDue_OrderAndLimit(t *testing.T) {
	q := openQueue(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Millisecond)

	for _, e := range []struct {
		id  string
		off time.Duration
	}{
		{"c", 3 * time.Second},
		{"a", 1 * time.Second},
		{"b", 2 * time.Second},
	} {
		if err := q.Enqueue(ctx, e.id, base.Add(e.off)); err != nil {
			t.Fatalf("Enqueue %s: %v", e.id, err)
		}
	}
	if err := q.Enqueue(ctx, "later", base.Add(time.Hour)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ids, err := q.PopDue(ctx, base.Add(10*time.Second), 2)
	if err != nil {
		t.Fatalf("PopDue: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("PopDue = %v, want [a b]", ids)
	}

	ids, err = q.PopDue(ctx, base.Add(10*time.Second), 10)
	if err != nil {
		t.Fatalf("PopDue: %v", err)
	}
	if len(ids) != 1 || ids[0] != "c" {
		t.Fatalf("PopDue = %v, want [c]", ids)
	}

	n, err := q.Len(ctx)
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 1 {
		t.Errorf("Len = %d, want 1", n)
	}
}

func TestPopDue_ConcurrentClaimsAreExclusive(t *testing.T) {
	q := openQueue(t)
	ctx := context.Background()
	now := time.Now()

	for i := range 50 {
		if err := q.Enqueue(ctx, fmt.Sprintf("d-%d", i), now.Add(-time.Minute)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids, err := q.PopDue(ctx, now, 0)
			if err != nil {
				t.Errorf("PopDue: %v", err)
				return
			}
			mu.Lock()
			for _, id := range ids {
				seen[id]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != 50 {
		t.Errorf("claimed %d distinct IDs, want 50", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("%s claimed %d times", id, n)
		}
	}
}

func TestNew_InvalidURL(t *testing.T) {
	t.Parallel()

	if _, err := redisqueue.New(context.Background(), "not-a-url://", ""); err == nil {
		t.Error("expected error for invalid url")
	}
}
