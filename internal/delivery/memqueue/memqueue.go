// Package memqueue provides an in-memory implementation of delivery.Queue
// ordered by scheduled time.
package memqueue

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

type item struct {
	id  string
	at  time.Time
	seq uint64
}

// entries is a min-heap on (at, seq).
type entries []item

func (e entries) Len() int { return len(e) }
func (e entries) Less(i, j int) bool {
	if e[i].at.Equal(e[j].at) {
		return e[i].seq < e[j].seq
	}
	return e[i].at.Before(e[j].at)
}
func (e entries) Swap(i, j int) { e[i], e[j] = e[j], e[i] }
func (e *entries) Push(x any)   { *e = append(*e, x.(item)) }
func (e *entries) Pop() any {
	old := *e
	n := len(old)
	it := old[n-1]
	*e = old[:n-1]
	return it
}

// Queue is a process-local scheduled-delivery queue.
type Queue struct {
	mu    sync.Mutex
	items entries
	seq   uint64
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue schedules id for at.
func (q *Queue) Enqueue(_ context.Context, id string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	heap.Push(&q.items, item{id: id, at: at, seq: q.seq})
	return nil
}

// PopDue removes and returns up to limit IDs due at or before now, earliest
// first. A non-positive limit means no limit.
func (q *Queue) PopDue(_ context.Context, now time.Time, limit int) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ids []string
	for q.items.Len() > 0 && !q.items[0].at.After(now) {
		if limit > 0 && len(ids) >= limit {
			break
		}
		ids = append(ids, heap.Pop(&q.items).(item).id)
	}
	return ids, nil
}

// Len returns the number of queued IDs.
func (q *Queue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len(), nil
}
