package reviewqueue

import (
	"context"
	"sync"
	"time"
)

type MemReviewQueue struct {
	lk     sync.Mutex
	queues map[string]map[int64]Item
}

var _ ReviewQueue = (*MemReviewQueue)(nil)

func NewMemReviewQueue() *MemReviewQueue {
	return &MemReviewQueue{
		queues: make(map[string]map[int64]Item),
	}
}

func (q *MemReviewQueue) Enqueue(ctx context.Context, item Item) error {
	if item.QueuedAt.IsZero() {
		item.QueuedAt = time.Now().UTC()
	}
	q.lk.Lock()
	defer q.lk.Unlock()
	queue, ok := q.queues[item.Reviewer]
	if !ok {
		queue = make(map[int64]Item)
		q.queues[item.Reviewer] = queue
	}
	if prev, ok := queue[item.MediaID]; ok {
		if score(item.Priority, prev.QueuedAt) >= score(prev.Priority, prev.QueuedAt) {
			return nil
		}
		item.QueuedAt = prev.QueuedAt
	}
	queue[item.MediaID] = item
	return nil
}

func (q *MemReviewQueue) Next(ctx context.Context, reviewer string) (*Item, error) {
	q.lk.Lock()
	defer q.lk.Unlock()
	var best *Item
	for _, it := range q.queues[reviewer] {
		if best == nil || score(it.Priority, it.QueuedAt) < score(best.Priority, best.QueuedAt) ||
			(score(it.Priority, it.QueuedAt) == score(best.Priority, best.QueuedAt) && it.MediaID < best.MediaID) {
			c := it
			best = &c
		}
	}
	if best != nil {
		delete(q.queues[reviewer], best.MediaID)
	}
	return best, nil
}

func (q *MemReviewQueue) Len(ctx context.Context, reviewer string) (int, error) {
	q.lk.Lock()
	defer q.lk.Unlock()
	return len(q.queues[reviewer]), nil
}
