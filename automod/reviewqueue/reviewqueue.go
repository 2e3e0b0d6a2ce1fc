// Queue of media items awaiting human review, partitioned by reviewer class.
//
// Within a reviewer class, high priority items come before low priority ones, and otherwise items are first-in-first-out. Enqueueing an item which is already queued is a no-op, except that it can raise the item's priority.
package reviewqueue

import (
	"context"
	"time"
)

type Priority int

const (
	PriorityHigh Priority = 0
	PriorityLow  Priority = 1
)

func (p Priority) String() string {
	if p == PriorityHigh {
		return "high"
	}
	return "low"
}

type Item struct {
	MediaID  int64     `json:"mediaId"`
	Reviewer string    `json:"reviewer"`
	Reason   string    `json:"reason"`
	Priority Priority  `json:"priority"`
	QueuedAt time.Time `json:"queuedAt"`
}

type ReviewQueue interface {
	Enqueue(ctx context.Context, item Item) error
	// Removes and returns the next item for the reviewer class, or nil if the queue is empty.
	Next(ctx context.Context, reviewer string) (*Item, error)
	Len(ctx context.Context, reviewer string) (int, error)
}

// sorts priority first, then queue time
func score(p Priority, t time.Time) float64 {
	return float64(p)*1e13 + float64(t.UnixMilli())
}
