package reviewqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testQueueOrdering(t *testing.T, q ReviewQueue) {
	assert := assert.New(t)
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.NoError(q.Enqueue(ctx, Item{MediaID: 1, Reviewer: "moderator", Reason: "newUser", Priority: PriorityLow, QueuedAt: t0}))
	assert.NoError(q.Enqueue(ctx, Item{MediaID: 2, Reviewer: "moderator", Reason: "tag", Priority: PriorityHigh, QueuedAt: t0.Add(time.Minute)}))
	assert.NoError(q.Enqueue(ctx, Item{MediaID: 3, Reviewer: "moderator", Reason: "poi", Priority: PriorityHigh, QueuedAt: t0.Add(2 * time.Minute)}))
	assert.NoError(q.Enqueue(ctx, Item{MediaID: 4, Reviewer: "senior", Reason: "minor", Priority: PriorityHigh, QueuedAt: t0}))
	// duplicate, no-op
	assert.NoError(q.Enqueue(ctx, Item{MediaID: 2, Reviewer: "moderator", Reason: "tag", Priority: PriorityHigh, QueuedAt: t0.Add(time.Hour)}))

	n, err := q.Len(ctx, "moderator")
	assert.NoError(err)
	assert.Equal(3, n)

	for _, want := range []int64{2, 3, 1} {
		it, err := q.Next(ctx, "moderator")
		assert.NoError(err)
		if assert.NotNil(it) {
			assert.Equal(want, it.MediaID)
		}
	}
	it, err := q.Next(ctx, "moderator")
	assert.NoError(err)
	assert.Nil(it)

	it, err = q.Next(ctx, "senior")
	assert.NoError(err)
	assert.Equal("minor", it.Reason)
}

func TestMemReviewQueue(t *testing.T) {
	testQueueOrdering(t, NewMemReviewQueue())
}

func TestMemReviewQueuePriorityRaise(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	q := NewMemReviewQueue()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.NoError(q.Enqueue(ctx, Item{MediaID: 1, Reviewer: "moderator", Priority: PriorityHigh, QueuedAt: t0.Add(time.Minute)}))
	assert.NoError(q.Enqueue(ctx, Item{MediaID: 2, Reviewer: "moderator", Priority: PriorityLow, QueuedAt: t0}))
	assert.NoError(q.Enqueue(ctx, Item{MediaID: 2, Reviewer: "moderator", Priority: PriorityHigh, QueuedAt: t0.Add(time.Hour)}))

	it, err := q.Next(ctx, "moderator")
	assert.NoError(err)
	// keeps its original queue time, so now sorts ahead
	assert.Equal(int64(2), it.MediaID)
	assert.Equal(PriorityHigh, it.Priority)
}

func TestRedisReviewQueue(t *testing.T) {
	t.Skip("live test, need redis running locally")
	q, err := NewRedisReviewQueue("redis://localhost:6379/0")
	if err != nil {
		t.Fatal(err)
	}
	testQueueOrdering(t, q)
}
