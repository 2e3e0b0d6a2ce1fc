package reviewqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisQueuePrefix = "mediamod/review/"
var redisItemPrefix = "mediamod/review-item/"

// One sorted set per reviewer class (member is media ID), plus a hash of item details.
type RedisReviewQueue struct {
	Client *redis.Client
}

var _ ReviewQueue = (*RedisReviewQueue)(nil)

func NewRedisReviewQueue(redisURL string) (*RedisReviewQueue, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(context.TODO()).Result()
	if err != nil {
		return nil, err
	}
	return &RedisReviewQueue{Client: rdb}, nil
}

func (q *RedisReviewQueue) Enqueue(ctx context.Context, item Item) error {
	if item.QueuedAt.IsZero() {
		item.QueuedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(item)
	if err != nil {
		return err
	}
	member := strconv.FormatInt(item.MediaID, 10)

	multi := q.Client.TxPipeline()
	// LT: new members are added, existing members only move forward (priority raise)
	multi.ZAddArgs(ctx, redisQueuePrefix+item.Reviewer, redis.ZAddArgs{
		LT:      true,
		Members: []redis.Z{{Score: score(item.Priority, item.QueuedAt), Member: member}},
	})
	multi.HSetNX(ctx, redisItemPrefix+item.Reviewer, member, raw)
	_, err = multi.Exec(ctx)
	return err
}

func (q *RedisReviewQueue) Next(ctx context.Context, reviewer string) (*Item, error) {
	res, err := q.Client.ZPopMin(ctx, redisQueuePrefix+reviewer, 1).Result()
	if err == redis.Nil || (err == nil && len(res) == 0) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	member, ok := res[0].Member.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected review queue member type %T", res[0].Member)
	}
	raw, err := q.Client.HGet(ctx, redisItemPrefix+reviewer, member).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	q.Client.HDel(ctx, redisItemPrefix+reviewer, member)

	var item Item
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, err
		}
	} else {
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			return nil, err
		}
		item = Item{MediaID: id, Reviewer: reviewer}
	}
	return &item, nil
}

func (q *RedisReviewQueue) Len(ctx context.Context, reviewer string) (int, error) {
	n, err := q.Client.ZCard(ctx, redisQueuePrefix+reviewer).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
