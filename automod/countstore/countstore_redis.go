package countstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisCountPrefix = "mediamod/count/"
var redisDistinctPrefix = "mediamod/distinct/"

// Check-then-increment in one step, so concurrent daemons can't overshoot a quota.
//
// KEYS[1] bucket key; ARGV[1] limit; ARGV[2] expiry in seconds (0 for none)
var takeQuotaScript = redis.NewScript(`
local c = tonumber(redis.call("GET", KEYS[1]) or "0")
if c >= tonumber(ARGV[1]) then
	return 0
end
redis.call("INCR", KEYS[1])
if tonumber(ARGV[2]) > 0 then
	redis.call("EXPIRE", KEYS[1], ARGV[2])
end
return 1
`)

// Plain counters are redis strings; distinct counters are HyperLogLogs.
type RedisCountStore struct {
	Client *redis.Client
}

var _ CountStore = (*RedisCountStore)(nil)

func NewRedisCountStore(redisURL string) (*RedisCountStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		return nil, err
	}
	return NewRedisCountStoreFromClient(rdb), nil
}

func NewRedisCountStoreFromClient(rdb *redis.Client) *RedisCountStore {
	return &RedisCountStore{Client: rdb}
}

func (s *RedisCountStore) GetCount(ctx context.Context, k Key, p Period) (int, error) {
	c, err := s.Client.Get(ctx, redisCountPrefix+k.bucket(p, time.Now())).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return c, err
}

// all-time buckets never expire
func expireBucket(ctx context.Context, pipe redis.Pipeliner, key string, p Period) {
	if ttl := p.retention(); ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
}

func (s *RedisCountStore) Increment(ctx context.Context, k Key) error {
	now := time.Now()
	pipe := s.Client.Pipeline()
	for _, p := range AllPeriods {
		key := redisCountPrefix + k.bucket(p, now)
		pipe.Incr(ctx, key)
		expireBucket(ctx, pipe, key, p)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisCountStore) TakeQuota(ctx context.Context, k Key, p Period, limit int) (bool, error) {
	key := redisCountPrefix + k.bucket(p, time.Now())
	n, err := takeQuotaScript.Run(ctx, s.Client, []string{key}, limit, int(p.retention().Seconds())).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisCountStore) CountDistinct(ctx context.Context, k Key, p Period) (int, error) {
	c, err := s.Client.PFCount(ctx, redisDistinctPrefix+k.bucket(p, time.Now())).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return int(c), err
}

func (s *RedisCountStore) AddDistinct(ctx context.Context, k Key, member string) error {
	now := time.Now()
	pipe := s.Client.Pipeline()
	for _, p := range AllPeriods {
		key := redisDistinctPrefix + k.bucket(p, now)
		pipe.PFAdd(ctx, key, member)
		expireBucket(ctx, pipe, key, p)
	}
	_, err := pipe.Exec(ctx)
	return err
}
