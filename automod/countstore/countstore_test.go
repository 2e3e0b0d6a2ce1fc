package countstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemCountStoreBasics(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemCountStore()
	uploads := UserKey("scanned-upload", 12)

	c, err := cs.GetCount(ctx, uploads, PeriodTotal)
	assert.NoError(err)
	assert.Equal(0, c)
	assert.NoError(cs.Increment(ctx, uploads))
	assert.NoError(cs.Increment(ctx, uploads))

	for _, period := range AllPeriods {
		c, err = cs.GetCount(ctx, uploads, period)
		assert.NoError(err)
		assert.Equal(2, c)
	}

	// different subject, same family
	c, err = cs.GetCount(ctx, UserKey("scanned-upload", 13), PeriodTotal)
	assert.NoError(err)
	assert.Equal(0, c)

	blocked := Key{Name: "blocked-user", Subject: "all"}
	for _, uid := range []string{"1", "1", "1", "2", "3"} {
		assert.NoError(cs.AddDistinct(ctx, blocked, uid))
	}
	for _, period := range AllPeriods {
		c, err = cs.CountDistinct(ctx, blocked, period)
		assert.NoError(err)
		assert.Equal(3, c)
	}
}

func TestTakeQuota(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	now := time.Date(2024, 5, 1, 23, 30, 0, 0, time.UTC)
	cs := NewMemCountStore()
	cs.Clock = func() time.Time { return now }
	notices := UserKey("block-notice", 4)

	for range 3 {
		ok, err := cs.TakeQuota(ctx, notices, PeriodDay, 3)
		assert.NoError(err)
		assert.True(ok)
	}
	ok, err := cs.TakeQuota(ctx, notices, PeriodDay, 3)
	assert.NoError(err)
	assert.False(ok)

	// refused attempts don't count against the quota
	c, err := cs.GetCount(ctx, notices, PeriodDay)
	assert.NoError(err)
	assert.Equal(3, c)

	// only the quota period's bucket is touched
	c, err = cs.GetCount(ctx, notices, PeriodTotal)
	assert.NoError(err)
	assert.Equal(0, c)

	// next day starts a fresh bucket
	now = now.Add(time.Hour)
	ok, err = cs.TakeQuota(ctx, notices, PeriodDay, 3)
	assert.NoError(err)
	assert.True(ok)
}

func TestTakeQuotaConcurrent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemCountStore()
	notices := UserKey("block-notice", 9)

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for range 25 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := cs.TakeQuota(ctx, notices, PeriodDay, 10)
			assert.NoError(err)
			if ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(10, granted)
}

func TestPeriodBuckets(t *testing.T) {
	assert := assert.New(t)

	ts := time.Date(2024, 5, 1, 7, 45, 0, 0, time.UTC)
	k := UserKey("scanned-upload", 3)
	assert.Equal("scanned-upload/3/2024-05-01T07", k.bucket(PeriodHour, ts))
	assert.Equal("scanned-upload/3/2024-05-01", k.bucket(PeriodDay, ts))
	assert.Equal("scanned-upload/3", k.bucket(PeriodTotal, ts))

	p, err := ParsePeriod("day")
	assert.NoError(err)
	assert.Equal(PeriodDay, p)
	_, err = ParsePeriod("week")
	assert.Error(err)
}

func TestRedisCountStoreBasics(t *testing.T) {
	t.Skip("live test, need redis running locally")
	assert := assert.New(t)
	ctx := context.Background()

	cs, err := NewRedisCountStore("redis://localhost:6379/0")
	if err != nil {
		t.Fatal(err)
	}
	k := Key{Name: "test-quota", Subject: time.Now().Format(time.RFC3339Nano)}
	for range 2 {
		ok, err := cs.TakeQuota(ctx, k, PeriodHour, 2)
		assert.NoError(err)
		assert.True(ok)
	}
	ok, err := cs.TakeQuota(ctx, k, PeriodHour, 2)
	assert.NoError(err)
	assert.False(ok)

	assert.NoError(cs.AddDistinct(ctx, k, "a"))
	assert.NoError(cs.AddDistinct(ctx, k, "a"))
	c, err := cs.CountDistinct(ctx, k, PeriodDay)
	assert.NoError(err)
	assert.Equal(1, c)
}
