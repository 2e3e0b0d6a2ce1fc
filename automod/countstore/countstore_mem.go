package countstore

import (
	"context"
	"sync"
	"time"
)

// In-process counters. Expired buckets are never reclaimed, so this is for tests and single short-lived daemons.
type MemCountStore struct {
	// defaults to time.Now
	Clock func() time.Time

	mu       sync.Mutex
	counts   map[string]int
	distinct map[string]map[string]struct{}
}

var _ CountStore = (*MemCountStore)(nil)

func NewMemCountStore() *MemCountStore {
	return &MemCountStore{
		counts:   make(map[string]int),
		distinct: make(map[string]map[string]struct{}),
	}
}

func (s *MemCountStore) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func (s *MemCountStore) GetCount(ctx context.Context, k Key, p Period) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[k.bucket(p, s.now())], nil
}

func (s *MemCountStore) Increment(ctx context.Context, k Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, p := range AllPeriods {
		s.counts[k.bucket(p, now)]++
	}
	return nil
}

func (s *MemCountStore) TakeQuota(ctx context.Context, k Key, p Period, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := k.bucket(p, s.now())
	if s.counts[b] >= limit {
		return false, nil
	}
	s.counts[b]++
	return true, nil
}

func (s *MemCountStore) CountDistinct(ctx context.Context, k Key, p Period) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.distinct[k.bucket(p, s.now())]), nil
}

func (s *MemCountStore) AddDistinct(ctx context.Context, k Key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, p := range AllPeriods {
		b := k.bucket(p, now)
		set, ok := s.distinct[b]
		if !ok {
			set = make(map[string]struct{})
			s.distinct[b] = set
		}
		set[member] = struct{}{}
	}
	return nil
}
