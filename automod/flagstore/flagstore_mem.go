package flagstore

import (
	"context"
	"slices"
	"sync"
)

type MemFlagStore struct {
	Data map[string][]string
	mu   *sync.RWMutex
}

var _ FlagStore = MemFlagStore{}

func NewMemFlagStore() MemFlagStore {
	return MemFlagStore{
		Data: make(map[string][]string),
		mu:   &sync.RWMutex{},
	}
}

func (s MemFlagStore) Get(ctx context.Context, key string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.Data[key]
	if !ok {
		return []string{}, nil
	}
	return slices.Clone(v), nil
}

func (s MemFlagStore) Add(ctx context.Context, key string, flags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.Data[key]
	if !ok {
		v = []string{}
	}
	v = append(v, flags...)
	v = dedupeStrings(v)
	s.Data[key] = v
	return nil
}

// does not error if flags not in set
func (s MemFlagStore) Remove(ctx context.Context, key string, flags []string) error {
	if len(flags) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.Data[key]
	if !ok {
		return nil
	}
	out := []string{}
	for _, f := range v {
		if !slices.Contains(flags, f) {
			out = append(out, f)
		}
	}
	s.Data[key] = out
	return nil
}
