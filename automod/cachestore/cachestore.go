package cachestore

import (
	"context"
	"encoding/json"
	"fmt"
)

type CacheStore interface {
	Get(ctx context.Context, name, key string) (string, error)
	Set(ctx context.Context, name, key string, val string) error
	Purge(ctx context.Context, name, key string) error
}

// Fetches and decodes a JSON cache entry. Returns nil (and no error) on cache miss.
//
// An entry which fails to decode is purged and treated as a miss, so a format change does not wedge the cache until TTL.
func GetJSON[T any](ctx context.Context, cs CacheStore, name, key string) (*T, error) {
	raw, err := cs.Get(ctx, name, key)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		if perr := cs.Purge(ctx, name, key); perr != nil {
			return nil, fmt.Errorf("purging undecodable cache entry: %w", perr)
		}
		return nil, nil
	}
	return &out, nil
}

func SetJSON(ctx context.Context, cs CacheStore, name, key string, val any) error {
	b, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	return cs.Set(ctx, name, key, string(b))
}
