// Automod component for persistent string sets keyed by name.
//
// The engine stores per-source tag ignore lists here: the tag names which a given scanner reports but which moderators have decided to disregard for that scanner.
package flagstore

import (
	"context"
	"slices"
)

type FlagStore interface {
	Get(ctx context.Context, key string) ([]string, error)
	Add(ctx context.Context, key string, flags []string) error
	Remove(ctx context.Context, key string, flags []string) error
}

// Key of the ignore list for a scanner source.
func IgnoreKey(source string) string {
	return "ignore/" + source
}

// Helper to check a single flag.
func Has(ctx context.Context, fs FlagStore, key, flag string) (bool, error) {
	l, err := fs.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return slices.Contains(l, flag), nil
}

func dedupeStrings(in []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, v := range in {
		if !seen[v] {
			out = append(out, v)
			seen[v] = true
		}
	}
	return out
}
