package engine

import (
	"github.com/bluesky-social/mediamod/automod/reconcile"
)

// Aggregated severity: the maximum level over non-disabled tags, never below zero.
//
// This is computed even for level-locked media; it is the caller's job not to store it.
func AggregateLevel(tags []reconcile.ResolvedTag) int {
	lvl := 0
	for _, t := range tags {
		if t.Disabled {
			continue
		}
		if t.Level > lvl {
			lvl = t.Level
		}
	}
	return lvl
}
