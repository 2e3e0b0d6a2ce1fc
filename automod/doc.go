// Automated media moderation: reconciles image scanner output and decides what happens to each uploaded media item.
//
// This package (`github.com/bluesky-social/mediamod/automod`) re-exports the most commonly used types from its sub-packages. Scanner results arrive as `scan.Submission` values, are normalized per source (`normalize`), merged in to the persistent tag associations for the media item (`reconcile`), and once every required scanner has reported, run through ordered decision stages (`engine`) which pick a final state: scanned, blocked, or held for review. Review escalation (`escalation`), admin-authored rules (`modrule`), and the review queue (`reviewqueue`) hang off the same decision.
//
// Counters, sets, flags, and caches have in-process and redis implementations, so a single daemon works with no external dependencies beyond a SQL database. See `cmd/sieve` for the daemon built on this package.
package automod
