// Automod component for caching arbitrary data (as JSON strings) with a fixed TTL and purging.
//
// Includes an interface and implementations using redis and in-process memory.
//
// The engine uses this to cache tag dictionary resolution (tag ID, severity level, and per-source ignore status), so that repeated scans of common tags do not hit the database. Entries are non-authoritative: admin changes to a tag purge the relevant keys, and anything missed expires with the TTL.
package cachestore
