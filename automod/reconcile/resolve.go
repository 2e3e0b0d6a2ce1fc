package reconcile

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/bluesky-social/mediamod/automod/cachestore"
	"github.com/bluesky-social/mediamod/automod/flagstore"
	"github.com/bluesky-social/mediamod/automod/level"
	"github.com/bluesky-social/mediamod/automod/scan"
	"github.com/bluesky-social/mediamod/models"
)

// cachestore name for tag resolution entries
const CacheName = "tag"

type cacheEntry struct {
	ID      uint `json:"id"`
	Level   int  `json:"level"`
	Ignored bool `json:"ignored"`
}

func cacheKey(source scan.Source, name string) string {
	return source.String() + "/" + name
}

func (e cacheEntry) resolved(name string, source scan.Source, confidence int) ResolvedTag {
	return ResolvedTag{
		ID:         e.ID,
		Name:       name,
		Source:     source,
		Confidence: confidence,
		Disabled:   e.Ignored,
		Level:      e.Level,
		Blocked:    e.Level == level.Blocked && !e.Ignored,
	}
}

// Cache errors are logged and treated as a miss; the cache is never authoritative.
func (r *Reconciler) cacheGet(ctx context.Context, source scan.Source, name string) *cacheEntry {
	e, err := cachestore.GetJSON[cacheEntry](ctx, r.Cache, CacheName, cacheKey(source, name))
	if err != nil {
		r.Logger.Warn("tag cache read failed", "err", err, "tag", name, "source", source)
		return nil
	}
	return e
}

func (r *Reconciler) cacheSet(ctx context.Context, source scan.Source, name string, e cacheEntry) {
	if err := cachestore.SetJSON(ctx, r.Cache, CacheName, cacheKey(source, name), e); err != nil {
		r.Logger.Warn("tag cache write failed", "err", err, "tag", name, "source", source)
	}
}

// Loads ignore lists lazily, once per source.
type ignoreLists struct {
	flags flagstore.FlagStore
	lists map[scan.Source][]string
}

func (il *ignoreLists) ignored(ctx context.Context, source scan.Source, name string) (bool, error) {
	l, ok := il.lists[source]
	if !ok {
		var err error
		l, err = il.flags.Get(ctx, flagstore.IgnoreKey(source.String()))
		if err != nil {
			return false, scan.Transient("fetching ignore list", err)
		}
		il.lists[source] = l
	}
	return slices.Contains(l, name), nil
}

func (r *Reconciler) resolve(ctx context.Context, cands []candidate) ([]ResolvedTag, error) {
	out := make([]ResolvedTag, len(cands))
	done := make([]bool, len(cands))
	missing := make(map[string]bool)
	for i, c := range cands {
		if e := r.cacheGet(ctx, c.source, c.name); e != nil {
			out[i] = e.resolved(c.name, c.source, c.confidence)
			done[i] = true
			continue
		}
		missing[c.name] = true
	}
	if len(missing) == 0 {
		return out, nil
	}

	names := make([]string, 0, len(missing))
	for n := range missing {
		names = append(names, n)
	}
	sort.Strings(names)

	found, err := r.Dict.LookupTags(ctx, names)
	if err != nil {
		return nil, scan.Transient("looking up tags", err)
	}
	var create []models.Tag
	for _, n := range names {
		if _, ok := found[n]; ok {
			continue
		}
		// ladder tags carry their rating level from creation
		lvl, _ := level.FromLadderTag(n)
		create = append(create, models.Tag{Name: n, NsfwLevel: lvl})
	}
	if len(create) > 0 {
		created, err := r.Dict.CreateTags(ctx, create)
		if err != nil {
			return nil, scan.Transient("creating tags", err)
		}
		for n, t := range created {
			found[n] = t
		}
		r.Logger.Debug("created tags", "count", len(create))
	}

	il := ignoreLists{flags: r.Flags, lists: make(map[scan.Source][]string)}
	for i, c := range cands {
		if done[i] {
			continue
		}
		t, ok := found[c.name]
		if !ok {
			return nil, fmt.Errorf("tag not resolved after create: %q", c.name)
		}
		ign, err := il.ignored(ctx, c.source, c.name)
		if err != nil {
			return nil, err
		}
		e := cacheEntry{ID: t.ID, Level: t.NsfwLevel, Ignored: ign}
		r.cacheSet(ctx, c.source, c.name, e)
		out[i] = e.resolved(c.name, c.source, c.confidence)
	}
	return out, nil
}

// Resolves stored associations to their current level and ignore status, through the same cache as Reconcile.
func (r *Reconciler) Annotate(ctx context.Context, assocs []models.TagOnMediaView) ([]ResolvedTag, error) {
	out := make([]ResolvedTag, 0, len(assocs))
	il := ignoreLists{flags: r.Flags, lists: make(map[scan.Source][]string)}
	for _, a := range assocs {
		src := scan.Source(a.Source)
		if e := r.cacheGet(ctx, src, a.Name); e != nil {
			out = append(out, e.resolved(a.Name, src, a.Confidence))
			continue
		}
		ign, err := il.ignored(ctx, src, a.Name)
		if err != nil {
			return nil, err
		}
		e := cacheEntry{ID: a.TagID, Level: a.NsfwLevel, Ignored: ign}
		r.cacheSet(ctx, src, a.Name, e)
		out = append(out, e.resolved(a.Name, src, a.Confidence))
	}
	return out, nil
}

// Purges cached resolution of the tag for every source. Call after changing a tag's level or any ignore list membership.
func (r *Reconciler) InvalidateTag(ctx context.Context, name string) error {
	for _, src := range append(slices.Clone(scan.ScannerSources), scan.SourceComputed) {
		if err := r.Cache.Purge(ctx, CacheName, cacheKey(src, name)); err != nil {
			return fmt.Errorf("purging tag cache: %w", err)
		}
	}
	return nil
}

// Tag names from a resolved set, optionally skipping disabled tags.
func Names(tags []ResolvedTag, includeDisabled bool) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		if (t.Disabled && !includeDisabled) || seen[t.Name] {
			continue
		}
		seen[t.Name] = true
		out = append(out, t.Name)
	}
	return out
}
