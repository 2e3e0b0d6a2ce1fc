// Merges one submission's normalized tags with prompt-derived and computed tags, applies admin substitution rules, resolves every tag against the dictionary, and persists per-source associations.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bluesky-social/mediamod/automod/cachestore"
	"github.com/bluesky-social/mediamod/automod/flagstore"
	"github.com/bluesky-social/mediamod/automod/keyword"
	"github.com/bluesky-social/mediamod/automod/normalize"
	"github.com/bluesky-social/mediamod/automod/scan"
	"github.com/bluesky-social/mediamod/automod/setstore"
	"github.com/bluesky-social/mediamod/models"
)

const (
	// confidence assigned to tags inferred from the generation prompt
	PromptTagConfidence = 70
	// confidence assigned to computed tags
	ComputedTagConfidence = 70

	// set of point-of-interest names (real people), matched against prompts
	SetPOINames = "poi-names"
	// set of "keyword" or "keyword=tag" entries, matched against prompts
	SetPromptKeywordTags = "prompt-keyword-tags"
)

type TagDictionary interface {
	// Returns existing dictionary entries, keyed by name. Unknown names are absent from the result.
	LookupTags(ctx context.Context, names []string) (map[string]models.Tag, error)
	// Creates entries which don't exist yet, returning the stored entry for every input name. Must tolerate concurrent creation of the same name.
	CreateTags(ctx context.Context, tags []models.Tag) (map[string]models.Tag, error)
	// Inserts or updates associations, unique per (media, tag, source).
	UpsertTagsOnMedia(ctx context.Context, assocs []models.TagOnMedia) error
}

type TagRuleSource interface {
	// Substitution rules, in application order.
	TagRules(ctx context.Context) ([]models.TagRule, error)
}

// A tag associated with a media item, with dictionary identity and current moderation status.
type ResolvedTag struct {
	ID         uint
	Name       string
	Source     scan.Source
	Confidence int
	// on the ignore list for this source
	Disabled bool
	Level    int
	// blocked-severity and not ignored; this is what triggers blocking, not the name
	Blocked bool
}

type Reconciler struct {
	Logger *slog.Logger
	Dict   TagDictionary
	Rules  TagRuleSource
	Cache  cachestore.CacheStore
	Flags  flagstore.FlagStore
	Sets   setstore.SetStore
	// defaults to DefaultComputedRules when nil
	Computed []ComputedRule
}

type candidate struct {
	name       string
	source     scan.Source
	confidence int
}

// Reconciles one submission's tags for the media item, persisting associations. Returns the tags recorded by this submission (including prompt-derived and computed tags). An empty tag list is valid and results in no writes.
func (r *Reconciler) Reconcile(ctx context.Context, media *models.MediaItem, source scan.Source, tags []normalize.Tag) ([]ResolvedTag, error) {
	cands := make([]candidate, 0, len(tags))
	for _, t := range tags {
		cands = append(cands, candidate{name: t.Name, source: source, confidence: t.Confidence})
	}

	if media.Prompt != "" {
		pt, err := r.promptTags(ctx, media.Prompt)
		if err != nil {
			return nil, fmt.Errorf("prompt tags: %w", err)
		}
		cands = append(cands, pt...)
	}
	cands = dedupeByName(cands)

	computed := r.Computed
	if computed == nil {
		computed = DefaultComputedRules
	}
	cands = appendComputed(cands, computed)

	if r.Rules != nil {
		rules, err := r.Rules.TagRules(ctx)
		if err != nil {
			return nil, scan.Transient("fetching tag rules", err)
		}
		cands = applyTagRules(cands, rules)
	}
	// substitution may introduce duplicates per (name, source), which associations can't hold
	cands = dedupeByNameSource(cands)

	if len(cands) == 0 {
		return []ResolvedTag{}, nil
	}

	resolved, err := r.resolve(ctx, cands)
	if err != nil {
		return nil, err
	}

	assocs := make([]models.TagOnMedia, 0, len(resolved))
	for _, rt := range resolved {
		assocs = append(assocs, models.TagOnMedia{
			MediaID:    media.ID,
			TagID:      rt.ID,
			Source:     rt.Source.String(),
			Confidence: rt.Confidence,
			Automated:  true,
			Disabled:   rt.Disabled,
		})
	}
	if err := r.Dict.UpsertTagsOnMedia(ctx, assocs); err != nil {
		return nil, scan.Transient("persisting tag associations", err)
	}
	return resolved, nil
}

func (r *Reconciler) promptTags(ctx context.Context, prompt string) ([]candidate, error) {
	tokens := keyword.TokenizePrompt(prompt)
	if len(tokens) == 0 {
		return nil, nil
	}
	var out []candidate

	poi, err := r.Sets.Members(ctx, SetPOINames)
	if err != nil {
		return nil, err
	}
	for _, name := range keyword.MatchPhrases(tokens, poi) {
		out = append(out, candidate{name: name, source: scan.SourceComputed, confidence: PromptTagConfidence})
	}

	entries, err := r.Sets.Members(ctx, SetPromptKeywordTags)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		phrase, tag, found := strings.Cut(e, "=")
		if !found {
			tag = phrase
		}
		if keyword.ContainsPhrase(tokens, phrase) {
			out = append(out, candidate{name: normalize.CanonicalName(tag), source: scan.SourceComputed, confidence: PromptTagConfidence})
		}
	}
	return out, nil
}

// Keeps one entry per name. A later duplicate only replaces an earlier one if its confidence is strictly higher.
func dedupeByName(cands []candidate) []candidate {
	idx := make(map[string]int, len(cands))
	out := make([]candidate, 0, len(cands))
	for _, c := range cands {
		if c.name == "" {
			continue
		}
		i, ok := idx[c.name]
		if !ok {
			idx[c.name] = len(out)
			out = append(out, c)
			continue
		}
		if c.confidence > out[i].confidence {
			out[i] = c
		}
	}
	return out
}

func dedupeByNameSource(cands []candidate) []candidate {
	type key struct {
		name   string
		source scan.Source
	}
	idx := make(map[key]int, len(cands))
	out := make([]candidate, 0, len(cands))
	for _, c := range cands {
		k := key{c.name, c.source}
		i, ok := idx[k]
		if !ok {
			idx[k] = len(out)
			out = append(out, c)
			continue
		}
		if c.confidence > out[i].confidence {
			out[i] = c
		}
	}
	return out
}

// Applies substitution rules in order; each rule observes the effects of earlier ones.
func applyTagRules(cands []candidate, rules []models.TagRule) []candidate {
	for _, rule := range rules {
		from := normalize.CanonicalName(rule.FromTag)
		to := normalize.CanonicalName(rule.ToTag)
		if from == "" || to == "" {
			continue
		}
		switch rule.Type {
		case models.TagRuleReplace:
			for i := range cands {
				if cands[i].name == from {
					cands[i].name = to
				}
			}
		case models.TagRuleAppend:
			var trigger *candidate
			present := false
			for i := range cands {
				if cands[i].name == from && trigger == nil {
					trigger = &cands[i]
				}
				if cands[i].name == to {
					present = true
				}
			}
			if trigger != nil && !present {
				cands = append(cands, candidate{name: to, source: trigger.source, confidence: trigger.confidence})
			}
		}
	}
	return cands
}
