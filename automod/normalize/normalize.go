// Per-source normalization of raw scanner output in to canonical tag records.
//
// Each scanner has its own vocabulary and output shape. A Registry maps a scan source to a Transform; sources without a registered transform pass through unchanged, apart from the common name canonicalization applied to every tag.
package normalize

import (
	"regexp"
	"strings"

	"github.com/bluesky-social/mediamod/automod/scan"
)

// Canonical tag record. Name is lower-case, trimmed, with underscores replaced by spaces.
type Tag struct {
	Name       string
	Confidence int
	// source-specific extras, eg the bounding box of an age estimator face
	Annotations map[string]string
}

// Rewrites the tag list for one submission. Input tag names are as reported by the scanner (not yet canonical).
type Transform func(sub *scan.Submission, tags []Tag) []Tag

type Registry struct {
	transforms map[scan.Source]Transform
}

func NewRegistry() *Registry {
	return &Registry{
		transforms: make(map[scan.Source]Transform),
	}
}

// Registry with the built-in transforms for all known scanner sources.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(scan.SourceWordTagger, WordFormTransform)
	r.Register(scan.SourceText, WordFormTransform)
	r.Register(scan.SourceSentiment, SentimentTransform)
	r.Register(scan.SourceSeverity, SeverityTransform)
	r.Register(scan.SourceAge, AgeTransform)
	return r
}

func (r *Registry) Register(src scan.Source, fn Transform) {
	r.transforms[src] = fn
}

// Converts the submission's tags (and any source-specific payload) in to canonical tags. Tags with an empty canonical name are dropped.
func (r *Registry) Normalize(sub *scan.Submission) []Tag {
	scale := sub.Source.ConfidenceScale()
	tags := make([]Tag, 0, len(sub.Tags))
	for _, rt := range sub.Tags {
		tags = append(tags, Tag{Name: rt.Name, Confidence: rt.Score(scale)})
	}
	if fn, ok := r.transforms[sub.Source]; ok {
		tags = fn(sub, tags)
	}
	out := make([]Tag, 0, len(tags))
	for _, t := range tags {
		t.Name = CanonicalName(t.Name)
		if t.Name == "" {
			continue
		}
		out = append(out, t)
	}
	return out
}

var multiSpace = regexp.MustCompile(`\s+`)

// Lower-cases, trims, replaces underscores with spaces, and collapses runs of whitespace.
func CanonicalName(name string) string {
	name = strings.ReplaceAll(name, "_", " ")
	name = multiSpace.ReplaceAllString(name, " ")
	return strings.ToLower(strings.TrimSpace(name))
}

// Word-form taggers use underscores between words ("long_hair").
func WordFormTransform(sub *scan.Submission, tags []Tag) []Tag {
	for i := range tags {
		tags[i].Name = strings.ReplaceAll(tags[i].Name, "_", " ")
	}
	return tags
}
