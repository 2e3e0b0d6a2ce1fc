package normalize

import (
	"fmt"
	"math"
	"strconv"

	"github.com/bluesky-social/mediamod/automod/level"
	"github.com/bluesky-social/mediamod/automod/scan"
)

const (
	// minimum confidence for severity-scanner tags not listed in severityMinConfidence
	DefaultMinConfidence = 50
	// minimum confidence for rating ladder tags
	LadderMinConfidence = 70
)

// tags which are noisy at lower confidence
var severityMinConfidence = map[string]int{
	"gore":        85,
	"corpse":      90,
	"hanging":     90,
	"self harm":   90,
	"unconscious": 80,
}

func minConfidence(name string) int {
	if c, ok := severityMinConfidence[name]; ok {
		return c
	}
	if _, ok := level.FromLadderTag(name); ok {
		return LadderMinConfidence
	}
	return DefaultMinConfidence
}

// Severity-bucket scanners report a rating ladder position alongside descriptive tags. Applies per-tag confidence thresholds, then keeps only the single highest retained ladder tag.
func SeverityTransform(sub *scan.Submission, tags []Tag) []Tag {
	if sub.Context != nil && sub.Context.RatingLabel != nil && *sub.Context.RatingLabel != "" {
		tags = append(tags, Tag{Name: *sub.Context.RatingLabel, Confidence: 100})
	}

	kept := make([]Tag, 0, len(tags))
	bestRank := -1
	bestIdx := -1
	for _, t := range tags {
		name := CanonicalName(t.Name)
		if t.Confidence < minConfidence(name) {
			continue
		}
		t.Name = name
		rank := level.LadderRank(name)
		if rank < 0 {
			kept = append(kept, t)
			continue
		}
		if rank > bestRank {
			bestRank = rank
			bestIdx = len(kept)
			kept = append(kept, t)
		}
	}
	if bestIdx < 0 {
		return kept
	}

	// drop every ladder tag other than the winner
	out := make([]Tag, 0, len(kept))
	for i, t := range kept {
		if level.LadderRank(t.Name) >= 0 && i != bestIdx {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Ages below this are reported as "child-<age>" tags.
const AdultAge = 18

// Age estimators report one result per detected face. Each face becomes an age tag, plus any per-face tags.
func AgeTransform(sub *scan.Submission, tags []Tag) []Tag {
	scale := sub.Source.ConfidenceScale()
	for _, face := range sub.Result {
		name := "adult"
		if face.Age < AdultAge {
			name = "child-" + strconv.Itoa(int(math.Floor(face.Age)))
		}
		t := Tag{Name: name, Confidence: 100}
		if face.BoundingBox != nil {
			b := face.BoundingBox
			t.Annotations = map[string]string{
				"box": fmt.Sprintf("%g,%g,%g,%g", b.Top, b.Bottom, b.Left, b.Right),
				"age": strconv.FormatFloat(face.Age, 'f', 1, 64),
			}
		}
		tags = append(tags, t)
		for _, rt := range face.Tags {
			tags = append(tags, Tag{Name: rt.Name, Confidence: rt.Score(scale)})
		}
	}
	return tags
}
