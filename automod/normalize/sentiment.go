package normalize

import (
	"strings"

	"github.com/bluesky-social/mediamod/automod/scan"
)

// sentiment-bucket classes which are renamed after prefix stripping
var sentimentSynonyms = map[string]string{
	"female nudity": "nudity",
	"male nudity":   "nudity",
}

// neutral classes which carry no moderation signal
var sentimentIgnored = map[string]bool{
	"general not nsfw not suggestive": true,
	"natural":                         true,
}

// Sentiment-bucket classifiers report each class as a "yes_*"/"no_*" pair. Negative classes are dropped, positive classes lose the prefix.
func SentimentTransform(sub *scan.Submission, tags []Tag) []Tag {
	out := make([]Tag, 0, len(tags))
	for _, t := range tags {
		raw := strings.ToLower(strings.TrimSpace(t.Name))
		if strings.HasPrefix(raw, "no_") {
			continue
		}
		raw = strings.TrimPrefix(raw, "yes_")
		name := CanonicalName(raw)
		if syn, ok := sentimentSynonyms[name]; ok {
			name = syn
		}
		if sentimentIgnored[name] {
			continue
		}
		t.Name = name
		out = append(out, t)
	}
	return out
}
