package search

import (
	"strconv"
	"time"

	"github.com/bluesky-social/mediamod/automod/level"
	"github.com/bluesky-social/mediamod/models"

	"github.com/rivo/uniseg"
)

// prompts longer than this (in grapheme clusters) are truncated before indexing
const MaxPromptGraphemes = 2000

type MediaDoc struct {
	DocIndexTs     string   `json:"doc_index_ts"`
	MediaID        int64    `json:"media_id"`
	UserID         int64    `json:"user_id"`
	NsfwLevel      int      `json:"nsfw_level"`
	NsfwRating     string   `json:"nsfw_rating"`
	Tag            []string `json:"tag,omitempty"`
	Prompt         *string  `json:"prompt,omitempty"`
	GenerationTool *string  `json:"generation_tool,omitempty"`
	Emoji          []string `json:"emoji,omitempty"`
	ResourceID     []int64  `json:"resource_id,omitempty"`
	ScannedAt      *string  `json:"scanned_at,omitempty"`
	NeedsReview    bool     `json:"needs_review"`
}

// Returns the search index document ID (`_id`) for this document.
//
// This identifier should be URL safe and not contain a slash ("/").
func (d *MediaDoc) DocId() string {
	return strconv.FormatInt(d.MediaID, 10)
}

func TransformMedia(m *models.MediaItem, tags []string) MediaDoc {
	doc := MediaDoc{
		DocIndexTs:  time.Now().UTC().Format(time.RFC3339),
		MediaID:     m.ID,
		UserID:      m.UserID,
		NsfwLevel:   m.NsfwLevel,
		NsfwRating:  level.Name(m.NsfwLevel),
		Tag:         tags,
		ResourceID:  m.ResourceIDs,
		NeedsReview: m.NeedsReview != nil,
	}
	if m.Prompt != "" {
		p := truncateGraphemes(m.Prompt, MaxPromptGraphemes)
		doc.Prompt = &p
		doc.Emoji = parseEmojis(p)
	}
	if m.GenerationTool != "" {
		doc.GenerationTool = &m.GenerationTool
	}
	if m.ScannedAt != nil {
		s := m.ScannedAt.UTC().Format(time.RFC3339)
		doc.ScannedAt = &s
	}
	return doc
}

func truncateGraphemes(s string, max int) string {
	gr := uniseg.NewGraphemes(s)
	n := 0
	out := make([]rune, 0, len(s))
	for gr.Next() {
		if n >= max {
			break
		}
		out = append(out, gr.Runes()...)
		n++
	}
	return string(out)
}

func parseEmojis(s string) []string {
	var ret []string
	seen := make(map[string]bool)
	gr := uniseg.NewGraphemes(s)
	for gr.Next() {
		// check if this grapheme cluster starts with an emoji rune (Unicode codepoint, int32)
		firstRune := gr.Runes()[0]
		if (firstRune >= 0x1F000 && firstRune <= 0x1FFFF) || (firstRune >= 0x2600 && firstRune <= 0x26FF) {
			emoji := gr.Str()
			if !seen[emoji] {
				ret = append(ret, emoji)
				seen[emoji] = true
			}
		}
	}
	return ret
}
