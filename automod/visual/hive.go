// Adapter for Hive-style classification output, converting it in to sentiment-bucket scan submissions.
package visual

import (
	"fmt"

	"github.com/bluesky-social/mediamod/automod/scan"
)

// schema: https://docs.thehive.ai/reference/classification
type HiveResp struct {
	Status []HiveResp_Status `json:"status"`
}

type HiveResp_Status struct {
	Response HiveResp_Response `json:"response"`
}

type HiveResp_Response struct {
	Output []HiveResp_Out `json:"output"`
}

type HiveResp_Out struct {
	Time    float64           `json:"time"`
	Classes []HiveResp_Class `json:"classes"`
}

type HiveResp_Class struct {
	Class string  `json:"class"`
	Score float64 `json:"score"`
}

// Simple direct mappings from individual classes to tags
//
// hive gore and violence: https://docs.thehive.ai/docs/class-descriptions-violence-gore
func summarizeSimpleTags(cl []HiveResp_Class) []string {
	var tags []string

	for _, cls := range cl {
		if cls.Class == "very_bloody" && cls.Score >= 0.90 {
			tags = append(tags, "gore")
		}
		if cls.Class == "human_corpse" && cls.Score >= 0.90 {
			tags = append(tags, "corpse")
		}
		if cls.Class == "hanging" && cls.Score >= 0.90 {
			tags = append(tags, "hanging")
		}
		if cls.Class == "yes_self_harm" && cls.Score >= 0.96 {
			tags = append(tags, "self harm")
		}
	}
	return tags
}

// Maps sexual content classes to a single rating ladder position (or "" for none).
//
// x: explicit activity or full-frontal, including suggestive/intent
// r: sexually suggestive, not explicit; may include some forms of nudity
// pg-13: non-sexual nudity (eg, artistic, possibly some photographic), or underwear
//
// hive docs/definitions: https://docs.thehive.ai/docs/sexual-content
func summarizeRating(cl []HiveResp_Class) string {

	scores := make(map[string]float64)
	for _, cls := range cl {
		scores[cls.Class] = cls.Score
	}

	// first check if explicit...
	for _, explicitClass := range []string{"yes_sexual_activity", "animal_genitalia_and_human", "yes_realistic_nsfw"} {
		if scores[explicitClass] >= 0.9 {
			return "x"
		}
	}
	if scores["general_nsfw"] >= 0.9 {
		// special case for some anime examples
		if scores["animated_animal_genitalia"] >= 0.5 {
			return "x"
		}
	}

	// then check for sexual suggestive (which may include nudity)...
	for _, sexualClass := range []string{"yes_sexual_intent", "yes_sex_toy"} {
		if scores[sexualClass] >= 0.9 {
			return "r"
		}
	}
	if scores["yes_undressed"] >= 0.9 {
		// special case for bondage examples
		if scores["yes_sex_toy"] > 0.75 {
			return "r"
		}
	}

	// then non-sexual nudity...
	for _, nudityClass := range []string{"yes_male_nudity", "yes_female_nudity", "yes_undressed"} {
		if scores[nudityClass] >= 0.9 {
			return "pg-13"
		}
	}

	// then finally remaining "underwear" images
	for _, underwearClass := range []string{"yes_male_underwear", "yes_female_underwear"} {
		if scores[underwearClass] >= 0.9 {
			return "pg-13"
		}
	}

	return ""
}

// Highest score per class across all outputs (video responses have one output per frame).
func (resp *HiveResp) Classes() []HiveResp_Class {
	idx := make(map[string]int)
	var out []HiveResp_Class
	for _, status := range resp.Status {
		for _, o := range status.Response.Output {
			for _, cls := range o.Classes {
				i, ok := idx[cls.Class]
				if !ok {
					idx[cls.Class] = len(out)
					out = append(out, cls)
					continue
				}
				if cls.Score > out[i].Score {
					out[i].Score = cls.Score
				}
			}
		}
	}
	return out
}

// Converts the response to a sentiment-bucket submission. Raw classes are passed through as "yes_*"/"no_*" tags for the normalizer; summarized tags and rating are appended at full confidence.
func (resp *HiveResp) ToSubmission(mediaID int64) (*scan.Submission, error) {
	classes := resp.Classes()
	if len(classes) == 0 {
		return nil, fmt.Errorf("hive response for media %d has no classes", mediaID)
	}
	sub := &scan.Submission{
		MediaID: mediaID,
		Status:  scan.StatusSuccess,
		Source:  scan.SourceSentiment,
	}
	for _, cls := range classes {
		score := cls.Score
		sub.Tags = append(sub.Tags, scan.RawTag{Name: cls.Class, Confidence: &score})
	}
	full := 1.0
	for _, t := range summarizeSimpleTags(classes) {
		sub.Tags = append(sub.Tags, scan.RawTag{Name: t, Confidence: &full})
	}
	rating := summarizeRating(classes)
	if rating != "" {
		sub.Tags = append(sub.Tags, scan.RawTag{Name: rating, Confidence: &full})
		hiveResultCount.WithLabelValues(rating).Inc()
	} else {
		hiveResultCount.WithLabelValues("none").Inc()
	}
	return sub, nil
}
