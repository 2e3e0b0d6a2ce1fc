package scan

import (
	"fmt"
	"math"
)

// Outcome of a single scanner run, as reported by the scanner itself.
type Status int

const (
	StatusSuccess     Status = 0
	StatusNotFound    Status = 1
	StatusUnscannable Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusNotFound:
		return "not-found"
	case StatusUnscannable:
		return "unscannable"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Identifies the external classifier which produced a submission.
type Source string

const (
	// word-form image tagger (eg, booru-style "1girl", "long_hair")
	SourceWordTagger Source = "word-tagger"
	// sentiment-bucket classifier, emitting "yes_*" / "no_*" class pairs
	SourceSentiment Source = "sentiment"
	// severity-bucket rating model, emitting a rating ladder tag plus age tags
	SourceSeverity Source = "severity"
	// demographic / age estimator, reports per-face results
	SourceAge Source = "age"
	// perceptual hash matcher
	SourceHash Source = "hash"
	// text policy engine run over the prompt
	SourceText Source = "text"

	// synthetic source for tags inferred by the engine itself
	SourceComputed Source = "computed"
)

// All sources which may submit scan results. Does not include synthetic sources.
var ScannerSources = []Source{
	SourceWordTagger,
	SourceSentiment,
	SourceSeverity,
	SourceAge,
	SourceHash,
	SourceText,
}

func ParseSource(raw string) (Source, error) {
	for _, s := range ScannerSources {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown scan source: %q", raw)
}

func (s Source) String() string {
	return string(s)
}

// How a scanner expresses tag confidence. Fixed per source, never inferred from the value.
type ConfidenceScale int

const (
	// 0 to 100
	ScalePercent ConfidenceScale = iota
	// 0 to 1
	ScaleFraction
)

// sources reporting fractional confidences; every other source reports percentages
var fractionSources = map[Source]bool{
	SourceWordTagger: true,
	SourceSentiment:  true,
}

func (s Source) ConfidenceScale() ConfidenceScale {
	if fractionSources[s] {
		return ScaleFraction
	}
	return ScalePercent
}

func (cs ConfidenceScale) Max() float64 {
	if cs == ScaleFraction {
		return 1
	}
	return 100
}

// A single tag as reported by a scanner, before any normalization.
type RawTag struct {
	Name string `json:"name" validate:"required,max=256"`
	ID   *int64 `json:"id,omitempty"`
	// In the source's ConfidenceScale. Omitted means the scanner is certain.
	Confidence *float64 `json:"confidence,omitempty" validate:"omitempty,min=0,max=100"`
}

// Returns the confidence as an integer percentage (0-100), reading the raw value in the given scale.
func (t RawTag) Score(scale ConfidenceScale) int {
	if t.Confidence == nil {
		return 100
	}
	c := *t.Confidence
	if scale == ScaleFraction {
		c = c * 100
	}
	return int(math.Round(math.Min(math.Max(c, 0), 100)))
}

type Context struct {
	RatingLabel   *string `json:"ratingLabel,omitempty"`
	RatingModelID *string `json:"ratingModelId,omitempty"`
	HasMinor      *bool   `json:"hasMinor,omitempty"`
}

type BoundingBox struct {
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
}

// Per-face output of the age estimator.
type AgeResult struct {
	Age         float64      `json:"age" validate:"min=0,max=150"`
	Tags        []RawTag     `json:"tags,omitempty" validate:"dive"`
	BoundingBox *BoundingBox `json:"boundingBox,omitempty"`
}

// Inbound scan result for one media item from one scanner. This is the payload of the scanner webhooks; it is not persisted as-is.
type Submission struct {
	MediaID int64       `json:"mediaId" validate:"required,gt=0"`
	Status  Status      `json:"status" validate:"min=0,max=2"`
	Source  Source      `json:"source" validate:"required,oneof=word-tagger sentiment severity age hash text"`
	Tags    []RawTag    `json:"tags,omitempty" validate:"dive"`
	Hash    *string     `json:"hash,omitempty"`
	Context *Context    `json:"context,omitempty"`
	Result  []AgeResult `json:"result,omitempty" validate:"dive"`
}

func (s *Submission) HasMinorContext() bool {
	return s.Context != nil && s.Context.HasMinor != nil && *s.Context.HasMinor
}
