package modrule

import (
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/bluesky-social/mediamod/models"

	"github.com/stretchr/testify/assert"
)

func TestDecodeAndMatch(t *testing.T) {
	assert := assert.New(t)

	s := &Subject{
		Tags:   []string{"realistic", "pg-13", "smile"},
		Fields: map[string]string{"prompt": "Photo of a Sunset", "generationTool": "comfyui"},
	}

	fixtures := []struct {
		def  string
		want bool
	}{
		{def: `{"type":"tag","tag":"realistic"}`, want: true},
		{def: `{"type":"tag","tag":"anime"}`, want: false},
		{def: `{"type":"anyTag","tags":["anime","smile"]}`, want: true},
		{def: `{"type":"allTags","tags":["realistic","smile"]}`, want: true},
		{def: `{"type":"allTags","tags":["realistic","anime"]}`, want: false},
		{def: `{"type":"fieldContains","field":"prompt","value":"sunset"}`, want: true},
		{def: `{"type":"fieldContains","field":"negativePrompt","value":"sunset"}`, want: false},
		{def: `{"type":"fieldMatches","field":"generationTool","pattern":"^comfy"}`, want: true},
		{def: `{"type":"and","rules":[{"type":"tag","tag":"realistic"},{"type":"not","rule":{"type":"tag","tag":"anime"}}]}`, want: true},
		{def: `{"type":"or","rules":[{"type":"tag","tag":"anime"},{"type":"tag","tag":"cartoon"}]}`, want: false},
	}
	for _, fix := range fixtures {
		p, err := Decode([]byte(fix.def))
		assert.NoError(err, fix.def)
		if p != nil {
			assert.Equal(fix.want, p.Match(s), fix.def)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	assert := assert.New(t)

	for _, def := range []string{
		``,
		`null`,
		`{`,
		`{}`,
		`{"type":"regex"}`,
		`{"type":"tag"}`,
		`{"type":"anyTag","tags":[]}`,
		`{"type":"fieldMatches","field":"prompt","pattern":"("}`,
		`{"type":"and","rules":[]}`,
		`{"type":"not"}`,
		`{"type":"or","rules":[{"type":"tag","tag":"a"},{"type":"bogus"}]}`,
	} {
		_, err := Decode([]byte(def))
		assert.Error(err, def)
	}

	deep := strings.Repeat(`{"type":"not","rule":`, MaxDepth+2) + `{"type":"tag","tag":"a"}` + strings.Repeat(`}`, MaxDepth+2)
	_, err := Decode([]byte(deep))
	assert.Error(err)
}

func TestEvaluateFirstMatch(t *testing.T) {
	assert := assert.New(t)
	eng := NewEngine(slog.Default())
	s := &Subject{Tags: []string{"realistic"}, Fields: map[string]string{}}

	rules := []models.ModerationRule{
		{ID: 1, Enabled: true, Action: models.RuleActionBlock, Definition: `{"type":"tag","tag":"gore"}`},
		{ID: 2, Enabled: false, Action: models.RuleActionApprove, Definition: `{"type":"tag","tag":"realistic"}`},
		{ID: 3, Enabled: true, Action: models.RuleActionHold, Definition: `{"type":"tag","tag":"realistic"}`},
		{ID: 4, Enabled: true, Action: models.RuleActionBlock, Reason: "never", Definition: `{"type":"tag","tag":"realistic"}`},
	}
	m, errs := eng.Evaluate(rules, s)
	assert.Empty(errs)
	assert.NotNil(m)
	assert.Equal(uint(3), m.Rule.ID)
	assert.Equal(models.RuleActionHold, m.Action)
	assert.Equal(DefaultHoldReason, m.Reason)

	m, errs = eng.Evaluate(rules[:2], s)
	assert.Empty(errs)
	assert.Nil(m)
}

func TestEvaluateSkipsBrokenRules(t *testing.T) {
	assert := assert.New(t)
	eng := NewEngine(slog.Default())
	s := &Subject{Tags: []string{"realistic"}, Fields: map[string]string{}}

	rules := []models.ModerationRule{
		{ID: 1, Enabled: true, Action: models.RuleActionBlock, Definition: `{"type":"bogus"}`},
		{ID: 2, Enabled: true, Action: models.RuleAction("delete"), Definition: `{"type":"tag","tag":"realistic"}`},
		{ID: 3, Enabled: true, Action: models.RuleActionBlock, Reason: "realistic content", Definition: `{"type":"tag","tag":"realistic"}`},
	}
	m, errs := eng.Evaluate(rules, s)
	assert.Equal(2, len(errs))
	var rerr *RuleEvaluationError
	assert.True(errors.As(errs[0], &rerr))
	assert.Equal(uint(1), rerr.RuleID)
	assert.NotNil(m)
	assert.Equal("realistic content", m.Reason)
}

func TestZeroValueEngine(t *testing.T) {
	assert := assert.New(t)
	eng := &Engine{}
	s := &Subject{Tags: []string{"realistic"}, Fields: map[string]string{}}

	rules := []models.ModerationRule{
		{ID: 1, Enabled: true, Action: models.RuleActionBlock, Definition: `{"type":"tag","tag":"gore"}`},
		{ID: 2, Enabled: true, Action: models.RuleActionHold, Definition: `{"type":"tag","tag":"realistic"}`},
	}
	m, errs := eng.Evaluate(rules, s)
	assert.Empty(errs)
	if assert.NotNil(m) {
		assert.Equal(uint(2), m.Rule.ID)
	}

	// broken rules are still reported without a logger configured
	_, errs = eng.Evaluate([]models.ModerationRule{{ID: 3, Enabled: true, Action: models.RuleActionBlock, Definition: `{`}}, s)
	assert.Equal(1, len(errs))
}

func TestSubjectFor(t *testing.T) {
	assert := assert.New(t)

	s := SubjectFor(&models.MediaItem{UserID: 12, Prompt: "a cat", GenerationTool: "comfyui"}, []string{"cat"}, 4)
	assert.Equal("a cat", s.Fields["prompt"])
	assert.Equal("4", s.Fields["level"])
	assert.Equal("12", s.Fields["userId"])
	assert.True(s.HasTag("cat"))
}
