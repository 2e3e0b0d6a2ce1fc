package escalation

import (
	"context"
	"testing"

	"github.com/bluesky-social/mediamod/automod/level"
	"github.com/bluesky-social/mediamod/automod/reconcile"
	"github.com/bluesky-social/mediamod/automod/setstore"
	"github.com/bluesky-social/mediamod/models"

	"github.com/stretchr/testify/assert"
)

func testEvaluator() *Evaluator {
	sets := setstore.NewMemSetStore()
	sets.Add(SetPOINames, "jane example")
	sets.Add(SetPOITags, "celebrity")
	sets.Add(SetMinorTags, "minor", "toddler")
	sets.Add(SetAdultTags, "adult")
	sets.Add(SetStylizedTags, "stylized", "anime")
	sets.Add(SetMinorTerms, "child", "schoolgirl")
	return &Evaluator{Sets: sets}
}

func tags(names ...string) []reconcile.ResolvedTag {
	out := make([]reconcile.ResolvedTag, len(names))
	for i, n := range names {
		out[i] = reconcile.ResolvedTag{Name: n, Confidence: 90}
		if l, ok := level.FromLadderTag(n); ok {
			out[i].Level = l
		}
	}
	return out
}

func reason(t *testing.T, ev *Evaluator, in *Input) string {
	out, err := ev.Evaluate(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if out.Winner == nil {
		return ""
	}
	return out.Winner.Reason
}

func TestNoEscalation(t *testing.T) {
	assert := assert.New(t)
	ev := testEvaluator()

	assert.Equal("", reason(t, ev, &Input{Media: &models.MediaItem{}, Tags: tags("pg", "cat"), Level: level.PG}))
	// nsfw from an established account
	assert.Equal("", reason(t, ev, &Input{Media: &models.MediaItem{}, Tags: tags("x", "adult"), Level: level.X}))
}

func TestMinorStage(t *testing.T) {
	assert := assert.New(t)
	ev := testEvaluator()
	m := &models.MediaItem{}

	fixtures := []struct {
		tags  []string
		level int
		want  string
	}{
		{tags: []string{"toddler"}, level: level.PG, want: ReasonMinor},
		{tags: []string{"toddler", "adult"}, level: level.PG, want: ""},
		// stylized and safe is exempt, stylized and nsfw is not
		{tags: []string{"minor", "anime"}, level: level.PG13, want: ""},
		{tags: []string{"minor", "anime"}, level: level.R, want: ReasonMinor},
		{tags: []string{"pg", "child-8", "adult"}, level: level.PG, want: ReasonMinor},
		{tags: []string{"pg-13", "child-10", "adult"}, level: level.PG13, want: ""},
		{tags: []string{"pg-13", "child-10", "realistic", "adult"}, level: level.PG13, want: ReasonMinor},
		{tags: []string{"r", "child-15", "realistic", "adult"}, level: level.R, want: ReasonMinor},
	}
	for _, fix := range fixtures {
		assert.Equal(fix.want, reason(t, ev, &Input{Media: m, Tags: tags(fix.tags...), Level: fix.level}), "tags: %v", fix.tags)
	}

	assert.Equal(ReasonMinor, reason(t, ev, &Input{Media: m, Tags: tags("pg"), Level: level.PG, ResourceMinor: true}))
	assert.Equal(ReasonMinor, reason(t, ev, &Input{Media: &models.MediaItem{MinorDepiction: true}, Tags: tags("pg"), Level: level.PG}))
	assert.Equal(ReasonMinor, reason(t, ev, &Input{Media: &models.MediaItem{Prompt: "a schoolgirl"}, Tags: tags("pg"), Level: level.PG}))
	assert.Equal("", reason(t, ev, &Input{Media: &models.MediaItem{Prompt: "a woman", NegativePrompt: "child"}, Tags: tags("pg"), Level: level.PG}))
}

func TestMinorStageReviewer(t *testing.T) {
	assert := assert.New(t)
	ev := testEvaluator()

	out, err := ev.Evaluate(context.Background(), &Input{Media: &models.MediaItem{}, Tags: tags("pg-13", "child-10", "realistic"), Level: level.PG13})
	assert.NoError(err)
	assert.Equal(ReviewerSenior, out.Winner.Reviewer)
	assert.Equal("minor", out.Winner.Stage)
}

func TestPOIOverTag(t *testing.T) {
	assert := assert.New(t)
	ev := testEvaluator()

	ts := tags("celebrity", "gore")
	ts[1].Level = level.Blocked
	ts[1].Blocked = true
	out, err := ev.Evaluate(context.Background(), &Input{Media: &models.MediaItem{}, Tags: ts, Level: level.Blocked})
	assert.NoError(err)
	assert.Equal(ReasonPOI, out.Winner.Reason)
	assert.Equal(ReviewerModerator, out.Winner.Reviewer)
	// lower-priority stages still recorded
	assert.True(out.FiredStage("tag"))
	assert.False(out.FiredStage("minor"))

	assert.Equal(ReasonPOI, reason(t, ev, &Input{Media: &models.MediaItem{PointOfInterest: true}, Level: level.PG}))
	assert.Equal(ReasonPOI, reason(t, ev, &Input{Media: &models.MediaItem{Prompt: "portrait of jane example"}, Level: level.PG}))
}

func TestTagStage(t *testing.T) {
	assert := assert.New(t)
	ev := testEvaluator()
	m := &models.MediaItem{}

	ts := tags("gore")
	ts[0].Blocked = true
	assert.Equal(ReasonTag, reason(t, ev, &Input{Media: m, Tags: ts, Level: level.Blocked}))

	// ignored tags don't count
	ts[0].Blocked = false
	ts[0].Disabled = true
	assert.Equal("", reason(t, ev, &Input{Media: m, Tags: ts, Level: level.PG}))

	assert.Equal(ReasonModeration, reason(t, ev, &Input{Media: m, Tags: tags("r", "unconscious", "adult"), Level: level.R}))
	assert.Equal("", reason(t, ev, &Input{Media: m, Tags: tags("pg-13", "unconscious", "adult"), Level: level.PG13}))
}

func TestNewUserStage(t *testing.T) {
	assert := assert.New(t)
	ev := testEvaluator()
	m := &models.MediaItem{}

	out, err := ev.Evaluate(context.Background(), &Input{Media: m, Tags: tags("r", "adult"), Level: level.R, NewUser: true})
	assert.NoError(err)
	assert.Equal(ReasonNewUser, out.Winner.Reason)
	assert.Equal(ReviewerCommunity, out.Winner.Reviewer)

	assert.Equal("", reason(t, ev, &Input{Media: m, Tags: tags("pg-13", "adult"), Level: level.PG13, NewUser: true}))
	assert.Equal(ReasonModeration, reason(t, ev, &Input{Media: m, Tags: tags("r", "unconscious", "adult"), Level: level.R, NewUser: true}))
}

func TestIsYoungAgeTag(t *testing.T) {
	assert := assert.New(t)

	assert.True(IsYoungAgeTag("child-10"))
	assert.True(IsYoungAgeTag("child-0"))
	assert.False(IsYoungAgeTag("child-x"))
	assert.False(IsYoungAgeTag("child"))
	assert.False(IsYoungAgeTag("adult"))
}
