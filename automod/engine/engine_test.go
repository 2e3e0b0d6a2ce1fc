package engine

import (
	"context"
	"errors"
	"maps"
	"net/http"
	"slices"
	"testing"
	"time"

	"github.com/bluesky-social/mediamod/automod/countstore"
	"github.com/bluesky-social/mediamod/automod/escalation"
	"github.com/bluesky-social/mediamod/automod/level"
	"github.com/bluesky-social/mediamod/automod/reviewqueue"
	"github.com/bluesky-social/mediamod/automod/scan"
	"github.com/bluesky-social/mediamod/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func conf(v float64) *float64 {
	return &v
}

func severitySub(mediaID int64, tags ...scan.RawTag) *scan.Submission {
	return &scan.Submission{
		MediaID: mediaID,
		Status:  scan.StatusSuccess,
		Source:  scan.SourceSeverity,
		Tags:    tags,
	}
}

func mustMedia(t *testing.T, fix *TestFixture, m models.MediaItem) *models.MediaItem {
	out, err := fix.NewMedia(context.Background(), m)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func reload(t *testing.T, fix *TestFixture, id int64) *models.MediaItem {
	m, err := fix.Store.GetMedia(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func minorScenario(mediaID int64) *scan.Submission {
	return severitySub(mediaID,
		scan.RawTag{Name: "pg-13"},
		scan.RawTag{Name: "child-10", Confidence: conf(80)},
		scan.RawTag{Name: "realistic", Confidence: conf(90)},
	)
}

func TestMinorEscalationScenario(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := EngineTestFixture()
	eng := fix.Engine

	mustMedia(t, fix, models.MediaItem{ID: 7, Prompt: "a family picnic"})
	out, err := eng.ProcessSubmission(ctx, minorScenario(7))
	assert.NoError(err)
	eng.Wait()

	assert.True(out.GateOpen)
	assert.Equal(models.StateScanned, out.State)
	assert.Equal(StageScanned, out.Stage)
	if assert.NotNil(out.NeedsReview) {
		assert.Equal(escalation.ReasonMinor, *out.NeedsReview)
	}
	assert.Equal(level.PG13, out.Level)

	m := reload(t, fix, 7)
	assert.True(m.MinorDepiction)
	assert.NotNil(m.ScannedAt)
	assert.Nil(m.BlockReason)

	// always admitted, at high priority, for senior reviewers
	item, err := fix.Queue.Next(ctx, string(escalation.ReviewerSenior))
	assert.NoError(err)
	if assert.NotNil(item) {
		assert.Equal(int64(7), item.MediaID)
		assert.Equal(reviewqueue.PriorityHigh, item.Priority)
	}
	assert.True(fix.Search.Has(7))
}

func TestBlockRuleScenario(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := EngineTestFixture()
	eng := fix.Engine

	assert.NoError(fix.Store.SaveModerationRule(ctx, &models.ModerationRule{
		Order:      1,
		Enabled:    true,
		Action:     models.RuleActionBlock,
		Reason:     "realistic content not allowed",
		Definition: `{"type":"tag","tag":"realistic"}`,
	}))
	mustMedia(t, fix, models.MediaItem{ID: 8, UserID: 3, Prompt: "a family picnic"})

	out, err := eng.ProcessSubmission(ctx, minorScenario(8))
	assert.NoError(err)
	eng.Wait()

	assert.Equal(models.StateBlocked, out.State)
	assert.Equal("moderationRule", out.Stage)
	if assert.NotNil(out.BlockReason) {
		assert.Equal("realistic content not allowed", *out.BlockReason)
	}
	assert.Nil(out.NeedsReview)
	assert.Equal(1, fix.Notifier.Count(3))
	assert.False(fix.Search.Has(8))

	// replay is a no-op: same state, no second notice
	out, err = eng.ProcessSubmission(ctx, minorScenario(8))
	assert.NoError(err)
	eng.Wait()
	assert.Equal(models.StateBlocked, out.State)
	assert.Equal(1, fix.Notifier.Count(3))
}

func TestIdempotentReplay(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := EngineTestFixture()
	eng := fix.Engine

	mustMedia(t, fix, models.MediaItem{ID: 9, Prompt: "a mountain lake"})
	sub := severitySub(9, scan.RawTag{Name: "pg"}, scan.RawTag{Name: "landscape", Confidence: conf(90)})

	first, err := eng.ProcessSubmission(ctx, sub)
	assert.NoError(err)
	firstTags, err := fix.Store.ListMediaTags(ctx, 9)
	assert.NoError(err)
	firstMedia := reload(t, fix, 9)

	second, err := eng.ProcessSubmission(ctx, sub)
	assert.NoError(err)
	eng.Wait()
	secondTags, err := fix.Store.ListMediaTags(ctx, 9)
	assert.NoError(err)
	secondMedia := reload(t, fix, 9)

	assert.Equal(first.State, second.State)
	assert.Equal(first.Level, second.Level)
	assert.Equal(first.Tags, second.Tags)
	assert.Equal(len(firstTags), len(secondTags))
	assert.Equal(firstMedia.NeedsReview, secondMedia.NeedsReview)
	assert.ElementsMatch(slices.Collect(maps.Keys(firstMedia.ScanCompletion)), slices.Collect(maps.Keys(secondMedia.ScanCompletion)))
}

func TestConfidenceMerge(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := EngineTestFixture()

	mustMedia(t, fix, models.MediaItem{ID: 10, Prompt: "a smiling dog"})
	// word-form scanner has no per-tag thresholds, so both reach reconciliation
	out, err := fix.Engine.ProcessSubmission(ctx, &scan.Submission{
		MediaID: 10,
		Source:  scan.SourceWordTagger,
		Tags: []scan.RawTag{
			{Name: "smile", Confidence: conf(0.4)},
			{Name: "smile", Confidence: conf(0.85)},
		},
	})
	assert.NoError(err)
	assert.False(out.GateOpen)

	tags, err := fix.Store.ListMediaTags(ctx, 10)
	assert.NoError(err)
	found := false
	for _, t := range tags {
		if t.Name == "smile" {
			found = true
			assert.Equal(85, t.Confidence)
		}
	}
	assert.True(found)
}

func TestCompletionGate(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := EngineTestFixture()
	eng := fix.Engine
	eng.RequiredSources = []scan.Source{scan.SourceSeverity, scan.SourceWordTagger}

	mustMedia(t, fix, models.MediaItem{ID: 11, Prompt: "a bowl of fruit"})
	out, err := eng.ProcessSubmission(ctx, severitySub(11, scan.RawTag{Name: "pg"}))
	assert.NoError(err)
	assert.False(out.GateOpen)
	assert.Equal(models.StatePending, out.State)
	assert.Equal(models.StatePending, reload(t, fix, 11).IngestionState)

	out, err = eng.ProcessSubmission(ctx, &scan.Submission{
		MediaID: 11,
		Source:  scan.SourceWordTagger,
		Tags:    []scan.RawTag{{Name: "still_life"}},
	})
	assert.NoError(err)
	eng.Wait()
	assert.True(out.GateOpen)
	assert.Equal(models.StateScanned, out.State)
	assert.Contains(out.Tags, "still life")
	assert.Contains(out.Tags, "pg")
}

func TestBlockedTagPrecedence(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := EngineTestFixture()
	eng := fix.Engine

	_, err := eng.SetTagLevel(ctx, fix.Store, "gore", level.Blocked)
	assert.NoError(err)

	mustMedia(t, fix, models.MediaItem{ID: 12, Prompt: "a red landscape"})
	out, err := eng.ProcessSubmission(ctx, severitySub(12, scan.RawTag{Name: "x"}, scan.RawTag{Name: "gore", Confidence: conf(95)}))
	assert.NoError(err)
	assert.Equal(models.StateBlocked, out.State)
	assert.Equal("blockedTag", out.Stage)
	assert.Equal("blocked tag: gore", *out.BlockReason)
	assert.Equal(level.Blocked, out.Level)

	// an approve rule matched first lets it through, and clears escalation
	assert.NoError(fix.Store.SaveModerationRule(ctx, &models.ModerationRule{
		Order:      1,
		Enabled:    true,
		Action:     models.RuleActionApprove,
		Definition: `{"type":"tag","tag":"gore"}`,
	}))
	mustMedia(t, fix, models.MediaItem{ID: 13, Prompt: "a red landscape"})
	out, err = eng.ProcessSubmission(ctx, severitySub(13, scan.RawTag{Name: "x"}, scan.RawTag{Name: "gore", Confidence: conf(95)}))
	assert.NoError(err)
	eng.Wait()
	assert.Equal(models.StateScanned, out.State)
	assert.Nil(out.NeedsReview)
}

func TestIgnoredTagDoesNotBlock(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := EngineTestFixture()
	eng := fix.Engine

	_, err := eng.SetTagLevel(ctx, fix.Store, "Gore", level.Blocked)
	assert.NoError(err)
	assert.NoError(eng.SetTagIgnored(ctx, scan.SourceSeverity, "gore", true))

	mustMedia(t, fix, models.MediaItem{ID: 14, Prompt: "a red landscape"})
	out, err := eng.ProcessSubmission(ctx, severitySub(14, scan.RawTag{Name: "pg"}, scan.RawTag{Name: "gore", Confidence: conf(95)}))
	assert.NoError(err)
	eng.Wait()
	assert.Equal(models.StateScanned, out.State)
	assert.Equal(level.PG, out.Level)
	assert.NotContains(out.Tags, "gore")
}

func TestTagLevelChangeInvalidatesCache(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := EngineTestFixture()
	eng := fix.Engine

	mustMedia(t, fix, models.MediaItem{ID: 15, Prompt: "a lamp"})
	out, err := eng.ProcessSubmission(ctx, severitySub(15, scan.RawTag{Name: "pg"}, scan.RawTag{Name: "weird thing"}))
	assert.NoError(err)
	assert.Equal(models.StateScanned, out.State)

	_, err = eng.SetTagLevel(ctx, fix.Store, "weird thing", level.Blocked)
	assert.NoError(err)

	mustMedia(t, fix, models.MediaItem{ID: 16, Prompt: "a lamp"})
	out, err = eng.ProcessSubmission(ctx, severitySub(16, scan.RawTag{Name: "pg"}, scan.RawTag{Name: "weird thing"}))
	assert.NoError(err)
	eng.Wait()
	assert.Equal(models.StateBlocked, out.State)
}

func TestSeverityLock(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := EngineTestFixture()

	mustMedia(t, fix, models.MediaItem{ID: 17, Prompt: "a portrait", NsfwLevel: level.PG, LevelLocked: true})
	out, err := fix.Engine.ProcessSubmission(ctx, severitySub(17, scan.RawTag{Name: "x"}))
	assert.NoError(err)
	fix.Engine.Wait()
	assert.Equal(models.StateScanned, out.State)
	assert.Equal(level.PG, out.Level)
	assert.Equal(level.PG, reload(t, fix, 17).NsfwLevel)
}

func TestUnsuccessfulSubmissions(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := EngineTestFixture()
	eng := fix.Engine

	mustMedia(t, fix, models.MediaItem{ID: 18, Prompt: "a tree"})
	out, err := eng.ProcessSubmission(ctx, &scan.Submission{MediaID: 18, Source: scan.SourceSeverity, Status: scan.StatusNotFound})
	assert.NoError(err)
	assert.Equal(models.StateNotFound, out.State)
	m := reload(t, fix, 18)
	assert.NotNil(m.LastError)
	assert.Empty(m.ScanCompletion)

	// retry brings it back through pending to a disposition
	out, err = eng.ProcessSubmission(ctx, severitySub(18, scan.RawTag{Name: "pg"}))
	assert.NoError(err)
	eng.Wait()
	assert.Equal(models.StateScanned, out.State)
	assert.Nil(reload(t, fix, 18).LastError)

	// finalized media ignores later scanner failures
	out, err = eng.ProcessSubmission(ctx, &scan.Submission{MediaID: 18, Source: scan.SourceSeverity, Status: scan.StatusUnscannable})
	assert.NoError(err)
	assert.Equal(models.StateScanned, out.State)

	mustMedia(t, fix, models.MediaItem{ID: 19})
	out, err = eng.ProcessSubmission(ctx, &scan.Submission{MediaID: 19, Source: scan.SourceSeverity, Status: scan.StatusUnscannable})
	assert.NoError(err)
	assert.Equal(models.StateError, out.State)
}

func TestSubmissionErrors(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := EngineTestFixture()

	_, err := fix.Engine.ProcessSubmission(ctx, &scan.Submission{MediaID: 0, Source: scan.SourceSeverity})
	assert.True(scan.IsValidation(err))
	assert.False(scan.IsRetryable(err))
	assert.Equal(http.StatusBadRequest, scan.HTTPStatus(err))

	_, err = fix.Engine.ProcessSubmission(ctx, severitySub(999, scan.RawTag{Name: "pg"}))
	assert.True(errors.Is(err, scan.ErrMediaNotFound))
	assert.Equal(http.StatusNotFound, scan.HTTPStatus(err))
}

func TestPreGateBlockingStages(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := EngineTestFixture()
	eng := fix.Engine

	fixtures := []struct {
		media  models.MediaItem
		stage  string
		reason string
	}{
		{media: models.MediaItem{ID: 20}, stage: "aiVerification", reason: ReasonUnverifiedAI},
		{media: models.MediaItem{ID: 21, GenerationTool: "ComfyUI"}, stage: StageScanned},
		{media: models.MediaItem{ID: 22, GenerationTool: "camera"}, stage: "aiVerification", reason: ReasonUnverifiedAI},
		{media: models.MediaItem{ID: 23, Prompt: "a beach", ResourceIDs: models.Int64List{5, 666}}, stage: "restrictedResource", reason: ReasonPolicyViolation},
		{media: models.MediaItem{ID: 24, Prompt: "nude schoolgirl"}, stage: "promptAudit", reason: "prompt combines minor and nsfw terms"},
		{media: models.MediaItem{ID: 25, Prompt: "bestiality"}, stage: "promptAudit", reason: "prompt contains blocked terms: bestiality"},
		{media: models.MediaItem{ID: 26, Prompt: "nude woman", NegativePrompt: "schoolgirl"}, stage: StageScanned},
	}
	for _, f := range fixtures {
		mustMedia(t, fix, f.media)
		out, err := eng.ProcessSubmission(ctx, severitySub(f.media.ID, scan.RawTag{Name: "x"}))
		assert.NoError(err)
		assert.Equal(f.stage, out.Stage, "media %d", f.media.ID)
		if f.reason != "" && assert.NotNil(out.BlockReason, "media %d", f.media.ID) {
			assert.Equal(models.StateBlocked, out.State)
			assert.Equal(f.reason, *out.BlockReason)
		}
	}

	// safe content skips the nsfw-gated stages
	mustMedia(t, fix, models.MediaItem{ID: 27})
	out, err := eng.ProcessSubmission(ctx, severitySub(27, scan.RawTag{Name: "pg"}))
	assert.NoError(err)
	eng.Wait()
	assert.Equal(models.StateScanned, out.State)
}

func TestNewUserEscalation(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := EngineTestFixture()

	assert.NoError(fix.Store.CreateMedia(ctx, &models.MediaItem{ID: 28, UserID: 50, Prompt: "a portrait"}))
	assert.NoError(fix.Store.SaveAccount(ctx, &models.Account{ID: 50, CreatedAt: time.Now().Add(-time.Hour)}))

	out, err := fix.Engine.ProcessSubmission(ctx, severitySub(28, scan.RawTag{Name: "r"}))
	assert.NoError(err)
	fix.Engine.Wait()
	if assert.NotNil(out.NeedsReview) {
		assert.Equal(escalation.ReasonNewUser, *out.NeedsReview)
	}
	n, err := fix.Queue.Len(ctx, string(escalation.ReviewerCommunity))
	assert.NoError(err)
	assert.Equal(1, n)
}

func TestBlockNoticeQuota(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := EngineTestFixture()

	for range QuotaBlockNoticeDay {
		assert.NoError(fix.Counters.Increment(ctx, countstore.UserKey(CounterBlockNotices, 4)))
	}
	mustMedia(t, fix, models.MediaItem{ID: 29, UserID: 4})
	out, err := fix.Engine.ProcessSubmission(ctx, severitySub(29, scan.RawTag{Name: "x"}))
	assert.NoError(err)
	fix.Engine.Wait()
	assert.Equal(models.StateBlocked, out.State)
	assert.Equal(0, fix.Notifier.Count(4))

	// blocked users are still counted when the notice is suppressed
	n, err := fix.Engine.BlockedUserCount(ctx, countstore.PeriodDay)
	assert.NoError(err)
	assert.Equal(1, n)

	// one notice left for user 5, and two uploads blocked at once
	for range QuotaBlockNoticeDay - 1 {
		assert.NoError(fix.Counters.Increment(ctx, countstore.UserKey(CounterBlockNotices, 5)))
	}
	mustMedia(t, fix, models.MediaItem{ID: 33, UserID: 5})
	mustMedia(t, fix, models.MediaItem{ID: 34, UserID: 5})
	for _, id := range []int64{33, 34} {
		_, err := fix.Engine.ProcessSubmission(ctx, severitySub(id, scan.RawTag{Name: "x"}))
		assert.NoError(err)
	}
	fix.Engine.Wait()
	assert.Equal(1, fix.Notifier.Count(5))
	n, err = fix.Engine.BlockedUserCount(ctx, countstore.PeriodTotal)
	assert.NoError(err)
	assert.Equal(2, n)
}

func TestQueueAdmission(t *testing.T) {
	assert := assert.New(t)
	now := time.Now()

	// pure function of the ID
	for range 3 {
		assert.True(Sampled(40))
		assert.False(Sampled(41))
	}

	item := Admission(&models.MediaItem{ID: 40, NsfwLevel: level.X}, nil, now)
	if assert.NotNil(item) {
		assert.Equal(reviewqueue.PriorityLow, item.Priority)
		assert.Equal(ReasonSampled, item.Reason)
	}
	assert.Nil(Admission(&models.MediaItem{ID: 41, NsfwLevel: level.X}, nil, now))
	assert.Nil(Admission(&models.MediaItem{ID: 40, NsfwLevel: level.PG13}, nil, now))

	// needing review is never sampled out
	reason := escalation.ReasonPOI
	esc := &escalation.Outcome{Winner: &escalation.Result{Reason: escalation.ReasonPOI, Reviewer: escalation.ReviewerModerator}}
	item = Admission(&models.MediaItem{ID: 41, NsfwLevel: level.PG, NeedsReview: &reason}, esc, now)
	if assert.NotNil(item) {
		assert.Equal(reviewqueue.PriorityHigh, item.Priority)
		assert.Equal(string(escalation.ReviewerModerator), item.Reviewer)
	}
}

func TestApplyVerdict(t *testing.T) {
	assert := assert.New(t)
	now := time.Now()
	poi := &escalation.Outcome{Fired: []escalation.Result{{Stage: "poi", Reason: escalation.ReasonPOI}}}

	// scanned stays scanned; review refreshed, sticky flags set
	old := now.Add(-48 * time.Hour)
	m := &models.MediaItem{IngestionState: models.StateScanned, CreatedAt: old, ScannedAt: &old}
	err := applyVerdict(m, &Facts{Level: level.Blocked, Escalation: poi}, blocked("blocked tag: gore"), nil, now)
	assert.NoError(err)
	assert.Equal(models.StateScanned, m.IngestionState)
	assert.Equal(escalation.ReasonModeration, *m.NeedsReview)
	assert.True(m.PointOfInterest)
	assert.Equal(old, *m.ScannedAt)

	// blocked is final
	m = &models.MediaItem{IngestionState: models.StateBlocked}
	assert.ErrorIs(applyVerdict(m, &Facts{}, &Verdict{State: models.StateScanned}, nil, now), errNoChange)

	// recent media gets first-scanned time refreshed
	recent := now.Add(-time.Hour)
	m = &models.MediaItem{IngestionState: models.StatePending, CreatedAt: recent, ScannedAt: &recent}
	assert.NoError(applyVerdict(m, &Facts{}, &Verdict{State: models.StateScanned}, nil, now))
	assert.Equal(now, *m.ScannedAt)
}

func TestStagePanicRecordsFailure(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := EngineTestFixture()
	fix.Engine.Stages = []DecisionStage{
		{Name: "explode", Decide: func(ctx context.Context, eng *Engine, f *Facts) (*Verdict, error) {
			panic("boom")
		}},
	}

	mustMedia(t, fix, models.MediaItem{ID: 31, Prompt: "a quiet harbor"})
	out, err := fix.Engine.ProcessSubmission(ctx, severitySub(31, scan.RawTag{Name: "pg"}))
	assert.Error(err)
	assert.Nil(out)

	m := reload(t, fix, 31)
	assert.Equal(models.StateError, m.IngestionState)
	if assert.NotNil(m.LastError) {
		assert.Contains(*m.LastError, "boom")
	}

}

func TestBrokenRuleIsCounted(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := EngineTestFixture()

	assert.NoError(fix.Store.SaveModerationRule(ctx, &models.ModerationRule{
		Order:      1,
		Enabled:    true,
		Action:     models.RuleActionBlock,
		Definition: `{"type":"regex"}`,
	}))
	mustMedia(t, fix, models.MediaItem{ID: 32, Prompt: "a city street"})

	before := testutil.ToFloat64(modRuleErrorCount)
	out, err := fix.Engine.ProcessSubmission(ctx, severitySub(32, scan.RawTag{Name: "pg"}))
	assert.NoError(err)
	fix.Engine.Wait()
	assert.Equal(models.StateScanned, out.State)
	assert.Equal(before+1, testutil.ToFloat64(modRuleErrorCount))
}
