package automod

import (
	"context"
	"testing"

	"github.com/bluesky-social/mediamod/automod/engine"
	"github.com/bluesky-social/mediamod/automod/scan"
	"github.com/bluesky-social/mediamod/models"

	"github.com/stretchr/testify/assert"
)

func TestProcessThroughAliases(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fix := engine.EngineTestFixture()

	var eng *Engine = fix.Engine
	_, err := fix.NewMedia(ctx, models.MediaItem{ID: 11, Prompt: "a beach at sunset"})
	assert.NoError(err)

	sub := &Submission{
		MediaID: 11,
		Source:  scan.SourceSeverity,
		Tags:    []RawTag{{Name: "r"}, {Name: "adult"}},
	}
	var out *Outcome
	out, err = eng.ProcessSubmission(ctx, sub)
	assert.NoError(err)
	eng.Wait()
	assert.Equal(models.StateScanned, out.State)
	assert.Equal(LevelR, out.Level)

	_, err = eng.ProcessSubmission(ctx, &Submission{MediaID: 99, Source: scan.SourceSeverity})
	assert.ErrorIs(err, ErrMediaNotFound)

	_, err = eng.ProcessSubmission(ctx, &Submission{Source: scan.SourceSeverity})
	var verr *ValidationError
	assert.ErrorAs(err, &verr)
}
