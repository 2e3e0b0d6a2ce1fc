package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bluesky-social/mediamod/automod/escalation"
	"github.com/bluesky-social/mediamod/automod/modrule"
	"github.com/bluesky-social/mediamod/automod/reconcile"
	"github.com/bluesky-social/mediamod/automod/scan"
	"github.com/bluesky-social/mediamod/models"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var (
	// media younger than this still has its first-scanned time moved forward by later scans
	FirstScanWindow = 24 * time.Hour
)

type gathered struct {
	tags          []reconcile.ResolvedTag
	rules         []models.ModerationRule
	resourceMinor bool
	newUser       bool
}

// Fetches everything the decision needs, concurrently.
func (eng *Engine) gather(ctx context.Context, media *models.MediaItem) (*gathered, error) {
	var g gathered
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		assocs, err := eng.Media.ListMediaTags(ctx, media.ID)
		if err != nil {
			return scan.Transient("listing media tags", err)
		}
		g.tags, err = eng.Reconciler.Annotate(ctx, assocs)
		return err
	})
	eg.Go(func() error {
		var err error
		g.rules, err = eng.Rules.ModerationRules(ctx)
		if err != nil {
			return scan.Transient("fetching moderation rules", err)
		}
		return nil
	})
	eg.Go(func() error {
		if eng.Resources == nil || len(media.ResourceIDs) == 0 {
			return nil
		}
		var err error
		g.resourceMinor, err = eng.Resources.ResourcesDepictMinor(ctx, media.ResourceIDs)
		if err != nil {
			return scan.Transient("checking resources", err)
		}
		return nil
	})
	eg.Go(func() error {
		var err error
		g.newUser, err = eng.isNewUser(ctx, media.UserID)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return &g, nil
}

// Gate is open: compute and persist the disposition.
func (eng *Engine) decide(ctx context.Context, logger *slog.Logger, media *models.MediaItem) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "decide")
	defer span.End()

	g, err := eng.gather(ctx, media)
	if err != nil {
		return nil, err
	}
	f := &Facts{
		Media: media,
		Tags:  g.tags,
		Level: AggregateLevel(g.tags),
	}
	names := reconcile.Names(g.tags, false)

	f.Escalation, err = eng.Escalation.Evaluate(ctx, &escalation.Input{
		Media:         media,
		Tags:          g.tags,
		Level:         f.Level,
		ResourceMinor: g.resourceMinor,
		NewUser:       g.newUser,
	})
	if err != nil {
		return nil, err
	}
	// rule errors are logged by the rule engine; the rule is skipped
	var ruleErrs []error
	f.Rule, ruleErrs = eng.ModRules.Evaluate(g.rules, modrule.SubjectFor(media, names, f.Level))
	modRuleErrorCount.Add(float64(len(ruleErrs)))

	stage, verdict, err := eng.runStages(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("decision stage: %w", err)
	}
	review := reviewReason(f)

	var prev models.IngestionState
	updated, err := eng.Media.UpdateMedia(ctx, media.ID, func(m *models.MediaItem) error {
		prev = m.IngestionState
		return applyVerdict(m, f, verdict, review, time.Now().UTC())
	})
	if errors.Is(err, errNoChange) {
		// already blocked by an earlier pass
		if updated, err = eng.Media.GetMedia(ctx, media.ID); err != nil {
			return nil, scan.Transient("fetching media", err)
		}
		logger.Info("media already finalized", "state", updated.IngestionState)
		return outcomeFor(updated, true, stage, names), nil
	}
	if err != nil {
		return nil, scan.Transient("persisting disposition", err)
	}

	span.SetAttributes(
		attribute.String("stage", stage),
		attribute.String("state", string(updated.IngestionState)),
		attribute.Int("level", f.Level),
	)
	dispositionCount.WithLabelValues(string(updated.IngestionState), stage).Inc()
	eng.dispatchEffects(logger, prev, updated, f, names)
	eng.canonicalLogLine(logger, updated, f, stage, verdict)
	return outcomeFor(updated, true, stage, names), nil
}

// Applies a verdict to a freshly read record. Blocked is final; Scanned keeps its state and only has severity and review status refreshed. Sticky flags are only ever set.
func applyVerdict(m *models.MediaItem, f *Facts, v *Verdict, review *string, now time.Time) error {
	if m.IngestionState == models.StateBlocked {
		return errNoChange
	}
	if !m.LevelLocked {
		m.NsfwLevel = f.Level
	}
	if f.Escalation != nil {
		if f.Escalation.FiredStage("poi") {
			m.PointOfInterest = true
		}
		if f.Escalation.FiredStage("minor") {
			m.MinorDepiction = true
		}
	}
	m.LastError = nil

	if m.IngestionState != models.StateScanned && v.State == models.StateBlocked {
		reason := v.BlockReason
		m.IngestionState = models.StateBlocked
		m.BlockReason = &reason
		m.NeedsReview = nil
		return nil
	}

	m.IngestionState = models.StateScanned
	m.NeedsReview = review
	if v.State == models.StateBlocked && review == nil {
		// would have been blocked, but the state is already final; flag for a human instead
		r := escalation.ReasonModeration
		m.NeedsReview = &r
	}
	if m.ScannedAt == nil || now.Sub(m.CreatedAt) < FirstScanWindow {
		m.ScannedAt = &now
	}
	return nil
}

func (eng *Engine) canonicalLogLine(logger *slog.Logger, m *models.MediaItem, f *Facts, stage string, v *Verdict) {
	var escalated, rule string
	if f.Escalation != nil && f.Escalation.Winner != nil {
		escalated = f.Escalation.Winner.Stage
	}
	if f.Rule != nil {
		rule = fmt.Sprintf("%d:%s", f.Rule.Rule.ID, f.Rule.Action)
	}
	logger.Info("canonical-disposition-line",
		"state", m.IngestionState,
		"stage", stage,
		"verdict", v.State,
		"level", f.Level,
		"storedLevel", m.NsfwLevel,
		"levelLocked", m.LevelLocked,
		"tags", len(f.Tags),
		"escalation", escalated,
		"rule", rule,
		"needsReview", derefString(m.NeedsReview),
		"blockReason", derefString(m.BlockReason),
	)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
