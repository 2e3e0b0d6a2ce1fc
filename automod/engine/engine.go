// Decision engine: reconciles scanner submissions for a media item and, once every required scanner has reported, decides the item's disposition.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bluesky-social/mediamod/automod/countstore"
	"github.com/bluesky-social/mediamod/automod/escalation"
	"github.com/bluesky-social/mediamod/automod/modrule"
	"github.com/bluesky-social/mediamod/automod/normalize"
	"github.com/bluesky-social/mediamod/automod/reconcile"
	"github.com/bluesky-social/mediamod/automod/reviewqueue"
	"github.com/bluesky-social/mediamod/automod/scan"
	"github.com/bluesky-social/mediamod/automod/setstore"
	"github.com/bluesky-social/mediamod/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("engine")

type MediaStore interface {
	GetMedia(ctx context.Context, id int64) (*models.MediaItem, error)
	// Runs fn against a freshly read record inside one atomic unit, then persists it. fn must not call back in to the store.
	UpdateMedia(ctx context.Context, id int64, fn func(m *models.MediaItem) error) (*models.MediaItem, error)
	ListMediaTags(ctx context.Context, mediaID int64) ([]models.TagOnMediaView, error)
}

type ScanTracker interface {
	// Atomically records that source has reported for the media item. Returns true once every required source has reported. Idempotent per source.
	RecordScanCompletion(ctx context.Context, mediaID int64, source string, required []string) (bool, error)
}

type RuleSource interface {
	// Enabled moderation rules, in evaluation order.
	ModerationRules(ctx context.Context) ([]models.ModerationRule, error)
}

type AccountSource interface {
	// Returns nil (and no error) for unknown accounts.
	GetAccount(ctx context.Context, userID int64) (*models.Account, error)
}

type ResourceSource interface {
	ResourcesDepictMinor(ctx context.Context, ids []int64) (bool, error)
}

// User-facing notification sink.
type Notifier interface {
	NotifyBlocked(ctx context.Context, media *models.MediaItem, reason string) error
}

// Internal alerting channel for moderators (eg, slack).
type Alerter interface {
	AlertBlocked(ctx context.Context, media *models.MediaItem, reason string, tags []string) error
}

type SearchIndexer interface {
	UpsertMedia(ctx context.Context, media *models.MediaItem, tags []string) error
	DeleteMedia(ctx context.Context, mediaID int64) error
}

// runtime for reconciling scan results, deciding dispositions, and dispatching side effects.
//
// Notifier, Alerts, Search, and Queue are optional.
type Engine struct {
	Logger     *slog.Logger
	Media      MediaStore
	Tracker    ScanTracker
	Rules      RuleSource
	Accounts   AccountSource
	Resources  ResourceSource
	Normalizer *normalize.Registry
	Reconciler *reconcile.Reconciler
	Escalation *escalation.Evaluator
	ModRules   *modrule.Engine
	Sets       setstore.SetStore
	Counters   countstore.CountStore
	Notifier   Notifier
	Alerts     Alerter
	Search     SearchIndexer
	Queue      reviewqueue.ReviewQueue
	// sources which must all report before a disposition is decided
	RequiredSources []scan.Source
	// defaults to DefaultDecisionStages() when nil
	Stages []DecisionStage

	// tracks in-flight side effects
	wg sync.WaitGroup
}

// Result of processing one submission.
type Outcome struct {
	MediaID int64 `json:"mediaId"`
	// whether every required source has now reported
	GateOpen bool                  `json:"gateOpen"`
	State    models.IngestionState `json:"state"`
	Level    int                   `json:"level"`
	// stage which decided the disposition, empty when the gate is closed
	Stage       string   `json:"stage,omitempty"`
	NeedsReview *string  `json:"needsReview,omitempty"`
	BlockReason *string  `json:"blockReason,omitempty"`
	Tags        []string `json:"tags"`
}

func (eng *Engine) requiredSources() []string {
	out := make([]string, len(eng.RequiredSources))
	for i, s := range eng.RequiredSources {
		out[i] = s.String()
	}
	return out
}

// Processes a single scanner submission. Errors should be classified by the caller with scan.IsRetryable or scan.HTTPStatus.
func (eng *Engine) ProcessSubmission(ctx context.Context, sub *scan.Submission) (out *Outcome, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "ProcessSubmission")
	defer span.End()

	// similar to an HTTP server, we want to recover any panics from decision logic
	validated := false
	defer func() {
		if r := recover(); r != nil {
			eng.Logger.Error("engine submission processing exception", "err", r)
			out = nil
			err = fmt.Errorf("submission processing panic: %v", r)
			if validated {
				eng.recordFailure(ctx, eng.Logger.With("media", sub.MediaID, "source", sub.Source), sub.MediaID, err)
			}
		}
		src := "unknown"
		if sub != nil {
			src = sub.Source.String()
		}
		submissionDuration.WithLabelValues(src).Observe(time.Since(start).Seconds())
		submissionCount.WithLabelValues(src).Inc()
		if err != nil {
			submissionErrorCount.WithLabelValues(src, errorClass(err)).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if err := sub.Validate(); err != nil {
		return nil, err
	}
	validated = true
	span.SetAttributes(
		attribute.Int64("media", sub.MediaID),
		attribute.String("source", sub.Source.String()),
		attribute.String("status", sub.Status.String()),
	)
	logger := eng.Logger.With("media", sub.MediaID, "source", sub.Source)

	media, err := eng.Media.GetMedia(ctx, sub.MediaID)
	if err != nil {
		if errors.Is(err, scan.ErrMediaNotFound) {
			logger.Warn("submission for unknown media")
			return nil, err
		}
		return nil, scan.Transient("fetching media", err)
	}

	if sub.Status != scan.StatusSuccess {
		return eng.processUnsuccessful(ctx, logger, media, sub)
	}

	media, err = eng.prepareMedia(ctx, media, sub)
	if err != nil {
		return nil, err
	}

	out, err = eng.processTags(ctx, logger, media, sub)
	if err != nil {
		eng.recordFailure(ctx, logger, sub.MediaID, err)
		return nil, err
	}
	return out, nil
}

// Scanner couldn't process the media. Tag processing is skipped entirely.
func (eng *Engine) processUnsuccessful(ctx context.Context, logger *slog.Logger, media *models.MediaItem, sub *scan.Submission) (*Outcome, error) {
	next := models.StateError
	if sub.Status == scan.StatusNotFound {
		next = models.StateNotFound
	}
	msg := fmt.Sprintf("%s scanner reported %s", sub.Source, sub.Status)

	updated, err := eng.Media.UpdateMedia(ctx, media.ID, func(m *models.MediaItem) error {
		if m.IngestionState.Terminal() {
			return errNoChange
		}
		m.IngestionState = next
		m.LastError = &msg
		return nil
	})
	if errors.Is(err, errNoChange) {
		logger.Info("ignoring unsuccessful scan for finalized media", "state", media.IngestionState, "status", sub.Status)
		return outcomeFor(media, false, "", nil), nil
	}
	if err != nil {
		return nil, scan.Transient("recording scan failure", err)
	}
	logger.Warn("scanner could not process media", "status", sub.Status)
	return outcomeFor(updated, false, "", nil), nil
}

// Returned from UpdateMedia callbacks to skip the write.
var errNoChange = errors.New("no change")

// Applies per-submission facts which don't depend on the gate: retry reset, reported hash, and the sticky minor flag.
func (eng *Engine) prepareMedia(ctx context.Context, media *models.MediaItem, sub *scan.Submission) (*models.MediaItem, error) {
	retry := media.IngestionState == models.StateError || media.IngestionState == models.StateNotFound
	hash := sub.Source == scan.SourceHash && sub.Hash != nil && (media.PerceptualHash == nil || *media.PerceptualHash != *sub.Hash)
	minor := sub.HasMinorContext() && !media.MinorDepiction
	if !retry && !hash && !minor {
		return media, nil
	}
	updated, err := eng.Media.UpdateMedia(ctx, media.ID, func(m *models.MediaItem) error {
		if m.IngestionState == models.StateError || m.IngestionState == models.StateNotFound {
			m.IngestionState = models.StatePending
			m.LastError = nil
		}
		if hash {
			h := *sub.Hash
			m.PerceptualHash = &h
		}
		if minor {
			m.MinorDepiction = true
		}
		return nil
	})
	if err != nil {
		return nil, scan.Transient("updating media", err)
	}
	return updated, nil
}

func (eng *Engine) processTags(ctx context.Context, logger *slog.Logger, media *models.MediaItem, sub *scan.Submission) (*Outcome, error) {
	tags := eng.Normalizer.Normalize(sub)
	resolved, err := eng.Reconciler.Reconcile(ctx, media, sub.Source, tags)
	if err != nil {
		return nil, fmt.Errorf("reconciling tags: %w", err)
	}

	complete, err := eng.Tracker.RecordScanCompletion(ctx, media.ID, sub.Source.String(), eng.requiredSources())
	if err != nil {
		return nil, scan.Transient("recording scan completion", err)
	}
	if !complete {
		logger.Info("awaiting remaining scanners", "tags", len(resolved))
		return outcomeFor(media, false, "", reconcile.Names(resolved, false)), nil
	}
	return eng.decide(ctx, logger, media)
}

// Records a core processing failure against the media. Finalized media is left alone.
func (eng *Engine) recordFailure(ctx context.Context, logger *slog.Logger, mediaID int64, cause error) {
	logger.Error("failed to process submission", "err", cause)
	msg := cause.Error()
	_, err := eng.Media.UpdateMedia(ctx, mediaID, func(m *models.MediaItem) error {
		if m.IngestionState.Terminal() {
			return errNoChange
		}
		m.IngestionState = models.StateError
		m.LastError = &msg
		return nil
	})
	if err != nil && !errors.Is(err, errNoChange) {
		logger.Error("failed to record processing error on media", "err", err)
	}
}

func outcomeFor(m *models.MediaItem, gate bool, stage string, tags []string) *Outcome {
	if tags == nil {
		tags = []string{}
	}
	return &Outcome{
		MediaID:     m.ID,
		GateOpen:    gate,
		State:       m.IngestionState,
		Level:       m.NsfwLevel,
		Stage:       stage,
		NeedsReview: m.NeedsReview,
		BlockReason: m.BlockReason,
		Tags:        tags,
	}
}

func errorClass(err error) string {
	var te *scan.TransientError
	switch {
	case scan.IsValidation(err):
		return "validation"
	case errors.Is(err, scan.ErrMediaNotFound):
		return "notfound"
	case errors.As(err, &te):
		return "transient"
	default:
		return "other"
	}
}

// Blocks until all in-flight side effects have completed.
func (eng *Engine) Wait() {
	eng.wg.Wait()
}
