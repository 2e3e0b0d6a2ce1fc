package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/bluesky-social/mediamod/automod/countstore"
	"github.com/bluesky-social/mediamod/automod/escalation"
	"github.com/bluesky-social/mediamod/automod/level"
	"github.com/bluesky-social/mediamod/automod/reviewqueue"
	"github.com/bluesky-social/mediamod/models"
)

var (
	// one in this many nsfw items not otherwise needing review is sampled in to the review queue
	QueueSampleModulo int64 = 20
	// number of block notices a single user can receive per day
	QuotaBlockNoticeDay = 10
	// accounts younger than this are "new"
	NewAccountAge = 7 * 24 * time.Hour
	// accounts with fewer scanned uploads than this are "new"
	NewAccountMinUploads = 3
	// upper bound on a single side effect
	SideEffectTimeout = 30 * time.Second
)

const (
	CounterScannedUploads = "scanned-upload"
	CounterBlockNotices   = "block-notice"
	// distinct users with blocked uploads
	CounterBlockedUsers = "blocked-user"
	// reason recorded on sampled queue items
	ReasonSampled = "sampled"
)

// A failed notification, search index, or queue side effect. These are logged and never returned to the caller.
type SideEffectError struct {
	Effect  string
	MediaID int64
	Err     error
}

func (e *SideEffectError) Error() string {
	return fmt.Sprintf("side effect %s for media %d: %v", e.Effect, e.MediaID, e.Err)
}

func (e *SideEffectError) Unwrap() error {
	return e.Err
}

// Runs fn in the background, tracked by Wait(). Failures are logged only.
func (eng *Engine) goEffect(logger *slog.Logger, name string, mediaID int64, fn func(ctx context.Context) error) {
	eng.wg.Add(1)
	go func() {
		defer eng.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("side effect panic", "effect", name, "err", r)
				sideEffectErrorCount.WithLabelValues(name).Inc()
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), SideEffectTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			serr := &SideEffectError{Effect: name, MediaID: mediaID, Err: err}
			logger.Warn("side effect failed", "effect", name, "err", serr)
			sideEffectErrorCount.WithLabelValues(name).Inc()
		}
	}()
}

// Side effects for a persisted disposition. prev is the state before the update.
func (eng *Engine) dispatchEffects(logger *slog.Logger, prev models.IngestionState, m *models.MediaItem, f *Facts, tags []string) {
	snapshot := *m
	switch m.IngestionState {
	case models.StateScanned:
		if eng.Search != nil {
			eng.goEffect(logger, "search-upsert", m.ID, func(ctx context.Context) error {
				return eng.Search.UpsertMedia(ctx, &snapshot, tags)
			})
		}
		if item := Admission(&snapshot, f.Escalation, time.Now()); item != nil && eng.Queue != nil {
			eng.goEffect(logger, "review-queue", m.ID, func(ctx context.Context) error {
				queueAdmissionCount.WithLabelValues(item.Priority.String()).Inc()
				return eng.Queue.Enqueue(ctx, *item)
			})
		}
		if prev != models.StateScanned && eng.Counters != nil {
			eng.goEffect(logger, "upload-count", m.ID, func(ctx context.Context) error {
				return eng.Counters.Increment(ctx, countstore.UserKey(CounterScannedUploads, snapshot.UserID))
			})
		}
	case models.StateBlocked:
		if prev == models.StateBlocked {
			return
		}
		reason := derefString(snapshot.BlockReason)
		if eng.Search != nil {
			eng.goEffect(logger, "search-delete", m.ID, func(ctx context.Context) error {
				return eng.Search.DeleteMedia(ctx, snapshot.ID)
			})
		}
		if eng.Counters != nil {
			eng.goEffect(logger, "blocked-user-count", m.ID, func(ctx context.Context) error {
				return eng.Counters.AddDistinct(ctx, blockedUsersKey, strconv.FormatInt(snapshot.UserID, 10))
			})
		}
		if eng.Notifier != nil {
			eng.goEffect(logger, "notify-user", m.ID, func(ctx context.Context) error {
				return eng.notifyBlocked(ctx, logger, &snapshot, reason)
			})
		}
		if eng.Alerts != nil {
			eng.goEffect(logger, "alert", m.ID, func(ctx context.Context) error {
				return eng.Alerts.AlertBlocked(ctx, &snapshot, reason, tags)
			})
		}
	}
}

// Review queue admission for a Scanned item, or nil. Items needing review are always admitted at high priority; other nsfw items are sampled deterministically by ID.
func Admission(m *models.MediaItem, esc *escalation.Outcome, now time.Time) *reviewqueue.Item {
	if m.NeedsReview != nil {
		reviewer := escalation.ReviewerModerator
		if esc != nil && esc.Winner != nil && esc.Winner.Reason == *m.NeedsReview {
			reviewer = esc.Winner.Reviewer
		}
		return &reviewqueue.Item{
			MediaID:  m.ID,
			Reviewer: string(reviewer),
			Reason:   *m.NeedsReview,
			Priority: reviewqueue.PriorityHigh,
			QueuedAt: now,
		}
	}
	if level.IsNSFW(m.NsfwLevel) && Sampled(m.ID) {
		return &reviewqueue.Item{
			MediaID:  m.ID,
			Reviewer: string(escalation.ReviewerModerator),
			Reason:   ReasonSampled,
			Priority: reviewqueue.PriorityLow,
			QueuedAt: now,
		}
	}
	return nil
}

func Sampled(mediaID int64) bool {
	return mediaID%QueueSampleModulo == 0
}

// Sends a block notice unless the user has hit the daily quota. A notice which then fails to send still counts against the quota.
func (eng *Engine) notifyBlocked(ctx context.Context, logger *slog.Logger, m *models.MediaItem, reason string) error {
	if eng.Counters != nil {
		ok, err := eng.Counters.TakeQuota(ctx, countstore.UserKey(CounterBlockNotices, m.UserID), countstore.PeriodDay, QuotaBlockNoticeDay)
		if err != nil {
			return err
		}
		if !ok {
			logger.Warn("block notice quota exceeded", "user", m.UserID, "limit", QuotaBlockNoticeDay)
			blockNoticeSuppressedCount.Inc()
			return nil
		}
	}
	return eng.Notifier.NotifyBlocked(ctx, m, reason)
}

var blockedUsersKey = countstore.Key{Name: CounterBlockedUsers, Subject: "all"}

// Approximate number of distinct users with a blocked upload in the period.
func (eng *Engine) BlockedUserCount(ctx context.Context, period countstore.Period) (int, error) {
	if eng.Counters == nil {
		return 0, nil
	}
	return eng.Counters.CountDistinct(ctx, blockedUsersKey, period)
}

// New accounts are young, or have few scanned uploads. Unknown accounts are judged on uploads alone.
func (eng *Engine) isNewUser(ctx context.Context, userID int64) (bool, error) {
	if eng.Accounts != nil {
		acct, err := eng.Accounts.GetAccount(ctx, userID)
		if err != nil {
			return false, fmt.Errorf("fetching account: %w", err)
		}
		if acct != nil && time.Since(acct.CreatedAt) < NewAccountAge {
			return true, nil
		}
	}
	if eng.Counters == nil {
		return false, nil
	}
	n, err := eng.Counters.GetCount(ctx, countstore.UserKey(CounterScannedUploads, userID), countstore.PeriodTotal)
	if err != nil {
		return false, fmt.Errorf("fetching upload count: %w", err)
	}
	return n < NewAccountMinUploads, nil
}
