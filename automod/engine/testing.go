package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bluesky-social/mediamod/automod/cachestore"
	"github.com/bluesky-social/mediamod/automod/countstore"
	"github.com/bluesky-social/mediamod/automod/escalation"
	"github.com/bluesky-social/mediamod/automod/flagstore"
	"github.com/bluesky-social/mediamod/automod/modrule"
	"github.com/bluesky-social/mediamod/automod/normalize"
	"github.com/bluesky-social/mediamod/automod/reconcile"
	"github.com/bluesky-social/mediamod/automod/reviewqueue"
	"github.com/bluesky-social/mediamod/automod/scan"
	"github.com/bluesky-social/mediamod/automod/setstore"
	"github.com/bluesky-social/mediamod/mediastore"
	"github.com/bluesky-social/mediamod/models"
)

// Records block notices. Intended for tests.
type RecordingNotifier struct {
	lk      sync.Mutex
	Notices map[int64][]string
}

func (n *RecordingNotifier) NotifyBlocked(ctx context.Context, m *models.MediaItem, reason string) error {
	n.lk.Lock()
	defer n.lk.Unlock()
	if n.Notices == nil {
		n.Notices = make(map[int64][]string)
	}
	n.Notices[m.UserID] = append(n.Notices[m.UserID], reason)
	return nil
}

func (n *RecordingNotifier) Count(userID int64) int {
	n.lk.Lock()
	defer n.lk.Unlock()
	return len(n.Notices[userID])
}

// In-memory search index. Intended for tests.
type RecordingIndexer struct {
	lk   sync.Mutex
	Docs map[int64][]string
}

func (ri *RecordingIndexer) UpsertMedia(ctx context.Context, m *models.MediaItem, tags []string) error {
	ri.lk.Lock()
	defer ri.lk.Unlock()
	if ri.Docs == nil {
		ri.Docs = make(map[int64][]string)
	}
	ri.Docs[m.ID] = tags
	return nil
}

func (ri *RecordingIndexer) DeleteMedia(ctx context.Context, mediaID int64) error {
	ri.lk.Lock()
	defer ri.lk.Unlock()
	delete(ri.Docs, mediaID)
	return nil
}

func (ri *RecordingIndexer) Has(mediaID int64) bool {
	ri.lk.Lock()
	defer ri.lk.Unlock()
	_, ok := ri.Docs[mediaID]
	return ok
}

type TestFixture struct {
	Engine   *Engine
	Store    *mediastore.MemStore
	Sets     setstore.MemSetStore
	Counters *countstore.MemCountStore
	Notifier *RecordingNotifier
	Search   *RecordingIndexer
	Queue    *reviewqueue.MemReviewQueue
}

// Engine backed entirely by in-memory stores, requiring only the severity scanner. Intentionally exported, for use in other packages.
func EngineTestFixture() *TestFixture {
	logger := slog.Default()
	store := mediastore.NewMemStore()
	sets := setstore.NewMemSetStore()
	sets.Add(escalation.SetPOINames, "jane example")
	sets.Add(escalation.SetMinorTags, "minor", "toddler")
	sets.Add(escalation.SetAdultTags, "adult")
	sets.Add(escalation.SetStylizedTags, "stylized")
	sets.Add(escalation.SetMinorTerms, "child", "schoolgirl")
	sets.Add(SetNSFWTerms, "nude", "naked")
	sets.Add(SetPromptBlockedTerms, "bestiality")
	sets.Add(SetAIGenerationTools, "comfyui")
	sets.Add(SetRestrictedResources, "666")
	counters := countstore.NewMemCountStore()

	fix := &TestFixture{
		Store:    store,
		Sets:     sets,
		Counters: counters,
		Notifier: &RecordingNotifier{},
		Search:   &RecordingIndexer{},
		Queue:    reviewqueue.NewMemReviewQueue(),
	}
	fix.Engine = &Engine{
		Logger:     logger,
		Media:      store,
		Tracker:    store,
		Rules:      store,
		Accounts:   store,
		Resources:  store,
		Normalizer: normalize.DefaultRegistry(),
		Reconciler: &reconcile.Reconciler{
			Logger: logger,
			Dict:   store,
			Rules:  store,
			Cache:  cachestore.NewMemCacheStore(1000, time.Hour),
			Flags:  flagstore.NewMemFlagStore(),
			Sets:   sets,
		},
		Escalation:      &escalation.Evaluator{Sets: sets},
		ModRules:        modrule.NewEngine(logger),
		Sets:            sets,
		Counters:        counters,
		Notifier:        fix.Notifier,
		Search:          fix.Search,
		Queue:           fix.Queue,
		RequiredSources: []scan.Source{scan.SourceSeverity},
	}
	return fix
}

// Creates a pending media item owned by an established account.
func (fix *TestFixture) NewMedia(ctx context.Context, m models.MediaItem) (*models.MediaItem, error) {
	if m.UserID == 0 {
		m.UserID = 1
	}
	if err := fix.Store.SaveAccount(ctx, &models.Account{ID: m.UserID, CreatedAt: time.Now().Add(-365 * 24 * time.Hour)}); err != nil {
		return nil, err
	}
	for range NewAccountMinUploads {
		if err := fix.Counters.Increment(ctx, countstore.UserKey(CounterScannedUploads, m.UserID)); err != nil {
			return nil, err
		}
	}
	if err := fix.Store.CreateMedia(ctx, &m); err != nil {
		return nil, err
	}
	return fix.Store.GetMedia(ctx, m.ID)
}
