package mediastore

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/bluesky-social/mediamod/automod/scan"
	"github.com/bluesky-social/mediamod/models"

	"github.com/puzpuzpuz/xsync/v3"
)

type tagOnMediaKey struct {
	mediaID int64
	tagID   uint
	source  string
}

// In-memory store. Media updates are serialized per media item; everything else shares one lock.
type MemStore struct {
	mediaLocks *xsync.MapOf[int64, *sync.Mutex]

	lk         sync.RWMutex
	media      map[int64]models.MediaItem
	tags       map[string]models.Tag
	nextTagID  uint
	assocs     map[tagOnMediaKey]models.TagOnMedia
	modRules   []models.ModerationRule
	tagRules   []models.TagRule
	accounts   map[int64]models.Account
	resources  map[int64]models.Resource
	nextRuleID uint
}

func NewMemStore() *MemStore {
	return &MemStore{
		mediaLocks: xsync.NewMapOf[int64, *sync.Mutex](),
		media:      make(map[int64]models.MediaItem),
		tags:       make(map[string]models.Tag),
		assocs:     make(map[tagOnMediaKey]models.TagOnMedia),
		accounts:   make(map[int64]models.Account),
		resources:  make(map[int64]models.Resource),
	}
}

func (s *MemStore) mediaLock(id int64) *sync.Mutex {
	lk, _ := s.mediaLocks.LoadOrCompute(id, func() *sync.Mutex {
		return &sync.Mutex{}
	})
	return lk
}

// Returns a copy with reference-typed fields cloned, so callers can't mutate stored state.
func cloneMedia(m models.MediaItem) models.MediaItem {
	if m.ScanCompletion != nil {
		sc := make(models.ScanCompletion, len(m.ScanCompletion))
		for k, v := range m.ScanCompletion {
			sc[k] = v
		}
		m.ScanCompletion = sc
	}
	m.ResourceIDs = slices.Clone(m.ResourceIDs)
	return m
}

func (s *MemStore) CreateMedia(ctx context.Context, m *models.MediaItem) error {
	if m.IngestionState == "" {
		m.IngestionState = models.StatePending
	}
	if m.ScanCompletion == nil {
		m.ScanCompletion = models.ScanCompletion{}
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	s.lk.Lock()
	defer s.lk.Unlock()
	s.media[m.ID] = cloneMedia(*m)
	return nil
}

func (s *MemStore) GetMedia(ctx context.Context, id int64) (*models.MediaItem, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()
	m, ok := s.media[id]
	if !ok {
		return nil, scan.ErrMediaNotFound
	}
	out := cloneMedia(m)
	return &out, nil
}

func (s *MemStore) UpdateMedia(ctx context.Context, id int64, fn func(m *models.MediaItem) error) (*models.MediaItem, error) {
	lk := s.mediaLock(id)
	lk.Lock()
	defer lk.Unlock()

	m, err := s.GetMedia(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(m); err != nil {
		return nil, err
	}
	m.UpdatedAt = time.Now().UTC()

	s.lk.Lock()
	s.media[id] = cloneMedia(*m)
	s.lk.Unlock()
	return m, nil
}

func (s *MemStore) RecordScanCompletion(ctx context.Context, mediaID int64, source string, required []string) (bool, error) {
	m, err := s.UpdateMedia(ctx, mediaID, func(m *models.MediaItem) error {
		m.ScanCompletion = m.ScanCompletion.With(source, time.Now().UTC())
		return nil
	})
	if err != nil {
		return false, err
	}
	return m.ScansComplete(required), nil
}

func (s *MemStore) ListMediaTags(ctx context.Context, mediaID int64) ([]models.TagOnMediaView, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()
	byID := make(map[uint]models.Tag, len(s.tags))
	for _, t := range s.tags {
		byID[t.ID] = t
	}
	var out []models.TagOnMediaView
	for k, a := range s.assocs {
		if k.mediaID != mediaID {
			continue
		}
		t := byID[a.TagID]
		out = append(out, models.TagOnMediaView{TagOnMedia: a, Name: t.Name, NsfwLevel: t.NsfwLevel})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TagID != out[j].TagID {
			return out[i].TagID < out[j].TagID
		}
		return out[i].Source < out[j].Source
	})
	return out, nil
}

func (s *MemStore) LookupTags(ctx context.Context, names []string) (map[string]models.Tag, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()
	out := make(map[string]models.Tag, len(names))
	for _, n := range names {
		if t, ok := s.tags[n]; ok {
			out[n] = t
		}
	}
	return out, nil
}

func (s *MemStore) CreateTags(ctx context.Context, tags []models.Tag) (map[string]models.Tag, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	out := make(map[string]models.Tag, len(tags))
	for _, t := range tags {
		if existing, ok := s.tags[t.Name]; ok {
			out[t.Name] = existing
			continue
		}
		s.nextTagID++
		t.ID = s.nextTagID
		t.CreatedAt = time.Now().UTC()
		t.UpdatedAt = t.CreatedAt
		s.tags[t.Name] = t
		out[t.Name] = t
	}
	return out, nil
}

func (s *MemStore) UpsertTagsOnMedia(ctx context.Context, assocs []models.TagOnMedia) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	now := time.Now().UTC()
	for _, a := range assocs {
		k := tagOnMediaKey{a.MediaID, a.TagID, a.Source}
		if prev, ok := s.assocs[k]; ok {
			a.CreatedAt = prev.CreatedAt
		} else {
			a.CreatedAt = now
		}
		a.UpdatedAt = now
		s.assocs[k] = a
	}
	return nil
}

func (s *MemStore) SetTagLevel(ctx context.Context, name string, lvl int) (*models.Tag, error) {
	if _, err := s.CreateTags(ctx, []models.Tag{{Name: name, NsfwLevel: lvl}}); err != nil {
		return nil, err
	}
	s.lk.Lock()
	defer s.lk.Unlock()
	t := s.tags[name]
	t.NsfwLevel = lvl
	t.UpdatedAt = time.Now().UTC()
	s.tags[name] = t
	return &t, nil
}

func (s *MemStore) ModerationRules(ctx context.Context) ([]models.ModerationRule, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()
	var out []models.ModerationRule
	for _, r := range s.modRules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemStore) SaveModerationRule(ctx context.Context, r *models.ModerationRule) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	if r.ID == 0 {
		s.nextRuleID++
		r.ID = s.nextRuleID
	}
	for i := range s.modRules {
		if s.modRules[i].ID == r.ID {
			s.modRules[i] = *r
			return nil
		}
	}
	s.modRules = append(s.modRules, *r)
	return nil
}

func (s *MemStore) TagRules(ctx context.Context) ([]models.TagRule, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()
	out := slices.Clone(s.tagRules)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemStore) SaveTagRule(ctx context.Context, r *models.TagRule) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	if r.ID == 0 {
		s.nextRuleID++
		r.ID = s.nextRuleID
	}
	for i := range s.tagRules {
		if s.tagRules[i].ID == r.ID {
			s.tagRules[i] = *r
			return nil
		}
	}
	s.tagRules = append(s.tagRules, *r)
	return nil
}

func (s *MemStore) GetAccount(ctx context.Context, userID int64) (*models.Account, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()
	a, ok := s.accounts[userID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *MemStore) SaveAccount(ctx context.Context, a *models.Account) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.accounts[a.ID] = *a
	return nil
}

func (s *MemStore) ResourcesDepictMinor(ctx context.Context, ids []int64) (bool, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()
	for _, id := range ids {
		if r, ok := s.resources[id]; ok && r.DepictsMinor {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemStore) SaveResource(ctx context.Context, r *models.Resource) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.resources[r.ID] = *r
	return nil
}
